package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// SessionMetrics is returned by GET /v1/metrics/session.
type SessionMetrics struct {
	SignIns                int64   `json:"signIns"`
	SignInFailures         int64   `json:"signInFailures"`
	SignOuts               int64   `json:"signOuts"`
	SignUps                int64   `json:"signUps"`
	SignUpFailures         int64   `json:"signUpFailures"`
	CartMutations          int64   `json:"cartMutations"`
	AdminTokenCacheHitRate float64 `json:"adminTokenCacheHitRate"`
	Period                 string  `json:"period"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
