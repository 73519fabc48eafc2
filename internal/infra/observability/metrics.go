package observability

import (
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Outcome labels for identity operations.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for the BFF.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	identityOps       *prometheus.CounterVec
	adminTokenCache   *prometheus.CounterVec
	cartMutations     *prometheus.CounterVec
	sessionsCreated   prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bff_operation_duration_seconds",
				Help:    "Duration of session operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_external_errors_total",
				Help: "Total errors from the identity provider.",
			},
			[]string{"service"},
		),
		identityOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_identity_operations_total",
				Help: "Sign-in, sign-up and sign-out attempts by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		adminTokenCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_admin_token_cache_total",
				Help: "Admin token lookups by cache result.",
			},
			[]string{"result"},
		),
		cartMutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_cart_mutations_total",
				Help: "Cart actions applied, by action.",
			},
			[]string{"action"},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bff_sessions_created_total",
				Help: "App sessions created.",
			},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrIdentityOp counts an identity operation with its outcome.
func (m *Metrics) IncrIdentityOp(operation, outcome string) {
	m.identityOps.WithLabelValues(operation, outcome).Inc()
}

// IncrAdminTokenHit increments the admin token cache hit counter.
func (m *Metrics) IncrAdminTokenHit() {
	m.adminTokenCache.WithLabelValues("hit").Inc()
}

// IncrAdminTokenMiss increments the admin token cache miss counter.
func (m *Metrics) IncrAdminTokenMiss() {
	m.adminTokenCache.WithLabelValues("miss").Inc()
}

// IncrCartMutation counts an applied cart action.
func (m *Metrics) IncrCartMutation(action string) {
	m.cartMutations.WithLabelValues(action).Inc()
}

// IncrSessionCreated counts a new app session.
func (m *Metrics) IncrSessionCreated() {
	m.sessionsCreated.Inc()
}

// Snapshot returns the session metrics served by GET /v1/metrics/session.
func (m *Metrics) Snapshot() *domain.SessionMetrics {
	hits := getCounterValue(m.adminTokenCache, "hit")
	misses := getCounterValue(m.adminTokenCache, "miss")

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	cart := float64(0)
	for _, action := range []string{"add", "remove", "update", "clear"} {
		cart += getCounterValue(m.cartMutations, action)
	}

	return &domain.SessionMetrics{
		SignIns:                int64(getCounterValue(m.identityOps, "sign_in", OutcomeSuccess)),
		SignInFailures:         int64(getCounterValue(m.identityOps, "sign_in", OutcomeFailure)),
		SignOuts:               int64(getCounterValue(m.identityOps, "sign_out", OutcomeSuccess)),
		SignUps:                int64(getCounterValue(m.identityOps, "sign_up", OutcomeSuccess)),
		SignUpFailures:         int64(getCounterValue(m.identityOps, "sign_up", OutcomeFailure)),
		CartMutations:          int64(cart),
		AdminTokenCacheHitRate: hitRate,
		Period:                 "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
