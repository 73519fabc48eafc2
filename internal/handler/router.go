package handler

import (
	"net/http"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Options configure the router's cross-cutting middleware.
type Options struct {
	// CORSOrigins lists the origins allowed to call the API from a browser
	// (the app's web build). Empty disables CORS headers.
	CORSOrigins []string
	// AuthLimiter bounds sign-in and sign-up attempts per client IP. Nil
	// disables it. The caller owns it and must Close it.
	AuthLimiter *RateLimiter
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only set it behind a proxy that overwrites those headers; otherwise
	// clients pick their own rate-limit key.
	TrustProxy bool
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(reg *service.Registry, tokens *service.SessionTokens, metrics *observability.Metrics, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(reg, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	limitAuth := func(h http.Handler) http.Handler { return h }
	if opts.AuthLimiter != nil {
		limitAuth = opts.AuthLimiter.Middleware
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", createSessionHandler(reg, tokens, logger))
		r.Get("/metrics/session", sessionMetricsHandler(metrics))

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(tokens, logger))

			// =============================================
			// Session & identity
			// =============================================
			r.Get("/session", getSessionHandler(reg, logger))
			r.With(limitAuth).Post("/session/sign-in", signInHandler(reg, logger))
			r.With(limitAuth).Get("/session/callback", signInCallbackHandler(reg, logger))
			r.With(limitAuth).Post("/session/sign-in/credentials", signInCredentialsHandler(reg, logger))
			r.With(limitAuth).Post("/session/sign-up", signUpHandler(reg, logger))
			r.Post("/session/sign-out", signOutHandler(reg, logger))
			r.Get("/session/roles/{role}", hasRoleHandler(reg, logger))
			r.Get("/session/profile/completion", profileCompletionHandler(reg, logger))
			r.Get("/session/profile", getProfileHandler(reg, logger))
			r.Put("/session/profile", updateProfileHandler(reg, logger))
			r.Get("/session/landing", landingHandler(reg, logger))

			// =============================================
			// Cart
			// =============================================
			r.Get("/cart", getCartHandler(reg, logger))
			r.Delete("/cart", clearCartHandler(reg, logger))
			r.Post("/cart/items", addCartItemHandler(reg, logger))
			r.Put("/cart/items/{itemId}", updateCartItemHandler(reg, logger))
			r.Delete("/cart/items/{itemId}", removeCartItemHandler(reg, logger))
			r.Get("/cart/items/{itemId}/quantity", cartItemQuantityHandler(reg, logger))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "marketplace-bff", Status: "healthy", LastChecked: now},
		}

		overall := "healthy"
		if reg != nil {
			start := time.Now()
			status := "healthy"
			if err := reg.Ping(r.Context()); err != nil {
				logger.Warn("session store unreachable", zap.Error(err))
				status = "degraded"
				overall = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "session-store", Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func sessionMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
