package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/config"
	"github.com/marche-conclu/marketplace-bff/internal/handler"
	"github.com/marche-conclu/marketplace-bff/internal/infra/cache"
	"github.com/marche-conclu/marketplace-bff/internal/infra/keycloak"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/infra/resilience"
	"github.com/marche-conclu/marketplace-bff/internal/infra/sessionstore"
	"github.com/marche-conclu/marketplace-bff/internal/port"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid .env file: %v\n", err)
		os.Exit(1)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("keycloak_url", cfg.KeycloakURL),
		zap.String("keycloak_realm", cfg.KeycloakRealm),
		zap.String("keycloak_client_id", cfg.KeycloakClientID),
		zap.String("session_store", cfg.SessionStore),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "marketplace-bff")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Keycloak ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	kcCfg := keycloak.Config{
		BaseURL:       cfg.KeycloakURL,
		Realm:         cfg.KeycloakRealm,
		ClientID:      cfg.KeycloakClientID,
		RedirectURI:   cfg.KeycloakRedirectURI,
		AdminBaseURL:  cfg.KeycloakAdminURL,
		AdminRealm:    cfg.KeycloakAdminRealm,
		AdminUsername: cfg.KeycloakAdminUsername,
		AdminPassword: cfg.KeycloakAdminPassword,
	}
	oidc := keycloak.NewClient(httpClient, kcCfg, resilience.NewCircuitBreaker("keycloak-oidc"), resilienceCfg)
	admin := keycloak.NewAdminClient(httpClient, kcCfg, resilience.NewCircuitBreaker("keycloak-admin"), resilienceCfg)

	// --- Cache ---
	adminTokenCache := cache.New[string](time.Minute)
	defer adminTokenCache.Close()

	// --- Sessions ---
	var store port.SessionStore
	switch cfg.SessionStore {
	case "redis":
		redisStore, err := sessionstore.NewRedisStoreWithURL(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("using Redis session store")
	default:
		memStore := sessionstore.NewMemoryStore(cfg.SessionTTL)
		defer memStore.Close()
		store = memStore
		logger.Warn("using in-memory session store, sessions are lost on restart")
	}

	// --- Services ---
	adminTokens := service.NewAdminTokenSource(admin, adminTokenCache, cfg.AdminTokenSkew, metrics, logger)
	identity := service.NewIdentity(oidc, admin, adminTokens, cfg.KeycloakClientID, metrics, logger)
	registry := service.NewRegistry(store, identity, metrics, logger)
	sessionTokens := service.NewSessionTokens(cfg.SessionSecret, cfg.SessionTTL)

	// --- Router ---
	routerOpts := handler.Options{CORSOrigins: cfg.CORSOrigins, TrustProxy: cfg.TrustProxy}
	if cfg.AuthRateLimit > 0 {
		authLimiter := handler.NewRateLimiter(rate.Limit(cfg.AuthRateLimit), max(cfg.AuthRateBurst, 1))
		defer authLimiter.Close()
		routerOpts.AuthLimiter = authLimiter
	}
	router := handler.NewRouter(registry, sessionTokens, metrics, routerOpts, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
