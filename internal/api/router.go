package api

import (
	"net/http"
	"time"

	"github.com/ashureev/fincomply/internal/account"
	"github.com/ashureev/fincomply/internal/feed"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/ashureev/fincomply/internal/middleware"
	"github.com/ashureev/fincomply/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the services and settings the router is built from.
type RouterConfig struct {
	DB             Pinger
	Accounts       *account.Service
	Threads        *orchestrator.Service
	Tokens         *identity.Tokens
	Hub            *feed.Hub
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	HealthTimeout  time.Duration
	MaxBodySize    int64
	SeedCommunity  bool
}

// NewRouter builds the HTTP router with global middleware and every route.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RedactQueryToken)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.Tokens))

	var limit func(http.Handler) http.Handler
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Handler
	}

	mlHandler := NewMLHandler(cfg.Threads, cfg.MaxBodySize)

	// Public routes.
	NewHealthHandler(cfg.DB, cfg.HealthTimeout).RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	NewAuthHandler(cfg.Accounts, cfg.Tokens, cfg.MaxBodySize).RegisterRoutes(r)
	mlHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)

		NewProfileHandler(cfg.Accounts, cfg.MaxBodySize).RegisterRoutes(r)
		NewThreadHandler(cfg.Threads, cfg.SeedCommunity, cfg.MaxBodySize).RegisterRoutes(r)
		NewMessageHandler(cfg.Threads, limit, cfg.MaxBodySize).RegisterRoutes(r)
		NewDoubtHandler(cfg.Threads, cfg.MaxBodySize).RegisterRoutes(r)
		mlHandler.RegisterAuthenticatedRoutes(r)

		if cfg.Hub != nil {
			feed.NewHandler(cfg.Hub, cfg.Threads, cfg.AllowedOrigins).RegisterRoutes(r)
		}
	})

	return r
}
