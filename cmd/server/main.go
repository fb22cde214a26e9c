// FinComply - SEBI compliance assistant server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/fincomply/internal/account"
	"github.com/ashureev/fincomply/internal/api"
	"github.com/ashureev/fincomply/internal/config"
	"github.com/ashureev/fincomply/internal/feed"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/ashureev/fincomply/internal/middleware"
	"github.com/ashureev/fincomply/internal/orchestrator"
	"github.com/ashureev/fincomply/internal/rag"
	"github.com/ashureev/fincomply/internal/store"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	var repo store.Repository
	switch cfg.DB.Driver {
	case config.DriverMongo:
		repo = store.NewMongo(cfg.DB.MongoURI, cfg.DB.MongoDatabase)
	default:
		s, err := store.NewSQLite(cfg.DB.Path)
		if err != nil {
			return nil, err
		}
		repo = s
	}

	if err := repo.EnsureConnected(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("connect %s store: %w", cfg.DB.Driver, err)
	}
	return repo, nil
}

func run(cfg *config.Config) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	repo, err := openStore(connectCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	hub := feed.NewHub()
	defer hub.Close()

	limiter := middleware.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateWindow)
	defer limiter.Stop()

	ragClient := rag.NewClient(cfg.RAG.BaseURL, cfg.RAG.Timeout)
	svc := orchestrator.New(repo, ragClient, orchestrator.WithPublisher(hub))
	tokens := identity.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, cfg.Auth.CookieSecure)

	router := api.NewRouter(api.RouterConfig{
		DB:             repo,
		Accounts:       account.NewService(repo),
		Threads:        svc,
		Tokens:         tokens,
		Hub:            hub,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		HealthTimeout:  cfg.Timeout.HealthCheck,
		MaxBodySize:    cfg.Chat.MaxRequestBodySize,
		SeedCommunity:  cfg.SeedCommunityThreads,
	})

	// WriteTimeout stays 0 for the WebSocket feed.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr, "rag_url", cfg.RAG.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
		defer cancel()

		// Feed connections are hijacked; closing the hub ends them.
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
