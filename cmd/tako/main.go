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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/tako/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/tako/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/tako/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/tako/internal/adapter/driving/web"
	"github.com/ericfisherdev/tako/internal/application"
	"github.com/ericfisherdev/tako/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"app_id", cfg.AppID,
		"installation_id", cfg.InstallationID,
		"resync_interval", cfg.ResyncInterval,
		"webhooks", cfg.WebhooksEnabled(),
		"dashboard", cfg.DashboardEnabled,
		"auth", cfg.BearerToken != "",
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the delivery ledger and apply migrations.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	deliveryStore := sqliteadapter.NewDeliveryRepo(db)

	// 4. GitHub App credentials and the installation client provider.
	appClient, err := githubadapter.NewAppClient(githubadapter.AppConfig{
		AppID:         cfg.AppID,
		PrivateKeyPEM: cfg.PrivateKeyPEM,
		BaseURL:       cfg.GitHubAPIURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("create github app client: %w", err)
	}
	clients := application.NewClientProvider(appClient, cfg.InstallationID)

	// 5. Core services.
	fetcher := application.NewRepositoryFetcher(clients, logger)
	cache := application.NewRepositoryCache(fetcher, logger)
	query := application.NewQueryEngine(cache, clients, appClient, cfg.InstallationID, cfg.SearchAccount, logger)
	listener := application.NewEventListener(cache, logger)
	maintenance := application.NewMaintenanceService(cache, deliveryStore, cfg.ResyncInterval, cfg.DeliveryRetention, logger)
	bootstrapper := application.NewBootstrapper(appClient, clients, cache, cfg.InstallationID, logger)

	// 6. HTTP routes.
	mux := http.NewServeMux()
	apiHandler := httphandler.NewHandler(cache, query, deliveryStore, logger)
	httphandler.RegisterAPIRoutes(mux, apiHandler, cfg.BearerToken)

	if cfg.WebhooksEnabled() {
		webhook := httphandler.NewWebhookHandler(cfg.WebhookSecret, cfg.InstallationID, deliveryStore, listener, logger)
		httphandler.RegisterWebhookRoutes(mux, webhook)
	} else {
		slog.Info("no webhook secret configured, webhook receiver disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.ApplyMiddleware(mux, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// The server starts before bootstrap so the liveness probe can report 404
	// until the cache is warm. The repository routes also answer 404 until
	// then, which leaves the warm-up refresh to bootstrap's own context.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 7. Bootstrap: verify the installation and warm the cache.
	installation, err := bootstrapper.Run(ctx)
	if err != nil {
		shutdown(srv)
		return fmt.Errorf("bootstrap: %w", err)
	}
	// ServeMux accepts registrations while serving. The dashboard reads the
	// cache, so it appears only once bootstrap has populated it.
	if cfg.DashboardEnabled {
		webhandler.RegisterRoutes(mux, webhandler.NewHandler(cache, maintenance, logger))
	}
	apiHandler.MarkReady()

	go maintenance.Start(ctx)

	// 8. Log startup complete.
	slog.Info("tako started",
		"listen_addr", cfg.ListenAddr,
		"account", installation.Account.Login,
		"repositories", cache.Len(),
	)

	// 9. Wait for shutdown signal or a server failure.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdown(srv)

	slog.Info("shutdown complete")
	return nil
}

// shutdown drains in-flight requests with a 10s timeout.
func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
}
