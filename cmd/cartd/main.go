// cartd serves the portal cart: one cart store per session, optimistic
// edits saved to the portal in the background, and cart facets.
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

	"portal-cart/internal/config"
	"portal-cart/internal/gateway"
	"portal-cart/internal/handler"
	"portal-cart/internal/manager"
	"portal-cart/internal/middleware"
	"portal-cart/internal/session"
	"portal-cart/internal/settings"
	"portal-cart/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("backend", cfg.Backend),
		slog.String("environment", cfg.Environment),
		slog.String("portal_url", cfg.Portal.URL),
		slog.Duration("save_timeout", cfg.SaveTimeout),
	)

	gw, err := createGateway(cfg)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	settingsPath := cfg.SettingsPath
	if settingsPath == "" {
		if settingsPath, err = settings.DefaultPath(); err != nil {
			return fmt.Errorf("locating settings file: %w", err)
		}
	}
	store, err := settings.Open(settingsPath)
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer store.Close()

	registry := manager.NewRegistry(gw, store, logger, manager.RegistryConfig{
		SaveTimeout:          cfg.SaveTimeout,
		MaxAnonymousElements: cfg.MaxAnonymousElements,
		MaxLoggedInElements:  cfg.MaxLoggedInElements,
	})
	defer registry.Close()

	h := handler.New(registry, gw, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery is outermost so panics in the logging layer are caught too.
	// The session middleware sits inside Logging so the log line carries
	// the session key noted below it.
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Metrics(),
		session.Middleware(cfg.MinClientVersion, logger),
		middleware.NoteSession(),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("settings", store.Path()),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped", slog.Int("sessions", registry.Len()))
	return nil
}

// createGateway returns the persistence backend named by the config.
func createGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.Backend {
	case config.BackendPortal:
		return gateway.New(gateway.Config{
			PortalURL: cfg.Portal.URL,
			AccessKey: cfg.Portal.AccessKey,
			SecretKey: cfg.Portal.SecretKey,
			Transport: transport.New(transport.Options{Fingerprint: cfg.Portal.TLSFingerprint}),
			Timeout:   cfg.SaveTimeout,
		})
	case config.BackendMemory:
		return gateway.NewMemory("/users/local/"), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON for Cloud Logging; development uses text.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
