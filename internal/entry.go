// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/fanout/internal/api"
	"github.com/starford/fanout/internal/chat"
	"github.com/starford/fanout/internal/dispatch"
	"github.com/starford/fanout/internal/ident"
	"github.com/starford/fanout/internal/mcpserver"
	"github.com/starford/fanout/internal/session"
	"github.com/starford/fanout/internal/sse"
	"github.com/starford/fanout/internal/target"
	"github.com/starford/fanout/internal/tier"
	pkgconfig "github.com/starford/fanout/pkg/config"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.clock == nil {
		app.clock = ident.SystemClock{}
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("synced_path", cfg.Store.SyncedPath),
		slog.String("snapshot_path", cfg.Store.SnapshotPath),
		slog.Int("targets", len(cfg.Targets)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Persistence tiers.
	synced, err := tier.OpenSQLite(cfg.Store.SyncedPath, cfg.Store.RecordLimitBytes)
	if err != nil {
		return fmt.Errorf("init synced tier: %w", err)
	}
	defer synced.Close()

	local, err := tier.NewFile(cfg.Store.SnapshotPath)
	if err != nil {
		return fmt.Errorf("init local tier: %w", err)
	}

	manager := tier.NewManager(synced, local, app.clock, logger)

	// Restore chat state; both tiers empty yields an empty store and the
	// first message lazily creates a chat.
	activeChatID, chats, err := manager.Load(ctx)
	if err != nil {
		logger.Warn("state restore failed, starting empty", slog.String("error", err.Error()))
	}
	store := chat.NewStore(manager, app.clock, logger)
	store.Seed(activeChatID, chats)
	logger.Info("state restored",
		slog.Int("chats", len(chats)), slog.String("active_chat_id", activeChatID))

	// Surface host and target registry.
	httpClient := &http.Client{Timeout: cfg.Dispatch.RequestTimeout}
	host := app.host
	var httpHost *target.HTTPHost
	if host == nil {
		httpHost = target.NewHTTPHost(httpClient, cfg.Dispatch.ProbeInterval, logger)
		host = httpHost
	}
	registry := target.NewRegistry(host, cfg.TargetList(), cfg.Dispatch.ToggleDelay, logger)

	// Engaged state is never persisted; derive it from live surfaces now.
	if err := registry.Rederive(ctx); err != nil {
		logger.Warn("initial engagement probe failed", slog.String("error", err.Error()))
	}

	coordinator := dispatch.NewCoordinator(registry, dispatch.Adapters(httpClient), logger)

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := session.NewService(store, registry, coordinator, broker, logger)

	if app.mcpMode {
		logger.Info("Serving MCP tools on stdio")
		return mcpserver.New(svc).ServeStdio()
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Surface health sweeps (only for the built-in HTTP host).
	if httpHost != nil {
		g.Go(func() error {
			httpHost.Run(gCtx)
			return nil
		})
	}

	// External surface events re-derive engaged state and notify clients.
	g.Go(func() error {
		target.PumpEvents(gCtx, host, registry, logger, func(ev target.Event, _ target.State) {
			logger.Info("surface event",
				slog.String("kind", string(ev.Kind)),
				slog.String("location", ev.Surface.Location))
			svc.PublishTargetState()
		})
		return nil
	})

	// Hot-reload the target list when the config file changes.
	if app.configPath != "" {
		configPath := app.configPath
		g.Go(func() error {
			return target.WatchConfig(gCtx, configPath, func() ([]target.Target, error) {
				fresh := NewDefaultConfig()
				if err := pkgconfig.Load(configPath, fresh); err != nil {
					return nil, err
				}
				return fresh.TargetList(), nil
			}, registry, logger, svc.PublishTargetState)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
