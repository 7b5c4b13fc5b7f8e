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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/slipbox/internal/api"
	"github.com/starford/slipbox/internal/mapview"
	"github.com/starford/slipbox/internal/mcpserver"
	"github.com/starford/slipbox/internal/navigation"
	"github.com/starford/slipbox/internal/notegraph"
	"github.com/starford/slipbox/internal/noteservice"
	"github.com/starford/slipbox/internal/sse"
	"github.com/starford/slipbox/internal/storage"
)

// runtime is the state shared by every run mode.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	provider storage.Provider
	session  *noteservice.Session
}

func setup(ctx context.Context, opts []Option) (*application, *runtime, error) {
	app := &application{version: "dev", logOut: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("scope", cfg.Scope),
		slog.String("log_level", cfg.App.LogLevel.String()))

	provider, err := openProvider(cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	session, err := noteservice.Open(ctx, notegraph.New(), provider, cfg.Scope,
		noteservice.WithLogger(logger),
		noteservice.WithQueueSize(cfg.Session.QueueSize),
		noteservice.WithWriteTimeout(cfg.Session.WriteTimeout),
		noteservice.WithMaxDepth(cfg.View.MaxDepth),
	)
	if err != nil {
		_ = provider.Close()
		return nil, nil, fmt.Errorf("open session: %w", err)
	}

	return app, &runtime{cfg: cfg, logger: logger, provider: provider, session: session}, nil
}

func openProvider(cfg StorageConfig, logger *slog.Logger) (storage.Provider, error) {
	switch cfg.Backend {
	case BackendFile:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		p, err := storage.OpenFile(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("init file storage: %w", err)
		}
		return p, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		p, err := storage.OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite storage: %w", err)
		}
		return p, nil
	}
}

// close flushes queued writes and releases the backend.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Session.WriteTimeout)
	defer cancel()
	if err := rt.session.Close(ctx); err != nil {
		rt.logger.Error("session close error", slog.String("error", err.Error()))
	}
	if err := rt.provider.Close(); err != nil {
		rt.logger.Error("storage close error", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	_, rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, logger := rt.cfg, rt.logger
	store := rt.session.Store()

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.GraphThrottle,
		sse.WithHeartbeat(cfg.Events.Heartbeat),
		sse.WithReplay(cfg.Events.Replay))
	defer broker.Close()
	detach := broker.Attach(store)
	defer detach()

	maps := mapview.NewRegistry(store, logger)
	defer maps.CloseAll()

	apiRouter := api.NewRouter(api.Config{
		Session:      rt.session,
		Maps:         maps,
		Events:       broker,
		AuthEnabled:  cfg.Auth.AuthEnabled(),
		AuthToken:    cfg.Auth.Token,
		Layout:       cfg.Layout,
		DefaultDepth: cfg.View.DefaultDepth,
		SelectMode:   navigation.SelectMode(cfg.View.SelectMode),
		FrameRate:    cfg.View.FrameRate,
		Logger:       logger,
	})

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
		_, _ = fmt.Fprintf(w, `{"status":"ok","notes":%d,"maps":%d,"sse_clients":%d}`, store.Len(), maps.Len(), broker.ClientCount())
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Open map loops and SSE streams would otherwise hold Shutdown open.
		maps.CloseAll()
		broker.Close()

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

// RunMCP serves the MCP tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, rt, err := setup(ctx, append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer rt.close()

	rt.logger.Info("MCP server starting on stdio")
	if err := mcpserver.New(rt.session, app.version).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
