// AutoStream - sales assistant chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/autostream-chat/internal/api"
	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/ashureev/autostream-chat/internal/config"
	"github.com/ashureev/autostream-chat/internal/content"
	"github.com/ashureev/autostream-chat/internal/convlog"
	"github.com/ashureev/autostream-chat/internal/identity"
	"github.com/ashureev/autostream-chat/internal/middleware"
	"github.com/ashureev/autostream-chat/internal/probe"
	"github.com/ashureev/autostream-chat/internal/realtime"
	"github.com/ashureev/autostream-chat/internal/store"
	"github.com/ashureev/autostream-chat/internal/workspace"
	"github.com/ashureev/autostream-chat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend_url", cfg.BackendURL)

	copyText, err := content.Load(cfg.CopyPath)
	if err != nil {
		slog.Error("Failed to load chat copy", "error", err, "path", cfg.CopyPath)
		os.Exit(1)
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	backendClient := backend.NewClient(backend.ClientConfig{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	}, logger)

	hub := realtime.NewHub()
	registry := workspace.NewRegistry(workspace.Config{
		Backend:       backendClient,
		Repo:          repo,
		Notifiers:     hub.For,
		ConvLog:       conversationLogger,
		Copy:          copyText,
		FallbackDelay: cfg.FallbackDelay,
		GreetingDelay: cfg.GreetingDelay,
		OnReset:       hub.CloseClient,
		Logger:        logger,
	})
	// Flush pending saves before the repository closes.
	defer registry.Close()

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(cfg.MaxRequestBodySize, logger)
	chatHandler := api.NewChatHandler(baseHandler, registry, limiter)
	backendHandler := api.NewBackendHandler(baseHandler, backendClient)
	healthHandler := api.NewHealthHandler(repo, backendClient)

	allowedOrigin := cfg.FrontendURL
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	wsHandler := realtime.NewHandler(hub, registry, allowedOrigin, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{allowedOrigin}))
	r.Use(identity.Middleware(cfg.IsDevelopment(), registry.Touch))

	// Public routes.
	healthHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	backendHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: the WebSocket stream is long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workspace.StartTTLWorker(ctx, registry, workspace.TTLConfig{
		WorkspaceTTL: cfg.WorkspaceTTL,
		HistoryTTL:   cfg.HistoryTTL,
		OnEvict:      hub.CloseClient,
	})

	if cfg.Probe.Addr != "" {
		prober := probe.New(backendClient, cfg.Probe.PollInterval, logger)
		go func() {
			if err := prober.Serve(ctx, cfg.Probe.Addr); err != nil {
				slog.Error("gRPC health server failed", "error", err, "addr", cfg.Probe.Addr)
			}
		}()
		slog.Info("gRPC health server started", "addr", cfg.Probe.Addr)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
