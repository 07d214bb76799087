// studypal application server.
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

	"github.com/ashureev/studypal/internal/agent"
	"github.com/ashureev/studypal/internal/api"
	"github.com/ashureev/studypal/internal/config"
	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/hub"
	"github.com/ashureev/studypal/internal/identity"
	"github.com/ashureev/studypal/internal/middleware"
	"github.com/ashureev/studypal/internal/notify"
	"github.com/ashureev/studypal/internal/recordsync"
	"github.com/ashureev/studypal/internal/remote"
	"github.com/ashureev/studypal/internal/store"
	"github.com/ashureev/studypal/internal/tracker"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("Failed to load timezone", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "timezone", loc.String())

	// Initialize dependencies.
	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	if err := db.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var rem recordsync.Remote
	if cfg.Remote.URL != "" {
		rem = remote.NewClient(&http.Client{}, cfg.Remote.URL, cfg.Remote.Token)
		slog.Info("Record service configured", "url", cfg.Remote.URL)
	} else {
		slog.Warn("STUDYPAL_REMOTE_URL not set, records stay in the local cache")
	}
	coord := recordsync.NewCoordinator(rem, db, db,
		recordsync.WithTimeouts(cfg.Remote.ReadTimeout, cfg.Remote.WriteTimeout),
		recordsync.WithLogger(logger),
	)

	records := tracker.New(coord, tracker.WithLocation(loc), tracker.WithLogger(logger))

	notifyHub := hub.NewHub()
	registry := hub.NewRegistry(notifyHub, db,
		hub.WithIdleTTL(cfg.Notify.IdleTTL),
		hub.WithSchedulerOptions(
			notify.WithLocation(loc),
			notify.WithIcon(cfg.Notify.Icon),
			notify.WithNagTiming(cfg.Notify.NagDelay, cfg.Notify.NagInterval),
			notify.WithLogger(logger),
		),
	)
	records.OnTasksChanged(func(userID string, tasks []domain.Task) {
		registry.RescheduleUser(userID, tasks)
	})

	// Initialize handlers.
	recordHandler := api.NewHandler(records, coord, registry)
	wsHandler := hub.NewNotificationsHandler(notifyHub, registry, records, cfg.FrontendURL, cfg.IsDevelopment())

	// Model service client (optional).
	var agentHandler *agent.Handler
	var agentHealth api.AgentHealth
	//nolint:nestif // sequential startup wiring
	if cfg.Agent.Enabled {
		slog.Info("Attempting to connect to model service via gRPC", "address", cfg.Agent.Address)

		keys := agent.NewKeyPool(cfg.Agent.APIKeys, cfg.Agent.KeyCooldown)
		grpcClient, err := agent.NewGrpcClient(agent.GrpcClientConfig{
			Address:        cfg.Agent.Address,
			ConnectTimeout: cfg.Agent.ConnectTimeout,
			RequestTimeout: cfg.Agent.RequestTimeout,
		}, keys, logger)
		if err != nil {
			slog.Warn("Failed to connect to model service, chat will be disabled", "error", err)
		} else {
			agentHealth = grpcClient

			conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
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

			agentHandler = agent.NewHandler(
				agent.NewService(grpcClient, records, logger),
				conversationLogger,
				agent.HandlerConfig{
					RequestsPerWindow:  cfg.RateLimit.RequestsPerWindow,
					Window:             cfg.RateLimit.WindowDuration,
					MaxRequestBodySize: cfg.RateLimit.MaxRequestBodySize,
				},
			)
			defer agentHandler.Close()
		}
	}
	if agentHandler == nil {
		slog.Info("Chat disabled (AGENT_ENABLED not set or connection failed)")
	}
	healthHandler := api.NewHealthHandler(db, coord, agentHealth)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Identified routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(identity.Options{
			TrustUserHeader: cfg.TrustUserHeader,
			IsDev:           cfg.IsDevelopment(),
		}))
		recordHandler.RegisterRoutes(r)
		if agentHandler != nil {
			agentHandler.RegisterRoutes(r)
		}
		r.Get("/ws/notifications", wsHandler.ServeHTTP)
	})

	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	recordsync.StartReplayWorker(ctx, coord, cfg.Remote.ReplayInterval)
	registry.StartIdleWorker(ctx)

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

	registry.Close()
	notifyHub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
