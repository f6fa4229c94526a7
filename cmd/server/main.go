// Vryxia - chat character server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/vryxia/internal/agent"
	"github.com/ashureev/vryxia/internal/api"
	"github.com/ashureev/vryxia/internal/config"
	"github.com/ashureev/vryxia/internal/domain"
	"github.com/ashureev/vryxia/internal/grpchealth"
	"github.com/ashureev/vryxia/internal/identity"
	"github.com/ashureev/vryxia/internal/middleware"
	"github.com/ashureev/vryxia/internal/persona"
	"github.com/ashureev/vryxia/internal/presentation"
	"github.com/ashureev/vryxia/internal/realtime"
	"github.com/ashureev/vryxia/internal/session"
	"github.com/ashureev/vryxia/internal/store"
	"github.com/ashureev/vryxia/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
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

	if err := run(logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	slog.Info("Persona loaded", "name", p.Name, "file", cfg.PersonaFile)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, aiEnabled, err := agent.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}
	if !aiEnabled {
		slog.Info("AI replies disabled (GEMINI_API_KEY not set), every send resolves with the fallback")
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	catalog := presentation.DefaultCatalog()
	hub := realtime.NewHub(cfg.SSE.ReplayBufferSize, logger)
	defer hub.Close()

	mgr, err := session.NewManager(session.ManagerConfig{
		Generator:       gen,
		Persona:         p,
		ReplyCooldown:   cfg.Chat.ReplyCooldown,
		Sink:            presentation.NewCueSink(catalog, hub),
		Store:           repo,
		ConversationLog: conversationLogger,
		Logger:          logger,
		OnClose: func(userID, sessionID string) {
			hub.Prune(domain.SessionKey(userID, sessionID))
		},
	})
	if err != nil {
		return fmt.Errorf("initialize session manager: %w", err)
	}
	// Controllers must be closed before the hub and the conversation logger.
	defer mgr.CloseAll()

	session.StartExpiryWorker(ctx, mgr, repo, cfg.SessionTTL, session.DefaultExpiryInterval)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	limiter.StartEviction(ctx)

	streamHandler := realtime.NewStreamHandler(hub, mgr, realtime.StreamConfig{
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
	})
	wsHandler := realtime.NewWebSocketHandler(hub, mgr, limiter, cfg.FrontendURL, cfg.IsDevelopment())
	chatHandler := api.NewChatHandler(api.ChatHandlerConfig{
		Sessions:  mgr,
		Repo:      repo,
		Persona:   p,
		Catalog:   catalog,
		AIEnabled: aiEnabled,
		SendLimit: limiter.Limit,
		Stream:    streamHandler.HandleStream,
	})
	healthHandler := api.NewHealthHandler(repo, aiEnabled)

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(middleware.MaxBodySize(cfg.SSE.MaxRequestBodySize))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var health *grpchealth.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen on gRPC port: %w", err)
		}
		health = grpchealth.New(logger)
		health.SetServing(aiEnabled)
		g.Go(func() error {
			return health.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if health != nil {
			health.Stop(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
