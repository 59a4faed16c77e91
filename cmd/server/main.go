// chatd - conversational chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatd/internal/agent"
	"github.com/ashureev/chatd/internal/api"
	"github.com/ashureev/chatd/internal/checkpoint"
	"github.com/ashureev/chatd/internal/config"
	"github.com/ashureev/chatd/internal/graph"
	"github.com/ashureev/chatd/internal/identity"
	"github.com/ashureev/chatd/internal/llm"
	"github.com/ashureev/chatd/internal/middleware"
	"github.com/ashureev/chatd/internal/store"
	"github.com/ashureev/chatd/internal/sweeper"
	"github.com/ashureev/chatd/internal/telemetry"
	"github.com/ashureev/chatd/internal/transcript"
	"github.com/ashureev/chatd/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	os.Exit(run())
}

// run wires and serves until a signal arrives. It returns the process exit
// code so deferred cleanup runs before main exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"checkpoint_backend", cfg.Checkpoint.Backend,
		"model_provider", cfg.Model.Provider,
	)

	shutdownTracing, err := telemetry.Setup(cfg.TracingEnabled)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return 1
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		return 1
	}
	slog.Info("Database connected")

	checkpoints, err := checkpoint.Open(context.Background(), cfg.Checkpoint, repo.DB())
	if err != nil {
		slog.Error("Failed to initialize checkpoint store", "error", err)
		return 1
	}
	defer func() {
		if closeErr := checkpoints.Close(); closeErr != nil {
			slog.Error("Failed to close checkpoint store", "error", closeErr)
		}
	}()

	model, err := llm.New(cfg.Model)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		return 1
	}

	recorder, err := transcript.NewRecorder(repo, transcript.Config{
		FileLogEnabled: cfg.Transcript.FileLogEnabled,
		Dir:            cfg.Transcript.Dir,
		QueueSize:      cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript recorder", "error", err)
		return 1
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			slog.Error("Failed to flush transcripts", "error", closeErr)
		}
	}()

	// Initialize services.
	turns := graph.New(model.Complete, checkpoints,
		graph.WithCompressionThreshold(cfg.CompressionThreshold),
		graph.WithLogger(logger),
	)
	svc := agent.NewService(turns, repo, checkpoints, recorder, logger)

	// Initialize handlers.
	chatHandler := agent.NewHandler(svc, cfg)
	defer chatHandler.Close()
	healthHandler := api.NewHealthHandler(5*time.Second, model,
		api.Check{Name: "database", Pinger: repo},
		api.Check{Name: "checkpoint", Pinger: checkpoints},
	)
	userHandler := api.NewUserHandler(repo, api.ClientConfig{
		ModelProvider:        cfg.Model.Provider,
		CompressionThreshold: cfg.CompressionThreshold,
		SessionTTLSeconds:    int64(cfg.SessionTTL.Seconds()),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(allowedOrigins(cfg)...)))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else runs with an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		userHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
	})

	// Chat page catch-all.
	r.Handle("/*", web.ChatPageHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // chat sockets are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCPort != "" {
		grpcServer, healthServer := api.NewGRPCHealthServer()
		g.Go(func() error {
			lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
			if err != nil {
				return err
			}
			slog.Info("gRPC health server listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			api.RunHealthProbe(gctx, healthServer, healthHandler, 10*time.Second)
			grpcServer.GracefulStop()
			return nil
		})
	}

	if cfg.SessionTTL > 0 {
		sw := sweeper.New(repo, svc, cfg.SessionTTL, cfg.SweepPeriod, nil, logger)
		g.Go(func() error { return sw.Run(gctx) })
	} else {
		slog.Info("Idle conversation sweeper disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return 1
	}

	slog.Info("Server stopped successfully")
	return 0
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
