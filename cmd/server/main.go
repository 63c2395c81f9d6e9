// Ecoplan - eco-house design session server
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

	"github.com/ashureev/ecoplan/internal/agent"
	"github.com/ashureev/ecoplan/internal/api"
	"github.com/ashureev/ecoplan/internal/config"
	"github.com/ashureev/ecoplan/internal/imagestore"
	"github.com/ashureev/ecoplan/internal/middleware"
	"github.com/ashureev/ecoplan/internal/orchestrator"
	"github.com/ashureev/ecoplan/internal/pipeline"
	"github.com/ashureev/ecoplan/internal/questionflow"
	"github.com/ashureev/ecoplan/internal/store"
	"github.com/ashureev/ecoplan/internal/survey"
	"github.com/ashureev/ecoplan/internal/telemetry"
	"github.com/ashureev/ecoplan/internal/worker"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver, "images", cfg.Images.Backend, "instance_id", cfg.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(telemetry.Config{Stdout: cfg.TracesStdout})
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store connected", "driver", cfg.Store.Driver, "persistent", repo.Persistent())

	images, err := openImageStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize image store", "error", err)
		os.Exit(1)
	}

	catalog, err := questionflow.Default()
	if err != nil {
		slog.Error("Failed to load question catalog", "error", err)
		os.Exit(1)
	}

	var models *genai.Models
	if cfg.Agents.GeminiAPIKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Agents.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			slog.Error("Failed to create Gemini client", "error", err)
			os.Exit(1)
		}
		models = client.Models
	}

	renderer, closeRenderer := newRenderer(ctx, cfg, models, logger)
	defer closeRenderer()

	var extractor survey.Extractor = survey.Unavailable{}
	if models != nil {
		extractor = survey.NewGeminiExtractor(models, cfg.Agents.GeminiVisionModel)
		slog.Info("Survey extraction enabled", "model", cfg.Agents.GeminiVisionModel)
	} else {
		slog.Info("Survey extraction disabled (GEMINI_API_KEY not set), uploads fall back to manual entry")
	}

	// Initialize services.
	pool := worker.New(worker.Config{Workers: cfg.Worker.Count, QueueSize: cfg.Worker.QueueSize}, logger)
	hub := orchestrator.NewHub(logger)
	tracker := pipeline.NewTracker(repo, hub, logger)
	runner := pipeline.New(renderer, images, tracker, logger)

	orch, err := orchestrator.New(orchestrator.Options{
		Repo:           repo,
		Catalog:        catalog,
		Extractor:      extractor,
		Runner:         runner,
		Pool:           pool,
		Hub:            hub,
		Logger:         logger,
		ExtractTimeout: cfg.Agents.ExtractTimeout,
		InstanceID:     cfg.InstanceID,
		StaleAfter:     cfg.AttemptStaleAfter,
	})
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	if n, err := orch.RecoverInterrupted(ctx); err != nil {
		slog.Error("Failed to recover interrupted generations", "error", err)
	} else {
		slog.Info("Interrupted generation recovery complete", "recovered", n)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(orch, images, cfg.FrontendURL, logger)
	designHandler := api.NewDesignHandler(baseHandler)
	healthHandler := api.NewHealthHandler(healthChecks(repo, renderer), 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	designHandler.RegisterRoutes(r)

	// Create server.
	// Websocket watches are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	orch.StartTTLWorker(ctx, cfg.SessionTTL)

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

	// Websocket connections are hijacked, so Shutdown does not wait for them.
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	// Generations still running are recovered as interrupted on next start.
	if err := pool.Stop(shutdownCtx); err != nil {
		slog.Warn("Worker pool did not drain", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return store.NewMemory(cfg.Store.MemoryCapacity)
	case config.StoreRedis:
		return store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			TTL:      cfg.SessionTTL,
		})
	default:
		return store.NewSQLite(cfg.Store.DBPath)
	}
}

func openImageStore(cfg *config.Config) (imagestore.Store, error) {
	switch cfg.Images.Backend {
	case config.ImagesInline:
		return imagestore.Inline{}, nil
	case config.ImagesS3:
		return imagestore.NewS3(imagestore.S3Config{
			Endpoint:  cfg.Images.S3Endpoint,
			Region:    cfg.Images.S3Region,
			AccessKey: cfg.Images.S3AccessKey,
			SecretKey: cfg.Images.S3SecretKey,
			Bucket:    cfg.Images.S3Bucket,
			UseSSL:    cfg.Images.S3UseSSL,
		})
	default:
		return imagestore.NewLocal(cfg.Images.Dir, "")
	}
}

// newRenderer picks the render agent: an external gRPC agent, Gemini, or the
// built-in placeholder drawings, in that order of preference.
func newRenderer(ctx context.Context, cfg *config.Config, models *genai.Models, logger *slog.Logger) (agent.Renderer, func()) {
	guard := agent.GuardOptions{
		Timeout:   cfg.Agents.Timeout,
		Semaphore: semaphore.NewWeighted(int64(cfg.Agents.Concurrency)),
	}

	if cfg.Agents.RenderAgentAddr != "" {
		slog.Info("Connecting to render agent via gRPC", "address", cfg.Agents.RenderAgentAddr)
		grpcRenderer, err := agent.NewGrpcRenderer(ctx, agent.DefaultGrpcClientConfig(cfg.Agents.RenderAgentAddr), logger)
		if err == nil {
			return agent.NewGuard(grpcRenderer, guard), grpcRenderer.Close
		}
		slog.Warn("Render agent unavailable, falling back", "error", err)
	}

	if models != nil {
		slog.Info("Rendering with Gemini", "model", cfg.Agents.GeminiImageModel)
		return agent.NewGuard(agent.NewGeminiRenderer(models, cfg.Agents.GeminiImageModel, logger), guard), func() {}
	}

	slog.Info("AI rendering disabled (RENDER_AGENT_ADDR and GEMINI_API_KEY not set), using placeholder drawings")
	return agent.NewGuard(agent.PlaceholderRenderer{}, guard), func() {}
}

func healthChecks(repo store.Repository, renderer agent.Renderer) map[string]api.Pinger {
	checks := map[string]api.Pinger{"database": repo}
	if h, ok := renderer.(interface{ Health(context.Context) error }); ok {
		checks["render_agent"] = pingFunc(h.Health)
	}
	return checks
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
