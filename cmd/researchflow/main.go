package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rfhttp "github.com/gpericol/researchflow/internal/adapter/http"
	rfnats "github.com/gpericol/researchflow/internal/adapter/nats"
	"github.com/gpericol/researchflow/internal/adapter/openai"
	"github.com/gpericol/researchflow/internal/adapter/otel"
	"github.com/gpericol/researchflow/internal/adapter/postgres"
	"github.com/gpericol/researchflow/internal/adapter/websearch"
	"github.com/gpericol/researchflow/internal/adapter/ws"
	"github.com/gpericol/researchflow/internal/config"
	"github.com/gpericol/researchflow/internal/logger"
	"github.com/gpericol/researchflow/internal/middleware"
	"github.com/gpericol/researchflow/internal/resilience"
	"github.com/gpericol/researchflow/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent_runs", cfg.Runner.MaxConcurrentRuns,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOTel, err := otel.Setup(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS is optional: without a URL the service runs standalone.
	var queue *rfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = rfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// --- Outbound clients ---
	newBreaker := func() *resilience.Breaker {
		return resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	}

	llmClient := openai.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.EmbeddingModel)
	llmClient.SetBreaker(newBreaker())

	googleClient := websearch.NewGoogleClient(cfg.Search.APIKey, cfg.Search.EngineID)
	googleClient.SetBreaker(newBreaker())

	engine, err := websearch.NewOrchestrator(cfg.Search, llmClient, googleClient)
	if err != nil {
		return fmt.Errorf("search engine: %w", err)
	}
	defer engine.Close()

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	ragStore := postgres.NewRAGStore(pool, llmClient, cfg.RAG)

	runner := service.NewRunner(store, engine, ragStore, cfg.Runner, log)
	runner.SetHub(hub)
	if queue != nil {
		runner.SetQueue(queue)
	}
	if cfg.OTel.Enabled {
		metrics, err := otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		runner.SetMetrics(metrics)
	}

	handlers := &rfhttp.Handlers{
		Research: service.NewResearchService(store, llmClient, log),
		Tasks:    service.NewTaskService(store, log),
		Runner:   runner,
		RAG:      service.NewRAGService(store, ragStore, log),
	}

	// --- HTTP ---
	r := chi.NewRouter()

	r.Use(rfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(rfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.OTel.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	r.Get("/health", healthHandler(pool, queue))
	r.Get("/ws", hub.HandleWS)

	rfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Let in-flight research runs finish before dropping the process.
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs still in flight at shutdown", "error", err)
	}
	return nil
}

// healthHandler reports service health including backing-store reachability.
func healthHandler(pool interface {
	Ping(ctx context.Context) error
}, queue *rfnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "disabled"}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Postgres = "unreachable"
		}
		if queue != nil {
			status.NATS = "ok"
			if !queue.IsConnected() {
				status.Status = "degraded"
				status.NATS = "disconnected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "ok" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
