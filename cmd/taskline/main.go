package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tlhttp "github.com/taskline/taskline/internal/adapter/http"
	"github.com/taskline/taskline/internal/adapter/litellm"
	tlnats "github.com/taskline/taskline/internal/adapter/nats"
	"github.com/taskline/taskline/internal/adapter/otel"
	"github.com/taskline/taskline/internal/adapter/postgres"
	"github.com/taskline/taskline/internal/adapter/ristretto"
	"github.com/taskline/taskline/internal/adapter/ws"
	"github.com/taskline/taskline/internal/config"
	"github.com/taskline/taskline/internal/logger"
	"github.com/taskline/taskline/internal/port/messagequeue"
	"github.com/taskline/taskline/internal/resilience"
	"github.com/taskline/taskline/internal/service"
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
		"model", cfg.LLM.Model,
	)

	ctx := context.Background()

	// --- Infrastructure ---

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

	// NATS is optional; a single instance runs without the relay.
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := tlnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
	}

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("metrics exporter: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("metrics shutdown failed", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	llmClient := litellm.NewClient(cfg.LLM)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	registry := service.NewToolRegistry(store)
	parser := service.NewParser(registry, metrics, log)
	pregenSvc := service.NewPregenService(store, llmClient, metrics, cfg.LLM, cfg.Maintenance, log)
	threadSvc := service.NewThreadService(store, pregenSvc, l1, cfg.Cache.ThreadListTTL, log)
	sessions := service.NewChatSessions(service.ChatManagerDeps{
		Store:    store,
		LLM:      llmClient,
		Parser:   parser,
		Registry: registry,
		Pregen:   pregenSvc,
		Hub:      hub,
		Queue:    queue,
		Metrics:  metrics,
		ChatCfg:  cfg.Chat,
		LLMCfg:   cfg.LLM,
		Log:      log,
	})

	runner := service.NewRunner(cfg.Maintenance.Interval, log)
	runner.Register("pregen-replenish", pregenSvc.Replenish)
	runner.Start(ctx)
	defer runner.Stop()

	// Relay thread updates published by sibling instances to local clients.
	if queue != nil {
		stop, err := queue.Subscribe(ctx, messagequeue.SubjectThreadUpdated, func(_ string, data []byte) error {
			hub.Broadcast(ctx, ws.Message{Type: ws.EventThreadUpdated, Payload: data})
			return nil
		})
		if err != nil {
			return fmt.Errorf("thread update subscriber: %w", err)
		}
		defer stop()
	}

	// --- HTTP ---

	handlers := tlhttp.NewHandlers(store, threadSvc, sessions, hub)

	r := chi.NewRouter()
	r.Use(tlhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tlhttp.SecurityHeaders)
	r.Use(tlhttp.RequestID)
	r.Use(tlhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	tlhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
