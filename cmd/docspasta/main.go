// Package main is the entry point for the docspasta crawl engine server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docspasta/engine/internal/config"
	"github.com/docspasta/engine/internal/crawl/extractor"
	"github.com/docspasta/engine/internal/database"
	"github.com/docspasta/engine/internal/finalizer"
	"github.com/docspasta/engine/internal/http/handlers"
	"github.com/docspasta/engine/internal/http/mw"
	"github.com/docspasta/engine/internal/logging"
	"github.com/docspasta/engine/internal/orchestrator"
	"github.com/docspasta/engine/internal/repository"
	"github.com/docspasta/engine/internal/shutdown"
	"github.com/docspasta/engine/internal/store"
	"github.com/docspasta/engine/internal/version"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting docspasta", "version", v.Version, "commit", v.Commit, "built", v.Date, "go_version", v.GoVersion)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	kv, err := store.Open(cfg.BadgerDir)
	if err != nil {
		logger.Error("failed to open kv store", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	jobRepo := repository.NewJobRepository(db)
	pageRepo := repository.NewPageRepository(db)
	chunkRepo := repository.NewChunkRepository(db)

	fin := finalizer.New(kv, jobRepo, pageRepo, chunkRepo, logger)
	ext := extractor.New(cfg.DefaultPerPageTimeout)
	orch := orchestrator.New(kv, jobRepo, pageRepo, chunkRepo, ext, fin, cfg, logger)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:      15 * time.Second,
		Extended:     30 * time.Second,
		ExtendedPatterns: []string{"/jobs/batch-state"},
		SkipPatterns: []string{"/stream"},
	}))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:             cfg.IdleTimeout,
		Logger:              logger,
		ExcludePaths:        []string{"/healthz", "/readyz"},
		BackgroundWorkCheck: orch.HasLiveWorkers,
	})
	idle.Start()
	defer idle.Stop()
	router.Use(idle.Middleware)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, `{"version":%q,"commit":%q,"date":%q}`, v.Version, v.Commit, v.Date)
	})

	router.Group(func(r chi.Router) {
		r.Use(mw.UserID)
		r.Use(mw.RateLimitByUser(mw.RateLimitConfig{RequestsPerMinute: 60}))

		humaConfig := huma.DefaultConfig("Docspasta", v.Version)
		humaConfig.Info.Description = "Documentation-crawling engine: submit a seed URL, stream progress, download the assembled Markdown."
		humaConfig.Servers = []*huma.Server{{URL: cfg.BaseURL, Description: "API server"}}
		api := humachi.New(r, humaConfig)

		handlers.Mount(r, api, orch, kv, handlers.StreamConfig{
			WallClock:         cfg.SSEWallClock,
			HeartbeatInterval: cfg.SSEHeartbeatInterval,
			BlockReadTimeout:  cfg.SSEBlockReadTimeout,
			BatchSize:         cfg.SSEBatchSize,
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		<-idle.ShutdownChan()
		logger.Info("idle timeout reached, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
