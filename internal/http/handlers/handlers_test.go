package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/docspasta/engine/internal/config"
	"github.com/docspasta/engine/internal/crawl/extractor"
	"github.com/docspasta/engine/internal/database/migrations"
	"github.com/docspasta/engine/internal/finalizer"
	"github.com/docspasta/engine/internal/http/mw"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/orchestrator"
	"github.com/docspasta/engine/internal/repository"
	"github.com/docspasta/engine/internal/store"
)

// testHarness wires a real Orchestrator and Store the way cmd/docspasta/main.go
// does, so handler tests exercise the same dependency graph production does.
type testHarness struct {
	orch  *orchestrator.Orchestrator
	store *store.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s", filepath.Join(t.TempDir(), "test.db"))
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	jobRepo := repository.NewJobRepository(db)
	pageRepo := repository.NewPageRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	fin := finalizer.New(s, jobRepo, pageRepo, chunkRepo, nil)
	cfg := &config.Config{
		DefaultMaxDepth: 2, DefaultMaxPages: 50, DefaultQualityThreshold: 0, DefaultConcurrency: 2,
		InitialWorkers: 1, MaxWorkersPerJob: 3, WorkerBatchSize: 10, WorkerMaxBatchesPerInvocation: 1,
		WorkerInvocationWallClock: 5 * time.Second, WorkerInterBatchDelay: time.Millisecond,
	}
	orch := orchestrator.New(s, jobRepo, pageRepo, chunkRepo, extractor.New(5*time.Second), fin, cfg, nil)
	return &testHarness{orch: orch, store: s}
}

// authedContext attaches an opaque user id the way mw.UserID would.
func authedContext(userID string) context.Context {
	return context.WithValue(context.Background(), mw.UserIDKey, userID)
}

// modelsCrawlConfig is a zero-value CrawlConfig; the orchestrator fills in
// its defaults from *config.Config when a field is left unset.
func modelsCrawlConfig() models.CrawlConfig {
	return models.CrawlConfig{}
}

// withChiURLParam attaches a chi route param the way the router would after
// matching "/jobs/{id}/stream", for tests that call a raw handler directly.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
