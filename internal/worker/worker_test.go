package worker

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/docspasta/engine/internal/crawl/extractor"
	"github.com/docspasta/engine/internal/crawl/urlnorm"
	"github.com/docspasta/engine/internal/database/migrations"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/repository"
	"github.com/docspasta/engine/internal/store"
)

func mustScope(t *testing.T, seedURL string) urlnorm.Scope {
	t.Helper()
	scope, err := urlnorm.NewScope(seedURL, false)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	return scope
}

func newTestDB(t *testing.T) *sql.DB {
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
	return db
}

type fakeFinalizer struct {
	calls int
	won   bool
}

func (f *fakeFinalizer) TryFinalize(ctx context.Context, userID, jobID string) (bool, error) {
	f.calls++
	return f.won, nil
}

const samplePageHTML = `<html><head><title>Guide</title></head><body>
<main>
<h1>Guide</h1>
<p>Some documentation content about configuration and usage.</p>
<a href="/guide/next">Next page</a>
<a href="https://other.example.com/x">External</a>
</main>
</body></html>`

const nextPageHTML = `<html><head><title>Next</title></head><body>
<main><h1>Next</h1><p>More reference material and examples.</p></main>
</body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/guide/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/guide/next" {
			w.Write([]byte(nextPageHTML))
			return
		}
		w.Write([]byte(samplePageHTML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_ProcessesSingleTaskAndDiscoversLink(t *testing.T) {
	db := newTestDB(t)
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := newTestServer(t)
	seedURL := srv.URL + "/guide/"

	jobRepo := repository.NewJobRepository(db)
	pageRepo := repository.NewPageRepository(db)
	chunkRepo := repository.NewChunkRepository(db)

	ctx := context.Background()
	job := &models.Job{
		ID:      "job-1",
		UserID:  "user-1",
		SeedURL: seedURL,
		Config: models.CrawlConfig{
			MaxDepth: 2, MaxPages: 50, QualityThreshold: 0, Concurrency: 2,
		},
		Status:    models.JobStatusRunning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	seedHash := "seed-hash"
	if err := s.EnqueueMany(ctx, job.UserID, job.ID, []store.QueueItem{{URL: seedURL, URLHash: seedHash, Depth: 0}}); err != nil {
		t.Fatalf("enqueue seed: %v", err)
	}

	fin := &fakeFinalizer{}
	w := New(s, jobRepo, pageRepo, chunkRepo, extractor.New(5*time.Second), fin, Config{
		BatchSize: 10, MaxBatchesPerInvocation: 1, InvocationWallClock: 10 * time.Second, InterBatchDelay: time.Millisecond,
	}, nil)

	if err := w.Run(ctx, job.UserID, job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	progress, err := s.GetProgress(ctx, job.UserID, job.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.Processed != 1 {
		t.Fatalf("expected 1 processed page, got %d", progress.Processed)
	}
	if progress.Discovered != 1 {
		t.Fatalf("expected 1 newly discovered link (the in-scope /guide/next), got %d", progress.Discovered)
	}

	pages, err := pageRepo.ListCrawledAboveThreshold(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ListCrawledAboveThreshold: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 crawled page, got %d", len(pages))
	}
	if pages[0].Title != "Guide" {
		t.Fatalf("expected title 'Guide', got %q", pages[0].Title)
	}

	chunks, err := chunkRepo.ListByPage(ctx, pages[0].ID)
	if err != nil {
		t.Fatalf("ListByPage: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Content == "" {
		t.Fatalf("expected 1 non-empty chunk, got %+v", chunks)
	}

	empty, err := s.IsQueueEmpty(ctx, job.UserID, job.ID)
	if err != nil {
		t.Fatalf("IsQueueEmpty: %v", err)
	}
	if empty {
		t.Fatalf("expected the discovered /guide/next link to remain queued")
	}
}

func TestProcessBatch_DropsTasksBeyondMaxDepth(t *testing.T) {
	db := newTestDB(t)
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := newTestServer(t)
	jobRepo := repository.NewJobRepository(db)
	pageRepo := repository.NewPageRepository(db)
	chunkRepo := repository.NewChunkRepository(db)

	ctx := context.Background()
	cfg := models.CrawlConfig{MaxDepth: 1, Concurrency: 1, QualityThreshold: 0}

	w := New(s, jobRepo, pageRepo, chunkRepo, extractor.New(5*time.Second), &fakeFinalizer{}, Config{}, nil)

	w.processBatch(ctx, "user-1", "job-deep", cfg, mustScope(t, srv.URL+"/guide/"), []store.QueueItem{
		{URL: srv.URL + "/guide/too-deep", URLHash: "deep-hash", Depth: 5},
	})

	progress, err := s.GetProgress(ctx, "user-1", "job-deep")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.Skipped != 1 {
		t.Fatalf("expected the over-depth task to be counted skipped, got %+v", progress)
	}
	if progress.Processed != 0 {
		t.Fatalf("expected the over-depth task never to be processed, got %+v", progress)
	}
}
