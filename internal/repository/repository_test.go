package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/docspasta/engine/internal/database/migrations"
	"github.com/docspasta/engine/internal/models"
)

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

func TestJobRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	job := &models.Job{
		ID:      "job-1",
		UserID:  "user-1",
		SeedURL: "https://docs.example.com",
		Config: models.CrawlConfig{
			MaxDepth: 2, MaxPages: 50, QualityThreshold: 20, Concurrency: 3,
		},
		Status:       models.JobStatusPending,
		StateVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SeedURL != job.SeedURL {
		t.Errorf("SeedURL = %q, want %q", got.SeedURL, job.SeedURL)
	}
	if got.Config.MaxPages != 50 {
		t.Errorf("Config.MaxPages = %d, want 50", got.Config.MaxPages)
	}

	// Cross-user isolation: wrong user must not see the job.
	if _, err := repo.GetByID(ctx, "user-2", "job-1"); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows for cross-user read, got %v", err)
	}
}

func TestJobRepository_UpdateStatus_BumpsStateVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &models.Job{ID: "job-1", UserID: "user-1", SeedURL: "https://x", Status: models.JobStatusPending,
		StateVersion: 1, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "user-1", "job-1", models.JobStatusRunning, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := repo.GetByID(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobStatusRunning {
		t.Errorf("Status = %v, want running", got.Status)
	}
	if got.StateVersion != 2 {
		t.Errorf("StateVersion = %d, want 2", got.StateVersion)
	}
}

func TestPageRepository_UpsertPending_DedupsByURLHash(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	pages := NewPageRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &models.Job{ID: "job-1", UserID: "user-1", SeedURL: "https://x", Status: models.JobStatusPending,
		StateVersion: 1, CreatedAt: now, UpdatedAt: now}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	p1 := &models.Page{ID: "page-1", JobID: "job-1", URL: "https://x/a", URLHash: "hash-a", CreatedAt: now}
	_, created, err := pages.UpsertPending(ctx, p1)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Error("expected first upsert to create the row")
	}

	p2 := &models.Page{ID: "page-2", JobID: "job-1", URL: "https://x/a", URLHash: "hash-a", CreatedAt: now}
	existing, created, err := pages.UpsertPending(ctx, p2)
	if err != nil {
		t.Fatalf("upsert duplicate: %v", err)
	}
	if created {
		t.Error("expected duplicate upsert to be a cache hit, not a create")
	}
	if existing.ID != "page-1" {
		t.Errorf("expected existing row page-1, got %q", existing.ID)
	}
}

func TestPageRepository_ListCrawledAboveThreshold_OrdersByQualityAscending(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	pages := NewPageRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &models.Job{ID: "job-1", UserID: "user-1", SeedURL: "https://x", Status: models.JobStatusRunning,
		StateVersion: 1, CreatedAt: now, UpdatedAt: now}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	for _, tc := range []struct {
		id, hash string
		score    int
	}{
		{"page-a", "hash-a", 80},
		{"page-b", "hash-b", 30},
		{"page-c", "hash-c", 50},
	} {
		p := &models.Page{ID: tc.id, JobID: "job-1", URL: "https://x/" + tc.id, URLHash: tc.hash, CreatedAt: now}
		if _, _, err := pages.UpsertPending(ctx, p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := pages.MarkCrawled(ctx, tc.id, 200, tc.score, 100, ""); err != nil {
			t.Fatalf("mark crawled: %v", err)
		}
	}

	result, err := pages.ListCrawledAboveThreshold(ctx, "job-1", 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("len = %d, want 3", len(result))
	}
	if result[0].ID != "page-b" || result[1].ID != "page-c" || result[2].ID != "page-a" {
		t.Errorf("unexpected order: %v", []string{result[0].ID, result[1].ID, result[2].ID})
	}
}

func TestChunkRepository_InsertAndListOrdered(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	pages := NewPageRepository(db)
	chunks := NewChunkRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &models.Job{ID: "job-1", UserID: "user-1", SeedURL: "https://x", Status: models.JobStatusRunning,
		StateVersion: 1, CreatedAt: now, UpdatedAt: now}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	p := &models.Page{ID: "page-1", JobID: "job-1", URL: "https://x/a", URLHash: "hash-a", CreatedAt: now}
	if _, _, err := pages.UpsertPending(ctx, p); err != nil {
		t.Fatalf("upsert page: %v", err)
	}

	toInsert := []*models.ContentChunk{
		{ID: "c2", PageID: "page-1", Content: "second", ContentType: models.ContentChunkMarkdown, ChunkIndex: 1, CreatedAt: now},
		{ID: "c1", PageID: "page-1", Content: "first", ContentType: models.ContentChunkMarkdown, ChunkIndex: 0, CreatedAt: now},
	}
	if err := chunks.InsertMany(ctx, toInsert); err != nil {
		t.Fatalf("insert many: %v", err)
	}

	got, err := chunks.ListByPage(ctx, "page-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("chunks not ordered by chunk_index: %v", got)
	}
}
