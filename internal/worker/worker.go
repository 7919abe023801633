// Package worker implements the Crawl Worker (spec §4.8): pops bounded
// batches from a job's queue, fetches/extracts/scores concurrently within
// each batch, persists results, admits discovered links, and hands off to
// the Finalizer once the queue drains.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/docspasta/engine/internal/crawl/extractor"
	"github.com/docspasta/engine/internal/crawl/urlnorm"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/repository"
	"github.com/docspasta/engine/internal/store"
)

// Finalizer is the subset of internal/finalizer.Finalizer a Worker needs.
// Accepting it as an interface here, rather than importing the concrete
// type, keeps the completion handoff a one-way dependency (finalizer can
// import worker's sibling packages without a cycle back to worker).
type Finalizer interface {
	TryFinalize(ctx context.Context, userID, jobID string) (bool, error)
}

// Config holds per-invocation tuning (spec §4.8, defaulted in internal/config).
type Config struct {
	BatchSize               int
	MaxBatchesPerInvocation int
	InvocationWallClock     time.Duration
	InterBatchDelay         time.Duration
	MaxWorkersPerJob        int
}

// Worker processes one job's crawl queue per Run invocation.
type Worker struct {
	store     *store.Store
	jobRepo   *repository.JobRepository
	pageRepo  *repository.PageRepository
	chunkRepo *repository.ChunkRepository
	extractor *extractor.Extractor
	finalizer Finalizer
	cfg       Config
	logger    *slog.Logger
}

// New creates a Worker.
func New(
	s *store.Store,
	jobRepo *repository.JobRepository,
	pageRepo *repository.PageRepository,
	chunkRepo *repository.ChunkRepository,
	ext *extractor.Extractor,
	fin Finalizer,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxBatchesPerInvocation == 0 {
		cfg.MaxBatchesPerInvocation = 10
	}
	if cfg.InvocationWallClock == 0 {
		cfg.InvocationWallClock = 50 * time.Second
	}
	if cfg.InterBatchDelay == 0 {
		cfg.InterBatchDelay = 200 * time.Millisecond
	}
	if cfg.MaxWorkersPerJob == 0 {
		cfg.MaxWorkersPerJob = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store: s, jobRepo: jobRepo, pageRepo: pageRepo, chunkRepo: chunkRepo,
		extractor: ext, finalizer: fin, cfg: cfg, logger: logger.With("component", "worker"),
	}
}

// Run processes up to cfg.MaxBatchesPerInvocation batches of jobID's queue,
// bounded by cfg.InvocationWallClock. It registers and — on every exit path,
// guaranteed by defer — deregisters itself in the job's live worker counter,
// then evaluates whether to respawn or to hand off to the Finalizer.
func (w *Worker) Run(ctx context.Context, userID, jobID string) error {
	if _, err := w.store.IncrementWorkers(ctx, userID, jobID, 1); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	var queueDrained bool
	defer func() {
		bg := context.Background()
		remaining, err := w.store.IncrementWorkers(bg, userID, jobID, -1)
		if err != nil {
			w.logger.Error("failed to deregister worker", "job_id", jobID, "error", err)
			return
		}
		w.onExit(bg, userID, jobID, remaining, queueDrained)
	}()

	job, err := w.jobRepo.GetByID(ctx, userID, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	scope, err := urlnorm.NewScope(job.SeedURL, job.Config.FollowExternalLinks)
	if err != nil {
		return fmt.Errorf("derive scope: %w", err)
	}

	deadline := time.Now().Add(w.cfg.InvocationWallClock)
	for batches := 0; batches < w.cfg.MaxBatchesPerInvocation; batches++ {
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err = w.jobRepo.GetByID(ctx, userID, jobID)
		if err != nil {
			w.logger.Error("failed to read job status", "job_id", jobID, "error", err)
			break
		}
		if job.Status != models.JobStatusRunning {
			break
		}

		tasks, err := w.store.PopBatch(ctx, userID, jobID, w.cfg.BatchSize)
		if err != nil {
			w.logger.Error("pop batch failed", "job_id", jobID, "error", err)
			break
		}
		if len(tasks) == 0 {
			queueDrained = true
			break
		}

		w.processBatch(ctx, userID, jobID, job.Config, scope, tasks)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.InterBatchDelay):
		}
	}
	return nil
}

// onExit runs after the worker counter has been decremented. It implements
// spec §4.8's completion check and respawn decision.
func (w *Worker) onExit(ctx context.Context, userID, jobID string, remainingWorkers int64, queueDrained bool) {
	empty, err := w.store.IsQueueEmpty(ctx, userID, jobID)
	if err != nil {
		w.logger.Error("failed to check queue emptiness on exit", "job_id", jobID, "error", err)
		return
	}

	if empty && remainingWorkers <= 0 {
		won, err := w.finalizer.TryFinalize(ctx, userID, jobID)
		if err != nil {
			w.logger.Error("finalize attempt failed", "job_id", jobID, "error", err)
		} else if won {
			w.logger.Info("finalized job", "job_id", jobID)
		}
		return
	}

	if !empty && remainingWorkers < int64(w.cfg.MaxWorkersPerJob) {
		if done, _, err := w.store.IsComplete(ctx, userID, jobID); err == nil && done {
			return
		}
		w.respawn(userID, jobID)
		return
	}

	_ = queueDrained // queueDrained does not affect the decision above
}

// respawn fires an asynchronous, fire-and-forget continuation of this job's
// crawl (spec §4.8's respawn policy). Failures are logged, never propagated.
func (w *Worker) respawn(userID, jobID string) {
	go func() {
		if err := w.Run(context.Background(), userID, jobID); err != nil {
			w.logger.Error("respawned worker exited with error", "job_id", jobID, "error", err)
		}
	}()
}

func (w *Worker) processBatch(ctx context.Context, userID, jobID string, cfg models.CrawlConfig, scope urlnorm.Scope, tasks []store.QueueItem) {
	urls := make([]string, 0, len(tasks))
	for _, t := range tasks {
		urls = append(urls, t.URL)
	}
	w.emit(ctx, userID, jobID, models.EventBatchStarted, map[string]any{"count": len(tasks), "urls": urls})

	var (
		mu                                    sync.Mutex
		completed, failed, discovered, cached int
		wg                                    sync.WaitGroup
	)
	sem := make(chan struct{}, maxInt(cfg.Concurrency, 1))

	for _, task := range tasks {
		if task.Depth > cfg.MaxDepth {
			if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Skipped: 1}); err != nil {
				w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(task store.QueueItem) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := w.processTask(ctx, userID, jobID, cfg, scope, task)

			mu.Lock()
			defer mu.Unlock()
			switch outcome.kind {
			case taskOutcomeCompleted:
				completed++
			case taskOutcomeFailed:
				failed++
			case taskOutcomeCached:
				cached++
			}
			discovered += outcome.discoveredCount
		}(task)
	}
	wg.Wait()

	w.emit(ctx, userID, jobID, models.EventBatchCompleted, map[string]any{
		"completed": completed, "failed": failed, "discovered": discovered, "fromCache": cached,
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func newPageID() string { return ulid.Make().String() }
func newChunkID() string { return ulid.Make().String() }

func (w *Worker) emit(ctx context.Context, userID, jobID string, eventType models.EventType, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("failed to marshal event payload", "job_id", jobID, "type", eventType, "error", err)
		return
	}
	if _, err := w.store.AppendEvent(ctx, userID, jobID, string(eventType), data); err != nil {
		w.logger.Error("failed to append event", "job_id", jobID, "type", eventType, "error", err)
	}
}
