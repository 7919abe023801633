package worker

import (
	"context"
	"strings"
	"time"

	"github.com/docspasta/engine/internal/crawl/quality"
	"github.com/docspasta/engine/internal/crawl/urlnorm"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/store"
)

type taskOutcomeKind int

const (
	taskOutcomeCompleted taskOutcomeKind = iota
	taskOutcomeFailed
	taskOutcomeCached
)

// taskOutcome carries a task's classification plus how many new URLs it
// admitted into the queue, so processBatch can fold both into one counter
// update under a single mutex acquisition.
type taskOutcome struct {
	kind            taskOutcomeKind
	discoveredCount int
}

var (
	taskOutcomeCompletedVal = taskOutcome{kind: taskOutcomeCompleted}
	taskOutcomeFailedVal    = taskOutcome{kind: taskOutcomeFailed}
	taskOutcomeCachedVal    = taskOutcome{kind: taskOutcomeCached}
)

// processTask implements spec §4.8 steps 3-6 for a single queue item: upsert
// the Page row, fetch/extract/score, persist results, admit discovered
// links. Once the upsert has succeeded, every exit path increments the
// progress hash exactly once and writes a terminal Page status (a failed
// repository write is logged, not retried); a failed upsert is reported as a
// failed task with no progress increment.
func (w *Worker) processTask(ctx context.Context, userID, jobID string, cfg models.CrawlConfig, scope urlnorm.Scope, task store.QueueItem) taskOutcome {
	page := &models.Page{
		ID:             newPageID(),
		JobID:          jobID,
		URL:            task.URL,
		URLHash:        task.URLHash,
		Depth:          task.Depth,
		DiscoveredFrom: task.DiscoveredFrom,
		CreatedAt:      time.Now(),
	}
	existing, created, err := w.pageRepo.UpsertPending(ctx, page)
	if err != nil {
		w.logger.Error("upsert pending page failed", "job_id", jobID, "url", task.URL, "error", err)
		return withDiscovered(taskOutcomeFailedVal, 0)
	}
	if !created && existing.Status != models.PageStatusPending {
		if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Skipped: 1}); err != nil {
			w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
		}
		return withDiscovered(taskOutcomeCachedVal, 0)
	}
	if !created {
		page = existing
	}

	w.emit(ctx, userID, jobID, models.EventURLStarted, map[string]any{"url": task.URL, "depth": task.Depth})

	result, err := w.extractor.Extract(ctx, task.URL)
	if err != nil {
		w.markFailed(ctx, userID, jobID, page, nil, err.Error())
		return withDiscovered(taskOutcomeFailedVal, 0)
	}
	if result.Error != "" {
		var httpStatus *int
		if result.HTTPStatus != 0 {
			httpStatus = &result.HTTPStatus
		}
		w.markFailed(ctx, userID, jobID, page, httpStatus, result.Error)
		return withDiscovered(taskOutcomeFailedVal, 0)
	}

	score := quality.Score(quality.Input{
		URL:        task.URL,
		HTTPStatus: result.HTTPStatus,
		Markdown:   result.Markdown,
		Title:      result.Title,
	})
	wordCount := len(strings.Fields(result.Markdown))

	if err := w.pageRepo.MarkCrawled(ctx, page.ID, result.HTTPStatus, score, wordCount, result.Title); err != nil {
		w.logger.Error("mark crawled failed", "job_id", jobID, "page_id", page.ID, "error", err)
	}
	if result.Markdown != "" {
		chunk := &models.ContentChunk{
			ID:          newChunkID(),
			PageID:      page.ID,
			Content:     result.Markdown,
			ContentType: models.ContentChunkMarkdown,
			ChunkIndex:  0,
			CreatedAt:   time.Now(),
		}
		if err := w.chunkRepo.InsertMany(ctx, []*models.ContentChunk{chunk}); err != nil {
			w.logger.Error("insert chunk failed", "job_id", jobID, "page_id", page.ID, "error", err)
		}
	}
	if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Processed: 1}); err != nil {
		w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
	}
	w.emit(ctx, userID, jobID, models.EventURLCrawled, map[string]any{
		"url": task.URL, "success": true, "content_length": len(result.Markdown),
		"title": result.Title, "quality": map[string]any{"score": score, "reason": string(quality.BandFor(score))},
	})

	discoveredCount := w.admitDiscoveredLinks(ctx, userID, jobID, cfg, scope, task, result.ExtractedLinks)
	return withDiscovered(taskOutcomeCompletedVal, discoveredCount)
}

func (w *Worker) markFailed(ctx context.Context, userID, jobID string, page *models.Page, httpStatus *int, errMsg string) {
	if err := w.pageRepo.MarkError(ctx, page.ID, httpStatus, errMsg); err != nil {
		w.logger.Error("mark error failed", "job_id", jobID, "page_id", page.ID, "error", err)
	}
	if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Failed: 1}); err != nil {
		w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
	}
	w.emit(ctx, userID, jobID, models.EventURLCrawled, map[string]any{
		"url": page.URL, "success": false, "content_length": 0, "error": errMsg,
	})
}

// admitDiscoveredLinks applies §4.1 scope admission and the §4.4 two-level
// dedup cache to each link extracted from a page, enqueueing the survivors.
func (w *Worker) admitDiscoveredLinks(ctx context.Context, userID, jobID string, cfg models.CrawlConfig, scope urlnorm.Scope, task store.QueueItem, links []string) int {
	if len(links) == 0 || task.Depth >= cfg.MaxDepth {
		return 0
	}

	// max_pages is a practical backpressure bound (spec §5), not a hard
	// cross-goroutine guarantee: budget is sampled once per task rather than
	// per link, and tasks running concurrently in the same batch each see the
	// same remaining budget, so together they may admit more than it allows.
	// Once discovered reaches max_pages the budget is zero and every further
	// link is counted as filtered. The durable (job_id, url_hash) constraint
	// still prevents any actual duplicate Page row regardless.
	budget := -1
	if cfg.MaxPages > 0 {
		progress, err := w.store.GetProgress(ctx, userID, jobID)
		if err != nil {
			w.logger.Error("read progress for max_pages budget failed", "job_id", jobID, "error", err)
		} else {
			budget = cfg.MaxPages - progress.Discovered
			if budget < 0 {
				budget = 0
			}
		}
	}

	admitted := make([]store.QueueItem, 0, len(links))
	for _, link := range links {
		ok, reason := urlnorm.Admit(link, scope)
		if !ok {
			_ = reason
			if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Filtered: 1}); err != nil {
				w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
			}
			continue
		}

		if budget == 0 {
			if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Filtered: 1}); err != nil {
				w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
			}
			continue
		}

		hash := urlnorm.Hash(link)
		won, err := w.store.AddIfAbsent(ctx, userID, jobID, hash)
		if err != nil {
			w.logger.Error("dedup admission failed", "job_id", jobID, "url", link, "error", err)
			continue
		}
		if !won {
			if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{Skipped: 1}); err != nil {
				w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
			}
			continue
		}

		if budget > 0 {
			budget--
		}
		admitted = append(admitted, store.QueueItem{
			URL: link, URLHash: hash, Depth: task.Depth + 1, DiscoveredFrom: task.URL,
		})
	}

	if len(admitted) == 0 {
		return 0
	}

	if err := w.store.EnqueueMany(ctx, userID, jobID, admitted); err != nil {
		w.logger.Error("enqueue discovered links failed", "job_id", jobID, "error", err)
		return 0
	}
	if err := w.store.IncrementProgress(ctx, userID, jobID, store.ProgressDelta{
		Discovered: int64(len(admitted)), Queued: int64(len(admitted)),
	}); err != nil {
		w.logger.Error("increment progress failed", "job_id", jobID, "error", err)
	}

	discoveredURLs := make([]string, len(admitted))
	total, err := w.store.GetProgress(ctx, userID, jobID)
	if err != nil {
		w.logger.Error("read progress for urls_discovered event failed", "job_id", jobID, "error", err)
	}
	for i, a := range admitted {
		discoveredURLs[i] = a.URL
	}
	w.emit(ctx, userID, jobID, models.EventURLsDiscovered, map[string]any{
		"source_url": task.URL, "discovered_urls": discoveredURLs, "count": len(admitted), "total_discovered": total.Discovered,
	})

	return len(admitted)
}

func withDiscovered(o taskOutcome, n int) taskOutcome {
	o.discoveredCount = n
	return o
}
