// Package finalizer implements the Finalizer (spec §4.10): once a job's
// crawl has run to completion, assemble the consolidated Markdown artifact
// from its crawled pages and write the job's terminal state.
package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/repository"
	"github.com/docspasta/engine/internal/store"
)

// Finalizer assembles a job's final_markdown and decides its terminal status.
// TryFinalize is gated by the store's single-winner completion primitive, so
// it is safe to call from multiple concurrent triggers for the same job — at
// most one call per job performs the assembly. In this module the trigger is
// a worker exiting with an empty queue and no other live worker; nothing
// watches for pending_pages==0.
type Finalizer struct {
	store     *store.Store
	jobRepo   *repository.JobRepository
	pageRepo  *repository.PageRepository
	chunkRepo *repository.ChunkRepository
	logger    *slog.Logger
}

// New creates a Finalizer.
func New(s *store.Store, jobRepo *repository.JobRepository, pageRepo *repository.PageRepository, chunkRepo *repository.ChunkRepository, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: s, jobRepo: jobRepo, pageRepo: pageRepo, chunkRepo: chunkRepo, logger: logger.With("component", "finalizer")}
}

// TryFinalize attempts to finalize jobID. Returns won=true if this call was
// the one that performed finalization (regardless of whether the subsequent
// SQL assembly succeeded); won=false means another caller already won the
// race and this call is a clean no-op.
func (f *Finalizer) TryFinalize(ctx context.Context, userID, jobID string) (won bool, err error) {
	won, _, err = f.store.Complete(ctx, userID, jobID, "completed", nil)
	if err != nil {
		return false, fmt.Errorf("finalize gate: %w", err)
	}
	if !won {
		return false, nil
	}

	if err := f.assemble(ctx, userID, jobID); err != nil {
		f.logger.Error("finalize assembly failed after winning completion gate", "job_id", jobID, "error", err)
		return true, err
	}
	return true, nil
}

func (f *Finalizer) assemble(ctx context.Context, userID, jobID string) error {
	job, err := f.jobRepo.GetByID(ctx, userID, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	pages, err := f.pageRepo.ListCrawledAboveThreshold(ctx, jobID, job.Config.QualityThreshold)
	if err != nil {
		return fmt.Errorf("list crawled pages: %w", err)
	}
	_, crawled, errored, _, err := f.pageRepo.CountByStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count pages by status: %w", err)
	}

	markdown, err := assembleMarkdown(ctx, f.chunkRepo, pages)
	if err != nil {
		return fmt.Errorf("assemble markdown: %w", err)
	}

	status, statusMessage := decideStatus(crawled, errored)

	if err := f.jobRepo.Finalize(ctx, jobID, status, statusMessage, markdown); err != nil {
		return fmt.Errorf("finalize job row: %w", err)
	}

	if progress, err := f.store.GetProgress(ctx, userID, jobID); err == nil {
		if err := f.jobRepo.UpdateProgressSummary(ctx, jobID, progress); err != nil {
			f.logger.Warn("failed to persist final progress summary", "job_id", jobID, "error", err)
		}
		f.emitTerminalEvent(ctx, userID, jobID, status, statusMessage, progress)
	} else {
		f.logger.Warn("failed to read final progress summary", "job_id", jobID, "error", err)
		f.emitTerminalEvent(ctx, userID, jobID, status, statusMessage, models.ProgressSummary{})
	}

	f.logger.Info("finalized job", "job_id", jobID, "status", status, "pages_included", len(pages))
	return nil
}

// assembleMarkdown concatenates each page's chunks in chunk_index order,
// wrapping each page per spec §4.10 step 2. Pages arrive quality-ascending
// (repository.ListCrawledAboveThreshold's ORDER BY), preserved here.
func assembleMarkdown(ctx context.Context, chunkRepo *repository.ChunkRepository, pages []*models.Page) (string, error) {
	var sb strings.Builder
	for _, p := range pages {
		chunks, err := chunkRepo.ListByPage(ctx, p.ID)
		if err != nil {
			return "", fmt.Errorf("list chunks for page %s: %w", p.ID, err)
		}
		if len(chunks) == 0 {
			continue
		}
		title := p.Title
		if title == "" {
			title = p.URL
		}
		sb.WriteString("## ")
		sb.WriteString(title)
		sb.WriteString("\n\n")
		for _, c := range chunks {
			sb.WriteString(c.Content)
		}
		sb.WriteString("\n\n---\n")
	}
	return sb.String(), nil
}

// decideStatus implements spec §4.10 step 4: completed if every crawled page
// succeeded, partial if a mix of crawled and errored pages exist, failed if
// nothing ever reached crawled.
func decideStatus(crawled, errored int) (models.JobStatus, string) {
	switch {
	case crawled == 0:
		return models.JobStatusFailed, "no pages were successfully crawled"
	case errored > 0:
		return models.JobStatusPartial, fmt.Sprintf("%d page(s) failed to crawl", errored)
	default:
		return models.JobStatusCompleted, ""
	}
}

func (f *Finalizer) emitTerminalEvent(ctx context.Context, userID, jobID string, status models.JobStatus, statusMessage string, progress models.ProgressSummary) {
	eventType := models.EventJobCompleted
	payload := map[string]any{
		"jobId":           jobID,
		"totalProcessed":  progress.Processed,
		"totalDiscovered": progress.Discovered,
	}
	if status == models.JobStatusFailed {
		eventType = models.EventJobFailed
		payload["error"] = statusMessage
	}

	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("failed to marshal terminal event payload", "job_id", jobID, "error", err)
		return
	}
	if _, err := f.store.AppendEvent(ctx, userID, jobID, string(eventType), data); err != nil {
		f.logger.Error("failed to append terminal event", "job_id", jobID, "error", err)
	}
}
