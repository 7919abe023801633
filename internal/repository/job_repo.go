// Package repository provides user-scoped SQL persistence for Job, Page and
// ContentChunk rows over the relational store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docspasta/engine/internal/models"
)

// JobRepository persists Job rows. Every operation is scoped by user_id where
// applicable so no cross-user read or write is possible.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	progressJSON, err := json.Marshal(job.ProgressSummary)
	if err != nil {
		return fmt.Errorf("marshal progress summary: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, seed_url, config_json, status, status_message,
			final_markdown, state_version, progress_summary_json, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.UserID, job.SeedURL, string(configJSON), job.Status,
		nullString(job.StatusMessage), nullString(job.FinalMarkdown), job.StateVersion,
		string(progressJSON), job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, seed_url, config_json, status, status_message,
	final_markdown, state_version, progress_summary_json, created_at, updated_at, completed_at`

// GetByID returns a job scoped to userID. Returns sql.ErrNoRows if not found
// or owned by a different user — callers must treat both identically (404).
func (r *JobRepository) GetByID(ctx context.Context, userID, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND user_id = ?`, id, userID)
	return scanJob(row)
}

// ListRecent returns jobs for a user created since the given time, newest first.
func (r *JobRepository) ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC LIMIT ?`,
		userID, since.Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetMany returns jobs for a user matching any of ids (used by batch-state).
func (r *JobRepository) GetMany(ctx context.Context, userID string, ids []string) ([]*models.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := []any{userID}
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get many jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus transitions status and bumps state_version, scoped by user_id.
// Used for pending->running and for cancellation (-> failed with a message).
func (r *JobRepository) UpdateStatus(ctx context.Context, userID, id string, status models.JobStatus, statusMessage string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, status_message = ?, state_version = state_version + 1, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, status, nullString(statusMessage), now, id, userID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// UpdateProgressSummary persists the progress snapshot read from the atomic
// progress hash (internal/store); this is a cache of the authoritative
// counters for cheap status reads, not itself an atomic increment target.
func (r *JobRepository) UpdateProgressSummary(ctx context.Context, id string, summary models.ProgressSummary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal progress summary: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE jobs SET progress_summary_json = ?, state_version = state_version + 1, updated_at = ?
		WHERE id = ?
	`, string(b), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update progress summary: %w", err)
	}
	return nil
}

// Finalize writes the assembled artifact and terminal status in one update,
// bumping state_version. Called exactly once per job by the Finalizer, which
// itself is gated by the single-winner completion primitive in internal/store.
func (r *JobRepository) Finalize(ctx context.Context, id string, status models.JobStatus, statusMessage, finalMarkdown string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, status_message = ?, final_markdown = ?,
			state_version = state_version + 1, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, status, nullString(statusMessage), nullString(finalMarkdown), now.Format(time.RFC3339), now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	return nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var job models.Job
	var configJSON, progressJSON string
	var statusMessage, finalMarkdown sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := row.Scan(&job.ID, &job.UserID, &job.SeedURL, &configJSON, &job.Status, &statusMessage,
		&finalMarkdown, &job.StateVersion, &progressJSON, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	return hydrateJob(&job, configJSON, progressJSON, statusMessage, finalMarkdown, createdAt, updatedAt, completedAt)
}

func scanJobRows(rows *sql.Rows) (*models.Job, error) {
	var job models.Job
	var configJSON, progressJSON string
	var statusMessage, finalMarkdown sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := rows.Scan(&job.ID, &job.UserID, &job.SeedURL, &configJSON, &job.Status, &statusMessage,
		&finalMarkdown, &job.StateVersion, &progressJSON, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	return hydrateJob(&job, configJSON, progressJSON, statusMessage, finalMarkdown, createdAt, updatedAt, completedAt)
}

func hydrateJob(job *models.Job, configJSON, progressJSON string, statusMessage, finalMarkdown sql.NullString, createdAt, updatedAt string, completedAt sql.NullString) (*models.Job, error) {
	if err := json.Unmarshal([]byte(configJSON), &job.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(progressJSON), &job.ProgressSummary); err != nil {
		return nil, fmt.Errorf("unmarshal progress summary: %w", err)
	}
	job.StatusMessage = statusMessage.String
	job.FinalMarkdown = finalMarkdown.String

	var err error
	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
