package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docspasta/engine/internal/models"
)

// PageRepository persists Page rows. (job_id, url_hash) is the durable dedup
// ledger — UpsertPending's ON CONFLICT clause is what makes admission
// idempotent even if the Badger-backed shared set (internal/store) is lost.
type PageRepository struct {
	db *sql.DB
}

// NewPageRepository creates a new page repository.
func NewPageRepository(db *sql.DB) *PageRepository {
	return &PageRepository{db: db}
}

// UpsertPending inserts a pending Page row keyed by (job_id, url_hash).
// Returns (page, true, nil) if this call created the row, or
// (page, false, nil) if the row already existed (a cache hit — the caller
// should treat this exactly like a dedup-cache rejection).
func (r *PageRepository) UpsertPending(ctx context.Context, p *models.Page) (*models.Page, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pages (id, job_id, url, url_hash, status, depth, discovered_from, quality_score, word_count, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, 0, 0, ?)
		ON CONFLICT (job_id, url_hash) DO NOTHING
	`, p.ID, p.JobID, p.URL, p.URLHash, p.Depth, nullString(p.DiscoveredFrom), p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("upsert pending page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		existing, err := r.GetByURLHash(ctx, p.JobID, p.URLHash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return p, true, nil
}

const pageColumns = `id, job_id, url, url_hash, title, status, http_status, error_message,
	depth, discovered_from, quality_score, word_count, created_at, crawled_at`

func (r *PageRepository) GetByURLHash(ctx context.Context, jobID, urlHash string) (*models.Page, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE job_id = ? AND url_hash = ?`, jobID, urlHash)
	return scanPage(row)
}

func (r *PageRepository) GetByID(ctx context.Context, id string) (*models.Page, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	return scanPage(row)
}

// MarkCrawled records a successful crawl + score.
func (r *PageRepository) MarkCrawled(ctx context.Context, id string, httpStatus, qualityScore, wordCount int, title string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pages SET status = 'crawled', http_status = ?, title = ?, quality_score = ?, word_count = ?, crawled_at = ?
		WHERE id = ?
	`, httpStatus, nullString(title), qualityScore, wordCount, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark page crawled: %w", err)
	}
	return nil
}

// MarkError records a transient fetch/parse failure (spec §7).
func (r *PageRepository) MarkError(ctx context.Context, id string, httpStatus *int, errMsg string) error {
	var hs sql.NullInt64
	if httpStatus != nil {
		hs = sql.NullInt64{Int64: int64(*httpStatus), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE pages SET status = 'error', http_status = ?, error_message = ?, crawled_at = ?
		WHERE id = ?
	`, hs, nullString(errMsg), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark page error: %w", err)
	}
	return nil
}

// MarkSkipped records a page dropped by admission rules after insertion
// (e.g. depth boundary discovered after enqueue).
func (r *PageRepository) MarkSkipped(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pages SET status = 'skipped', error_message = ?, crawled_at = ? WHERE id = ?
	`, nullString(reason), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark page skipped: %w", err)
	}
	return nil
}

// ListCrawledAboveThreshold returns crawled pages with quality_score >= threshold,
// ascending by score (spec §4.10 step 1 — quality-ascending order).
func (r *PageRepository) ListCrawledAboveThreshold(ctx context.Context, jobID string, threshold int) ([]*models.Page, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE job_id = ? AND status = 'crawled' AND quality_score >= ?
		 ORDER BY quality_score ASC, created_at ASC`, jobID, threshold)
	if err != nil {
		return nil, fmt.Errorf("list crawled pages: %w", err)
	}
	defer rows.Close()

	var pages []*models.Page
	for rows.Next() {
		p, err := scanPageRows(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// CountByStatus returns the number of pages in each terminal/non-terminal
// status for a job; the Finalizer uses the crawled and errored counts to
// decide the terminal status.
func (r *PageRepository) CountByStatus(ctx context.Context, jobID string) (pending, crawled, errored, skipped int, err error) {
	rows, qerr := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pages WHERE job_id = ? GROUP BY status`, jobID)
	if qerr != nil {
		return 0, 0, 0, 0, fmt.Errorf("count pages by status: %w", qerr)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if serr := rows.Scan(&status, &count); serr != nil {
			return 0, 0, 0, 0, serr
		}
		switch models.PageStatus(status) {
		case models.PageStatusPending:
			pending = count
		case models.PageStatusCrawled:
			crawled = count
		case models.PageStatusError:
			errored = count
		case models.PageStatusSkipped:
			skipped = count
		}
	}
	return pending, crawled, errored, skipped, rows.Err()
}

func scanPage(row *sql.Row) (*models.Page, error) {
	var p models.Page
	var title, errMsg, discoveredFrom sql.NullString
	var httpStatus sql.NullInt64
	var createdAt string
	var crawledAt sql.NullString

	err := row.Scan(&p.ID, &p.JobID, &p.URL, &p.URLHash, &title, &p.Status, &httpStatus, &errMsg,
		&p.Depth, &discoveredFrom, &p.QualityScore, &p.WordCount, &createdAt, &crawledAt)
	if err != nil {
		return nil, err
	}
	return hydratePage(&p, title, errMsg, discoveredFrom, httpStatus, createdAt, crawledAt)
}

func scanPageRows(rows *sql.Rows) (*models.Page, error) {
	var p models.Page
	var title, errMsg, discoveredFrom sql.NullString
	var httpStatus sql.NullInt64
	var createdAt string
	var crawledAt sql.NullString

	err := rows.Scan(&p.ID, &p.JobID, &p.URL, &p.URLHash, &title, &p.Status, &httpStatus, &errMsg,
		&p.Depth, &discoveredFrom, &p.QualityScore, &p.WordCount, &createdAt, &crawledAt)
	if err != nil {
		return nil, err
	}
	return hydratePage(&p, title, errMsg, discoveredFrom, httpStatus, createdAt, crawledAt)
}

func hydratePage(p *models.Page, title, errMsg, discoveredFrom sql.NullString, httpStatus sql.NullInt64, createdAt string, crawledAt sql.NullString) (*models.Page, error) {
	p.Title = title.String
	p.Error = errMsg.String
	p.DiscoveredFrom = discoveredFrom.String
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		p.HTTPStatus = &v
	}
	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if crawledAt.Valid {
		t, err := time.Parse(time.RFC3339, crawledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse crawled_at: %w", err)
		}
		p.CrawledAt = &t
	}
	return p, nil
}
