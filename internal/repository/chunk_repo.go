package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docspasta/engine/internal/models"
)

// ChunkRepository persists ContentChunk rows, ordered per page by chunk_index.
type ChunkRepository struct {
	db *sql.DB
}

// NewChunkRepository creates a new content chunk repository.
func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// InsertMany writes a page's chunks in a single transaction, preserving
// chunk_index order.
func (r *ChunkRepository) InsertMany(ctx context.Context, chunks []*models.ContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_chunks (id, page_id, content, content_type, chunk_index, start_position, end_position, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert chunk: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var metaJSON sql.NullString
		if len(c.Metadata) > 0 {
			metaJSON = sql.NullString{String: string(c.Metadata), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.PageID, c.Content, c.ContentType, c.ChunkIndex,
			c.StartPos, c.EndPos, metaJSON, c.CreatedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// ListByPage returns a page's chunks in ascending chunk_index order.
func (r *ChunkRepository) ListByPage(ctx context.Context, pageID string) ([]*models.ContentChunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, page_id, content, content_type, chunk_index, start_position, end_position, metadata_json, created_at
		FROM content_chunks WHERE page_id = ? ORDER BY chunk_index ASC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.ContentChunk
	for rows.Next() {
		var c models.ContentChunk
		var metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.PageID, &c.Content, &c.ContentType, &c.ChunkIndex,
			&c.StartPos, &c.EndPos, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		if metaJSON.Valid {
			c.Metadata = []byte(metaJSON.String)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		c.CreatedAt = t
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
