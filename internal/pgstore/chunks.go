package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/ingestd/internal/storage"
)

func (s *Store) InsertDocument(ctx context.Context, d *storage.Document) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, companion_id, filename, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		d.ID, d.CompanionID, d.Filename, d.Content,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) LatestDocument(ctx context.Context, companionID string) (storage.Document, error) {
	var d storage.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, companion_id, filename, content, created_at
		FROM documents WHERE companion_id = $1
		ORDER BY created_at DESC LIMIT 1`, companionID,
	).Scan(&d.ID, &d.CompanionID, &d.Filename, &d.Content, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, storage.ErrNotFound
	}
	return d, err
}

func (s *Store) DeleteChunks(ctx context.Context, companionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE companion_id = $1`, companionID)
	return err
}

func (s *Store) InsertChunks(ctx context.Context, chunks []storage.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, companion_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.CompanionID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *Store) CountChunks(ctx context.Context, companionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE companion_id = $1`, companionID).Scan(&n)
	return n, err
}

func (s *Store) ListChunks(ctx context.Context, companionID string) ([]storage.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, companion_id, chunk_index, content, embedding, created_at
		FROM chunks WHERE companion_id = $1 ORDER BY chunk_index ASC`, companionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Chunk
	for rows.Next() {
		var c storage.Chunk
		var emb pgvector.Vector
		if err := rows.Scan(&c.ID, &c.CompanionID, &c.ChunkIndex, &c.Content, &emb, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = emb.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchChunks orders by cosine distance. pgvector yields NaN for zero
// vectors; those are reported at distance 1 like the SQLite backend.
func (s *Store) SearchChunks(ctx context.Context, companionID string, query []float32, limit int) ([]storage.ChunkMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_index, content,
			COALESCE(NULLIF(embedding <=> $2, 'NaN'::float8), 1) AS distance
		FROM chunks
		WHERE companion_id = $1
		ORDER BY distance ASC, chunk_index ASC
		LIMIT $3`, companionID, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var out []storage.ChunkMatch
	for rows.Next() {
		var m storage.ChunkMatch
		if err := rows.Scan(&m.ID, &m.ChunkIndex, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
