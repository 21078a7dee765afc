package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertDocument stores the extracted text of one attachment.
func (s *Store) InsertDocument(ctx context.Context, d *Document) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, companion_id, filename, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.CompanionID, d.Filename, d.Content, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	d.CreatedAt = now
	return nil
}

// LatestDocument returns the most recently stored document for a companion.
func (s *Store) LatestDocument(ctx context.Context, companionID string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, companion_id, filename, content, created_at
		FROM documents WHERE companion_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, companionID,
	).Scan(&d.ID, &d.CompanionID, &d.Filename, &d.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
	}
	return d, nil
}

// DeleteChunks removes every chunk row of a companion.
func (s *Store) DeleteChunks(ctx context.Context, companionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE companion_id = ?`, companionID)
	return err
}

// InsertChunks writes chunk rows in a single transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, companion_id, chunk_index, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	ts := s.timestamp()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.CompanionID, c.ChunkIndex, c.Content, encodeFloat32s(c.Embedding), ts); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

func (s *Store) CountChunks(ctx context.Context, companionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE companion_id = ?`, companionID).Scan(&n)
	return n, err
}

// ListChunks returns a companion's chunks in chunk_index order.
func (s *Store) ListChunks(ctx context.Context, companionID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, companion_id, chunk_index, content, embedding, created_at
		FROM chunks WHERE companion_id = ? ORDER BY chunk_index ASC`, companionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var createdAt string
		if err := rows.Scan(&c.ID, &c.CompanionID, &c.ChunkIndex, &c.Content, &blob, &createdAt); err != nil {
			return nil, err
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", c.ChunkIndex, err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for chunk %d: %w", c.ChunkIndex, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
