package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateCompanion inserts c. EmbeddingStatus defaults to pending and the
// timestamps are set by the store.
func (s *Store) CreateCompanion(ctx context.Context, c *Companion) error {
	if c.EmbeddingStatus == "" {
		c.EmbeddingStatus = EmbeddingPending
	}
	now := s.now().UTC()
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companions (id, name, subject, attachment_ref, embedding_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Subject, c.AttachmentRef, c.EmbeddingStatus, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting companion %s: %w", c.ID, err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

const companionColumns = `id, name, subject, attachment_ref, embedding_status, created_at, updated_at`

func scanCompanion(row interface{ Scan(...any) error }) (Companion, error) {
	var c Companion
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Name, &c.Subject, &c.AttachmentRef, &c.EmbeddingStatus, &createdAt, &updatedAt); err != nil {
		return Companion{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Companion{}, fmt.Errorf("parsing created_at for companion %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Companion{}, fmt.Errorf("parsing updated_at for companion %s: %w", c.ID, err)
	}
	return c, nil
}

func (s *Store) GetCompanion(ctx context.Context, id string) (Companion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companionColumns+` FROM companions WHERE id = ?`, id)
	c, err := scanCompanion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Companion{}, ErrNotFound
	}
	return c, err
}

// ListCompanions returns companions, newest first.
func (s *Store) ListCompanions(ctx context.Context, limit int) ([]Companion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companionColumns+` FROM companions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Companion
	for rows.Next() {
		c, err := scanCompanion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetEmbeddingStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE companions SET embedding_status = ?, updated_at = ? WHERE id = ?`,
		status, s.timestamp(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// DeleteCompanion removes a companion together with its jobs, documents and chunks.
func (s *Store) DeleteCompanion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
