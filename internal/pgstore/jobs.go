package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/ingestd/internal/storage"
)

const jobColumns = `id, companion_id, state, attempts, error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (storage.Job, error) {
	var j storage.Job
	var jobErr sql.NullString
	if err := row.Scan(&j.ID, &j.CompanionID, &j.State, &j.Attempts, &jobErr, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return storage.Job{}, err
	}
	j.Error = jobErr.String
	return j, nil
}

func (s *Store) EnqueueJob(ctx context.Context, companionID string) (storage.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, companion_id) VALUES ($1, $2)
		RETURNING `+jobColumns, uuid.New().String(), companionID))
	if err != nil {
		return storage.Job{}, fmt.Errorf("enqueueing job for companion %s: %w", companionID, err)
	}
	return j, nil
}

// ClaimNextJob moves the oldest queued job to processing. SKIP LOCKED keeps a
// concurrent claimer from blocking on the same row.
func (s *Store) ClaimNextJob(ctx context.Context) (*storage.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = 'processing', updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'queued'
			ORDER BY created_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming next job: %w", err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = 'done', error = NULL, updated_at = now() WHERE id = $1 AND state = 'processing'`, id)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id, errMsg string, maxAttempts int) (storage.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			attempts = attempts + 1,
			state = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'queued' END,
			error = $2,
			updated_at = now()
		WHERE id = $1 AND state = 'processing'
		RETURNING `+jobColumns, id, errMsg, maxAttempts))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Job{}, s.transitionError(ctx, id)
	}
	return j, err
}

func (s *Store) ResetProcessing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = 'queued', updated_at = now() WHERE state = 'processing'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetJob(ctx context.Context, id string) (storage.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Job{}, storage.ErrNotFound
	}
	return j, err
}

func (s *Store) ListJobs(ctx context.Context, companionID, state string, limit int) ([]storage.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE ($1 = '' OR companion_id = $1) AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`, companionID, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) transitionError(ctx context.Context, id string) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", id, j.State, storage.ErrInvalidTransition)
}
