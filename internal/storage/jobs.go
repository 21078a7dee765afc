package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const jobColumns = `id, companion_id, state, attempts, error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var jobErr sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.CompanionID, &j.State, &j.Attempts, &jobErr, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	j.Error = jobErr.String
	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// EnqueueJob adds a queued ingestion job for the companion.
func (s *Store) EnqueueJob(ctx context.Context, companionID string) (Job, error) {
	now := s.now().UTC()
	ts := formatTime(now)
	j := Job{
		ID:          uuid.New().String(),
		CompanionID: companionID,
		State:       JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, companion_id, state, attempts, created_at, updated_at)
		VALUES (?, ?, 'queued', 0, ?, ?)`,
		j.ID, companionID, ts, ts,
	)
	if err != nil {
		return Job{}, fmt.Errorf("enqueueing job for companion %s: %w", companionID, err)
	}
	return j, nil
}

// ClaimNextJob moves the oldest queued job to processing and returns it.
// It returns nil, nil when the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE state = 'queued'
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET state = 'processing', updated_at = ? WHERE id = ? AND state = 'queued'`,
		formatTime(now), j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.State = JobProcessing
	j.UpdatedAt = now
	return &j, nil
}

// CompleteJob marks a processing job done.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = 'done', error = NULL, updated_at = ? WHERE id = ? AND state = 'processing'`,
		s.timestamp(), id)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return s.transitionError(ctx, id)
	}
	return nil
}

// FailJob records a failed attempt on a processing job. The job returns to
// the queue with its original created_at until attempts reaches maxAttempts,
// at which point it is marked failed. The updated job is returned.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, maxAttempts int) (Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if j.State != JobProcessing {
		return Job{}, fmt.Errorf("failing job %s in state %s: %w", id, j.State, ErrInvalidTransition)
	}

	j.Attempts++
	j.Error = errMsg
	j.State = JobQueued
	if j.Attempts >= maxAttempts {
		j.State = JobFailed
	}
	j.UpdatedAt = s.now().UTC()

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET state = ?, attempts = ?, error = ?, updated_at = ? WHERE id = ?`,
		j.State, j.Attempts, j.Error, formatTime(j.UpdatedAt), id); err != nil {
		return Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("committing job failure: %w", err)
	}
	return j, nil
}

// ResetProcessing re-queues jobs left in processing by a process that exited
// mid-job. Only safe while no worker is running.
func (s *Store) ResetProcessing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = 'queued', updated_at = ? WHERE state = 'processing'`, s.timestamp())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs newest first. An empty companionID lists all jobs;
// an empty state matches every state.
func (s *Store) ListJobs(ctx context.Context, companionID, state string, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE (? = '' OR companion_id = ?) AND (? = '' OR state = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, companionID, companionID, state, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
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
	return fmt.Errorf("job %s is %s: %w", id, j.State, ErrInvalidTransition)
}
