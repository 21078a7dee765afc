package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/ingestd/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string, maxAttempts int) (storage.Job, error)
	ResetProcessing(ctx context.Context) (int, error)
	GetCompanion(ctx context.Context, id string) (storage.Companion, error)
	SetEmbeddingStatus(ctx context.Context, id, status string) error
}

// Ingester runs the pipeline for one companion attachment.
type Ingester interface {
	Ingest(ctx context.Context, companionID, blobRef string) (Result, error)
}

// Clock is the time source of the polling loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WorkerConfig holds the scheduling knobs. Zero values take defaults.
type WorkerConfig struct {
	PollInterval time.Duration // default 2s
	ErrorBackoff time.Duration // wait after a store error, default 5s
	MaxAttempts  int           // default 3
	JobTimeout   time.Duration // 0 means no limit
	Clock        Clock
	Logger       *slog.Logger
}

// Worker processes ingestion jobs one at a time.
type Worker struct {
	store    JobStore
	ingester Ingester
	cfg      WorkerConfig
	clock    Clock
	logger   *slog.Logger
}

func NewWorker(store JobStore, ingester Ingester, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    store,
		ingester: ingester,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Recover re-queues jobs left in processing by a previous process. Call it
// before Run.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	n, err := w.store.ResetProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("resetting processing jobs: %w", err)
	}
	if n > 0 {
		w.logger.Warn("re-queued interrupted jobs", "count", n)
	}
	return n, nil
}

// Run polls for jobs until ctx is cancelled. A job already in progress when
// ctx is cancelled runs to completion before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("ingest worker started", "poll_interval", w.cfg.PollInterval, "max_attempts", w.cfg.MaxAttempts)
	defer w.logger.Info("ingest worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.RunOnce(ctx)
		wait := w.cfg.PollInterval
		switch {
		case err != nil && ctx.Err() == nil:
			w.logger.Error("worker iteration failed", "error", err)
			wait = w.cfg.ErrorBackoff
		case processed:
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(wait):
		}
	}
}

// RunOnce claims and processes the oldest queued job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// Once claimed, the job is finished and finalized even if ctx is cancelled.
	jobCtx := context.WithoutCancel(ctx)
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, w.cfg.JobTimeout)
		defer cancel()
	}

	logger := w.logger.With("job_id", job.ID, "companion_id", job.CompanionID, "attempt", job.Attempts+1)
	start := w.clock.Now()

	res, err := w.processJob(jobCtx, job)
	if err != nil {
		return true, w.fail(jobCtx, logger, job, err)
	}

	// Finalization must not inherit the job timeout.
	finalCtx := context.WithoutCancel(ctx)
	if err := w.store.CompleteJob(finalCtx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	logger.Info("job done", "chunks", res.Chunks, "degraded", res.Degraded, "elapsed", w.clock.Now().Sub(start))
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (Result, error) {
	companion, err := w.store.GetCompanion(ctx, job.CompanionID)
	if err != nil {
		return Result{}, fmt.Errorf("loading companion %s: %w", job.CompanionID, err)
	}
	if companion.AttachmentRef == "" {
		return Result{}, errors.New("companion has no attachment")
	}
	return w.ingester.Ingest(ctx, companion.ID, companion.AttachmentRef)
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *storage.Job, cause error) error {
	ctx = context.WithoutCancel(ctx)

	var stageErr *StageError
	stage := "unknown"
	if errors.As(cause, &stageErr) {
		stage = string(stageErr.Stage)
	}

	updated, err := w.store.FailJob(ctx, job.ID, cause.Error(), w.cfg.MaxAttempts)
	if err != nil {
		logger.Warn("failed to record job failure, retrying", "error", err, "backoff", w.cfg.ErrorBackoff)
		<-w.clock.After(w.cfg.ErrorBackoff)
		updated, err = w.store.FailJob(ctx, job.ID, cause.Error(), w.cfg.MaxAttempts)
	}
	if err != nil {
		// Recover re-queues it on the next start.
		logger.Error("job left in processing until restart", "error", err, "cause", cause)
		return fmt.Errorf("failing job %s: %w", job.ID, err)
	}

	if updated.State != storage.JobFailed {
		logger.Warn("job failed, will retry", "stage", stage, "attempts", updated.Attempts, "error", cause)
		return nil
	}

	logger.Error("job failed permanently", "stage", stage, "attempts", updated.Attempts, "error", cause)
	if err := w.store.SetEmbeddingStatus(ctx, job.CompanionID, storage.EmbeddingFailed); err != nil {
		return fmt.Errorf("marking companion %s failed: %w", job.CompanionID, err)
	}
	return nil
}
