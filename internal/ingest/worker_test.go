package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ingestd/internal/embedding"
	"github.com/kalambet/ingestd/internal/storage"
)

type ingestFunc func(ctx context.Context, companionID, blobRef string) (Result, error)

func (f ingestFunc) Ingest(ctx context.Context, companionID, blobRef string) (Result, error) {
	return f(ctx, companionID, blobRef)
}

// fakeClock hands out After channels that the test fires manually.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters chan chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		waiters: make(chan chan time.Time, 16),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.waiters <- ch
	return ch
}

func enqueue(t *testing.T, s *storage.Store, companionID string) storage.Job {
	t.Helper()
	j, err := s.EnqueueJob(context.Background(), companionID)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func TestWorker_ProcessesJob(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	var gotRef string
	w := NewWorker(s, ingestFunc(func(_ context.Context, companionID, ref string) (Result, error) {
		gotRef = ref
		return Result{Chunks: 2}, nil
	}), WorkerConfig{})

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if gotRef != "c1/lesson.pdf" {
		t.Errorf("ingested ref = %q, want c1/lesson.pdf", gotRef)
	}

	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobDone {
		t.Errorf("state = %q, want done", got.State)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	s := openTestStore(t)
	w := NewWorker(s, ingestFunc(func(context.Context, string, string) (Result, error) {
		t.Fatal("ingester should not be called")
		return Result{}, nil
	}), WorkerConfig{})

	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	w := NewWorker(s, ingestFunc(func(context.Context, string, string) (Result, error) {
		return Result{}, &StageError{Stage: StageFetch, Err: errors.New("connection reset")}
	}), WorkerConfig{})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobQueued || got.Attempts != 1 {
		t.Errorf("job = %s/%d, want queued/1", got.State, got.Attempts)
	}
	if !strings.Contains(got.Error, "connection reset") {
		t.Errorf("error = %q", got.Error)
	}
	c, _ := s.GetCompanion(context.Background(), "c1")
	if c.EmbeddingStatus != storage.EmbeddingPending {
		t.Errorf("companion status = %q, want pending while retrying", c.EmbeddingStatus)
	}
}

func TestWorker_MaxAttemptsExceeded(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	calls := 0
	w := NewWorker(s, ingestFunc(func(context.Context, string, string) (Result, error) {
		calls++
		return Result{}, errors.New("always fails")
	}), WorkerConfig{MaxAttempts: 3})

	for range 5 {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	if calls != 3 {
		t.Errorf("ingester called %d times, want 3", calls)
	}
	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobFailed || got.Attempts != 3 {
		t.Errorf("job = %s/%d, want failed/3", got.State, got.Attempts)
	}
	c, _ := s.GetCompanion(context.Background(), "c1")
	if c.EmbeddingStatus != storage.EmbeddingFailed {
		t.Errorf("companion status = %q, want failed", c.EmbeddingStatus)
	}
}

func TestWorker_RetriedJobKeepsQueuePosition(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	createCompanion(t, s, "c2")
	first := enqueue(t, s, "c1")
	enqueue(t, s, "c2")

	var order []string
	failedOnce := false
	w := NewWorker(s, ingestFunc(func(_ context.Context, companionID, _ string) (Result, error) {
		order = append(order, companionID)
		if companionID == "c1" && !failedOnce {
			failedOnce = true
			return Result{}, errors.New("transient")
		}
		return Result{}, nil
	}), WorkerConfig{})

	for range 3 {
		w.RunOnce(context.Background())
	}

	if strings.Join(order, ",") != "c1,c1,c2" {
		t.Errorf("processing order = %v, want [c1 c1 c2]", order)
	}
	got, _ := s.GetJob(context.Background(), first.ID)
	if got.State != storage.JobDone || got.Attempts != 1 {
		t.Errorf("first job = %s/%d, want done/1", got.State, got.Attempts)
	}
}

func TestWorker_JobTimeout(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	w := NewWorker(s, ingestFunc(func(ctx context.Context, _, _ string) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}), WorkerConfig{JobTimeout: 10 * time.Millisecond})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobQueued || got.Attempts != 1 {
		t.Errorf("job = %s/%d, want queued/1 after timeout", got.State, got.Attempts)
	}
}

func TestWorker_Recover(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	enqueue(t, s, "c1")
	if _, err := s.ClaimNextJob(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(s, ingestFunc(func(context.Context, string, string) (Result, error) {
		return Result{}, nil
	}), WorkerConfig{})

	n, err := w.Recover(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v; want 1, nil", n, err)
	}
	didWork, _ := w.RunOnce(context.Background())
	if !didWork {
		t.Error("recovered job was not claimable")
	}
}

func TestWorker_RunFinishesInFlightJobOnCancel(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	started := make(chan struct{})
	release := make(chan struct{})
	w := NewWorker(s, ingestFunc(func(ctx context.Context, _, _ string) (Result, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, nil
	}), WorkerConfig{Clock: newFakeClock()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobDone {
		t.Errorf("state = %q, want done", got.State)
	}
}

func TestWorker_RunPollsOnClock(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")

	processed := make(chan string, 1)
	clock := newFakeClock()
	w := NewWorker(s, ingestFunc(func(_ context.Context, companionID, _ string) (Result, error) {
		processed <- companionID
		return Result{}, nil
	}), WorkerConfig{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// First poll finds nothing and waits on the clock.
	tick := <-clock.waiters
	enqueue(t, s, "c1")
	tick <- clock.Now()

	select {
	case id := <-processed:
		if id != "c1" {
			t.Errorf("processed %q, want c1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job not processed after tick")
	}
}

func TestWorker_EndToEndWithPipeline(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	p := newTestPipeline(s, staticFetcher(strings.Repeat("z", 2500)), passthroughExtractor(), &mockProvider{})
	w := NewWorker(s, p, WorkerConfig{})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobDone {
		t.Errorf("job state = %q, want done", got.State)
	}
	n, _ := s.CountChunks(context.Background(), "c1")
	if n != 3 {
		t.Errorf("chunks = %d, want 3", n)
	}
	c, _ := s.GetCompanion(context.Background(), "c1")
	if c.EmbeddingStatus != storage.EmbeddingReady {
		t.Errorf("companion status = %q, want ready", c.EmbeddingStatus)
	}
}

func TestWorker_ChunkInsertFailureRequeues(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	store := &failingInsertStore{Store: s, failOn: 2}
	p := NewPipeline(store, staticFetcher(strings.Repeat("0123456789", 6)), passthroughExtractor(),
		embedding.NewService(&mockProvider{}, testDim, nil),
		Config{ChunkSize: 10, ChunkOverlap: 0, BatchSize: 2}, nil)
	w := NewWorker(s, p, WorkerConfig{})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobQueued || got.Attempts != 1 {
		t.Errorf("job = %s/%d, want queued/1", got.State, got.Attempts)
	}
	if !strings.Contains(got.Error, "disk I/O error") {
		t.Errorf("error = %q, want the insert failure", got.Error)
	}
	c, _ := s.GetCompanion(context.Background(), "c1")
	if c.EmbeddingStatus == storage.EmbeddingReady {
		t.Error("companion must not be ready after a failed chunk insert")
	}
}

// flakyFailStore errors on the first failures FailJob calls.
type flakyFailStore struct {
	*storage.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyFailStore) FailJob(ctx context.Context, id, errMsg string, maxAttempts int) (storage.Job, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n <= f.failures {
		return storage.Job{}, errors.New("database is locked")
	}
	return f.Store.FailJob(ctx, id, errMsg, maxAttempts)
}

func (f *flakyFailStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func runOnceWithClock(t *testing.T, w *Worker, clock *fakeClock, fires int) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		_, err := w.RunOnce(context.Background())
		errc <- err
	}()
	for range fires {
		select {
		case ch := <-clock.waiters:
			ch <- clock.Now()
		case <-time.After(5 * time.Second):
			t.Fatal("worker never waited on the clock")
		}
	}
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("RunOnce did not return")
		return nil
	}
}

func TestWorker_FailJobRetriedAfterBackoff(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	store := &flakyFailStore{Store: s, failures: 1}
	clock := newFakeClock()
	w := NewWorker(store, ingestFunc(func(context.Context, string, string) (Result, error) {
		return Result{}, errors.New("boom")
	}), WorkerConfig{Clock: clock})

	if err := runOnceWithClock(t, w, clock, 1); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := store.callCount(); n != 2 {
		t.Errorf("FailJob called %d times, want 2", n)
	}
	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobQueued || got.Attempts != 1 {
		t.Errorf("job = %s/%d, want queued/1", got.State, got.Attempts)
	}
}

func TestWorker_FailJobGivesUpAfterOneRetry(t *testing.T) {
	s := openTestStore(t)
	createCompanion(t, s, "c1")
	job := enqueue(t, s, "c1")

	store := &flakyFailStore{Store: s, failures: 2}
	clock := newFakeClock()
	w := NewWorker(store, ingestFunc(func(context.Context, string, string) (Result, error) {
		return Result{}, errors.New("boom")
	}), WorkerConfig{Clock: clock})

	if err := runOnceWithClock(t, w, clock, 1); err == nil {
		t.Fatal("expected RunOnce to report the unrecorded failure")
	}
	if n := store.callCount(); n != 2 {
		t.Errorf("FailJob called %d times, want 2", n)
	}
	got, _ := s.GetJob(context.Background(), job.ID)
	if got.State != storage.JobProcessing {
		t.Errorf("state = %q, want processing until Recover", got.State)
	}
}
