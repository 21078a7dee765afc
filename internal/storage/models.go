package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a job is not in the state an
	// update requires, e.g. completing a job that was never claimed.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Job states.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Companion embedding statuses.
const (
	EmbeddingPending = "pending"
	EmbeddingReady   = "ready"
	EmbeddingFailed  = "failed"
)

// Job is one ingestion request for a companion's attachment.
type Job struct {
	ID          string    `json:"id"`
	CompanionID string    `json:"companion_id"`
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job will never be claimed again.
func (j Job) Terminal() bool {
	return j.State == JobDone || j.State == JobFailed
}

type Companion struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Subject         string    `json:"subject,omitempty"`
	AttachmentRef   string    `json:"attachment_ref"`
	EmbeddingStatus string    `json:"embedding_status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Document is the full extracted text of one attachment.
type Document struct {
	ID          string
	CompanionID string
	Filename    string
	Content     string
	CreatedAt   time.Time
}

// Chunk is one embedded window of a companion's document.
type Chunk struct {
	ID          string
	CompanionID string
	ChunkIndex  int
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
}

// ChunkMatch is a search hit. Distance is cosine distance (1 - cosine
// similarity); smaller is closer.
type ChunkMatch struct {
	ID         string  `json:"id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Distance   float64 `json:"distance"`
}
