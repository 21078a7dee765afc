// Package ingest turns a companion's attachment into embedded chunk rows and
// drives the durable job queue that schedules that work.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/ingestd/internal/blob"
	"github.com/kalambet/ingestd/internal/chunker"
	"github.com/kalambet/ingestd/internal/embedding"
	"github.com/kalambet/ingestd/internal/extract"
	"github.com/kalambet/ingestd/internal/storage"
)

// DocumentStore is the write side of document and chunk persistence.
type DocumentStore interface {
	InsertDocument(ctx context.Context, d *storage.Document) error
	DeleteChunks(ctx context.Context, companionID string) error
	InsertChunks(ctx context.Context, chunks []storage.Chunk) error
	SetEmbeddingStatus(ctx context.Context, id, status string) error
}

// BatchEmbedder always returns one full-length vector per text.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, embedding.BatchReport)
}

// Config controls chunking and embedding batch size.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

func DefaultConfig() Config {
	return Config{ChunkSize: 1000, ChunkOverlap: 200, BatchSize: 16}
}

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageStore   Stage = "store"
)

// StageError wraps a pipeline failure with the step that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Result summarizes one ingestion run.
type Result struct {
	DocumentID string
	Chunks     int
	Degraded   int
	Fallbacks  int
}

// Pipeline fetches, extracts, chunks, embeds and stores one attachment.
type Pipeline struct {
	store     DocumentStore
	fetcher   blob.Fetcher
	extractor extract.Extractor
	embedder  BatchEmbedder
	cfg       Config
	logger    *slog.Logger
}

func NewPipeline(store DocumentStore, fetcher blob.Fetcher, extractor extract.Extractor, embedder BatchEmbedder, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ingest processes the attachment at blobRef for companionID. Previous chunk
// rows of the companion are replaced, so re-running after a partial failure
// converges. Embedding failures degrade individual chunks to zero vectors and
// never abort the run.
func (p *Pipeline) Ingest(ctx context.Context, companionID, blobRef string) (Result, error) {
	var res Result

	data, err := p.fetcher.Fetch(ctx, blobRef)
	if err != nil {
		return res, &StageError{Stage: StageFetch, Err: err}
	}

	text, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return res, &StageError{Stage: StageExtract, Err: err}
	}

	doc := storage.Document{
		ID:          uuid.New().String(),
		CompanionID: companionID,
		Filename:    blob.Filename(blobRef),
		Content:     text,
	}
	if err := p.store.InsertDocument(ctx, &doc); err != nil {
		return res, &StageError{Stage: StageStore, Err: err}
	}
	res.DocumentID = doc.ID

	chunks, err := chunker.Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return res, &StageError{Stage: StageChunk, Err: err}
	}

	// Retrieval must not see a partial chunk set as ready.
	if err := p.store.SetEmbeddingStatus(ctx, companionID, storage.EmbeddingPending); err != nil {
		return res, &StageError{Stage: StageStore, Err: fmt.Errorf("marking companion pending: %w", err)}
	}
	if err := p.store.DeleteChunks(ctx, companionID); err != nil {
		return res, &StageError{Stage: StageStore, Err: fmt.Errorf("clearing old chunks: %w", err)}
	}

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		vecs, report := p.embedder.EmbedBatch(ctx, batch)
		if report.Fallback {
			res.Fallbacks++
		}
		if len(report.Degraded) > 0 {
			res.Degraded += len(report.Degraded)
			p.logger.Warn("chunks stored with zero embeddings",
				"companion_id", companionID, "batch_start", start, "count", len(report.Degraded))
		}

		rows := make([]storage.Chunk, len(batch))
		for i, content := range batch {
			rows[i] = storage.Chunk{
				ID:          uuid.New().String(),
				CompanionID: companionID,
				ChunkIndex:  start + i,
				Content:     content,
				Embedding:   vecs[i],
			}
		}
		if err := p.store.InsertChunks(ctx, rows); err != nil {
			return res, &StageError{Stage: StageStore, Err: err}
		}
		res.Chunks += len(rows)
	}

	if err := p.store.SetEmbeddingStatus(ctx, companionID, storage.EmbeddingReady); err != nil {
		return res, &StageError{Stage: StageStore, Err: fmt.Errorf("marking companion ready: %w", err)}
	}

	p.logger.Info("document ingested",
		"companion_id", companionID,
		"document_id", doc.ID,
		"chars", len(text),
		"chunks", res.Chunks,
		"degraded", res.Degraded,
	)
	return res, nil
}
