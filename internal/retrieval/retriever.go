// Package retrieval answers nearest-chunk queries for a companion.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/ingestd/internal/storage"
)

var (
	// ErrNotReady is returned for companions whose ingestion has not
	// finished successfully.
	ErrNotReady   = errors.New("companion embeddings are not ready")
	ErrEmptyQuery = errors.New("query is empty")
)

// ChunkSearcher is the read side of the chunk store.
type ChunkSearcher interface {
	GetCompanion(ctx context.Context, id string) (storage.Companion, error)
	CountChunks(ctx context.Context, companionID string) (int, error)
	SearchChunks(ctx context.Context, companionID string, query []float32, limit int) ([]storage.ChunkMatch, error)
}

// QueryEmbedder embeds a single query. It must return an error rather than
// a placeholder vector on failure.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines query embedding and vector search.
type Retriever struct {
	embedder QueryEmbedder
	store    ChunkSearcher
}

func NewRetriever(embedder QueryEmbedder, store ChunkSearcher) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to topK chunks of the companion nearest to query,
// closest first. topK is clamped to [1, number of chunks].
func (r *Retriever) Retrieve(ctx context.Context, companionID, query string, topK int) ([]storage.ChunkMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	companion, err := r.store.GetCompanion(ctx, companionID)
	if err != nil {
		return nil, fmt.Errorf("loading companion %s: %w", companionID, err)
	}
	if companion.EmbeddingStatus != storage.EmbeddingReady {
		return nil, fmt.Errorf("companion %s is %s: %w", companionID, companion.EmbeddingStatus, ErrNotReady)
	}

	total, err := r.store.CountChunks(ctx, companionID)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	if total == 0 {
		return []storage.ChunkMatch{}, nil
	}
	topK = max(1, min(topK, total))

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.store.SearchChunks(ctx, companionID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	if matches == nil {
		matches = []storage.ChunkMatch{}
	}
	return matches, nil
}
