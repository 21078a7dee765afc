package embedding

import (
	"context"
	"fmt"
	"log/slog"
)

// Service enforces a fixed vector dimension on top of a Provider and owns the
// batch fallback policy.
type Service struct {
	provider Provider
	dim      int
	logger   *slog.Logger
}

// BatchReport describes how a batch was embedded.
type BatchReport struct {
	// Fallback is true when the batched call failed and items were embedded
	// one at a time.
	Fallback bool
	// Degraded holds the positions that received a zero vector.
	Degraded []int
}

func NewService(provider Provider, dim int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: provider, dim: dim, logger: logger}
}

// Dim returns the vector length every result is guaranteed to have.
func (s *Service) Dim() int { return s.dim }

// Embed embeds a single text. Unlike EmbedBatch it never substitutes a zero
// vector; a failure is returned to the caller.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.provider.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vecs))
	}
	if len(vecs[0]) != s.dim {
		return nil, fmt.Errorf("vector has %d dimensions, want %d", len(vecs[0]), s.dim)
	}
	return vecs[0], nil
}

// EmbedBatch returns exactly len(texts) vectors of length Dim. A failed or
// malformed batch call falls back to one call per text; texts that still fail
// get a zero vector.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, BatchReport) {
	var report BatchReport
	if len(texts) == 0 {
		return [][]float32{}, report
	}

	vecs, err := s.provider.EmbedTexts(ctx, texts)
	if err == nil {
		err = s.validate(vecs, len(texts))
	}
	if err == nil {
		return vecs, report
	}

	s.logger.Warn("batch embedding failed, falling back to per-item calls", "size", len(texts), "error", err)
	report.Fallback = true

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("embedding item failed, using zero vector", "index", i, "error", err)
			v = make([]float32, s.dim)
			report.Degraded = append(report.Degraded, i)
		}
		out[i] = v
	}
	return out, report
}

func (s *Service) validate(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("got %d vectors for %d inputs", len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != s.dim {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), s.dim)
		}
	}
	return nil
}
