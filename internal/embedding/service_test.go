package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockProvider implements Provider using a function field.
type mockProvider struct {
	fn    func(texts []string) ([][]float32, error)
	calls [][]string
}

func (m *mockProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	m.calls = append(m.calls, texts)
	return m.fn(texts)
}

func vecs(n, dim int, val float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = val
		}
		out[i] = v
	}
	return out
}

func TestEmbedBatch_HappyPath(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		return vecs(len(texts), 4, 1), nil
	}}
	s := NewService(p, 4, nil)

	out, report := s.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if len(out) != 3 {
		t.Fatalf("got %d vectors, want 3", len(out))
	}
	if report.Fallback || len(report.Degraded) != 0 {
		t.Errorf("report = %+v, want clean", report)
	}
	if len(p.calls) != 1 {
		t.Errorf("provider called %d times, want 1", len(p.calls))
	}
}

func TestEmbedBatch_FallbackWithZeroVector(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		if len(texts) > 1 {
			return nil, errors.New("batch rejected")
		}
		if texts[0] == "bad" {
			return nil, errors.New("item rejected")
		}
		return vecs(1, 4, 1), nil
	}}
	s := NewService(p, 4, nil)

	out, report := s.EmbedBatch(context.Background(), []string{"a", "bad", "c"})
	if len(out) != 3 {
		t.Fatalf("got %d vectors, want 3", len(out))
	}
	for i, v := range out {
		if len(v) != 4 {
			t.Errorf("vector %d has length %d, want 4", i, len(v))
		}
	}
	for _, x := range out[1] {
		if x != 0 {
			t.Fatalf("degraded vector = %v, want zeros", out[1])
		}
	}
	if out[0][0] != 1 || out[2][0] != 1 {
		t.Error("healthy items should keep provider vectors")
	}
	if !report.Fallback {
		t.Error("report.Fallback = false, want true")
	}
	if len(report.Degraded) != 1 || report.Degraded[0] != 1 {
		t.Errorf("report.Degraded = %v, want [1]", report.Degraded)
	}
	if len(p.calls) != 4 {
		t.Errorf("provider called %d times, want 4 (1 batch + 3 single)", len(p.calls))
	}
}

func TestEmbedBatch_WrongDimensionTriggersFallback(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		if len(texts) > 1 {
			return vecs(len(texts), 3, 1), nil
		}
		if strings.HasPrefix(texts[0], "short") {
			return vecs(1, 2, 1), nil
		}
		return vecs(1, 4, 1), nil
	}}
	s := NewService(p, 4, nil)

	out, report := s.EmbedBatch(context.Background(), []string{"ok", "short one"})
	if !report.Fallback {
		t.Error("expected fallback for wrong batch dimension")
	}
	if len(out[0]) != 4 || len(out[1]) != 4 {
		t.Errorf("lengths = %d, %d, want 4, 4", len(out[0]), len(out[1]))
	}
	if len(report.Degraded) != 1 || report.Degraded[0] != 1 {
		t.Errorf("Degraded = %v, want [1]", report.Degraded)
	}
}

func TestEmbedBatch_AllItemsFail(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		return nil, errors.New("provider down")
	}}
	s := NewService(p, 8, nil)

	texts := make([]string, 16)
	out, report := s.EmbedBatch(context.Background(), texts)
	if len(out) != 16 {
		t.Fatalf("got %d vectors, want 16", len(out))
	}
	for _, v := range out {
		if len(v) != 8 {
			t.Fatalf("vector length %d, want 8", len(v))
		}
	}
	if len(report.Degraded) != 16 {
		t.Errorf("Degraded = %d items, want 16", len(report.Degraded))
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		t.Fatal("provider should not be called")
		return nil, nil
	}}
	out, _ := NewService(p, 4, nil).EmbedBatch(context.Background(), nil)
	if len(out) != 0 {
		t.Errorf("got %d vectors, want 0", len(out))
	}
}

func TestEmbed_PropagatesError(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		return nil, errors.New("down")
	}}
	if _, err := NewService(p, 4, nil).Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbed_WrongDimension(t *testing.T) {
	p := &mockProvider{fn: func(texts []string) ([][]float32, error) {
		return vecs(1, 3, 1), nil
	}}
	if _, err := NewService(p, 4, nil).Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected dimension error")
	}
}
