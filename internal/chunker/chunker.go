// Package chunker splits extracted document text into overlapping windows.
package chunker

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSize    = errors.New("chunk size must be positive")
	ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than the chunk size")
)

// Span is one window of the source text. Start and End are rune offsets into
// the original text and describe the untrimmed window; Text is the trimmed
// content that gets embedded.
type Span struct {
	Start int
	End   int
	Text  string
}

// Split returns the trimmed, non-empty windows of text. Consecutive windows
// share overlap runes.
func Split(text string, size, overlap int) ([]string, error) {
	spans, err := Spans(text, size, overlap)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out, nil
}

// Spans is Split with window offsets attached.
func Spans(text string, size, overlap int) ([]Span, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if overlap < 0 || overlap >= size {
		return nil, ErrInvalidOverlap
	}

	runes := []rune(text)
	n := len(runes)
	var spans []Span

	start := 0
	for {
		end := min(start+size, n)
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			spans = append(spans, Span{Start: start, End: end, Text: chunk})
		}
		if end == n {
			break
		}
		start = max(0, end-overlap)
	}
	return spans, nil
}
