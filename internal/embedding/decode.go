package embedding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnrecognizedShape is returned when a provider response matches none of
// the known embedding envelopes.
var ErrUnrecognizedShape = errors.New("unrecognized embedding response shape")

// Decode normalizes a provider response body into one vector per input.
//
// Accepted envelopes:
//
//	[[...], [...]]                   bare matrix
//	[...]                            bare vector (single input)
//	[{"embedding": [...]}, ...]      list of objects
//	{"embedding": [...] | [[...]]}   single key, vector or matrix
//	{"embeddings": [[...]]}          plural key
//	{"data": [{"embedding": [...]}]} OpenAI style
func Decode(body []byte) ([][]float32, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnrecognizedShape)
	}

	switch body[0] {
	case '[':
		return decodeArray(body)
	case '{':
		return decodeObject(body)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedShape, preview(body))
}

func decodeArray(body []byte) ([][]float32, error) {
	var matrix [][]float32
	if err := json.Unmarshal(body, &matrix); err == nil {
		return matrix, nil
	}

	var vec []float32
	if err := json.Unmarshal(body, &vec); err == nil {
		return [][]float32{vec}, nil
	}

	var items []struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &items); err == nil {
		out := make([][]float32, len(items))
		for i, it := range items {
			if it.Embedding == nil {
				return nil, fmt.Errorf("%w: item %d has no embedding", ErrUnrecognizedShape, i)
			}
			out[i] = it.Embedding
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedShape, preview(body))
}

func decodeObject(body []byte) ([][]float32, error) {
	var env struct {
		Embedding  json.RawMessage `json:"embedding"`
		Embeddings [][]float32     `json:"embeddings"`
		Data       []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}

	switch {
	case len(env.Embedding) > 0 && !bytes.Equal(env.Embedding, []byte("null")):
		var matrix [][]float32
		if err := json.Unmarshal(env.Embedding, &matrix); err == nil {
			return matrix, nil
		}
		var vec []float32
		if err := json.Unmarshal(env.Embedding, &vec); err == nil {
			return [][]float32{vec}, nil
		}
	case env.Embeddings != nil:
		return env.Embeddings, nil
	case env.Data != nil:
		out := make([][]float32, len(env.Data))
		for i, d := range env.Data {
			if d.Embedding == nil {
				return nil, fmt.Errorf("%w: data[%d] has no embedding", ErrUnrecognizedShape, i)
			}
			out[i] = d.Embedding
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedShape, preview(body))
}

func preview(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
