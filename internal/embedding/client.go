// Package embedding turns text into fixed-length float vectors through a
// remote inference provider.
package embedding

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co/embeddings"
	DefaultModel   = "sentence-transformers/all-MiniLM-L6-v2"
)

// Provider returns one vector per input text, in input order.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Client calls a Hugging Face style inference endpoint:
// POST {baseURL}/{model} with {"inputs": [...]}.
type Client struct {
	http     *resty.Client
	endpoint string
}

// ClientConfig configures a Client. Zero values fall back to the defaults.
type ClientConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		http:     c,
		endpoint: base + "/" + url.PathEscape(model),
	}
}

type inferenceRequest struct {
	Inputs []string `json:"inputs"`
}

// EmbedTexts sends all texts in a single request and decodes whatever
// envelope the model answers with.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(inferenceRequest{Inputs: texts}).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("calling embedding provider: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode(), preview(resp.Body()))
	}

	vecs, err := Decode(resp.Body())
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}
