package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/ingestd/internal/api"
	"github.com/kalambet/ingestd/internal/blob"
	"github.com/kalambet/ingestd/internal/config"
	"github.com/kalambet/ingestd/internal/embedding"
	"github.com/kalambet/ingestd/internal/ingest"
	"github.com/kalambet/ingestd/internal/ollama"
	"github.com/kalambet/ingestd/internal/pgstore"
	"github.com/kalambet/ingestd/internal/retrieval"
	"github.com/kalambet/ingestd/internal/storage"
)

const defaultOllamaURL = "http://localhost:11434"

// appStore is everything the server needs from a backend. storage.Store
// (SQLite) and pgstore.Store (Postgres) both provide it.
type appStore interface {
	api.Store
	ingest.JobStore
	ingest.DocumentStore
	retrieval.ChunkSearcher
	Close() error
}

var (
	_ appStore = (*storage.Store)(nil)
	_ appStore = (*pgstore.Store)(nil)
)

func openStore(ctx context.Context, cfg config.StorageConfig) (appStore, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "":
		s, err := storage.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newFetcher(ctx context.Context, cfg config.BlobConfig) (blob.Fetcher, error) {
	switch cfg.Backend {
	case "s3":
		f, err := blob.NewS3Fetcher(ctx, blob.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case "http":
		return blob.NewHTTPFetcher(cfg.BaseURL, cfg.Token), nil
	case "file", "":
		return blob.NewFileFetcher(cfg.Root), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// newProvider builds the embedding provider. For Ollama the model is pulled
// if missing, with progress written to progress.
func newProvider(ctx context.Context, cfg config.EmbeddingConfig, progress io.Writer) (embedding.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = defaultOllamaURL
		}
		model := cfg.Model
		if model == "" {
			model = "all-minilm"
		}
		c := ollama.New(base, model).WithTimeout(cfg.Timeout)
		if err := ollama.EnsureModel(ctx, c, progress); err != nil {
			return nil, err
		}
		return c, nil
	case "huggingface", "":
		return embedding.NewClient(embedding.ClientConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
