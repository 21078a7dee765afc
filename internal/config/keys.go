package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INGESTD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "INGESTD_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "log.level", typ: kString, env: "INGESTD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.driver", typ: kString, env: "INGESTD_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INGESTD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.database_url", typ: kString, env: "INGESTD_DATABASE_URL",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "blob.backend", typ: kString, env: "INGESTD_BLOB_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Blob.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Backend },
	},
	{
		key: "blob.root", typ: kString, env: "INGESTD_BLOB_ROOT",
		apply:   func(cfg *Config, v any) { cfg.Blob.Root = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Root },
	},
	{
		key: "blob.bucket", typ: kString, env: "INGESTD_BLOB_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Blob.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Bucket },
	},
	{
		key: "blob.region", typ: kString, env: "INGESTD_BLOB_REGION",
		apply:   func(cfg *Config, v any) { cfg.Blob.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Region },
	},
	{
		key: "blob.endpoint", typ: kString, env: "INGESTD_BLOB_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Blob.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Endpoint },
	},
	{
		key: "blob.base_url", typ: kString, env: "INGESTD_BLOB_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Blob.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.BaseURL },
	},
	{
		key: "blob.access_key", typ: kString, env: "INGESTD_BLOB_ACCESS_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Blob.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.AccessKey },
	},
	{
		key: "blob.secret_key", typ: kString, env: "INGESTD_BLOB_SECRET_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Blob.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.SecretKey },
	},
	{
		key: "blob.token", typ: kString, env: "INGESTD_BLOB_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Blob.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Token },
	},
	{
		key: "embedding.provider", typ: kString, env: "INGESTD_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.base_url", typ: kString, env: "INGESTD_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.model", typ: kString, env: "INGESTD_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.api_key", typ: kString, env: "INGESTD_EMBEDDING_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "embedding.dim", typ: kInt, env: "INGESTD_EMBEDDING_DIM",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dim = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dim },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "INGESTD_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "chunking.size", typ: kInt, env: "INGESTD_CHUNKING_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Size },
	},
	{
		key: "chunking.overlap", typ: kInt, env: "INGESTD_CHUNKING_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "chunking.batch_size", typ: kInt, env: "INGESTD_CHUNKING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.BatchSize },
	},
	{
		key: "worker.poll_interval", typ: kDuration, env: "INGESTD_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.error_backoff", typ: kDuration, env: "INGESTD_WORKER_ERROR_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Worker.ErrorBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.ErrorBackoff },
	},
	{
		key: "worker.max_attempts", typ: kInt, env: "INGESTD_WORKER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Worker.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.MaxAttempts },
	},
	{
		key: "worker.job_timeout", typ: kDuration, env: "INGESTD_WORKER_JOB_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Worker.JobTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.JobTimeout },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "INGESTD_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type apply expects for this key.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer value for %s: %w", s.key, err)
		}
		return i, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration value for %s: %w", s.key, err)
		}
		return d, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := s.parseValue(v)
				if err != nil {
					return err
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, err := secrets.Get(secretService, s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
