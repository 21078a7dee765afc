package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Blob      BlobConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Worker    WorkerConfig
	Retrieval RetrievalConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	Driver      string // sqlite or postgres
	DataDir     string
	DatabaseURL string
}

type BlobConfig struct {
	Backend   string // file, s3 or http
	Root      string
	Bucket    string
	Region    string
	Endpoint  string
	BaseURL   string
	AccessKey string
	SecretKey string
	Token     string
}

// EmbeddingConfig selects the embedding provider. Empty BaseURL and Model
// mean the provider's own defaults.
type EmbeddingConfig struct {
	Provider string // huggingface or ollama
	BaseURL  string
	Model    string
	APIKey   string
	Dim      int
	Timeout  time.Duration
}

type ChunkingConfig struct {
	Size      int
	Overlap   int
	BatchSize int
}

type WorkerConfig struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	MaxAttempts  int
	JobTimeout   time.Duration // zero disables the per-job deadline
}

type RetrievalConfig struct {
	TopK int
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:     4000,
			MaxConns: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: dataDir,
		},
		Blob: BlobConfig{
			Backend: "file",
			Root:    filepath.Join(dataDir, "blobs"),
		},
		Embedding: EmbeddingConfig{
			Provider: "huggingface",
			Dim:      384,
			Timeout:  30 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:      1000,
			Overlap:   200,
			BatchSize: 16,
		},
		Worker: WorkerConfig{
			PollInterval: 2 * time.Second,
			ErrorBackoff: 5 * time.Second,
			MaxAttempts:  3,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
	}
}

// Load builds the configuration from defaults, the JSON config file at
// $XDG_CONFIG_HOME/ingestd/config.json, the secrets file, .env files and
// INGESTD_* environment variables, in increasing order of precedence.
//
// envFiles are loaded with godotenv without overriding variables already set
// in the process environment; with no arguments ./.env is tried. Missing
// files are ignored.
func Load(envFiles ...string) (Config, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return Config{}, err
	}
	return loadWith(newFileBackend(configFilePath()), newFileSecrets(secretsFilePath()))
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applySecrets(&cfg, secrets)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that would make the service misbehave.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Server.MaxConns < 0:
		return fmt.Errorf("server.max_conns must not be negative")
	case c.Chunking.Size <= 0:
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	case c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size:
		return fmt.Errorf("chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	case c.Chunking.BatchSize <= 0:
		return fmt.Errorf("chunking.batch_size must be positive, got %d", c.Chunking.BatchSize)
	case c.Embedding.Dim <= 0:
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	case c.Worker.MaxAttempts < 1:
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	case c.Worker.PollInterval <= 0:
		return fmt.Errorf("worker.poll_interval must be positive")
	case c.Retrieval.TopK < 1:
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.driver postgres requires INGESTD_DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want sqlite or postgres)", c.Storage.Driver)
	}

	switch c.Blob.Backend {
	case "file", "http":
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.backend s3 requires blob.bucket")
		}
	default:
		return fmt.Errorf("unknown blob.backend %q (want file, s3 or http)", c.Blob.Backend)
	}

	switch c.Embedding.Provider {
	case "huggingface", "ollama":
	default:
		return fmt.Errorf("unknown embedding.provider %q (want huggingface or ollama)", c.Embedding.Provider)
	}
	return nil
}
