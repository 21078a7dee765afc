package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is an in-memory secretStore.
type mockSecrets map[string]string

func (m mockSecrets) Get(service, account string) (string, error) {
	v, ok := m[service+"/"+account]
	if !ok {
		return "", errSecretNotFound
	}
	return v, nil
}

func (m mockSecrets) Set(service, account, value string) error {
	m[service+"/"+account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Blob.Backend != "file" || cfg.Blob.Root != filepath.Join(cfg.Storage.DataDir, "blobs") {
		t.Errorf("Blob = %+v", cfg.Blob)
	}
	if cfg.Embedding.Provider != "huggingface" || cfg.Embedding.Dim != 384 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Chunking != (ChunkingConfig{Size: 1000, Overlap: 200, BatchSize: 16}) {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if cfg.Worker.PollInterval != 2*time.Second || cfg.Worker.MaxAttempts != 3 || cfg.Worker.JobTimeout != 0 {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
}

func TestFileBackendValues(t *testing.T) {
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "storage.data_dir": "/tmp/ingestd-test",
  "embedding.provider": "ollama",
  "embedding.model": "nomic-embed-text",
  "embedding.dim": 768,
  "chunking.size": "800",
  "worker.poll_interval": "500ms",
  "worker.job_timeout": "2m"
}`)

	cfg, err := loadWith(newFileBackend(path), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/ingestd-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "nomic-embed-text" || cfg.Embedding.Dim != 768 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Chunking.Size != 800 {
		t.Errorf("Chunking.Size = %d, want 800", cfg.Chunking.Size)
	}
	if cfg.Worker.PollInterval != 500*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v", cfg.Worker.PollInterval)
	}
	if cfg.Worker.JobTimeout != 2*time.Minute {
		t.Errorf("Worker.JobTimeout = %v", cfg.Worker.JobTimeout)
	}
}

func TestFileBackend_BadDuration(t *testing.T) {
	path := writeTempConfig(t, `{"worker.poll_interval": "soon"}`)

	if _, err := loadWith(newFileBackend(path), mockSecrets{}); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestSecretsFallback(t *testing.T) {
	path := writeTempConfig(t, `{"storage.driver": "postgres", "embedding.api_key": "ignored-from-file"}`)
	secrets := mockSecrets{
		"ingestd/storage.database_url": "postgres://localhost/ingestd",
		"ingestd/embedding.api_key":    "hf-secret",
	}

	cfg, err := loadWith(newFileBackend(path), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DatabaseURL != "postgres://localhost/ingestd" {
		t.Errorf("DatabaseURL = %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Embedding.APIKey != "hf-secret" {
		t.Errorf("APIKey = %q, want hf-secret", cfg.Embedding.APIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `{"server.port": 5000}`)
	t.Setenv("INGESTD_SERVER_PORT", "6000")
	t.Setenv("INGESTD_EMBEDDING_API_KEY", "env-key")
	t.Setenv("INGESTD_WORKER_ERROR_BACKOFF", "1s")

	cfg, err := loadWith(newFileBackend(path), mockSecrets{"ingestd/embedding.api_key": "secret-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Embedding.APIKey)
	}
	if cfg.Worker.ErrorBackoff != time.Second {
		t.Errorf("ErrorBackoff = %v, want 1s", cfg.Worker.ErrorBackoff)
	}
}

func TestEnvOverride_UnparsableKeepsDefault(t *testing.T) {
	t.Setenv("INGESTD_CHUNKING_SIZE", "big")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chunking.Size != 1000 {
		t.Errorf("Chunking.Size = %d, want default 1000", cfg.Chunking.Size)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero size":        func(c *Config) { c.Chunking.Size = 0 },
		"overlap too big":  func(c *Config) { c.Chunking.Overlap = c.Chunking.Size },
		"negative overlap": func(c *Config) { c.Chunking.Overlap = -1 },
		"zero batch":       func(c *Config) { c.Chunking.BatchSize = 0 },
		"unknown driver":   func(c *Config) { c.Storage.Driver = "mysql" },
		"postgres no url":  func(c *Config) { c.Storage.Driver = "postgres" },
		"s3 no bucket":     func(c *Config) { c.Blob.Backend = "s3" },
		"unknown backend":  func(c *Config) { c.Blob.Backend = "ftp" },
		"unknown provider": func(c *Config) { c.Embedding.Provider = "openai" },
		"zero attempts":    func(c *Config) { c.Worker.MaxAttempts = 0 },
		"bad log level":    func(c *Config) { c.Log.Level = "verbose" },
		"zero top k":       func(c *Config) { c.Retrieval.TopK = 0 },
	}
	for name, mutate := range cases {
		cfg := defaults()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	if err := defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingestd", "config.json")
	secrets := mockSecrets{}

	if err := setKeyWith(newFileBackend(path), secrets, "chunking.size", "1200"); err != nil {
		t.Fatalf("SetKey chunking.size: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), secrets, "worker.poll_interval", "3s"); err != nil {
		t.Fatalf("SetKey worker.poll_interval: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), secrets, "embedding.api_key", "hf-123"); err != nil {
		t.Fatalf("SetKey embedding.api_key: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	if strings.Contains(string(raw), "hf-123") {
		t.Fatal("secret written to the plain config file")
	}

	cfg, err := loadWith(newFileBackend(path), secrets)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if cfg.Chunking.Size != 1200 || cfg.Worker.PollInterval != 3*time.Second || cfg.Embedding.APIKey != "hf-123" {
		t.Fatalf("unexpected config after SetKey: %+v %+v %+v", cfg.Chunking, cfg.Worker, cfg.Embedding)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := setKeyWith(newFileBackend(path), mockSecrets{}, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(newFileBackend(path), mockSecrets{}, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(newFileBackend(path), mockSecrets{}, "worker.job_timeout", "later"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Embedding.APIKey = "hf-secret"

	var sawKey bool
	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "hf-secret") {
			t.Fatalf("secret value shown for %s", info.Key)
		}
		switch info.Key {
		case "embedding.api_key":
			sawKey = true
			if info.Value != "(set)" {
				t.Errorf("embedding.api_key = %q, want (set)", info.Value)
			}
		case "storage.database_url":
			if info.Value != "(unset)" {
				t.Errorf("storage.database_url = %q, want (unset)", info.Value)
			}
		case "worker.poll_interval":
			if info.Value != "2s" {
				t.Errorf("worker.poll_interval = %q, want 2s", info.Value)
			}
		}
	}
	if !sawKey {
		t.Fatal("embedding.api_key missing from ShowAll")
	}
	if len(ValidKeys()) != len(specs) {
		t.Fatalf("ValidKeys() returned %d keys, want %d", len(ValidKeys()), len(specs))
	}
}

func TestAPIToken_GeneratedOnce(t *testing.T) {
	t.Setenv("INGESTD_API_TOKEN", "")
	secrets := newFileSecrets(filepath.Join(t.TempDir(), "ingestd", "secrets.json"))

	first, err := apiToken(secrets)
	if err != nil {
		t.Fatalf("apiToken: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(first))
	}
	second, err := apiToken(secrets)
	if err != nil {
		t.Fatalf("apiToken: %v", err)
	}
	if first != second {
		t.Fatal("token regenerated on second call")
	}

	t.Setenv("INGESTD_API_TOKEN", "from-env")
	if tok, _ := apiToken(secrets); tok != "from-env" {
		t.Fatalf("token = %q, want from-env", tok)
	}
}

func TestLoadDotenv(t *testing.T) {
	t.Setenv("INGESTD_DOTENV_PROBE", "")
	os.Unsetenv("INGESTD_DOTENV_PROBE")
	t.Setenv("INGESTD_DOTENV_KEEP", "process")

	path := filepath.Join(t.TempDir(), ".env")
	content := "INGESTD_DOTENV_PROBE=from-file\nINGESTD_DOTENV_KEEP=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := loadDotenv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}
	if got := os.Getenv("INGESTD_DOTENV_PROBE"); got != "from-file" {
		t.Errorf("INGESTD_DOTENV_PROBE = %q, want from-file", got)
	}
	if got := os.Getenv("INGESTD_DOTENV_KEEP"); got != "process" {
		t.Errorf("INGESTD_DOTENV_KEEP = %q, want process", got)
	}
}
