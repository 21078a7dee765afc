package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/ingestd/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultTopK        = 5
	maxListLimit       = 100
)

// Store is the subset of the document store the HTTP and MCP layers use.
// Both storage.Store and pgstore.Store satisfy it.
type Store interface {
	CreateCompanion(ctx context.Context, c *storage.Companion) error
	GetCompanion(ctx context.Context, id string) (storage.Companion, error)
	ListCompanions(ctx context.Context, limit int) ([]storage.Companion, error)
	SetEmbeddingStatus(ctx context.Context, id, status string) error
	DeleteCompanion(ctx context.Context, id string) error
	EnqueueJob(ctx context.Context, companionID string) (storage.Job, error)
	GetJob(ctx context.Context, id string) (storage.Job, error)
	ListJobs(ctx context.Context, companionID, state string, limit int) ([]storage.Job, error)
	CountChunks(ctx context.Context, companionID string) (int, error)
}

// Retriever returns the chunks of a companion nearest to a query.
type Retriever interface {
	Retrieve(ctx context.Context, companionID, query string, topK int) ([]storage.ChunkMatch, error)
}

type AppDeps struct {
	Store       Store
	Retriever   Retriever
	Token       string
	DefaultTopK int              // used when a retrieve request omits top_k; 5 if zero
	Now         func() time.Time // health timestamps; time.Now if nil
	Logger      *slog.Logger
}

func (d AppDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d AppDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d AppDeps) topK() int {
	if d.DefaultTopK > 0 {
		return d.DefaultTopK
	}
	return defaultTopK
}

// NewAppHandler builds the HTTP API. Health answers without authentication;
// everything else sits behind BearerAuth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", handleHealth(deps))
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(BearerAuth(deps.Token))

		r.Post("/companions", handleCreateCompanion(deps))
		r.Get("/companions", handleListCompanions(deps))
		r.Get("/companions/{id}", handleGetCompanion(deps))
		r.Delete("/companions/{id}", handleDeleteCompanion(deps))
		r.Post("/companions/{id}/reingest", handleReingest(deps))
		r.Get("/companions/{id}/jobs", handleListCompanionJobs(deps))
		r.Post("/companions/{id}/retrieve", handleRetrieve(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     deps.now().UnixMilli(),
		})
	}
}
