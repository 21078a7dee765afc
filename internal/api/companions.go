package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/ingestd/internal/storage"
)

type CreateCompanionRequest struct {
	Name          string `json:"name"`
	Subject       string `json:"subject"`
	AttachmentRef string `json:"attachment_ref"`
}

type CompanionResponse struct {
	storage.Companion
	Chunks int `json:"chunks"`
}

type EnqueueResponse struct {
	Companion storage.Companion `json:"companion"`
	Job       storage.Job       `json:"job"`
}

func handleCreateCompanion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateCompanionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.AttachmentRef = strings.TrimSpace(req.AttachmentRef)
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.AttachmentRef == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "attachment_ref is required")
			return
		}

		c := storage.Companion{
			ID:            uuid.New().String(),
			Name:          req.Name,
			Subject:       strings.TrimSpace(req.Subject),
			AttachmentRef: req.AttachmentRef,
		}
		if err := deps.Store.CreateCompanion(r.Context(), &c); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create companion: %v", err)
			return
		}

		job, err := deps.Store.EnqueueJob(r.Context(), c.ID)
		if err != nil {
			// A companion without a job would stay pending forever.
			if delErr := deps.Store.DeleteCompanion(context.WithoutCancel(r.Context()), c.ID); delErr != nil {
				deps.logger().Error("failed to roll back companion", "companion_id", c.ID, "error", delErr)
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue ingestion: %v", err)
			return
		}
		deps.logger().Info("companion registered", "companion_id", c.ID, "job_id", job.ID)

		writeJSON(w, http.StatusCreated, EnqueueResponse{Companion: c, Job: job})
	}
}

func handleListCompanions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, maxListLimit)

		companions, err := deps.Store.ListCompanions(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list companions: %v", err)
			return
		}
		if companions == nil {
			companions = []storage.Companion{}
		}
		writeJSON(w, http.StatusOK, companions)
	}
}

func handleGetCompanion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		resp, err := companionStatus(r.Context(), deps.Store, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "companion %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get companion: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleDeleteCompanion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteCompanion(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "companion %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete companion: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReingest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		resp, err := enqueueIngestion(r.Context(), deps.Store, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "companion %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue ingestion: %v", err)
			return
		}
		deps.logger().Info("reingestion queued", "companion_id", id, "job_id", resp.Job.ID)

		writeJSON(w, http.StatusAccepted, resp)
	}
}

func companionStatus(ctx context.Context, store Store, id string) (CompanionResponse, error) {
	c, err := store.GetCompanion(ctx, id)
	if err != nil {
		return CompanionResponse{}, err
	}
	n, err := store.CountChunks(ctx, id)
	if err != nil {
		return CompanionResponse{}, fmt.Errorf("counting chunks: %w", err)
	}
	return CompanionResponse{Companion: c, Chunks: n}, nil
}

// enqueueIngestion marks the companion pending and queues a new job for it.
// Retrieval refuses the companion until the job finishes.
func enqueueIngestion(ctx context.Context, store Store, id string) (EnqueueResponse, error) {
	if _, err := store.GetCompanion(ctx, id); err != nil {
		return EnqueueResponse{}, err
	}
	if err := store.SetEmbeddingStatus(ctx, id, storage.EmbeddingPending); err != nil {
		return EnqueueResponse{}, fmt.Errorf("resetting embedding status: %w", err)
	}
	job, err := store.EnqueueJob(ctx, id)
	if err != nil {
		return EnqueueResponse{}, fmt.Errorf("enqueueing job: %w", err)
	}
	c, err := store.GetCompanion(ctx, id)
	if err != nil {
		return EnqueueResponse{}, err
	}
	return EnqueueResponse{Companion: c, Job: job}, nil
}
