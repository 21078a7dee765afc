package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ingestd/internal/storage"
)

func validJobState(s string) bool {
	switch s {
	case "", storage.JobQueued, storage.JobProcessing, storage.JobDone, storage.JobFailed:
		return true
	}
	return false
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listJobs(deps, w, r, r.URL.Query().Get("companion_id"))
	}
}

func handleListCompanionJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCompanion(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "companion %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get companion: %v", err)
			return
		}
		listJobs(deps, w, r, id)
	}
}

func listJobs(deps AppDeps, w http.ResponseWriter, r *http.Request, companionID string) {
	state := r.URL.Query().Get("state")
	if !validJobState(state) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown job state %q", state)
		return
	}
	limit := parseIntParam(r, "limit", 20, maxListLimit)

	jobs, err := deps.Store.ListJobs(r.Context(), companionID, state, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
		return
	}
	if jobs == nil {
		jobs = []storage.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := deps.Store.GetJob(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
