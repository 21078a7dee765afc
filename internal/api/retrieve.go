package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ingestd/internal/retrieval"
	"github.com/kalambet/ingestd/internal/storage"
)

type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

func handleRetrieve(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")

		var req RetrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		topK := deps.topK()
		if req.TopK != nil {
			topK = *req.TopK
		}

		matches, err := deps.Retriever.Retrieve(r.Context(), id, req.Query, topK)
		switch {
		case err == nil:
		case errors.Is(err, retrieval.ErrEmptyQuery):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "companion %s not found", id)
			return
		case errors.Is(err, retrieval.ErrNotReady):
			httpError(w, http.StatusConflict, "not_ready", "%v", err)
			return
		default:
			httpError(w, http.StatusBadGateway, "api_error", "retrieval failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}
