package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/monitor"
	"agent-toolgate/internal/policy"
	"agent-toolgate/internal/storage"
	"agent-toolgate/internal/validator"
)

type Handlers struct {
	validator *validator.Validator
	cache     *cache.Cache
	db        *storage.DB
	policies  policy.Source
	metrics   *monitor.Metrics
}

func NewHandlers(v *validator.Validator, c *cache.Cache, db *storage.DB, policies policy.Source, metrics *monitor.Metrics) *Handlers {
	return &Handlers{
		validator: v,
		cache:     c,
		db:        db,
		policies:  policies,
		metrics:   metrics,
	}
}

func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	var req ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	result, err := h.validator.Validate(r.Context(), req.Code, req.Language)
	if err != nil {
		switch {
		case validator.IsBadRequest(err):
			writeError(w, err.Error(), "VALIDATION_REQUEST", http.StatusBadRequest, r)
		case validator.IsStorageUnavailable(err):
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("artifact store unavailable")
			writeError(w, "artifact storage unavailable", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		default:
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("validation failed")
			writeError(w, "validation failed", "INTERNAL", http.StatusInternalServerError, r)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	hash := r.PathValue("hash")
	if hash == "" {
		writeError(w, "artifact hash required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	art, err := h.cache.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			writeError(w, "artifact not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		log.Error().Err(err).Str("hash", hash).Msg("artifact lookup failed")
		writeError(w, "artifact lookup failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, art)
}

func (h *Handlers) HandleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	hash := r.PathValue("hash")
	if hash == "" {
		writeError(w, "artifact hash required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	err := h.cache.Delete(r.Context(), hash)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "submission_hash": hash})
	case errors.Is(err, cache.ErrNotFound):
		writeError(w, "artifact not found", "NOT_FOUND", http.StatusNotFound, r)
	case errors.Is(err, cache.ErrArtifactShared):
		writeError(w, err.Error(), "ARTIFACT_SHARED", http.StatusConflict, r)
	default:
		log.Error().Err(err).Str("hash", hash).Msg("artifact delete failed")
		writeError(w, "artifact delete failed", "INTERNAL", http.StatusInternalServerError, r)
	}
}

func (h *Handlers) HandleAddRef(w http.ResponseWriter, r *http.Request) {
	h.handleRefChange(w, r, http.MethodPost, h.cache.AddRef)
}

func (h *Handlers) HandleReleaseRef(w http.ResponseWriter, r *http.Request) {
	h.handleRefChange(w, r, http.MethodDelete, h.cache.ReleaseRef)
}

func (h *Handlers) handleRefChange(w http.ResponseWriter, r *http.Request, method string, change func(ctx context.Context, key string) (*cache.CachedArtifact, error)) {
	if r.Method != method {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	hash := r.PathValue("hash")
	if hash == "" {
		writeError(w, "artifact hash required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	art, err := change(r.Context(), hash)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			writeError(w, "artifact not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		log.Error().Err(err).Str("hash", hash).Msg("ref change failed")
		writeError(w, "ref change failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, RefResponse{
		SubmissionHash: art.SubmissionHash,
		RefCount:       art.RefCount,
		UsageCount:     art.UsageCount,
	})
}

func (h *Handlers) HandleListValidations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.RecordFilter{
		Language: r.URL.Query().Get("language"),
		Limit:    100,
	}
	if v := r.URL.Query().Get("valid"); v != "" {
		valid, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "valid must be a boolean", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Valid = &valid
	}

	recs, err := h.db.ListValidations(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

func (h *Handlers) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	pol := h.policies.Current()
	writeJSON(w, http.StatusOK, PolicyResponse{
		PolicyID:       pol.PolicyID,
		Version:        pol.Version,
		AllowRecursion: pol.AllowRecursion,
		RejectAbove:    pol.RejectThreshold().String(),
		DeniedModules:  len(pol.DeniedModules),
		DeniedFuncs:    len(pol.DeniedFunctions),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
