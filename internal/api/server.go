// Package api is the HTTP surface: graph writes, scoring reads, queue
// submission, and the human approval gate for outreach.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/intronet/warmpath/internal/metrics"
	"github.com/intronet/warmpath/internal/rank"
	"github.com/intronet/warmpath/internal/readiness"
	"github.com/intronet/warmpath/internal/storage"
	"github.com/intronet/warmpath/internal/warmth"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Store     *storage.Store
	Warmth    *warmth.Engine
	Readiness *readiness.Recomputer
	Ranker    *rank.Ranker
	Token     string
	// Tenants maps per-company bearer tokens to their company_id scope.
	Tenants map[string]string
}

// NewAppHandler wires the full route tree. Everything except /health and
// /metrics sits behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler(deps.Store))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token, deps.Tenants))

		r.Post("/people", handleSavePerson(deps))
		r.Get("/people/{id}", handleGetPerson(deps))
		r.Post("/people/{id}/employment", handleAddEmployment(deps))
		r.Post("/people/{id}/education", handleAddEducation(deps))

		r.Post("/connections", handleImportConnections(deps))
		r.Post("/events", handleSaveCompanyEvent(deps))

		r.Post("/recommendations", handleSaveRecommendation(deps))
		r.Post("/recommendations/{id}/advance", handleAdvanceRecommendation(deps))

		r.Post("/warmpaths/compute", handleComputeWarmPath(deps))
		r.Get("/companies/{companyID}/warmpaths", handleListWarmPaths(deps))
		r.Get("/companies/{companyID}/rank", handleRank(deps))
		r.Post("/readiness/recompute", handleRecomputeReadiness(deps))

		r.Get("/enrichment/{id}", handleGetEnrichmentJob(deps))

		r.Post("/outreach", handleCreateOutreach(deps))
		r.Get("/outreach/{id}", handleGetOutreach(deps))
		r.Post("/outreach/{id}/approve", handleApproveOutreach(deps))
		r.Post("/outreach/{id}/cancel", handleCancelOutreach(deps))
		r.Post("/outreach/{id}/response", handleOutreachResponse(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Post("/sessions/{id}/lifecycle", handleSessionLifecycle(deps))
		r.Post("/sessions/{id}/status", handleSessionStatus(deps))
		r.Post("/sessions/{id}/health/reset", handleSessionHealthReset(deps))

		r.Post("/accounts", handleCreateAccount(deps))
		r.Post("/accounts/{id}/retire", handleRetireAccount(deps))
		r.Get("/pool/health", handlePoolHealth(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// storageError maps the typed storage errors onto HTTP statuses so clients
// can distinguish a full quota from a lost race or a bad transition.
func storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, storage.ErrQuotaExceeded):
		httpError(w, http.StatusTooManyRequests, "quota_exceeded", "%v", err)
	case errors.Is(err, storage.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "invalid_transition", "%v", err)
	case errors.Is(err, storage.ErrImmutable):
		httpError(w, http.StatusConflict, "immutable", "%v", err)
	case errors.Is(err, storage.ErrRegressionRejected):
		httpError(w, http.StatusConflict, "regression_rejected", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
