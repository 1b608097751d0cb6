package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intronet/warmpath/internal/rank"
	"github.com/intronet/warmpath/internal/storage"
	"github.com/intronet/warmpath/internal/warmth"
)

type ComputeWarmPathRequest struct {
	CompanyID  string `json:"company_id"`
	PersonID   string `json:"person_id"`
	ProfileURL string `json:"profile_url"`
}

func handleComputeWarmPath(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ComputeWarmPathRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CompanyID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company_id is required")
			return
		}
		if req.PersonID == "" && req.ProfileURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"one of person_id or profile_url is required")
			return
		}
		if denyCompany(w, r, req.CompanyID) {
			return
		}

		res, err := deps.Warmth.ComputePath(r.Context(), req.CompanyID, warmth.Candidate{
			PersonID:   req.PersonID,
			ProfileURL: req.ProfileURL,
		})
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func handleListWarmPaths(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := chi.URLParam(r, "companyID")
		if denyCompany(w, r, companyID) {
			return
		}
		paths, err := deps.Store.ListWarmPaths(companyID)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, paths)
	}
}

func handleRank(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := chi.URLParam(r, "companyID")
		if denyCompany(w, r, companyID) {
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)
		entries, err := deps.Ranker.Rank(companyID, limit)
		if err != nil {
			storageError(w, err)
			return
		}
		if entries == nil {
			entries = []rank.Entry{}
		}
		writeJSON(w, entries)
	}
}

type RecomputeReadinessRequest struct {
	PersonID string `json:"person_id"`
	Company  string `json:"company"`
}

// handleRecomputeReadiness is the pipeline surface for forcing a rescore,
// operator only.
func handleRecomputeReadiness(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if denyNonOperator(w, r) {
			return
		}
		var req RecomputeReadinessRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		now := time.Now()
		switch {
		case req.PersonID != "":
			sig, err := deps.Readiness.RecomputePerson(req.PersonID, now)
			if err != nil {
				storageError(w, err)
				return
			}
			writeJSON(w, sig)
		case req.Company != "":
			n, err := deps.Readiness.RecomputeCompany(storage.NormalizeCompany(req.Company), now)
			if err != nil {
				storageError(w, err)
				return
			}
			writeJSON(w, map[string]int{"recomputed": n})
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"one of person_id or company is required")
		}
	}
}

// handleGetEnrichmentJob exposes queue internals, operator only.
func handleGetEnrichmentJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if denyNonOperator(w, r) {
			return
		}
		job, err := deps.Store.GetEnrichmentJob(chi.URLParam(r, "id"))
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, job)
	}
}
