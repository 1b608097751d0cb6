package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/intronet/warmpath/internal/storage"
)

type PersonRequest struct {
	ID             string  `json:"id"`
	CompanyID      string  `json:"company_id"`
	FullName       string  `json:"full_name"`
	ProfileURL     string  `json:"profile_url"`
	GitHubURL      string  `json:"github_url"`
	Email          string  `json:"email"`
	CurrentCompany string  `json:"current_company"`
	CurrentTitle   string  `json:"current_title"`
	TrustScore     float64 `json:"trust_score"`
	IsFromNetwork  bool    `json:"is_from_network"`
}

func handleSavePerson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PersonRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CompanyID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company_id is required")
			return
		}
		if denyCompany(w, r, req.CompanyID) {
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		p := storage.Person{
			ID:             req.ID,
			CompanyID:      req.CompanyID,
			FullName:       req.FullName,
			ProfileURL:     req.ProfileURL,
			GitHubURL:      req.GitHubURL,
			Email:          req.Email,
			CurrentCompany: req.CurrentCompany,
			CurrentTitle:   req.CurrentTitle,
			TrustScore:     req.TrustScore,
			IsFromNetwork:  req.IsFromNetwork,
		}
		if err := deps.Store.SavePerson(p); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": p.ID, "status": "saved"})
	}
}

func handleGetPerson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetPerson(chi.URLParam(r, "id"))
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, p.CompanyID) {
			return
		}
		writeJSON(w, p)
	}
}

type EmploymentRequest struct {
	Company   string    `json:"company"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
}

func handleAddEmployment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		personID := chi.URLParam(r, "id")
		person, err := deps.Store.GetPerson(personID)
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, person.CompanyID) {
			return
		}
		var req EmploymentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Company == "" || req.StartDate.IsZero() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company and start_date are required")
			return
		}

		rec := storage.EmploymentRecord{
			ID:                uuid.New().String(),
			PersonID:          personID,
			NormalizedCompany: storage.NormalizeCompany(req.Company),
			Title:             req.Title,
			StartDate:         req.StartDate,
			EndDate:           req.EndDate,
			IsCurrent:         req.IsCurrent,
		}
		if err := deps.Store.AddEmploymentRecord(rec); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": rec.ID, "status": "saved"})
	}
}

type EducationRequest struct {
	School    string    `json:"school"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

func handleAddEducation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		personID := chi.URLParam(r, "id")
		person, err := deps.Store.GetPerson(personID)
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, person.CompanyID) {
			return
		}
		var req EducationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.School == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "school is required")
			return
		}

		rec := storage.EducationRecord{
			ID:        uuid.New().String(),
			PersonID:  personID,
			School:    storage.NormalizeSchool(req.School),
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
		}
		if err := deps.Store.AddEducationRecord(rec); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": rec.ID, "status": "saved"})
	}
}

type ConnectionImport struct {
	ProfileURL string `json:"profile_url"`
	FullName   string `json:"full_name"`
	Headline   string `json:"headline"`
}

type ImportConnectionsRequest struct {
	CompanyID     string             `json:"company_id"`
	OwnerPersonID string             `json:"owner_person_id"`
	Connections   []ConnectionImport `json:"connections"`
	Priority      int                `json:"priority"`
}

// handleImportConnections saves a batch of raw connections and queues one
// enrichment job per connection. Re-importing the same profile URL reuses
// the stored connection and its open job instead of duplicating either.
func handleImportConnections(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportConnectionsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CompanyID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company_id is required")
			return
		}
		if denyCompany(w, r, req.CompanyID) {
			return
		}
		if len(req.Connections) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "connections must not be empty")
			return
		}

		jobIDs := make([]string, 0, len(req.Connections))
		for _, c := range req.Connections {
			if c.ProfileURL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "every connection needs a profile_url")
				return
			}
			connID, err := deps.Store.SaveConnection(storage.Connection{
				ID:            uuid.New().String(),
				CompanyID:     req.CompanyID,
				OwnerPersonID: req.OwnerPersonID,
				ProfileURL:    c.ProfileURL,
				FullName:      c.FullName,
				Headline:      c.Headline,
			})
			if err != nil {
				storageError(w, err)
				return
			}
			jobID, err := deps.Store.EnqueueEnrichment(storage.EnrichmentJob{
				ID:           uuid.New().String(),
				ConnectionID: connID,
				Priority:     req.Priority,
			})
			if err != nil {
				storageError(w, err)
				return
			}
			jobIDs = append(jobIDs, jobID)
		}

		writeJSON(w, map[string]any{
			"imported": len(jobIDs),
			"job_ids":  jobIDs,
		})
	}
}

type CompanyEventRequest struct {
	Company    string    `json:"company"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Details    string    `json:"details"`
}

// handleSaveCompanyEvent stores the event and fans a readiness recompute
// out to everyone currently at the company. Events describe the market,
// not a tenant, so the feed is an operator surface.
func handleSaveCompanyEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if denyNonOperator(w, r) {
			return
		}
		var req CompanyEventRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Company == "" || req.EventType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company and event_type are required")
			return
		}
		if req.OccurredAt.IsZero() {
			req.OccurredAt = time.Now()
		}

		normalized := storage.NormalizeCompany(req.Company)
		ev := storage.CompanyEvent{
			ID:                uuid.New().String(),
			NormalizedCompany: normalized,
			EventType:         req.EventType,
			OccurredAt:        req.OccurredAt,
			Details:           req.Details,
		}
		if err := deps.Store.SaveCompanyEvent(ev); err != nil {
			storageError(w, err)
			return
		}

		recomputed, err := deps.Readiness.RecomputeCompany(normalized, time.Now())
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"id":         ev.ID,
			"recomputed": recomputed,
		})
	}
}

type RecommendationRequest struct {
	CompanyID     string `json:"company_id"`
	RecommenderID string `json:"recommender_id"`
	CandidateID   string `json:"candidate_id"`
}

func handleSaveRecommendation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecommendationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CompanyID == "" || req.RecommenderID == "" || req.CandidateID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"company_id, recommender_id and candidate_id are required")
			return
		}
		if denyCompany(w, r, req.CompanyID) {
			return
		}

		rec := storage.Recommendation{
			ID:            uuid.New().String(),
			CompanyID:     req.CompanyID,
			RecommenderID: req.RecommenderID,
			CandidateID:   req.CandidateID,
			Status:        storage.RecStatusNew,
		}
		if err := deps.Store.SaveRecommendation(rec); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": rec.ID, "status": rec.Status})
	}
}

type AdvanceRequest struct {
	To string `json:"to"`
}

func handleAdvanceRecommendation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := deps.Store.GetRecommendation(id)
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, rec.CompanyID) {
			return
		}
		var req AdvanceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.To == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "to is required")
			return
		}

		err = deps.Store.AdvanceRecommendation(id, req.To)
		if errors.Is(err, storage.ErrImmutable) {
			httpError(w, http.StatusConflict, "immutable", "recommendation has reached a terminal status")
			return
		}
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": req.To})
	}
}
