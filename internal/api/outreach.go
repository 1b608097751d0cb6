package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/intronet/warmpath/internal/storage"
)

type OutreachRequest struct {
	SessionID        string `json:"session_id"`
	CompanyID        string `json:"company_id"`
	TargetPersonID   string `json:"target_person_id"`
	RecommendationID string `json:"recommendation_id"`
	Message          string `json:"message"`
}

func handleCreateOutreach(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OutreachRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.SessionID == "" || req.CompanyID == "" || req.TargetPersonID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"session_id, company_id and target_person_id are required")
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if denyCompany(w, r, req.CompanyID) {
			return
		}

		job := storage.OutreachJob{
			ID:               uuid.New().String(),
			SessionID:        req.SessionID,
			CompanyID:        req.CompanyID,
			TargetPersonID:   req.TargetPersonID,
			RecommendationID: req.RecommendationID,
			Message:          req.Message,
		}
		if err := deps.Store.CreateOutreachJob(job); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": job.ID, "status": storage.OutreachPending})
	}
}

func handleGetOutreach(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetOutreachJob(chi.URLParam(r, "id"))
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, job.CompanyID) {
			return
		}
		writeJSON(w, job)
	}
}

type ApproveRequest struct {
	ApprovedBy   string    `json:"approved_by"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// handleApproveOutreach is the human gate. The session's remaining daily
// quota is checked here so a full day is rejected at approval time, not
// discovered hours later by the send worker.
func handleApproveOutreach(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Store.GetOutreachJob(id)
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, job.CompanyID) {
			return
		}
		var req ApproveRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ApprovedBy == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "approved_by is required")
			return
		}

		if err := deps.Store.ApproveOutreachJob(id, req.ApprovedBy, req.ScheduledFor, time.Now()); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": storage.OutreachScheduled})
	}
}

func handleCancelOutreach(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Store.GetOutreachJob(id)
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, job.CompanyID) {
			return
		}
		if err := deps.Store.CancelOutreachJob(id); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": storage.OutreachCancelled})
	}
}

type ResponseRequest struct {
	ReceivedAt time.Time `json:"received_at"`
}

// handleOutreachResponse records a reply reported out of band (webhook or
// manual) and feeds the recommender-trust loop when the outreach came from
// a recommendation.
func handleOutreachResponse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Store.GetOutreachJob(id)
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, job.CompanyID) {
			return
		}
		var req ResponseRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ReceivedAt.IsZero() {
			req.ReceivedAt = time.Now()
		}

		recID, err := deps.Store.RecordOutreachResponse(id, req.ReceivedAt)
		if err != nil {
			storageError(w, err)
			return
		}
		if recID != "" {
			if err := deps.Warmth.RecordResponse(recID); err != nil {
				storageError(w, err)
				return
			}
		}
		writeJSON(w, map[string]any{"id": id, "response_recorded": true})
	}
}
