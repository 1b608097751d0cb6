package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/intronet/warmpath/internal/storage"
)

type SessionRequest struct {
	CompanyID          string `json:"company_id"`
	UserID             string `json:"user_id"`
	CredentialHandle   string `json:"credential_handle"`
	DailyMessageCap    int    `json:"daily_message_cap"`
	DailyEnrichmentCap int    `json:"daily_enrichment_cap"`
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CompanyID == "" || req.UserID == "" || req.CredentialHandle == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"company_id, user_id and credential_handle are required")
			return
		}
		if denyCompany(w, r, req.CompanyID) {
			return
		}

		sess := storage.Session{
			ID:                 uuid.New().String(),
			CompanyID:          req.CompanyID,
			UserID:             req.UserID,
			CredentialHandle:   req.CredentialHandle,
			DailyMessageCap:    req.DailyMessageCap,
			DailyEnrichmentCap: req.DailyEnrichmentCap,
		}
		if err := deps.Store.CreateSession(sess); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": sess.ID, "lifecycle": storage.SessionPending})
	}
}

type SessionView struct {
	storage.Session
	MessagesSentToday   int `json:"messages_sent_today"`
	OutreachQueuedToday int `json:"outreach_queued_today"`
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Store.GetSession(chi.URLParam(r, "id"))
		if err != nil {
			storageError(w, err)
			return
		}
		if denyCompany(w, r, sess.CompanyID) {
			return
		}
		now := time.Now()
		sent, err := deps.Store.MessagesSentToday(sess.ID, now)
		if err != nil {
			storageError(w, err)
			return
		}
		queued, err := deps.Store.OutreachQueuedToday(sess.ID, now)
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, SessionView{Session: sess, MessagesSentToday: sent, OutreachQueuedToday: queued})
	}
}

// denySessionAccess loads the session and rejects callers whose token is
// not scoped to its company. Returns true when the request was answered.
func denySessionAccess(deps AppDeps, w http.ResponseWriter, r *http.Request, id string) bool {
	sess, err := deps.Store.GetSession(id)
	if err != nil {
		storageError(w, err)
		return true
	}
	return denyCompany(w, r, sess.CompanyID)
}

func handleSessionLifecycle(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if denySessionAccess(deps, w, r, id) {
			return
		}
		var req AdvanceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := deps.Store.AdvanceSessionLifecycle(id, req.To); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "lifecycle": req.To})
	}
}

func handleSessionStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if denySessionAccess(deps, w, r, id) {
			return
		}
		var req AdvanceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := deps.Store.SetSessionStatus(id, req.To); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": req.To})
	}
}

// handleSessionHealthReset is the manual recovery path. Warning health
// heals on its own after quiet time; restricted only clears here.
func handleSessionHealthReset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if denySessionAccess(deps, w, r, id) {
			return
		}
		if err := deps.Store.ResetSessionHealth(id); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "health": storage.HealthHealthy})
	}
}

type AccountRequest struct {
	CredentialHandle string `json:"credential_handle"`
	ProxyURL         string `json:"proxy_url"`
	DailyCap         int    `json:"daily_cap"`
}

// The scraper pool is shared infrastructure owned by no tenant, so the
// account endpoints are operator only.
func handleCreateAccount(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if denyNonOperator(w, r) {
			return
		}
		var req AccountRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CredentialHandle == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "credential_handle is required")
			return
		}

		acc := storage.ScraperAccount{
			ID:               uuid.New().String(),
			CredentialHandle: req.CredentialHandle,
			ProxyURL:         req.ProxyURL,
			DailyCap:         req.DailyCap,
		}
		if err := deps.Store.CreateScraperAccount(acc); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": acc.ID, "status": storage.AccountAging})
	}
}

func handleRetireAccount(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if denyNonOperator(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Store.RetireAccount(id); err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": storage.AccountRetired})
	}
}

func handlePoolHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if denyNonOperator(w, r) {
			return
		}
		health, err := deps.Store.GetPoolHealth()
		if err != nil {
			storageError(w, err)
			return
		}
		writeJSON(w, health)
	}
}
