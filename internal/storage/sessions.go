package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// warming lifecycle transitions.
var sessionLifecycle = map[string][]string{
	SessionPending: {SessionWarming},
	SessionWarming: {SessionWarmed, SessionFailed},
}

// operational status transitions, tracked independently once warmed.
var sessionStatus = map[string][]string{
	SessionActive:       {SessionPaused, SessionExpired, SessionDisconnected},
	SessionPaused:       {SessionActive, SessionExpired, SessionDisconnected},
	SessionExpired:      {SessionActive},
	SessionDisconnected: {SessionActive},
}

const sessionColumns = `id, company_id, user_id, credential_handle, lifecycle, status,
	health, daily_message_cap, daily_enrichment_cap, warming_started_at,
	last_friction_at, friction_count, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var sess Session
	var warmingAt, frictionAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.CompanyID, &sess.UserID, &sess.CredentialHandle,
		&sess.Lifecycle, &sess.Status, &sess.Health, &sess.DailyMessageCap,
		&sess.DailyEnrichmentCap, &warmingAt, &frictionAt, &sess.FrictionCount,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.WarmingStartedAt, err = parseNullTime(warmingAt); err != nil {
		return Session{}, fmt.Errorf("parsing warming_started_at: %w", err)
	}
	if sess.LastFrictionAt, err = parseNullTime(frictionAt); err != nil {
		return Session{}, fmt.Errorf("parsing last_friction_at: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Session{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sess, nil
}

// CreateSession registers a user-owned automation session. One per
// (company, user); the credential handle is an opaque secret-store ref.
func (s *Store) CreateSession(sess Session) error {
	now := fmtTime(time.Now())
	if sess.DailyMessageCap == 0 {
		sess.DailyMessageCap = 50
	}
	if sess.DailyEnrichmentCap == 0 {
		sess.DailyEnrichmentCap = 100
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, company_id, user_id, credential_handle, lifecycle,
			status, health, daily_message_cap, daily_enrichment_cap, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 'paused', 'healthy', ?, ?, ?, ?)`,
		sess.ID, sess.CompanyID, sess.UserID, sess.CredentialHandle,
		sess.DailyMessageCap, sess.DailyEnrichmentCap, now, now)
	return err
}

func (s *Store) GetSession(id string) (Session, error) {
	return scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

// AdvanceSessionLifecycle moves a session through the warming machine
// (pending -> warming -> warmed | failed). Reaching warmed also flips the
// operational status to active.
func (s *Store) AdvanceSessionLifecycle(id, to string) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if !transitionAllowed(sessionLifecycle, sess.Lifecycle, to) {
		return fmt.Errorf("%w: session lifecycle %s -> %s", ErrInvalidTransition, sess.Lifecycle, to)
	}

	now := fmtTime(time.Now())
	var res sql.Result
	switch to {
	case SessionWarming:
		res, err = s.db.Exec(`
			UPDATE sessions SET lifecycle = ?, warming_started_at = ?, updated_at = ?
			WHERE id = ? AND lifecycle = ?`, to, now, now, id, sess.Lifecycle)
	case SessionWarmed:
		res, err = s.db.Exec(`
			UPDATE sessions SET lifecycle = ?, status = 'active', updated_at = ?
			WHERE id = ? AND lifecycle = ?`, to, now, id, sess.Lifecycle)
	default:
		res, err = s.db.Exec(`
			UPDATE sessions SET lifecycle = ?, updated_at = ?
			WHERE id = ? AND lifecycle = ?`, to, now, id, sess.Lifecycle)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetSessionStatus changes the operational status of a warmed session.
func (s *Store) SetSessionStatus(id, to string) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Lifecycle != SessionWarmed {
		return fmt.Errorf("%w: session not warmed", ErrInvalidTransition)
	}
	if !transitionAllowed(sessionStatus, sess.Status, to) {
		return fmt.Errorf("%w: session status %s -> %s", ErrInvalidTransition, sess.Status, to)
	}

	res, err := s.db.Exec(`
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, fmtTime(time.Now()), id, sess.Status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// RecordSessionFriction degrades health one step on provider friction
// (healthy -> warning -> restricted), stamps the friction time, and
// returns the resulting health.
func (s *Store) RecordSessionFriction(id string, at time.Time) (string, error) {
	res, err := s.db.Exec(`
		UPDATE sessions SET
			health = CASE health
				WHEN 'healthy' THEN 'warning'
				ELSE 'restricted'
			END,
			last_friction_at = ?,
			friction_count = friction_count + 1,
			updated_at = ?
		WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now()), id)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrNotFound
	}

	var health string
	if err := s.db.QueryRow(`SELECT health FROM sessions WHERE id = ?`, id).Scan(&health); err != nil {
		return "", err
	}
	return health, nil
}

// ResetSessionHealth is the manual recovery path back to healthy.
func (s *Store) ResetSessionHealth(id string) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET health = 'healthy', friction_count = 0, updated_at = ?
		WHERE id = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverWarningSessions time-gates warning health back to healthy once the
// last friction event is older than the recovery window. Restricted
// sessions stay put; those require the manual reset.
func (s *Store) RecoverWarningSessions(recovery time.Duration, now time.Time) (int, error) {
	cutoff := fmtTime(now.Add(-recovery))
	res, err := s.db.Exec(`
		UPDATE sessions SET health = 'healthy', updated_at = ?
		WHERE health = 'warning' AND last_friction_at IS NOT NULL AND last_friction_at <= ?`,
		fmtTime(now), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MessagesSentToday derives the session's daily message counter from job
// timestamps within the current UTC day. No stateful counter, no midnight
// reset job.
func (s *Store) MessagesSentToday(sessionID string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM outreach_jobs
		WHERE session_id = ? AND status IN ('sending', 'sent') AND claimed_at >= ?`,
		sessionID, fmtTime(startOfUTCDay(now))).Scan(&n)
	return n, err
}

// Jobs holding one of today's quota slots: anything approved into today's
// schedule plus anything claimed or sent today. Jobs scheduled for another
// day consume that day's quota, not today's.
const queuedTodayQuery = `
	SELECT COUNT(*) FROM outreach_jobs
	WHERE session_id = ?
	  AND ((status = 'scheduled' AND scheduled_for >= ? AND scheduled_for < ?)
	    OR (status IN ('sending', 'sent') AND claimed_at >= ?))`

// OutreachQueuedToday counts jobs already holding a quota slot today. The
// same query gates approvals in ApproveOutreachJob.
func (s *Store) OutreachQueuedToday(sessionID string, now time.Time) (int, error) {
	dayStart := startOfUTCDay(now)
	var n int
	err := s.db.QueryRow(queuedTodayQuery, sessionID,
		fmtTime(dayStart), fmtTime(dayStart.Add(24*time.Hour)), fmtTime(dayStart)).Scan(&n)
	return n, err
}
