package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const outreachColumns = `id, session_id, company_id, target_person_id, recommendation_id,
	message, status, approved_by, approved_at, scheduled_for, claimed_at, sent_at,
	response_received, response_at, last_error, created_at, updated_at`

func scanOutreachJob(row interface{ Scan(...any) error }) (OutreachJob, error) {
	var j OutreachJob
	var approvedAt, scheduledFor, claimedAt, sentAt, responseAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.SessionID, &j.CompanyID, &j.TargetPersonID,
		&j.RecommendationID, &j.Message, &j.Status, &j.ApprovedBy, &approvedAt,
		&scheduledFor, &claimedAt, &sentAt, &j.ResponseReceived, &responseAt,
		&j.LastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return OutreachJob{}, ErrNotFound
	}
	if err != nil {
		return OutreachJob{}, err
	}
	for _, f := range []struct {
		dst *time.Time
		src sql.NullString
	}{
		{&j.ApprovedAt, approvedAt},
		{&j.ScheduledFor, scheduledFor},
		{&j.ClaimedAt, claimedAt},
		{&j.SentAt, sentAt},
		{&j.ResponseAt, responseAt},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return OutreachJob{}, fmt.Errorf("parsing timestamp: %w", err)
		}
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return OutreachJob{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return OutreachJob{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// CreateOutreachJob queues a message as pending. Nothing leaves pending
// without an explicit human approval.
func (s *Store) CreateOutreachJob(j OutreachJob) error {
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO outreach_jobs (id, session_id, company_id, target_person_id,
			recommendation_id, message, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		j.ID, j.SessionID, j.CompanyID, j.TargetPersonID, j.RecommendationID,
		j.Message, now, now)
	return err
}

func (s *Store) GetOutreachJob(id string) (OutreachJob, error) {
	return scanOutreachJob(s.db.QueryRow(
		`SELECT ` + outreachColumns + ` FROM outreach_jobs WHERE id = ?`, id))
}

// ApproveOutreachJob records the human approval and schedules the send.
// The session's remaining quota for the scheduled day is checked against
// jobs already holding a slot in that day; exceeding the cap rejects the
// approval with ErrQuotaExceeded before anything is queued.
func (s *Store) ApproveOutreachJob(id, approver string, scheduledFor, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning approve transaction: %w", err)
	}
	defer tx.Rollback()

	var sessionID, status string
	err = tx.QueryRow(
		`SELECT session_id, status FROM outreach_jobs WHERE id = ?`, id,
	).Scan(&sessionID, &status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != OutreachPending {
		return fmt.Errorf("%w: outreach %s -> approved", ErrInvalidTransition, status)
	}

	var health, sessStatus string
	var msgCap int
	err = tx.QueryRow(
		`SELECT health, status, daily_message_cap FROM sessions WHERE id = ?`, sessionID,
	).Scan(&health, &sessStatus, &msgCap)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	// A restricted session accepts no new outreach.
	if health == HealthRestricted {
		return fmt.Errorf("%w: session health restricted", ErrInvalidTransition)
	}
	if sessStatus != SessionActive {
		return fmt.Errorf("%w: session not active", ErrInvalidTransition)
	}

	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	// Quota is per UTC day, counted against the day the send would land in.
	dayStart := startOfUTCDay(scheduledFor)
	var queued int
	err = tx.QueryRow(queuedTodayQuery, sessionID,
		fmtTime(dayStart), fmtTime(dayStart.Add(24*time.Hour)), fmtTime(dayStart)).Scan(&queued)
	if err != nil {
		return err
	}
	if queued >= msgCap {
		return ErrQuotaExceeded
	}

	nowStr := fmtTime(now)
	res, err := tx.Exec(`
		UPDATE outreach_jobs SET status = 'scheduled', approved_by = ?, approved_at = ?,
			scheduled_for = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		approver, nowStr, fmtTime(scheduledFor), nowStr, id)
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
	return tx.Commit()
}

// CancelOutreachJob cancels a job cooperatively. Allowed any time before
// sending begins; once sending, the job runs to sent or failed.
func (s *Store) CancelOutreachJob(id string) error {
	res, err := s.db.Exec(`
		UPDATE outreach_jobs SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'approved', 'scheduled')`,
		fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		job, getErr := s.GetOutreachJob(id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: outreach %s -> cancelled", ErrInvalidTransition, job.Status)
	}
	return nil
}

// BeginSendingOutreach transitions one job from scheduled to sending. The
// approval gate and the daily-quota check-and-decrement are a single
// conditional update, so two workers racing for the session's last quota
// slot cannot both win. Distinguishes ErrQuotaExceeded from a lost claim.
func (s *Store) BeginSendingOutreach(id string, now time.Time) error {
	dayStart := fmtTime(startOfUTCDay(now))
	nowStr := fmtTime(now)

	res, err := s.db.Exec(`
		UPDATE outreach_jobs SET status = 'sending', claimed_at = ?, updated_at = ?
		WHERE id = ?
		  AND status = 'scheduled'
		  AND approved_at IS NOT NULL
		  AND (SELECT COUNT(*) FROM outreach_jobs o2
			WHERE o2.session_id = outreach_jobs.session_id
			  AND o2.status IN ('sending', 'sent')
			  AND o2.claimed_at >= ?)
		      < (SELECT daily_message_cap FROM sessions WHERE id = outreach_jobs.session_id)`,
		nowStr, nowStr, id, dayStart)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	job, err := s.GetOutreachJob(id)
	if err != nil {
		return err
	}
	if job.Status != OutreachScheduled {
		return fmt.Errorf("%w: outreach %s -> sending", ErrInvalidTransition, job.Status)
	}
	if job.ApprovedAt.IsZero() {
		return fmt.Errorf("%w: outreach not approved", ErrInvalidTransition)
	}
	return ErrQuotaExceeded
}

// ClaimNextOutreach atomically claims the next due scheduled job whose
// session is active and not restricted, applying the same quota gate as
// BeginSendingOutreach. Returns nil when nothing is claimable.
func (s *Store) ClaimNextOutreach(now time.Time) (*OutreachJob, error) {
	dayStart := fmtTime(startOfUTCDay(now))

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanOutreachJob(tx.QueryRow(`
		SELECT `+outreachColumns+` FROM outreach_jobs o
		WHERE o.status = 'scheduled'
		  AND o.approved_at IS NOT NULL
		  AND o.scheduled_for <= ?
		  AND EXISTS (SELECT 1 FROM sessions s
			WHERE s.id = o.session_id AND s.status = 'active' AND s.health != 'restricted')
		  AND (SELECT COUNT(*) FROM outreach_jobs o2
			WHERE o2.session_id = o.session_id
			  AND o2.status IN ('sending', 'sent')
			  AND o2.claimed_at >= ?)
		      < (SELECT daily_message_cap FROM sessions s2 WHERE s2.id = o.session_id)
		ORDER BY o.scheduled_for ASC
		LIMIT 1`, fmtTime(now), dayStart))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next outreach job: %w", err)
	}

	nowStr := fmtTime(now)
	res, err := tx.Exec(`
		UPDATE outreach_jobs SET status = 'sending', claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'scheduled'`, nowStr, nowStr, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = OutreachSending
	j.ClaimedAt = now
	return &j, nil
}

// MarkOutreachSent finishes a sending job successfully.
func (s *Store) MarkOutreachSent(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE outreach_jobs SET status = 'sent', sent_at = ?, updated_at = ?
		WHERE id = ? AND status = 'sending'`,
		fmtTime(at), fmtTime(time.Now()), id)
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

// FailOutreachJob is terminal: outreach is never retried automatically,
// re-sending requires a fresh human approval.
func (s *Store) FailOutreachJob(id, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE outreach_jobs SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'sending'`,
		errMsg, fmtTime(time.Now()), id)
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

// RecordOutreachResponse marks a sent job as answered and returns the
// recommendation the path originated from, if any, so the caller can feed
// the recommender-trust loop.
func (s *Store) RecordOutreachResponse(id string, at time.Time) (recommendationID string, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning response transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(
		`SELECT status, recommendation_id FROM outreach_jobs WHERE id = ?`, id,
	).Scan(&status, &recommendationID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if status != OutreachSent {
		return "", fmt.Errorf("%w: response on outreach in status %s", ErrInvalidTransition, status)
	}

	if _, err := tx.Exec(`
		UPDATE outreach_jobs SET response_received = 1, response_at = ?, updated_at = ?
		WHERE id = ?`, fmtTime(at), fmtTime(time.Now()), id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing response: %w", err)
	}
	return recommendationID, nil
}

// ReclaimStaleOutreach fails jobs stuck in sending past the staleness
// window. A half-finished send is never retried automatically.
func (s *Store) ReclaimStaleOutreach(staleness time.Duration, now time.Time) (int, error) {
	cutoff := fmtTime(now.Add(-staleness))
	res, err := s.db.Exec(`
		UPDATE outreach_jobs SET status = 'failed', last_error = 'stale claim reaped', updated_at = ?
		WHERE status = 'sending' AND claimed_at <= ?`,
		fmtTime(now), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListSentAwaitingResponse returns sent jobs with no recorded response,
// the polling set for the response tracker.
func (s *Store) ListSentAwaitingResponse(limit int) ([]OutreachJob, error) {
	rows, err := s.db.Query(`
		SELECT `+outreachColumns+` FROM outreach_jobs
		WHERE status = 'sent' AND response_received = 0
		ORDER BY sent_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []OutreachJob
	for rows.Next() {
		j, err := scanOutreachJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// OutreachQueueDepth counts jobs by status for operational visibility.
func (s *Store) OutreachQueueDepth() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM outreach_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depth := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		depth[status] = n
	}
	return depth, rows.Err()
}
