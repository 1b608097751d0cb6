package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

const enrichmentColumns = `id, connection_id, account_id, status, attempts, max_attempts,
	priority, scheduled_for, claimed_at, enrichment_data, last_error, created_at, updated_at`

func scanEnrichmentJob(row interface{ Scan(...any) error }) (EnrichmentJob, error) {
	var j EnrichmentJob
	var scheduledFor, createdAt, updatedAt string
	var claimedAt sql.NullString
	err := row.Scan(&j.ID, &j.ConnectionID, &j.AccountID, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.Priority, &scheduledFor, &claimedAt, &j.EnrichmentData,
		&j.LastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return EnrichmentJob{}, ErrNotFound
	}
	if err != nil {
		return EnrichmentJob{}, err
	}
	if j.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return EnrichmentJob{}, fmt.Errorf("parsing scheduled_for: %w", err)
	}
	if j.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return EnrichmentJob{}, fmt.Errorf("parsing claimed_at: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return EnrichmentJob{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return EnrichmentJob{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// EnqueueEnrichment queues an enrichment job for a connection. Idempotent:
// if an open job (pending, retry, or processing) already exists for the
// connection, its ID is returned and nothing new is queued.
func (s *Store) EnqueueEnrichment(job EnrichmentJob) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(`
		SELECT id FROM enrichment_jobs
		WHERE connection_id = ? AND status IN ('pending', 'processing', 'retry')
		LIMIT 1`, job.ConnectionID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	now := time.Now()
	scheduledFor := job.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	_, err = tx.Exec(`
		INSERT INTO enrichment_jobs (id, connection_id, status, attempts, max_attempts,
			priority, scheduled_for, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
		job.ID, job.ConnectionID, maxAttempts, job.Priority,
		fmtTime(scheduledFor), fmtTime(now), fmtTime(now))
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing enqueue: %w", err)
	}
	return job.ID, nil
}

// ClaimNextEnrichment atomically claims the highest-priority eligible job
// and binds it to the given account. Eligible means pending or retry with
// scheduled_for in the past, ordered by (priority desc, scheduled_for asc).
// The claim also verifies the account holds no other processing job, so an
// account assigned by two racing workers ends up bound to at most one.
// Returns nil when nothing is claimable.
func (s *Store) ClaimNextEnrichment(accountID string, now time.Time) (*EnrichmentJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanEnrichmentJob(tx.QueryRow(`
		SELECT `+enrichmentColumns+` FROM enrichment_jobs
		WHERE status IN ('pending', 'retry') AND scheduled_for <= ?
		ORDER BY priority DESC, scheduled_for ASC
		LIMIT 1`, fmtTime(now)))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	nowStr := fmtTime(now)
	res, err := tx.Exec(`
		UPDATE enrichment_jobs SET status = 'processing', account_id = ?,
			claimed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'retry')
		  AND NOT EXISTS (SELECT 1 FROM enrichment_jobs p
			WHERE p.account_id = ? AND p.status = 'processing')`,
		accountID, nowStr, nowStr, j.ID, accountID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		// Another worker won the claim between the select and the update,
		// or the account picked up a job in the meantime.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = EnrichProcessing
	j.AccountID = accountID
	j.ClaimedAt = now
	return &j, nil
}

// CompleteEnrichment stores the enriched payload and flips the job to
// completed.
func (s *Store) CompleteEnrichment(id, data string) error {
	res, err := s.db.Exec(`
		UPDATE enrichment_jobs SET status = 'completed', enrichment_data = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		data, fmtTime(time.Now()), id)
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

// FailEnrichment records a failed attempt. While attempts remain, the job
// is rescheduled with capped exponential backoff (base x 2^attempts) and
// status retry; exhausting max_attempts marks the job terminally failed
// with the last error kept for inspection.
func (s *Store) FailEnrichment(id, errMsg string, backoffBase, backoffCap time.Duration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`
		SELECT attempts, max_attempts FROM enrichment_jobs WHERE id = ?`, id,
	).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`
			UPDATE enrichment_jobs SET status = 'failed', attempts = ?, account_id = '',
				last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, fmtTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * backoffBase
		if backoff > backoffCap {
			backoff = backoffCap
		}
		_, err = tx.Exec(`
			UPDATE enrichment_jobs SET status = 'retry', attempts = ?, account_id = '',
				claimed_at = NULL, last_error = ?, scheduled_for = ?, updated_at = ?
			WHERE id = ?`,
			attempts, errMsg, fmtTime(now.Add(backoff)), fmtTime(now), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ReclaimStaleEnrichment returns jobs stuck in processing past the
// staleness window to retry. A stale claim is not a provider failure, so
// attempts are left untouched.
func (s *Store) ReclaimStaleEnrichment(staleness time.Duration, now time.Time) (int, error) {
	cutoff := fmtTime(now.Add(-staleness))
	res, err := s.db.Exec(`
		UPDATE enrichment_jobs SET status = 'retry', account_id = '', claimed_at = NULL,
			scheduled_for = ?, updated_at = ?
		WHERE status = 'processing' AND claimed_at <= ?`,
		fmtTime(now), fmtTime(now), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetEnrichmentJob(id string) (EnrichmentJob, error) {
	return scanEnrichmentJob(s.db.QueryRow(
		`SELECT ` + enrichmentColumns + ` FROM enrichment_jobs WHERE id = ?`, id))
}

// EnrichmentQueueDepth counts jobs by status for operational visibility.
func (s *Store) EnrichmentQueueDepth() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM enrichment_jobs GROUP BY status`)
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
