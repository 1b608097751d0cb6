package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const accountColumns = `id, status, credential_handle, proxy_url, daily_cap,
	consecutive_failures, total_scraped, aging_started_at, last_used_at,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (ScraperAccount, error) {
	var a ScraperAccount
	var agingAt, createdAt, updatedAt string
	var lastUsed sql.NullString
	err := row.Scan(&a.ID, &a.Status, &a.CredentialHandle, &a.ProxyURL, &a.DailyCap,
		&a.ConsecutiveFailures, &a.TotalScraped, &agingAt, &lastUsed,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ScraperAccount{}, ErrNotFound
	}
	if err != nil {
		return ScraperAccount{}, err
	}
	if a.AgingStartedAt, err = parseTime(agingAt); err != nil {
		return ScraperAccount{}, fmt.Errorf("parsing aging_started_at: %w", err)
	}
	if a.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return ScraperAccount{}, fmt.Errorf("parsing last_used_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return ScraperAccount{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ScraperAccount{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return a, nil
}

// CreateScraperAccount adds a pool member in the aging state.
func (s *Store) CreateScraperAccount(a ScraperAccount) error {
	now := time.Now()
	if a.DailyCap == 0 {
		a.DailyCap = 80
	}
	agingAt := a.AgingStartedAt
	if agingAt.IsZero() {
		agingAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO scraper_accounts (id, status, credential_handle, proxy_url,
			daily_cap, aging_started_at, created_at, updated_at)
		VALUES (?, 'aging', ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CredentialHandle, a.ProxyURL, a.DailyCap,
		fmtTime(agingAt), fmtTime(now), fmtTime(now))
	return err
}

func (s *Store) GetScraperAccount(id string) (ScraperAccount, error) {
	return scanAccount(s.db.QueryRow(
		`SELECT `+accountColumns+` FROM scraper_accounts WHERE id = ?`, id))
}

// ActivateAgedAccounts promotes aging accounts whose trust-building period
// has elapsed. Returns the number promoted.
func (s *Store) ActivateAgedAccounts(agingPeriod time.Duration, now time.Time) (int, error) {
	cutoff := fmtTime(now.Add(-agingPeriod))
	res, err := s.db.Exec(`
		UPDATE scraper_accounts SET status = 'active', updated_at = ?
		WHERE status = 'aging' AND aging_started_at <= ?`,
		fmtTime(now), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AssignAccount picks the eligible account for a new enrichment job and
// stamps its last_used_at: active status, no in-flight job, under its
// per-day cap, lowest work done today, ties broken by longest idle.
// Returns ErrNotFound when the pool has no eligible account.
func (s *Store) AssignAccount(now time.Time) (ScraperAccount, error) {
	dayStart := fmtTime(startOfUTCDay(now))

	tx, err := s.db.Begin()
	if err != nil {
		return ScraperAccount{}, fmt.Errorf("beginning assignment transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRow(`
		SELECT `+accountColumns+` FROM scraper_accounts a
		WHERE a.status = 'active'
		  AND NOT EXISTS (
			SELECT 1 FROM enrichment_jobs j
			WHERE j.account_id = a.id AND j.status = 'processing')
		  AND (SELECT COUNT(*) FROM enrichment_jobs j
			WHERE j.account_id = a.id AND j.claimed_at >= ?) < a.daily_cap
		ORDER BY
			(SELECT COUNT(*) FROM enrichment_jobs j
			 WHERE j.account_id = a.id AND j.claimed_at >= ?) ASC,
			COALESCE(a.last_used_at, '') ASC
		LIMIT 1`, dayStart, dayStart))
	if err != nil {
		return ScraperAccount{}, err
	}

	nowStr := fmtTime(now)
	if _, err := tx.Exec(`
		UPDATE scraper_accounts SET last_used_at = ?, updated_at = ? WHERE id = ?`,
		nowStr, nowStr, a.ID); err != nil {
		return ScraperAccount{}, fmt.Errorf("stamping last_used_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ScraperAccount{}, fmt.Errorf("committing assignment: %w", err)
	}
	a.LastUsedAt = now
	return a, nil
}

// RecordAccountSuccess resets the failure streak and bumps the scrape
// total. A warned account that completes work cleanly returns to active.
func (s *Store) RecordAccountSuccess(id string) error {
	res, err := s.db.Exec(`
		UPDATE scraper_accounts SET
			consecutive_failures = 0,
			total_scraped = total_scraped + 1,
			status = CASE WHEN status = 'warned' THEN 'active' ELSE status END,
			updated_at = ?
		WHERE id = ? AND status NOT IN ('banned', 'retired')`,
		fmtTime(time.Now()), id)
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

// RecordAccountFailure increments the failure streak and applies the
// warn/ban thresholds. Crossing banThreshold is terminal: the account is
// banned and its in-flight jobs are requeued at their original priority.
// Returns the resulting status and the number of requeued jobs.
func (s *Store) RecordAccountFailure(id string, warnThreshold, banThreshold int) (string, int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", 0, fmt.Errorf("beginning failure transaction: %w", err)
	}
	defer tx.Rollback()

	var failures int
	var status string
	err = tx.QueryRow(`
		SELECT consecutive_failures, status FROM scraper_accounts WHERE id = ?`, id,
	).Scan(&failures, &status)
	if err == sql.ErrNoRows {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, err
	}
	if status == AccountBanned || status == AccountRetired {
		return status, 0, ErrImmutable
	}

	failures++
	next := status
	switch {
	case failures >= banThreshold:
		next = AccountBanned
	case failures >= warnThreshold:
		next = AccountWarned
	}

	now := fmtTime(time.Now())
	if _, err := tx.Exec(`
		UPDATE scraper_accounts SET consecutive_failures = ?, status = ?, updated_at = ?
		WHERE id = ?`, failures, next, now, id); err != nil {
		return "", 0, err
	}

	requeued := 0
	if next == AccountBanned {
		res, err := tx.Exec(`
			UPDATE enrichment_jobs SET status = 'pending', account_id = '',
				claimed_at = NULL, scheduled_for = ?, updated_at = ?
			WHERE account_id = ? AND status = 'processing'`, now, now, id)
		if err != nil {
			return "", 0, fmt.Errorf("requeueing in-flight jobs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", 0, err
		}
		requeued = int(n)
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("committing failure: %w", err)
	}
	return next, requeued, nil
}

// RetireAccount is the manual terminal state for voluntary decommission.
func (s *Store) RetireAccount(id string) error {
	acct, err := s.GetScraperAccount(id)
	if err != nil {
		return err
	}
	if acct.Status == AccountBanned || acct.Status == AccountRetired {
		return ErrImmutable
	}
	_, err = s.db.Exec(`
		UPDATE scraper_accounts SET status = 'retired', updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id)
	return err
}

// PoolHealth is the per-status census of the scraper pool.
type PoolHealth struct {
	Aging   int `json:"aging"`
	Active  int `json:"active"`
	Warned  int `json:"warned"`
	Banned  int `json:"banned"`
	Retired int `json:"retired"`
}

func (s *Store) GetPoolHealth() (PoolHealth, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM scraper_accounts GROUP BY status`)
	if err != nil {
		return PoolHealth{}, err
	}
	defer rows.Close()

	var h PoolHealth
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return PoolHealth{}, err
		}
		switch status {
		case AccountAging:
			h.Aging = n
		case AccountActive:
			h.Active = n
		case AccountWarned:
			h.Warned = n
		case AccountBanned:
			h.Banned = n
		case AccountRetired:
			h.Retired = n
		}
	}
	return h, rows.Err()
}
