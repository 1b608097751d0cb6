package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertTimingSignal writes the one-per-person timing signal row.
func (s *Store) UpsertTimingSignal(sig TimingSignal) error {
	_, err := s.db.Exec(`
		INSERT INTO timing_signals (person_id, employment_start, last_layoff_at,
			manager_departed, manager_depart_at, title, readiness_score, urgency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET
			employment_start = excluded.employment_start,
			last_layoff_at = excluded.last_layoff_at,
			manager_departed = excluded.manager_departed,
			manager_depart_at = excluded.manager_depart_at,
			title = excluded.title,
			readiness_score = excluded.readiness_score,
			urgency = excluded.urgency,
			updated_at = excluded.updated_at`,
		sig.PersonID, fmtNullTime(sig.EmploymentStart), fmtNullTime(sig.LastLayoffAt),
		sig.ManagerDeparted, fmtNullTime(sig.ManagerDepartAt), sig.Title,
		sig.ReadinessScore, sig.Urgency, fmtTime(time.Now()))
	return err
}

func (s *Store) GetTimingSignal(personID string) (TimingSignal, error) {
	var sig TimingSignal
	var empStart, layoffAt, departAt sql.NullString
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT person_id, employment_start, last_layoff_at, manager_departed,
			manager_depart_at, title, readiness_score, urgency, updated_at
		FROM timing_signals WHERE person_id = ?`, personID,
	).Scan(&sig.PersonID, &empStart, &layoffAt, &sig.ManagerDeparted,
		&departAt, &sig.Title, &sig.ReadinessScore, &sig.Urgency, &updatedAt)
	if err == sql.ErrNoRows {
		return TimingSignal{}, ErrNotFound
	}
	if err != nil {
		return TimingSignal{}, err
	}
	if sig.EmploymentStart, err = parseNullTime(empStart); err != nil {
		return TimingSignal{}, fmt.Errorf("parsing employment_start: %w", err)
	}
	if sig.LastLayoffAt, err = parseNullTime(layoffAt); err != nil {
		return TimingSignal{}, fmt.Errorf("parsing last_layoff_at: %w", err)
	}
	if sig.ManagerDepartAt, err = parseNullTime(departAt); err != nil {
		return TimingSignal{}, fmt.Errorf("parsing manager_depart_at: %w", err)
	}
	if sig.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return TimingSignal{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sig, nil
}

// --- Company events ---

func (s *Store) SaveCompanyEvent(e CompanyEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO company_events (id, normalized_company, event_type, occurred_at, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.NormalizedCompany, e.EventType, fmtTime(e.OccurredAt), e.Details,
		fmtTime(time.Now()))
	return err
}

// ListCompanyEventsSince returns events at a normalized company at or
// after the cutoff, most recent first.
func (s *Store) ListCompanyEventsSince(normalizedCompany string, since time.Time) ([]CompanyEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, normalized_company, event_type, occurred_at, details, created_at
		FROM company_events
		WHERE normalized_company = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC`,
		normalizedCompany, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CompanyEvent
	for rows.Next() {
		var e CompanyEvent
		var occurredAt, createdAt string
		if err := rows.Scan(&e.ID, &e.NormalizedCompany, &e.EventType, &occurredAt,
			&e.Details, &createdAt); err != nil {
			return nil, err
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListPeopleAtCompany returns IDs of people whose current employment is at
// the normalized company. Used to fan out readiness recomputes when a
// company event arrives.
func (s *Store) ListPeopleAtCompany(normalizedCompany string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT person_id FROM employment_records
		WHERE normalized_company = ? AND is_current = 1`, normalizedCompany)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
