package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const personColumns = `id, company_id, full_name, profile_url, github_url, email,
	current_company, current_title, trust_score, pipeline_status, is_from_network,
	created_at, updated_at`

func scanPerson(row interface{ Scan(...any) error }) (Person, error) {
	var p Person
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.CompanyID, &p.FullName, &p.ProfileURL, &p.GitHubURL,
		&p.Email, &p.CurrentCompany, &p.CurrentTitle, &p.TrustScore,
		&p.PipelineStatus, &p.IsFromNetwork, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Person{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Person{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// SavePerson inserts a person, or updates the existing row with the same
// (company, profile URL) identity. First sighting wins the ID; enrichment
// refreshes the mutable fields.
func (s *Store) SavePerson(p Person) error {
	now := fmtTime(time.Now())
	createdAt := now
	if !p.CreatedAt.IsZero() {
		createdAt = fmtTime(p.CreatedAt)
	}
	_, err := s.db.Exec(`
		INSERT INTO people (id, company_id, full_name, profile_url, github_url, email,
			current_company, current_title, trust_score, pipeline_status, is_from_network,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, profile_url) WHERE profile_url != '' DO UPDATE SET
			full_name = excluded.full_name,
			github_url = excluded.github_url,
			email = excluded.email,
			current_company = excluded.current_company,
			current_title = excluded.current_title,
			trust_score = excluded.trust_score,
			pipeline_status = excluded.pipeline_status,
			is_from_network = excluded.is_from_network,
			updated_at = excluded.updated_at`,
		p.ID, p.CompanyID, p.FullName, p.ProfileURL, p.GitHubURL, p.Email,
		p.CurrentCompany, p.CurrentTitle, p.TrustScore, p.PipelineStatus,
		p.IsFromNetwork, createdAt, now,
	)
	return err
}

func (s *Store) GetPerson(id string) (Person, error) {
	return scanPerson(s.db.QueryRow(
		`SELECT `+personColumns+` FROM people WHERE id = ?`, id))
}

// FindPersonByProfileURL resolves a candidate identity within a tenant.
func (s *Store) FindPersonByProfileURL(companyID, profileURL string) (Person, error) {
	return scanPerson(s.db.QueryRow(
		`SELECT `+personColumns+` FROM people WHERE company_id = ? AND profile_url = ?`,
		companyID, profileURL))
}

// ListNetworkPeople returns the tenant's network members (people flagged
// is_from_network), the candidate side of warm-path computation.
func (s *Store) ListNetworkPeople(companyID string) ([]Person, error) {
	rows, err := s.db.Query(
		`SELECT `+personColumns+` FROM people WHERE company_id = ? AND is_from_network = 1`,
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// ListCandidates returns the tenant's non-network people (pipeline
// candidates) for ranking.
func (s *Store) ListCandidates(companyID string) ([]Person, error) {
	rows, err := s.db.Query(
		`SELECT `+personColumns+` FROM people WHERE company_id = ? AND is_from_network = 0`,
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// --- Employment records ---

// AddEmploymentRecord appends an employment stint. When the record is
// current, any previous current record for the same (person, normalized
// company) is closed first so the one-current-per-company invariant holds.
func (s *Store) AddEmploymentRecord(r EmploymentRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if r.IsCurrent {
		_, err = tx.Exec(`
			UPDATE employment_records SET is_current = 0, end_date = ?
			WHERE person_id = ? AND normalized_company = ? AND is_current = 1`,
			fmtTime(now), r.PersonID, r.NormalizedCompany)
		if err != nil {
			return fmt.Errorf("closing previous current record: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO employment_records (id, person_id, normalized_company, title,
			start_date, end_date, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PersonID, r.NormalizedCompany, r.Title,
		fmtTime(r.StartDate), fmtNullTime(r.EndDate), r.IsCurrent, fmtTime(now))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListEmploymentRecords returns all stints for a person, oldest first.
func (s *Store) ListEmploymentRecords(personID string) ([]EmploymentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, person_id, normalized_company, title, start_date, end_date, is_current
		FROM employment_records WHERE person_id = ? ORDER BY start_date ASC`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEmploymentRows(rows)
}

// ListEmploymentByPersons returns all stints for a set of people in one
// query, keyed by person. Used by the warmth engine to load a network
// snapshot without N+1 lookups.
func (s *Store) ListEmploymentByPersons(personIDs []string) (map[string][]EmploymentRecord, error) {
	result := make(map[string][]EmploymentRecord)
	if len(personIDs) == 0 {
		return result, nil
	}

	query := `SELECT id, person_id, normalized_company, title, start_date, end_date, is_current
		FROM employment_records WHERE person_id IN (?` +
		repeatPlaceholder(len(personIDs)-1) + `) ORDER BY start_date ASC`
	args := make([]any, len(personIDs))
	for i, id := range personIDs {
		args[i] = id
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanEmploymentRows(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		result[r.PersonID] = append(result[r.PersonID], r)
	}
	return result, nil
}

func scanEmploymentRows(rows *sql.Rows) ([]EmploymentRecord, error) {
	var records []EmploymentRecord
	for rows.Next() {
		var r EmploymentRecord
		var startDate string
		var endDate sql.NullString
		if err := rows.Scan(&r.ID, &r.PersonID, &r.NormalizedCompany, &r.Title,
			&startDate, &endDate, &r.IsCurrent); err != nil {
			return nil, err
		}
		var err error
		if r.StartDate, err = parseTime(startDate); err != nil {
			return nil, fmt.Errorf("parsing start_date: %w", err)
		}
		if r.EndDate, err = parseNullTime(endDate); err != nil {
			return nil, fmt.Errorf("parsing end_date: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Education records ---

func (s *Store) AddEducationRecord(r EducationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO education_records (id, person_id, school, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.PersonID, r.School, fmtTime(r.StartDate), fmtNullTime(r.EndDate),
		fmtTime(time.Now()))
	return err
}

func (s *Store) ListEducationByPersons(personIDs []string) (map[string][]EducationRecord, error) {
	result := make(map[string][]EducationRecord)
	if len(personIDs) == 0 {
		return result, nil
	}

	query := `SELECT id, person_id, school, start_date, end_date
		FROM education_records WHERE person_id IN (?` +
		repeatPlaceholder(len(personIDs)-1) + `) ORDER BY start_date ASC`
	args := make([]any, len(personIDs))
	for i, id := range personIDs {
		args[i] = id
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r EducationRecord
		var startDate string
		var endDate sql.NullString
		if err := rows.Scan(&r.ID, &r.PersonID, &r.School, &startDate, &endDate); err != nil {
			return nil, err
		}
		if r.StartDate, err = parseTime(startDate); err != nil {
			return nil, fmt.Errorf("parsing start_date: %w", err)
		}
		if r.EndDate, err = parseNullTime(endDate); err != nil {
			return nil, fmt.Errorf("parsing end_date: %w", err)
		}
		result[r.PersonID] = append(result[r.PersonID], r)
	}
	return result, rows.Err()
}

// --- Connections (raw import) ---

// SaveConnection records a raw imported connection. Idempotent by
// (company, profile URL): re-importing the same connection refreshes the
// display fields and keeps the original ID.
func (s *Store) SaveConnection(c Connection) (string, error) {
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO connections (id, company_id, owner_person_id, profile_url,
			full_name, headline, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, profile_url) DO UPDATE SET
			full_name = excluded.full_name,
			headline = excluded.headline`,
		c.ID, c.CompanyID, c.OwnerPersonID, c.ProfileURL, c.FullName, c.Headline, now)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRow(
		`SELECT id FROM connections WHERE company_id = ? AND profile_url = ?`,
		c.CompanyID, c.ProfileURL).Scan(&id)
	return id, err
}

func (s *Store) GetConnection(id string) (Connection, error) {
	var c Connection
	var importedAt string
	err := s.db.QueryRow(`
		SELECT id, company_id, owner_person_id, profile_url, full_name, headline, imported_at
		FROM connections WHERE id = ?`, id,
	).Scan(&c.ID, &c.CompanyID, &c.OwnerPersonID, &c.ProfileURL, &c.FullName,
		&c.Headline, &importedAt)
	if err == sql.ErrNoRows {
		return Connection{}, ErrNotFound
	}
	if err != nil {
		return Connection{}, err
	}
	if c.ImportedAt, err = parseTime(importedAt); err != nil {
		return Connection{}, fmt.Errorf("parsing imported_at: %w", err)
	}
	return c, nil
}

func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		b = append(b, ',', '?')
	}
	return string(b)
}
