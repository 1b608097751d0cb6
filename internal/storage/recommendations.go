package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// recommendation status transitions. Converted and declined are terminal.
var recTransitions = map[string][]string{
	RecStatusNew:            {RecStatusIntroRequested, RecStatusDeclined},
	RecStatusIntroRequested: {RecStatusIntroMade, RecStatusDeclined},
	RecStatusIntroMade:      {RecStatusContacted, RecStatusDeclined},
	RecStatusContacted:      {RecStatusResponded, RecStatusDeclined},
	RecStatusResponded:      {RecStatusConverted, RecStatusDeclined},
}

func (s *Store) SaveRecommendation(r Recommendation) error {
	now := fmtTime(time.Now())
	status := r.Status
	if status == "" {
		status = RecStatusNew
	}
	_, err := s.db.Exec(`
		INSERT INTO recommendations (id, company_id, recommender_id, candidate_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CompanyID, r.RecommenderID, r.CandidateID, status, now, now)
	return err
}

func (s *Store) GetRecommendation(id string) (Recommendation, error) {
	var r Recommendation
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, company_id, recommender_id, candidate_id, status, created_at, updated_at
		FROM recommendations WHERE id = ?`, id,
	).Scan(&r.ID, &r.CompanyID, &r.RecommenderID, &r.CandidateID, &r.Status,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Recommendation{}, ErrNotFound
	}
	if err != nil {
		return Recommendation{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Recommendation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Recommendation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

// AdvanceRecommendation moves a recommendation to the next status. Terminal
// records (converted, declined) are immutable; illegal jumps return
// ErrInvalidTransition.
func (s *Store) AdvanceRecommendation(id, to string) error {
	rec, err := s.GetRecommendation(id)
	if err != nil {
		return err
	}
	if rec.Status == RecStatusConverted || rec.Status == RecStatusDeclined {
		return ErrImmutable
	}
	if !transitionAllowed(recTransitions, rec.Status, to) {
		return fmt.Errorf("%w: recommendation %s -> %s", ErrInvalidTransition, rec.Status, to)
	}

	res, err := s.db.Exec(`
		UPDATE recommendations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, fmtTime(time.Now()), id, rec.Status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Lost a race with another writer; current state no longer allows it.
		return ErrInvalidTransition
	}
	return nil
}

// ListRecommendationsForCandidate returns a candidate's recommendations
// within a tenant, most recent first.
func (s *Store) ListRecommendationsForCandidate(companyID, candidateID string) ([]Recommendation, error) {
	rows, err := s.db.Query(`
		SELECT id, company_id, recommender_id, candidate_id, status, created_at, updated_at
		FROM recommendations WHERE company_id = ? AND candidate_id = ?
		ORDER BY created_at DESC`, companyID, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var r Recommendation
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.RecommenderID, &r.CandidateID,
			&r.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// GetRecommenderStats aggregates a recommender's historical outcomes. The
// warmth engine turns this into the trust multiplier: past conversions
// raise future weight, declines lower it.
func (s *Store) GetRecommenderStats(recommenderID string) (RecommenderStats, error) {
	var st RecommenderStats
	err := s.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(*)
		FROM recommendations WHERE recommender_id = ?`,
		RecStatusConverted, RecStatusResponded, RecStatusDeclined, recommenderID,
	).Scan(&st.Converted, &st.Responded, &st.Declined, &st.Total)
	return st, err
}

func transitionAllowed(table map[string][]string, from, to string) bool {
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
