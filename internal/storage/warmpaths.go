package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertWarmPath stores a computed warm path keyed by (company, candidate).
// The incoming row only replaces the stored one if its score is not lower;
// a stale recompute that would regress the score returns
// ErrRegressionRejected and leaves the stored path untouched. This rule
// substitutes for locking between concurrent recomputes.
func (s *Store) UpsertWarmPath(p WarmPath) error {
	computedAt := p.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO warm_paths (company_id, candidate_id, via_person_id, path_type,
			warmth_score, tier, overlap_details, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, candidate_id) DO UPDATE SET
			via_person_id = excluded.via_person_id,
			path_type = excluded.path_type,
			warmth_score = excluded.warmth_score,
			tier = excluded.tier,
			overlap_details = excluded.overlap_details,
			computed_at = excluded.computed_at
		WHERE excluded.warmth_score >= warm_paths.warmth_score`,
		p.CompanyID, p.CandidateID, p.ViaPersonID, p.PathType,
		p.WarmthScore, p.Tier, p.OverlapDetails, fmtTime(computedAt))
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRegressionRejected
	}
	return nil
}

func (s *Store) GetWarmPath(companyID, candidateID string) (WarmPath, error) {
	var p WarmPath
	var computedAt string
	err := s.db.QueryRow(`
		SELECT company_id, candidate_id, via_person_id, path_type, warmth_score,
			tier, overlap_details, computed_at
		FROM warm_paths WHERE company_id = ? AND candidate_id = ?`,
		companyID, candidateID,
	).Scan(&p.CompanyID, &p.CandidateID, &p.ViaPersonID, &p.PathType,
		&p.WarmthScore, &p.Tier, &p.OverlapDetails, &computedAt)
	if err == sql.ErrNoRows {
		return WarmPath{}, ErrNotFound
	}
	if err != nil {
		return WarmPath{}, err
	}
	if p.ComputedAt, err = parseTime(computedAt); err != nil {
		return WarmPath{}, fmt.Errorf("parsing computed_at: %w", err)
	}
	return p, nil
}

// ListWarmPaths returns a tenant's materialized paths, strongest first.
func (s *Store) ListWarmPaths(companyID string) ([]WarmPath, error) {
	rows, err := s.db.Query(`
		SELECT company_id, candidate_id, via_person_id, path_type, warmth_score,
			tier, overlap_details, computed_at
		FROM warm_paths WHERE company_id = ?
		ORDER BY tier ASC, warmth_score DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []WarmPath
	for rows.Next() {
		var p WarmPath
		var computedAt string
		if err := rows.Scan(&p.CompanyID, &p.CandidateID, &p.ViaPersonID, &p.PathType,
			&p.WarmthScore, &p.Tier, &p.OverlapDetails, &computedAt); err != nil {
			return nil, err
		}
		if p.ComputedAt, err = parseTime(computedAt); err != nil {
			return nil, fmt.Errorf("parsing computed_at: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
