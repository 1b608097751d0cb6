// Package rank merges warm-path strength and timing readiness into one
// prioritized candidate list per company.
package rank

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

// Combined score weights. Reachability outweighs timing: a warm path with
// mediocre timing still beats a cold candidate at a perfect moment.
const (
	warmthWeight    = 0.6
	readinessWeight = 0.4
)

// Store abstracts the materialized scores the ranker joins.
type Store interface {
	ListWarmPaths(companyID string) ([]storage.WarmPath, error)
	GetTimingSignal(personID string) (storage.TimingSignal, error)
	GetPerson(id string) (storage.Person, error)
}

// Entry is one ranked candidate.
type Entry struct {
	Person        storage.Person   `json:"person"`
	Path          storage.WarmPath `json:"path"`
	Readiness     float64          `json:"readiness"`
	Urgency       string           `json:"urgency"`
	CombinedScore float64          `json:"combined_score"`
}

// Ranker builds ranked candidate lists.
type Ranker struct {
	store Store
}

func NewRanker(store Store) *Ranker {
	return &Ranker{store: store}
}

// Rank returns the company's candidates ordered by tier, then combined
// score. Candidates whose timing says wait sink below everyone else
// regardless of warmth; reaching out early burns the path.
func (r *Ranker) Rank(companyID string, limit int) ([]Entry, error) {
	paths, err := r.store.ListWarmPaths(companyID)
	if err != nil {
		return nil, fmt.Errorf("listing warm paths: %w", err)
	}

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		person, err := r.store.GetPerson(p.CandidateID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading candidate %s: %w", p.CandidateID, err)
		}

		readiness := 0.0
		urgency := storage.UrgencyLow
		sig, err := r.store.GetTimingSignal(p.CandidateID)
		switch {
		case err == nil:
			readiness = sig.ReadinessScore
			urgency = sig.Urgency
		case errors.Is(err, storage.ErrNotFound):
			// No timing data yet; neutral.
		default:
			return nil, fmt.Errorf("loading timing signal for %s: %w", p.CandidateID, err)
		}

		entries = append(entries, Entry{
			Person:        person,
			Path:          p,
			Readiness:     readiness,
			Urgency:       urgency,
			CombinedScore: warmthWeight*p.WarmthScore + readinessWeight*readiness,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aWait := a.Urgency == storage.UrgencyWait
		bWait := b.Urgency == storage.UrgencyWait
		if aWait != bWait {
			return bWait
		}
		if a.Path.Tier != b.Path.Tier {
			return a.Path.Tier < b.Path.Tier
		}
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		return a.Path.ComputedAt.After(b.Path.ComputedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Freshness reports how stale the newest computed path is, for operators
// checking whether recomputes are keeping up.
func (r *Ranker) Freshness(companyID string, now time.Time) (time.Duration, error) {
	paths, err := r.store.ListWarmPaths(companyID)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, storage.ErrNotFound
	}
	newest := paths[0].ComputedAt
	for _, p := range paths[1:] {
		if p.ComputedAt.After(newest) {
			newest = p.ComputedAt
		}
	}
	return now.Sub(newest), nil
}
