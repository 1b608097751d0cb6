package readiness

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

// Store abstracts the rows the recomputer reads and writes.
type Store interface {
	GetPerson(id string) (storage.Person, error)
	ListEmploymentRecords(personID string) ([]storage.EmploymentRecord, error)
	ListCompanyEventsSince(normalizedCompany string, since time.Time) ([]storage.CompanyEvent, error)
	ListPeopleAtCompany(normalizedCompany string) ([]string, error)
	UpsertTimingSignal(sig storage.TimingSignal) error
}

// Recomputer rebuilds a person's timing signal whenever a company event or
// employment change touches them.
type Recomputer struct {
	store   Store
	weights Weights
	logger  *slog.Logger
}

func NewRecomputer(store Store, weights Weights) *Recomputer {
	return &Recomputer{store: store, weights: weights, logger: slog.Default()}
}

// RecomputePerson rebuilds one person's signal from current graph state.
func (r *Recomputer) RecomputePerson(personID string, now time.Time) (storage.TimingSignal, error) {
	person, err := r.store.GetPerson(personID)
	if err != nil {
		return storage.TimingSignal{}, fmt.Errorf("loading person: %w", err)
	}

	records, err := r.store.ListEmploymentRecords(personID)
	if err != nil {
		return storage.TimingSignal{}, fmt.Errorf("loading employment: %w", err)
	}

	sig := Signal{Title: person.CurrentTitle}
	var currentCompany string
	for _, rec := range records {
		if rec.IsCurrent {
			sig.EmploymentStart = rec.StartDate
			currentCompany = rec.NormalizedCompany
		}
	}

	var layoffAt, departAt time.Time
	if currentCompany != "" {
		events, err := r.store.ListCompanyEventsSince(currentCompany, now.Add(-r.weights.LayoffWindow))
		if err != nil {
			return storage.TimingSignal{}, fmt.Errorf("loading company events: %w", err)
		}
		for _, ev := range events {
			switch ev.EventType {
			case storage.EventLayoff:
				if ev.OccurredAt.After(layoffAt) {
					layoffAt = ev.OccurredAt
				}
			case storage.EventManagerDeparture:
				sig.ManagerDeparted = true
				if ev.OccurredAt.After(departAt) {
					departAt = ev.OccurredAt
				}
			}
		}
	}
	sig.LastLayoffAt = layoffAt
	sig.ManagerDepartAt = departAt

	result := Score(sig, r.weights, now)

	stored := storage.TimingSignal{
		PersonID:        personID,
		EmploymentStart: sig.EmploymentStart,
		LastLayoffAt:    sig.LastLayoffAt,
		ManagerDeparted: sig.ManagerDeparted,
		ManagerDepartAt: sig.ManagerDepartAt,
		Title:           sig.Title,
		ReadinessScore:  result.Score,
		Urgency:         result.Urgency,
	}
	if err := r.store.UpsertTimingSignal(stored); err != nil {
		return storage.TimingSignal{}, fmt.Errorf("storing timing signal: %w", err)
	}
	return stored, nil
}

// RecomputeCompany fans a company event out to everyone currently
// employed there. Returns the number of people recomputed.
func (r *Recomputer) RecomputeCompany(normalizedCompany string, now time.Time) (int, error) {
	ids, err := r.store.ListPeopleAtCompany(normalizedCompany)
	if err != nil {
		return 0, fmt.Errorf("listing people at %s: %w", normalizedCompany, err)
	}

	recomputed := 0
	for _, id := range ids {
		if _, err := r.RecomputePerson(id, now); err != nil {
			r.logger.Warn("readiness recompute failed", "person_id", id, "error", err)
			continue
		}
		recomputed++
	}
	return recomputed, nil
}
