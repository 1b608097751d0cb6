package warmth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

// Store abstracts the graph reads and the warm-path write the engine needs.
type Store interface {
	GetPerson(id string) (storage.Person, error)
	FindPersonByProfileURL(companyID, profileURL string) (storage.Person, error)
	ListNetworkPeople(companyID string) ([]storage.Person, error)
	ListEmploymentByPersons(personIDs []string) (map[string][]storage.EmploymentRecord, error)
	ListEducationByPersons(personIDs []string) (map[string][]storage.EducationRecord, error)
	ListRecommendationsForCandidate(companyID, candidateID string) ([]storage.Recommendation, error)
	GetRecommenderStats(recommenderID string) (storage.RecommenderStats, error)
	UpsertWarmPath(p storage.WarmPath) error
	AdvanceRecommendation(id, to string) error
}

// Config tunes the scoring formulas.
type Config struct {
	// MinOverlap is the minimum employment interval intersection that
	// counts as a colleague edge. Guards against data noise such as
	// mis-recorded single-day entries.
	MinOverlap time.Duration
	// RecencyHalfLife controls the exponential decay of the recency
	// component: warmth halves every half-life since last interaction.
	RecencyHalfLife time.Duration
	// OverlapCap caps the overlap duration before log scaling.
	OverlapCap time.Duration
}

// DefaultConfig returns the documented defaults: 30-day minimum overlap,
// 18-month recency half-life, 5-year overlap cap.
func DefaultConfig() Config {
	return Config{
		MinOverlap:      30 * 24 * time.Hour,
		RecencyHalfLife: 18 * 30 * 24 * time.Hour,
		OverlapCap:      5 * 365 * 24 * time.Hour,
	}
}

// Candidate identifies the person being scored. Either a stored person ID
// or a profile URL to resolve within the tenant.
type Candidate struct {
	PersonID   string
	ProfileURL string
}

// Result is the computed best path plus its tier.
type Result struct {
	Path storage.WarmPath
	Tier int
}

// Engine computes warm paths between a company's network and a candidate.
type Engine struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

func NewEngine(store Store, cfg Config) *Engine {
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = DefaultConfig().MinOverlap
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = DefaultConfig().RecencyHalfLife
	}
	if cfg.OverlapCap <= 0 {
		cfg.OverlapCap = DefaultConfig().OverlapCap
	}
	return &Engine{store: store, cfg: cfg, logger: slog.Default()}
}

// path strength rank, lower is stronger. Direct network membership beats a
// converted/responded recommendation beats colleague overlap beats shared
// school; anything else is cold.
const (
	rankDirect = iota
	rankRecommendation
	rankColleague
	rankSchool
	rankCold
)

type candidatePath struct {
	rank    int
	path    storage.WarmPath
	recency time.Time
}

// ComputePath finds the strongest path for (company, candidate), persists
// it through the non-regressing upsert, and returns it with a tier. A
// candidate that cannot be resolved to any stored person yields tier 3
// with an empty path, never an error.
func (e *Engine) ComputePath(ctx context.Context, companyID string, cand Candidate) (Result, error) {
	now := time.Now()

	person, err := e.resolve(companyID, cand)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{
			Path: storage.WarmPath{CompanyID: companyID, PathType: storage.PathNone, Tier: 3},
			Tier: 3,
		}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolving candidate: %w", err)
	}

	best, err := e.bestPath(ctx, companyID, person, now)
	if err != nil {
		return Result{}, err
	}

	if best.path.PathType != storage.PathNone {
		if err := e.store.UpsertWarmPath(best.path); err != nil {
			if errors.Is(err, storage.ErrRegressionRejected) {
				// A concurrent recompute already stored a stronger path.
				e.logger.Info("warm path regression rejected",
					"company_id", companyID, "candidate_id", person.ID,
					"score", best.path.WarmthScore)
			} else {
				return Result{}, fmt.Errorf("storing warm path: %w", err)
			}
		}
	}

	return Result{Path: best.path, Tier: best.path.Tier}, nil
}

func (e *Engine) resolve(companyID string, cand Candidate) (storage.Person, error) {
	if cand.PersonID != "" {
		return e.store.GetPerson(cand.PersonID)
	}
	if cand.ProfileURL != "" {
		return e.store.FindPersonByProfileURL(companyID, cand.ProfileURL)
	}
	return storage.Person{}, storage.ErrNotFound
}

func (e *Engine) bestPath(ctx context.Context, companyID string, candidate storage.Person, now time.Time) (candidatePath, error) {
	cold := candidatePath{
		rank: rankCold,
		path: storage.WarmPath{
			CompanyID:   companyID,
			CandidateID: candidate.ID,
			PathType:    storage.PathNone,
			Tier:        3,
			ComputedAt:  now,
		},
	}

	// Direct network membership short-circuits everything else.
	if candidate.IsFromNetwork {
		return candidatePath{
			rank: rankDirect,
			path: storage.WarmPath{
				CompanyID:      companyID,
				CandidateID:    candidate.ID,
				PathType:       storage.PathDirect,
				WarmthScore:    1.0,
				Tier:           1,
				OverlapDetails: "{}",
				ComputedAt:     now,
			},
			recency: now,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return candidatePath{}, err
	}

	network, err := e.store.ListNetworkPeople(companyID)
	if err != nil {
		return candidatePath{}, fmt.Errorf("loading network snapshot: %w", err)
	}
	networkByID := make(map[string]storage.Person, len(network))
	ids := make([]string, 0, len(network)+1)
	for _, p := range network {
		networkByID[p.ID] = p
		ids = append(ids, p.ID)
	}
	ids = append(ids, candidate.ID)

	employment, err := e.store.ListEmploymentByPersons(ids)
	if err != nil {
		return candidatePath{}, fmt.Errorf("loading employment records: %w", err)
	}
	education, err := e.store.ListEducationByPersons(ids)
	if err != nil {
		return candidatePath{}, fmt.Errorf("loading education records: %w", err)
	}

	best := cold

	// Explicit recommendations from network members, strongest signal
	// after direct membership.
	recs, err := e.store.ListRecommendationsForCandidate(companyID, candidate.ID)
	if err != nil {
		return candidatePath{}, fmt.Errorf("loading recommendations: %w", err)
	}
	for _, rec := range recs {
		if rec.Status != storage.RecStatusConverted && rec.Status != storage.RecStatusResponded {
			continue
		}
		if _, ok := networkByID[rec.RecommenderID]; !ok {
			continue
		}
		score, err := e.recommendationScore(rec, now)
		if err != nil {
			return candidatePath{}, err
		}
		cp := candidatePath{
			rank: rankRecommendation,
			path: storage.WarmPath{
				CompanyID:      companyID,
				CandidateID:    candidate.ID,
				ViaPersonID:    rec.RecommenderID,
				PathType:       storage.PathRecommendation,
				WarmthScore:    score,
				OverlapDetails: mustDetails(map[string]any{"recommendation_id": rec.ID, "status": rec.Status}),
				ComputedAt:     now,
			},
			recency: rec.UpdatedAt,
		}
		best = stronger(best, cp)
	}

	// Colleague overlap: shared normalized company with interval
	// intersection above the noise floor.
	candEmployment := employment[candidate.ID]
	for _, member := range network {
		for _, me := range employment[member.ID] {
			for _, ce := range candEmployment {
				if me.NormalizedCompany != ce.NormalizedCompany {
					continue
				}
				overlap, end := intervalOverlap(me, ce, now)
				if overlap <= e.cfg.MinOverlap {
					continue
				}
				score, err := e.colleagueScore(member.ID, overlap, end, now)
				if err != nil {
					return candidatePath{}, err
				}
				cp := candidatePath{
					rank: rankColleague,
					path: storage.WarmPath{
						CompanyID:   companyID,
						CandidateID: candidate.ID,
						ViaPersonID: member.ID,
						PathType:    storage.PathColleague,
						WarmthScore: score,
						OverlapDetails: mustDetails(map[string]any{
							"company":      me.NormalizedCompany,
							"overlap_days": int(overlap.Hours() / 24),
						}),
						ComputedAt: now,
					},
					recency: end,
				}
				best = stronger(best, cp)
			}
		}
	}

	// Shared school, weakest warm signal.
	candEducation := education[candidate.ID]
	for _, member := range network {
		for _, ms := range education[member.ID] {
			for _, cs := range candEducation {
				if ms.School != cs.School {
					continue
				}
				overlap, end := educationOverlap(ms, cs, now)
				if overlap <= e.cfg.MinOverlap {
					continue
				}
				score, err := e.schoolScore(member.ID, overlap, end, now)
				if err != nil {
					return candidatePath{}, err
				}
				cp := candidatePath{
					rank: rankSchool,
					path: storage.WarmPath{
						CompanyID:   companyID,
						CandidateID: candidate.ID,
						ViaPersonID: member.ID,
						PathType:    storage.PathSchool,
						WarmthScore: score,
						OverlapDetails: mustDetails(map[string]any{
							"school":       ms.School,
							"overlap_days": int(overlap.Hours() / 24),
						}),
						ComputedAt: now,
					},
					recency: end,
				}
				best = stronger(best, cp)
			}
		}
	}

	if best.rank != rankCold {
		best.path.Tier = tierFor(best.path.WarmthScore, false)
	}
	return best, nil
}

// stronger picks by path-strength rank, then score, then recency (most
// recent wins ties).
func stronger(a, b candidatePath) candidatePath {
	if b.rank != a.rank {
		if b.rank < a.rank {
			return b
		}
		return a
	}
	if b.path.WarmthScore != a.path.WarmthScore {
		if b.path.WarmthScore > a.path.WarmthScore {
			return b
		}
		return a
	}
	if b.recency.After(a.recency) {
		return b
	}
	return a
}

// RecordResponse feeds an outreach response back into recommender trust:
// the originating recommendation advances to responded, which raises that
// recommender's conversion weighting on future paths.
func (e *Engine) RecordResponse(recommendationID string) error {
	err := e.store.AdvanceRecommendation(recommendationID, storage.RecStatusResponded)
	if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrImmutable) {
		// Already responded or settled; nothing to feed back.
		return nil
	}
	return err
}

func mustDetails(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
