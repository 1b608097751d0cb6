package warmth

import (
	"math"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

// Component weights for the warmth formula. Overlap duration dominates,
// recency decays it, and the via person's recommendation track record
// scales the whole path.
const (
	colleagueOverlapWeight = 0.45
	colleagueRecencyWeight = 0.35
	schoolOverlapWeight    = 0.25
	schoolRecencyWeight    = 0.15
	recommendationBase     = 0.5
	recommendationRecency  = 0.3
)

// intervalOverlap returns the intersection of two employment stints and
// the moment the shared period ended (now when both are open-ended).
func intervalOverlap(a, b storage.EmploymentRecord, now time.Time) (time.Duration, time.Time) {
	return rangeOverlap(a.StartDate, a.EndDate, b.StartDate, b.EndDate, now)
}

func educationOverlap(a, b storage.EducationRecord, now time.Time) (time.Duration, time.Time) {
	return rangeOverlap(a.StartDate, a.EndDate, b.StartDate, b.EndDate, now)
}

func rangeOverlap(aStart, aEnd, bStart, bEnd time.Time, now time.Time) (time.Duration, time.Time) {
	if aEnd.IsZero() {
		aEnd = now
	}
	if bEnd.IsZero() {
		bEnd = now
	}
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0, time.Time{}
	}
	return end.Sub(start), end
}

// overlapComponent is capped and log-scaled: the first year together
// matters far more than the fifth. Monotonically non-decreasing in
// overlap duration, in [0, 1].
func (e *Engine) overlapComponent(overlap time.Duration) float64 {
	if overlap > e.cfg.OverlapCap {
		overlap = e.cfg.OverlapCap
	}
	days := overlap.Hours() / 24
	capDays := e.cfg.OverlapCap.Hours() / 24
	return math.Log1p(days) / math.Log1p(capDays)
}

// recencyComponent halves every configured half-life since the last
// interaction. Monotonically non-increasing in elapsed time, in (0, 1].
func (e *Engine) recencyComponent(last, now time.Time) float64 {
	if last.IsZero() || !last.Before(now) {
		return 1.0
	}
	elapsed := now.Sub(last)
	return math.Pow(0.5, float64(elapsed)/float64(e.cfg.RecencyHalfLife))
}

// trustMultiplier converts a recommender's historical outcomes into a
// scaling factor in [0.5, 1.5]. Converted recommendations raise future
// weight from that recommender, declined ones lower it; no history means
// a neutral 1.0.
func trustMultiplier(st storage.RecommenderStats) float64 {
	if st.Total == 0 {
		return 1.0
	}
	signal := (float64(st.Converted) + 0.5*float64(st.Responded) - float64(st.Declined)) / float64(st.Total)
	m := 1.0 + 0.5*signal
	if m < 0.5 {
		return 0.5
	}
	if m > 1.5 {
		return 1.5
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Engine) colleagueScore(viaPersonID string, overlap time.Duration, lastInteraction, now time.Time) (float64, error) {
	st, err := e.store.GetRecommenderStats(viaPersonID)
	if err != nil {
		return 0, err
	}
	base := colleagueOverlapWeight*e.overlapComponent(overlap) +
		colleagueRecencyWeight*e.recencyComponent(lastInteraction, now)
	return clamp01(base * trustMultiplier(st)), nil
}

func (e *Engine) schoolScore(viaPersonID string, overlap time.Duration, lastInteraction, now time.Time) (float64, error) {
	st, err := e.store.GetRecommenderStats(viaPersonID)
	if err != nil {
		return 0, err
	}
	base := schoolOverlapWeight*e.overlapComponent(overlap) +
		schoolRecencyWeight*e.recencyComponent(lastInteraction, now)
	return clamp01(base * trustMultiplier(st)), nil
}

func (e *Engine) recommendationScore(rec storage.Recommendation, now time.Time) (float64, error) {
	st, err := e.store.GetRecommenderStats(rec.RecommenderID)
	if err != nil {
		return 0, err
	}
	base := recommendationBase + recommendationRecency*e.recencyComponent(rec.UpdatedAt, now)
	return clamp01(base * trustMultiplier(st)), nil
}

// tierFor buckets a warmth score: tier 1 for direct network membership or
// warmth >= 0.75, tier 2 for [0.25, 0.75), tier 3 otherwise.
func tierFor(score float64, direct bool) int {
	switch {
	case direct || score >= 0.75:
		return 1
	case score >= 0.25:
		return 2
	default:
		return 3
	}
}
