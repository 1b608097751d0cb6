// Package readiness converts timing signals (tenure, vesting cliffs,
// layoffs, manager departures) into a readiness score and urgency class.
// Scoring is a pure function: identical inputs always produce identical
// outputs, so recomputes are idempotent.
package readiness

import (
	"strings"
	"time"
)

// Weights and thresholds tune the additive scoring model.
type Weights struct {
	// VestingWindow is how far ahead of a 1-year or 4-year vesting
	// anniversary the cliff signal fires.
	VestingWindow time.Duration
	// LayoffWindow is how far back a company-wide layoff still counts.
	LayoffWindow time.Duration

	VestingCliff     float64
	Layoff           float64
	ManagerDeparture float64
	TitleKeyword     float64

	HighThreshold   float64
	MediumThreshold float64
}

// DefaultWeights returns the documented defaults: 60-day vesting window,
// 90-day layoff window, layoff weighted heaviest.
func DefaultWeights() Weights {
	return Weights{
		VestingWindow:    60 * 24 * time.Hour,
		LayoffWindow:     90 * 24 * time.Hour,
		VestingCliff:     0.35,
		Layoff:           0.45,
		ManagerDeparture: 0.30,
		TitleKeyword:     0.15,
		HighThreshold:    0.70,
		MediumThreshold:  0.40,
	}
}

// title fragments suggesting a transitional role.
var interimKeywords = []string{"interim", "advisory", "advisor", "acting", "fractional", "consulting"}

// Urgency classes.
const (
	High   = "high"
	Medium = "medium"
	Low    = "low"
	Wait   = "wait"
)

// Signal is the raw input set for one person.
type Signal struct {
	EmploymentStart time.Time
	LastLayoffAt    time.Time
	ManagerDeparted bool
	ManagerDepartAt time.Time
	Title           string
}

// Result is the derived readiness output.
type Result struct {
	Score   float64
	Urgency string
}

// Score applies the additive rules and clamps to [0, 1].
//
// The wait class is returned only when the person's next vesting cliff has
// not yet opened and no other signal fires: reaching out before the cliff
// window wastes the strongest timing lever.
func Score(sig Signal, w Weights, now time.Time) Result {
	var score float64
	fired := false

	cliffOpen, cliffFired := vestingCliffState(sig.EmploymentStart, w.VestingWindow, now)
	if cliffFired {
		score += w.VestingCliff
		fired = true
	}

	if !sig.LastLayoffAt.IsZero() && now.Sub(sig.LastLayoffAt) <= w.LayoffWindow && !sig.LastLayoffAt.After(now) {
		score += w.Layoff
		fired = true
	}

	if sig.ManagerDeparted {
		score += w.ManagerDeparture
		fired = true
	}

	if hasInterimTitle(sig.Title) {
		score += w.TitleKeyword
		fired = true
	}

	if score > 1 {
		score = 1
	}

	urgency := Low
	switch {
	case !fired && !cliffOpen && !sig.EmploymentStart.IsZero():
		urgency = Wait
	case score >= w.HighThreshold:
		urgency = High
	case score >= w.MediumThreshold:
		urgency = Medium
	}

	return Result{Score: score, Urgency: urgency}
}

// vestingCliffState reports whether the first cliff window has opened at
// all (tenure within VestingWindow of the 1-year mark or beyond) and
// whether a 1-year or 4-year anniversary falls inside the window right
// now.
func vestingCliffState(start time.Time, window time.Duration, now time.Time) (open, fired bool) {
	if start.IsZero() || start.After(now) {
		return true, false
	}

	firstCliff := start.AddDate(1, 0, 0)
	open = !now.Before(firstCliff.Add(-window))

	for _, years := range []int{1, 4} {
		anniversary := start.AddDate(years, 0, 0)
		delta := anniversary.Sub(now)
		if delta >= -window && delta <= window {
			return open, true
		}
	}
	return open, false
}

func hasInterimTitle(title string) bool {
	t := strings.ToLower(title)
	for _, kw := range interimKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
