package warmth

import (
	"math"
	"testing"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

func TestTrustMultiplier(t *testing.T) {
	cases := []struct {
		name string
		st   storage.RecommenderStats
		want float64
	}{
		{"no history", storage.RecommenderStats{}, 1.0},
		{"all converted", storage.RecommenderStats{Converted: 4, Total: 4}, 1.5},
		{"all declined", storage.RecommenderStats{Declined: 4, Total: 4}, 0.5},
		{"mixed", storage.RecommenderStats{Converted: 1, Declined: 1, Total: 4}, 1.0},
		{"responded counts half", storage.RecommenderStats{Responded: 2, Total: 2}, 1.25},
	}
	for _, tc := range cases {
		if got := trustMultiplier(tc.st); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: trustMultiplier = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRangeOverlap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	y := func(year int) time.Time { return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC) }

	// Disjoint intervals have no overlap.
	d, _ := rangeOverlap(y(2015), y(2017), y(2018), y(2020), now)
	if d != 0 {
		t.Errorf("disjoint overlap = %v, want 0", d)
	}

	// Partial overlap is the intersection, ending when the earlier stint ends.
	d, end := rangeOverlap(y(2015), y(2019), y(2017), y(2022), now)
	if wantDays := 730; int(d.Hours()/24) != wantDays {
		t.Errorf("overlap days = %d, want %d", int(d.Hours()/24), wantDays)
	}
	if !end.Equal(y(2019)) {
		t.Errorf("overlap end = %v, want 2019", end)
	}

	// Open-ended stints run until now.
	d, end = rangeOverlap(y(2024), time.Time{}, y(2025), time.Time{}, now)
	if !end.Equal(now) {
		t.Errorf("open-ended end = %v, want now", end)
	}
	if d != now.Sub(y(2025)) {
		t.Errorf("open-ended overlap = %v", d)
	}
}

func TestRecencyComponentHalves(t *testing.T) {
	e := NewEngine(nil, Config{})
	now := time.Now()

	if got := e.recencyComponent(now, now); got != 1.0 {
		t.Errorf("recency at now = %v, want 1.0", got)
	}
	halfLife := DefaultConfig().RecencyHalfLife
	got := e.recencyComponent(now.Add(-halfLife), now)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("recency after one half-life = %v, want 0.5", got)
	}
	got = e.recencyComponent(now.Add(-2*halfLife), now)
	if math.Abs(got-0.25) > 1e-9 {
		t.Errorf("recency after two half-lives = %v, want 0.25", got)
	}
}

func TestOverlapComponentMonotoneAndCapped(t *testing.T) {
	e := NewEngine(nil, Config{})

	day := 24 * time.Hour
	prev := 0.0
	for _, d := range []time.Duration{30 * day, 365 * day, 3 * 365 * day, 5 * 365 * day} {
		got := e.overlapComponent(d)
		if got < prev {
			t.Errorf("overlapComponent not monotone at %v: %v < %v", d, got, prev)
		}
		prev = got
	}
	atCap := e.overlapComponent(5 * 365 * day)
	beyond := e.overlapComponent(20 * 365 * day)
	if beyond != atCap {
		t.Errorf("overlap beyond cap = %v, want %v", beyond, atCap)
	}
	if math.Abs(atCap-1.0) > 1e-9 {
		t.Errorf("overlap at cap = %v, want 1.0", atCap)
	}
}

func TestStrongerOrdering(t *testing.T) {
	now := time.Now()
	rec := candidatePath{rank: rankRecommendation, path: storage.WarmPath{WarmthScore: 0.4}}
	colleague := candidatePath{rank: rankColleague, path: storage.WarmPath{WarmthScore: 0.9}}

	// Path class beats raw score.
	if got := stronger(colleague, rec); got.rank != rankRecommendation {
		t.Errorf("recommendation should beat higher-scoring colleague, got rank %d", got.rank)
	}

	// Same class: score decides.
	weak := candidatePath{rank: rankColleague, path: storage.WarmPath{WarmthScore: 0.3}}
	if got := stronger(weak, colleague); got.path.WarmthScore != 0.9 {
		t.Errorf("higher score should win within a class")
	}

	// Same class and score: recency decides.
	older := candidatePath{rank: rankSchool, path: storage.WarmPath{WarmthScore: 0.2}, recency: now.Add(-time.Hour)}
	newer := candidatePath{rank: rankSchool, path: storage.WarmPath{WarmthScore: 0.2}, recency: now}
	if got := stronger(older, newer); !got.recency.Equal(now) {
		t.Errorf("more recent path should win ties")
	}
}

func TestTierBuckets(t *testing.T) {
	cases := []struct {
		score  float64
		direct bool
		want   int
	}{
		{0, true, 1},
		{0.9, false, 1},
		{0.75, false, 1},
		{0.5, false, 2},
		{0.25, false, 2},
		{0.1, false, 3},
	}
	for _, tc := range cases {
		if got := tierFor(tc.score, tc.direct); got != tc.want {
			t.Errorf("tierFor(%v, %v) = %d, want %d", tc.score, tc.direct, got, tc.want)
		}
	}
}
