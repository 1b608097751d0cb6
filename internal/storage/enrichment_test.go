package storage

import (
	"sync"
	"testing"
	"time"
)

func saveConn(t *testing.T, s *Store, id string) {
	t.Helper()
	if _, err := s.SaveConnection(Connection{
		ID: id, CompanyID: "acme", ProfileURL: "https://example.com/in/" + id,
	}); err != nil {
		t.Fatalf("SaveConnection(%s): %v", id, err)
	}
}

func TestEnqueueEnrichmentIdempotentWhileOpen(t *testing.T) {
	s := openTestStore(t)
	saveConn(t, s, "c1")

	id1, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j1", ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	id2, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j2", ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if id1 != "j1" || id2 != "j1" {
		t.Errorf("open job should be reused: got %s, %s", id1, id2)
	}

	// Once the job completes, a fresh enqueue creates a new one.
	j, err := s.ClaimNextEnrichment("a1", time.Now())
	if err != nil || j == nil {
		t.Fatalf("ClaimNextEnrichment: j=%v err=%v", j, err)
	}
	if err := s.CompleteEnrichment(j.ID, `{"full_name":"Ada"}`); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}
	id3, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j3", ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("third enqueue: %v", err)
	}
	if id3 != "j3" {
		t.Errorf("completed job should not block re-enrichment, got %s", id3)
	}
}

func TestClaimOrderPriorityThenSchedule(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	saveConn(t, s, "c1")
	saveConn(t, s, "c2")
	saveConn(t, s, "c3")

	// c1 queued earliest but at default priority, c2 is high priority,
	// c3 is not due yet.
	mustEnqueue := func(id, conn string, priority int, at time.Time) {
		t.Helper()
		if _, err := s.EnqueueEnrichment(EnrichmentJob{
			ID: id, ConnectionID: conn, Priority: priority, ScheduledFor: at,
		}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	mustEnqueue("j1", "c1", 0, now.Add(-time.Hour))
	mustEnqueue("j2", "c2", 5, now.Add(-time.Minute))
	mustEnqueue("j3", "c3", 9, now.Add(time.Hour))

	first, err := s.ClaimNextEnrichment("a1", now)
	if err != nil || first == nil {
		t.Fatalf("first claim: j=%v err=%v", first, err)
	}
	if first.ID != "j2" {
		t.Errorf("first claim = %s, want j2 (priority wins)", first.ID)
	}

	second, err := s.ClaimNextEnrichment("a1", now)
	if err != nil || second == nil {
		t.Fatalf("second claim: j=%v err=%v", second, err)
	}
	if second.ID != "j1" {
		t.Errorf("second claim = %s, want j1", second.ID)
	}

	third, err := s.ClaimNextEnrichment("a1", now)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if third != nil {
		t.Errorf("future-scheduled job claimed early: %s", third.ID)
	}
}

func TestFailEnrichmentBackoffThenTerminal(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	saveConn(t, s, "c1")
	if _, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j1", ConnectionID: "c1", MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claim := func() {
		t.Helper()
		j, err := s.ClaimNextEnrichment("a1", now.Add(15*time.Minute))
		if err != nil || j == nil {
			t.Fatalf("claim: j=%v err=%v", j, err)
		}
	}

	claim()
	if err := s.FailEnrichment("j1", "timeout", time.Second, 10*time.Minute); err != nil {
		t.Fatalf("first fail: %v", err)
	}
	j, _ := s.GetEnrichmentJob("j1")
	if j.Status != EnrichRetry || j.Attempts != 1 {
		t.Fatalf("after first fail: status=%s attempts=%d", j.Status, j.Attempts)
	}
	// 2^1 x 1s backoff.
	delay := time.Until(j.ScheduledFor)
	if delay < time.Second || delay > 5*time.Second {
		t.Errorf("backoff delay = %v, want about 2s", delay)
	}

	claim()
	if err := s.FailEnrichment("j1", "timeout", time.Second, 10*time.Minute); err != nil {
		t.Fatalf("second fail: %v", err)
	}

	claim()
	if err := s.FailEnrichment("j1", "provider rejected", time.Second, 10*time.Minute); err != nil {
		t.Fatalf("third fail: %v", err)
	}
	j, _ = s.GetEnrichmentJob("j1")
	if j.Status != EnrichFailed || j.Attempts != 3 {
		t.Errorf("exhausted job: status=%s attempts=%d, want failed/3", j.Status, j.Attempts)
	}
	if j.LastError != "provider rejected" {
		t.Errorf("last error = %q", j.LastError)
	}
}

func TestFailEnrichmentBackoffCapped(t *testing.T) {
	s := openTestStore(t)
	saveConn(t, s, "c1")
	if _, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j1", ConnectionID: "c1", MaxAttempts: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j, err := s.ClaimNextEnrichment("a1", time.Now()); err != nil || j == nil {
		t.Fatalf("claim: j=%v err=%v", j, err)
	}

	// 2^1 x 1m = 2m, capped to 90s.
	if err := s.FailEnrichment("j1", "slow", time.Minute, 90*time.Second); err != nil {
		t.Fatalf("fail: %v", err)
	}
	j, _ := s.GetEnrichmentJob("j1")
	delay := time.Until(j.ScheduledFor)
	if delay > 95*time.Second {
		t.Errorf("backoff not capped: %v", delay)
	}
}

func TestReclaimStaleEnrichmentKeepsAttempts(t *testing.T) {
	s := openTestStore(t)
	saveConn(t, s, "c1")
	past := time.Now().Add(-30 * time.Minute)
	if _, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j1", ConnectionID: "c1", ScheduledFor: past}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j, err := s.ClaimNextEnrichment("a1", past); err != nil || j == nil {
		t.Fatalf("claim: j=%v err=%v", j, err)
	}

	n, err := s.ReclaimStaleEnrichment(15*time.Minute, time.Now())
	if err != nil {
		t.Fatalf("ReclaimStaleEnrichment: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed %d jobs, want 1", n)
	}

	j, _ := s.GetEnrichmentJob("j1")
	if j.Status != EnrichRetry || j.AccountID != "" {
		t.Errorf("reclaimed job not reset: status=%s account=%q", j.Status, j.AccountID)
	}
	if j.Attempts != 0 {
		t.Errorf("stale reclaim should not count as an attempt, got %d", j.Attempts)
	}
}

func TestClaimRefusesBusyAccount(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	saveConn(t, s, "c1")
	saveConn(t, s, "c2")
	for _, id := range []string{"j1", "j2"} {
		if _, err := s.EnqueueEnrichment(EnrichmentJob{ID: id, ConnectionID: "c" + id[1:]}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	first, err := s.ClaimNextEnrichment("a1", now)
	if err != nil || first == nil {
		t.Fatalf("first claim: j=%v err=%v", first, err)
	}

	// a1 already holds a processing job, so it must not be handed a second
	// even though j2 is claimable.
	second, err := s.ClaimNextEnrichment("a1", now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("account with an in-flight job claimed another: %s", second.ID)
	}

	// A different account is unaffected.
	other, err := s.ClaimNextEnrichment("a2", now)
	if err != nil || other == nil {
		t.Fatalf("other account claim: j=%v err=%v", other, err)
	}

	// Completing frees a1 for new work.
	if err := s.CompleteEnrichment(first.ID, `{}`); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}
	saveConn(t, s, "c3")
	if _, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j3", ConnectionID: "c3"}); err != nil {
		t.Fatalf("enqueue j3: %v", err)
	}
	freed, err := s.ClaimNextEnrichment("a1", now)
	if err != nil || freed == nil {
		t.Fatalf("claim after completion: j=%v err=%v", freed, err)
	}
}

func TestClaimNextEnrichmentConcurrentExclusive(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	saveConn(t, s, "c1")
	if _, err := s.EnqueueEnrichment(EnrichmentJob{ID: "j1", ConnectionID: "c1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const workers = 8
	var mu sync.Mutex
	var winners []string
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(account string) {
			defer wg.Done()
			j, err := s.ClaimNextEnrichment(account, now)
			if err != nil {
				t.Errorf("claim from %s: %v", account, err)
				return
			}
			if j != nil {
				mu.Lock()
				winners = append(winners, account)
				mu.Unlock()
			}
		}("a" + string(rune('0'+i)))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("%d workers claimed the single job: %v", len(winners), winners)
	}
	j, err := s.GetEnrichmentJob("j1")
	if err != nil {
		t.Fatalf("GetEnrichmentJob: %v", err)
	}
	if j.Status != EnrichProcessing || j.AccountID != winners[0] {
		t.Errorf("job bound to %q in status %s, winner was %q", j.AccountID, j.Status, winners[0])
	}
}
