package storage

import (
	"errors"
	"testing"
	"time"
)

func createActiveAccount(t *testing.T, s *Store, id string, dailyCap int) {
	t.Helper()
	if err := s.CreateScraperAccount(ScraperAccount{
		ID: id, CredentialHandle: "vault://accounts/" + id,
		DailyCap: dailyCap, AgingStartedAt: time.Now().AddDate(0, 0, -30),
	}); err != nil {
		t.Fatalf("CreateScraperAccount(%s): %v", id, err)
	}
	if _, err := s.ActivateAgedAccounts(7*24*time.Hour, time.Now()); err != nil {
		t.Fatalf("ActivateAgedAccounts: %v", err)
	}
}

func claimJobFor(t *testing.T, s *Store, accountID, connID string, at time.Time) *EnrichmentJob {
	t.Helper()
	if _, err := s.SaveConnection(Connection{
		ID: "conn-" + connID, CompanyID: "acme",
		ProfileURL: "https://example.com/in/" + connID,
	}); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	if _, err := s.EnqueueEnrichment(EnrichmentJob{
		ID: "job-" + connID, ConnectionID: "conn-" + connID, ScheduledFor: at,
	}); err != nil {
		t.Fatalf("EnqueueEnrichment: %v", err)
	}
	j, err := s.ClaimNextEnrichment(accountID, at)
	if err != nil {
		t.Fatalf("ClaimNextEnrichment: %v", err)
	}
	if j == nil {
		t.Fatal("expected a claimable job")
	}
	return j
}

func TestAgingAccountsActivateAfterPeriod(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if err := s.CreateScraperAccount(ScraperAccount{
		ID: "old", CredentialHandle: "vault://accounts/old",
		AgingStartedAt: now.AddDate(0, 0, -8),
	}); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := s.CreateScraperAccount(ScraperAccount{
		ID: "fresh", CredentialHandle: "vault://accounts/fresh",
	}); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	n, err := s.ActivateAgedAccounts(7*24*time.Hour, now)
	if err != nil {
		t.Fatalf("ActivateAgedAccounts: %v", err)
	}
	if n != 1 {
		t.Errorf("activated %d accounts, want 1", n)
	}

	old, _ := s.GetScraperAccount("old")
	fresh, _ := s.GetScraperAccount("fresh")
	if old.Status != AccountActive {
		t.Errorf("old status = %s, want active", old.Status)
	}
	if fresh.Status != AccountAging {
		t.Errorf("fresh status = %s, want aging", fresh.Status)
	}
}

func TestAssignAccountPrefersLeastWorked(t *testing.T) {
	s := openTestStore(t)
	createActiveAccount(t, s, "a1", 80)
	createActiveAccount(t, s, "a2", 80)
	now := time.Now()

	// a1 did one job today and completed it, a2 is idle.
	j := claimJobFor(t, s, "a1", "x1", now)
	if err := s.CompleteEnrichment(j.ID, "{}"); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}

	got, err := s.AssignAccount(now)
	if err != nil {
		t.Fatalf("AssignAccount: %v", err)
	}
	if got.ID != "a2" {
		t.Errorf("assigned %s, want a2", got.ID)
	}
}

func TestAssignAccountSkipsInFlight(t *testing.T) {
	s := openTestStore(t)
	createActiveAccount(t, s, "a1", 80)
	now := time.Now()

	// a1 still has its job in processing, so the pool is exhausted.
	claimJobFor(t, s, "a1", "x1", now)

	if _, err := s.AssignAccount(now); !errors.Is(err, ErrNotFound) {
		t.Errorf("account with in-flight job should be skipped, got %v", err)
	}
}

func TestAssignAccountRespectsDailyCap(t *testing.T) {
	s := openTestStore(t)
	createActiveAccount(t, s, "a1", 1)
	now := time.Now()

	j := claimJobFor(t, s, "a1", "x1", now)
	if err := s.CompleteEnrichment(j.ID, "{}"); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}

	if _, err := s.AssignAccount(now); !errors.Is(err, ErrNotFound) {
		t.Errorf("account at its daily cap should be skipped, got %v", err)
	}
}

func TestAccountFailureThresholds(t *testing.T) {
	s := openTestStore(t)
	createActiveAccount(t, s, "a1", 80)
	now := time.Now()

	for i := 0; i < 2; i++ {
		status, _, err := s.RecordAccountFailure("a1", 3, 4)
		if err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if status != AccountActive {
			t.Errorf("after %d failures status = %s, want active", i+1, status)
		}
	}

	status, _, err := s.RecordAccountFailure("a1", 3, 4)
	if err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if status != AccountWarned {
		t.Errorf("after 3 failures status = %s, want warned", status)
	}

	// Give the account an in-flight job so the ban has something to requeue.
	j := claimJobFor(t, s, "a1", "x1", now)

	status, requeued, err := s.RecordAccountFailure("a1", 3, 4)
	if err != nil {
		t.Fatalf("fourth failure: %v", err)
	}
	if status != AccountBanned {
		t.Errorf("after 4 failures status = %s, want banned", status)
	}
	if requeued != 1 {
		t.Errorf("requeued %d jobs, want 1", requeued)
	}

	job, err := s.GetEnrichmentJob(j.ID)
	if err != nil {
		t.Fatalf("GetEnrichmentJob: %v", err)
	}
	if job.Status != EnrichPending || job.AccountID != "" {
		t.Errorf("requeued job not reset: status=%s account=%q", job.Status, job.AccountID)
	}
}

func TestAccountSuccessClearsWarning(t *testing.T) {
	s := openTestStore(t)
	createActiveAccount(t, s, "a1", 80)

	for i := 0; i < 3; i++ {
		if _, _, err := s.RecordAccountFailure("a1", 3, 4); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}

	if err := s.RecordAccountSuccess("a1"); err != nil {
		t.Fatalf("RecordAccountSuccess: %v", err)
	}

	a, _ := s.GetScraperAccount("a1")
	if a.Status != AccountActive || a.ConsecutiveFailures != 0 {
		t.Errorf("success did not clear warning: %+v", a)
	}
	if a.TotalScraped != 1 {
		t.Errorf("total scraped = %d, want 1", a.TotalScraped)
	}
}

func TestTerminalAccountsImmutable(t *testing.T) {
	s := openTestStore(t)
	createActiveAccount(t, s, "a1", 80)

	if err := s.RetireAccount("a1"); err != nil {
		t.Fatalf("RetireAccount: %v", err)
	}
	if err := s.RetireAccount("a1"); !errors.Is(err, ErrImmutable) {
		t.Errorf("double retire should fail, got %v", err)
	}
	if _, _, err := s.RecordAccountFailure("a1", 3, 4); !errors.Is(err, ErrImmutable) {
		t.Errorf("failure on retired account should fail, got %v", err)
	}
	if err := s.RecordAccountSuccess("a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("success on retired account should be a no-op, got %v", err)
	}
}
