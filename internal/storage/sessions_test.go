package storage

import (
	"errors"
	"testing"
	"time"
)

func createTestSession(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateSession(Session{
		ID: id, CompanyID: "acme", UserID: "user-" + id,
		CredentialHandle: "vault://sessions/" + id,
	}); err != nil {
		t.Fatalf("CreateSession(%s): %v", id, err)
	}
}

func warmSession(t *testing.T, s *Store, id string) {
	t.Helper()
	createTestSession(t, s, id)
	if err := s.AdvanceSessionLifecycle(id, SessionWarming); err != nil {
		t.Fatalf("to warming: %v", err)
	}
	if err := s.AdvanceSessionLifecycle(id, SessionWarmed); err != nil {
		t.Fatalf("to warmed: %v", err)
	}
}

func TestSessionWarmingLifecycle(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "s1")

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Lifecycle != SessionPending || sess.Status != SessionPaused || sess.Health != HealthHealthy {
		t.Errorf("unexpected initial state: %+v", sess)
	}
	if sess.DailyMessageCap != 50 || sess.DailyEnrichmentCap != 100 {
		t.Errorf("default caps not applied: %+v", sess)
	}

	// pending -> warmed skips warming, must fail.
	if err := s.AdvanceSessionLifecycle("s1", SessionWarmed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> warmed should fail, got %v", err)
	}

	if err := s.AdvanceSessionLifecycle("s1", SessionWarming); err != nil {
		t.Fatalf("to warming: %v", err)
	}
	if err := s.AdvanceSessionLifecycle("s1", SessionWarmed); err != nil {
		t.Fatalf("to warmed: %v", err)
	}

	sess, _ = s.GetSession("s1")
	if sess.Status != SessionActive {
		t.Errorf("reaching warmed should activate the session, status = %s", sess.Status)
	}
}

func TestSessionStatusRequiresWarmed(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "s1")

	if err := s.SetSessionStatus("s1", SessionPaused); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("status change before warmed should fail, got %v", err)
	}
}

func TestSessionFrictionDegradesHealth(t *testing.T) {
	s := openTestStore(t)
	warmSession(t, s, "s1")
	now := time.Now()

	health, err := s.RecordSessionFriction("s1", now)
	if err != nil {
		t.Fatalf("first friction: %v", err)
	}
	if health != HealthWarning {
		t.Errorf("after first friction health = %s, want warning", health)
	}

	health, err = s.RecordSessionFriction("s1", now)
	if err != nil {
		t.Fatalf("second friction: %v", err)
	}
	if health != HealthRestricted {
		t.Errorf("after second friction health = %s, want restricted", health)
	}

	sess, _ := s.GetSession("s1")
	if sess.FrictionCount != 2 {
		t.Errorf("friction count = %d, want 2", sess.FrictionCount)
	}
}

func TestWarningSessionRecoversAfterQuietPeriod(t *testing.T) {
	s := openTestStore(t)
	warmSession(t, s, "s1")

	frictionAt := time.Now().Add(-48 * time.Hour)
	if _, err := s.RecordSessionFriction("s1", frictionAt); err != nil {
		t.Fatalf("RecordSessionFriction: %v", err)
	}

	n, err := s.RecoverWarningSessions(24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("RecoverWarningSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d sessions, want 1", n)
	}

	sess, _ := s.GetSession("s1")
	if sess.Health != HealthHealthy {
		t.Errorf("health = %s, want healthy", sess.Health)
	}
}

func TestRestrictedSessionDoesNotAutoRecover(t *testing.T) {
	s := openTestStore(t)
	warmSession(t, s, "s1")

	old := time.Now().Add(-72 * time.Hour)
	s.RecordSessionFriction("s1", old)
	s.RecordSessionFriction("s1", old)

	n, err := s.RecoverWarningSessions(24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("RecoverWarningSessions: %v", err)
	}
	if n != 0 {
		t.Errorf("restricted session auto-recovered (%d rows)", n)
	}

	// Manual reset is the only way out of restricted.
	if err := s.ResetSessionHealth("s1"); err != nil {
		t.Fatalf("ResetSessionHealth: %v", err)
	}
	sess, _ := s.GetSession("s1")
	if sess.Health != HealthHealthy || sess.FrictionCount != 0 {
		t.Errorf("reset incomplete: %+v", sess)
	}
}
