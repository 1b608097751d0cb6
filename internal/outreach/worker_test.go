package outreach

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

type fakeSendStore struct {
	job      *storage.OutreachJob
	claimErr error
	session  storage.Session

	sent     []string
	failed   []string
	friction []string
}

func (f *fakeSendStore) ClaimNextOutreach(now time.Time) (*storage.OutreachJob, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	job := f.job
	f.job = nil
	return job, nil
}

func (f *fakeSendStore) MarkOutreachSent(id string, at time.Time) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeSendStore) FailOutreachJob(id, errMsg string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeSendStore) GetSession(id string) (storage.Session, error) {
	if f.session.ID == "" {
		return storage.Session{}, storage.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeSendStore) RecordSessionFriction(id string, at time.Time) (string, error) {
	f.friction = append(f.friction, id)
	return storage.HealthWarning, nil
}

type fakeSender struct {
	err   error
	calls int
}

func (s *fakeSender) SendMessage(ctx context.Context, session storage.Session, job storage.OutreachJob) error {
	s.calls++
	return s.err
}

func newFakeSendStore() *fakeSendStore {
	return &fakeSendStore{
		job:     &storage.OutreachJob{ID: "o1", SessionID: "s1", Message: "hello"},
		session: storage.Session{ID: "s1", Status: storage.SessionActive},
	}
}

// fast pacing so tests never sit in limiter.Wait.
func testConfig() Config {
	return Config{SendInterval: time.Millisecond, SendBurst: 1}
}

func TestSendSuccess(t *testing.T) {
	store := newFakeSendStore()
	sender := &fakeSender{}
	w := NewWorker(store, sender, testConfig())

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a processed job")
	}
	if sender.calls != 1 {
		t.Errorf("sender called %d times, want 1", sender.calls)
	}
	if len(store.sent) != 1 || store.sent[0] != "o1" {
		t.Errorf("sent = %v, want [o1]", store.sent)
	}
	if len(store.failed) != 0 || len(store.friction) != 0 {
		t.Errorf("unexpected failure bookkeeping: %v %v", store.failed, store.friction)
	}
}

func TestSendFailureIsTerminal(t *testing.T) {
	store := newFakeSendStore()
	sender := &fakeSender{err: errors.New("connection reset")}
	w := NewWorker(store, sender, testConfig())

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("a failed send still counts as processed")
	}
	if len(store.failed) != 1 {
		t.Errorf("failed = %v, want [o1]", store.failed)
	}
	if len(store.friction) != 0 {
		t.Error("ordinary failure must not record session friction")
	}
}

func TestFrictionDegradesSession(t *testing.T) {
	store := newFakeSendStore()
	sender := &fakeSender{err: ErrSessionFriction}
	w := NewWorker(store, sender, testConfig())

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(store.failed) != 1 {
		t.Errorf("friction should also fail the job, got %v", store.failed)
	}
	if len(store.friction) != 1 || store.friction[0] != "s1" {
		t.Errorf("friction = %v, want [s1]", store.friction)
	}
}

func TestEmptyQueue(t *testing.T) {
	store := newFakeSendStore()
	store.job = nil
	w := NewWorker(store, &fakeSender{}, testConfig())

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("empty queue should report no work")
	}
}

func TestCancelledDuringPacing(t *testing.T) {
	store := newFakeSendStore()
	sender := &fakeSender{}
	// Long interval with no burst: the first Wait blocks until cancel.
	w := NewWorker(store, sender, Config{SendInterval: time.Hour, SendBurst: 1})
	w.limiter.AllowN(time.Now(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.RunOnce(ctx); err == nil {
		t.Fatal("expected a context error")
	}
	if sender.calls != 0 {
		t.Error("cancelled claim must not send")
	}
}
