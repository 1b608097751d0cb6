package sweep

import (
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	enrichErr error

	enrichStaleness time.Duration
	outreachCalled  bool
	accountsCalled  bool
	sessionsCalled  bool
}

func (f *fakeStore) ReclaimStaleEnrichment(staleness time.Duration, now time.Time) (int, error) {
	f.enrichStaleness = staleness
	return 1, f.enrichErr
}

func (f *fakeStore) ReclaimStaleOutreach(staleness time.Duration, now time.Time) (int, error) {
	f.outreachCalled = true
	return 0, nil
}

func (f *fakeStore) ActivateAgedAccounts(agingPeriod time.Duration, now time.Time) (int, error) {
	f.accountsCalled = true
	return 2, nil
}

func (f *fakeStore) RecoverWarningSessions(recovery time.Duration, now time.Time) (int, error) {
	f.sessionsCalled = true
	return 0, nil
}

func TestSweepRunsAllSteps(t *testing.T) {
	store := &fakeStore{}
	j := NewJanitor(store, Config{})

	j.Sweep(time.Now())

	if !store.outreachCalled || !store.accountsCalled || !store.sessionsCalled {
		t.Errorf("steps skipped: outreach=%v accounts=%v sessions=%v",
			store.outreachCalled, store.accountsCalled, store.sessionsCalled)
	}
	if store.enrichStaleness != 15*time.Minute {
		t.Errorf("enrichment staleness = %v, want default 15m", store.enrichStaleness)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	store := &fakeStore{enrichErr: errors.New("database locked")}
	j := NewJanitor(store, Config{})

	j.Sweep(time.Now())

	if !store.outreachCalled || !store.accountsCalled || !store.sessionsCalled {
		t.Error("a failing step must not stop the sweep")
	}
}

func TestConfigDefaults(t *testing.T) {
	j := NewJanitor(&fakeStore{}, Config{OutreachStaleness: 5 * time.Minute})
	if j.cfg.OutreachStaleness != 5*time.Minute {
		t.Errorf("explicit value overridden: %v", j.cfg.OutreachStaleness)
	}
	def := DefaultConfig()
	if j.cfg.Interval != def.Interval || j.cfg.AccountAgingPeriod != def.AccountAgingPeriod {
		t.Errorf("defaults not filled: %+v", j.cfg)
	}
}
