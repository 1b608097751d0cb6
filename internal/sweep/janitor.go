// Package sweep runs the periodic housekeeping pass: reaping stale claims,
// graduating aged pool accounts, and recovering warned sessions.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Store abstracts the maintenance operations the janitor drives.
type Store interface {
	ReclaimStaleEnrichment(staleness time.Duration, now time.Time) (int, error)
	ReclaimStaleOutreach(staleness time.Duration, now time.Time) (int, error)
	ActivateAgedAccounts(agingPeriod time.Duration, now time.Time) (int, error)
	RecoverWarningSessions(recovery time.Duration, now time.Time) (int, error)
}

// Config tunes the sweep cadence and windows.
type Config struct {
	Interval time.Duration
	// EnrichmentStaleness is how long a processing claim may sit before it
	// is treated as abandoned and requeued.
	EnrichmentStaleness time.Duration
	// OutreachStaleness is how long a sending claim may sit before it is
	// failed. Outreach is never silently retried.
	OutreachStaleness time.Duration
	// AccountAgingPeriod is the mandatory rest before a new pool account
	// takes work.
	AccountAgingPeriod time.Duration
	// SessionRecovery is how long after the last friction event a warning
	// session heals on its own.
	SessionRecovery time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            time.Minute,
		EnrichmentStaleness: 15 * time.Minute,
		OutreachStaleness:   10 * time.Minute,
		AccountAgingPeriod:  7 * 24 * time.Hour,
		SessionRecovery:     24 * time.Hour,
	}
}

// Janitor runs the housekeeping pass on an interval.
type Janitor struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

func NewJanitor(store Store, cfg Config) *Janitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.EnrichmentStaleness <= 0 {
		cfg.EnrichmentStaleness = def.EnrichmentStaleness
	}
	if cfg.OutreachStaleness <= 0 {
		cfg.OutreachStaleness = def.OutreachStaleness
	}
	if cfg.AccountAgingPeriod <= 0 {
		cfg.AccountAgingPeriod = def.AccountAgingPeriod
	}
	if cfg.SessionRecovery <= 0 {
		cfg.SessionRecovery = def.SessionRecovery
	}
	return &Janitor{store: store, cfg: cfg, logger: slog.Default()}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(time.Now())
		}
	}
}

// Sweep performs one housekeeping pass. Each step runs even if an earlier
// one fails; failures are logged, not fatal.
func (j *Janitor) Sweep(now time.Time) {
	if n, err := j.store.ReclaimStaleEnrichment(j.cfg.EnrichmentStaleness, now); err != nil {
		j.logger.Error("reclaiming stale enrichment claims failed", "error", err)
	} else if n > 0 {
		j.logger.Info("requeued stale enrichment claims", "count", n)
	}

	if n, err := j.store.ReclaimStaleOutreach(j.cfg.OutreachStaleness, now); err != nil {
		j.logger.Error("reaping stale outreach claims failed", "error", err)
	} else if n > 0 {
		j.logger.Warn("failed stale outreach claims", "count", n)
	}

	if n, err := j.store.ActivateAgedAccounts(j.cfg.AccountAgingPeriod, now); err != nil {
		j.logger.Error("activating aged accounts failed", "error", err)
	} else if n > 0 {
		j.logger.Info("activated aged scraper accounts", "count", n)
	}

	if n, err := j.store.RecoverWarningSessions(j.cfg.SessionRecovery, now); err != nil {
		j.logger.Error("recovering warning sessions failed", "error", err)
	} else if n > 0 {
		j.logger.Info("recovered warning sessions", "count", n)
	}
}
