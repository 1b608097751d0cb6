// Package outreach runs the approval-gated send queue. Every message here
// was explicitly approved by a human; the worker only paces and delivers.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/intronet/warmpath/internal/storage"
)

// JobStore abstracts the queue and session operations the worker needs.
type JobStore interface {
	ClaimNextOutreach(now time.Time) (*storage.OutreachJob, error)
	MarkOutreachSent(id string, at time.Time) error
	FailOutreachJob(id, errMsg string) error
	GetSession(id string) (storage.Session, error)
	RecordSessionFriction(id string, at time.Time) (string, error)
}

// Sender delivers an approved message through the owning user session.
// Implementations resolve the session's credential handle externally; the
// worker never sees plaintext credentials.
type Sender interface {
	SendMessage(ctx context.Context, session storage.Session, job storage.OutreachJob) error
}

// ErrSessionFriction marks a send rejected by the platform in a way that
// suggests automation detection. It degrades session health on top of
// failing the job.
var ErrSessionFriction = errors.New("session friction")

// Config tunes worker behavior.
type Config struct {
	PollInterval time.Duration
	// SendInterval is the minimum gap between consecutive sends across
	// all sessions. Human-speed pacing, not throughput tuning.
	SendInterval time.Duration
	SendBurst    int
}

// Worker delivers scheduled outreach jobs at a human-plausible pace.
type Worker struct {
	store   JobStore
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWorker creates a Worker. Defaults: 1s poll, one send per 45s, no burst.
func NewWorker(store JobStore, sender Sender, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 45 * time.Second
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	return &Worker{
		store:   store,
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), cfg.SendBurst),
		logger:  slog.Default(),
	}
}

// Run polls for due jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("outreach worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce claims and sends a single due job. Returns true if a job was
// processed, regardless of delivery outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextOutreach(time.Now())
	if err != nil {
		return false, fmt.Errorf("claiming outreach job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// Pacing happens after the claim so the quota slot is already held.
	if err := w.limiter.Wait(ctx); err != nil {
		// Shutting down mid-claim: the janitor reaps the stale claim.
		return false, err
	}

	if err := w.send(ctx, job); err != nil {
		w.logger.Warn("outreach send failed",
			"job_id", job.ID, "session_id", job.SessionID, "error", err)
		if failErr := w.store.FailOutreachJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark outreach as failed", "job_id", job.ID, "error", failErr)
		}
		if errors.Is(err, ErrSessionFriction) {
			health, healthErr := w.store.RecordSessionFriction(job.SessionID, time.Now())
			if healthErr != nil {
				w.logger.Error("failed to record session friction",
					"session_id", job.SessionID, "error", healthErr)
			} else {
				w.logger.Warn("session health degraded",
					"session_id", job.SessionID, "health", health)
			}
		}
		return true, nil
	}

	if err := w.store.MarkOutreachSent(job.ID, time.Now()); err != nil {
		w.logger.Error("failed to mark outreach as sent", "job_id", job.ID, "error", err)
	}
	w.logger.Info("outreach sent", "job_id", job.ID, "session_id", job.SessionID)
	return true, nil
}

func (w *Worker) send(ctx context.Context, job *storage.OutreachJob) error {
	session, err := w.store.GetSession(job.SessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", job.SessionID, err)
	}
	if err := w.sender.SendMessage(ctx, session, *job); err != nil {
		return fmt.Errorf("delivering message: %w", err)
	}
	return nil
}
