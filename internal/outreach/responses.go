package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intronet/warmpath/internal/storage"
)

// ResponseStore abstracts the rows the poller reads and writes.
type ResponseStore interface {
	ListSentAwaitingResponse(limit int) ([]storage.OutreachJob, error)
	RecordOutreachResponse(id string, at time.Time) (recommendationID string, err error)
	GetSession(id string) (storage.Session, error)
}

// ResponseChecker reports whether a sent message has been answered.
type ResponseChecker interface {
	HasResponse(ctx context.Context, session storage.Session, job storage.OutreachJob) (bool, time.Time, error)
}

// TrustFeedback receives the recommendation behind an answered outreach so
// the recommender's conversion history reflects the outcome.
type TrustFeedback interface {
	RecordResponse(recommendationID string) error
}

// ResponsePoller periodically checks sent messages for replies and feeds
// confirmed responses back into recommender trust.
type ResponsePoller struct {
	store    ResponseStore
	checker  ResponseChecker
	feedback TrustFeedback
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewResponsePoller creates a poller. Defaults: 15m interval, 50 per sweep.
func NewResponsePoller(store ResponseStore, checker ResponseChecker, feedback TrustFeedback, interval time.Duration) *ResponsePoller {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &ResponsePoller{
		store:    store,
		checker:  checker,
		feedback: feedback,
		interval: interval,
		batch:    50,
		logger:   slog.Default(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (p *ResponsePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil {
				p.logger.Error("response sweep failed", "error", err)
			}
		}
	}
}

// Sweep checks one batch of unanswered sent jobs. Returns the number of
// newly recorded responses.
func (p *ResponsePoller) Sweep(ctx context.Context) (int, error) {
	jobs, err := p.store.ListSentAwaitingResponse(p.batch)
	if err != nil {
		return 0, fmt.Errorf("listing sent jobs: %w", err)
	}

	recorded := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return recorded, err
		}

		session, err := p.store.GetSession(job.SessionID)
		if err != nil {
			p.logger.Warn("response check skipped, session unavailable",
				"job_id", job.ID, "session_id", job.SessionID, "error", err)
			continue
		}

		answered, at, err := p.checker.HasResponse(ctx, session, job)
		if err != nil {
			p.logger.Warn("response check failed", "job_id", job.ID, "error", err)
			continue
		}
		if !answered {
			continue
		}
		if at.IsZero() {
			at = time.Now()
		}

		recID, err := p.store.RecordOutreachResponse(job.ID, at)
		if err != nil {
			p.logger.Error("failed to record response", "job_id", job.ID, "error", err)
			continue
		}
		recorded++
		p.logger.Info("outreach response recorded", "job_id", job.ID)

		if recID != "" && p.feedback != nil {
			if err := p.feedback.RecordResponse(recID); err != nil {
				p.logger.Error("trust feedback failed",
					"job_id", job.ID, "recommendation_id", recID, "error", err)
			}
		}
	}
	return recorded, nil
}
