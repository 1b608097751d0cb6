// Package enrich runs the enrichment queue: claiming jobs, binding them to
// pool accounts, and recording outcomes with retry/backoff.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/intronet/warmpath/internal/storage"
)

// ErrProviderFriction marks a scrape blocked by the target platform.
// Friction degrades account health faster than an ordinary failure would.
var ErrProviderFriction = errors.New("provider friction")

// JobStore abstracts the queue and pool operations the worker needs.
type JobStore interface {
	ClaimNextEnrichment(accountID string, now time.Time) (*storage.EnrichmentJob, error)
	CompleteEnrichment(id, data string) error
	FailEnrichment(id, errMsg string, backoffBase, backoffCap time.Duration) error
	GetConnection(id string) (storage.Connection, error)
	AssignAccount(now time.Time) (storage.ScraperAccount, error)
	RecordAccountSuccess(id string) error
	RecordAccountFailure(id string, warnThreshold, banThreshold int) (string, int, error)
	SavePerson(p storage.Person) error
	AddEmploymentRecord(r storage.EmploymentRecord) error
}

// Profile is the enriched result a provider extracts for a connection.
type Profile struct {
	FullName   string       `json:"full_name"`
	Title      string       `json:"title"`
	Company    string       `json:"company"`
	Email      string       `json:"email,omitempty"`
	GitHubURL  string       `json:"github_url,omitempty"`
	Employment []Employment `json:"employment,omitempty"`
}

// Employment is one extracted stint.
type Employment struct {
	Company   string    `json:"company"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date,omitempty"`
	IsCurrent bool      `json:"is_current"`
}

// Provider performs the actual profile collection through an assigned
// scraper account. Implementations live outside the core; the account's
// credential handle is resolved by the provider, never here.
type Provider interface {
	EnrichProfile(ctx context.Context, account storage.ScraperAccount, conn storage.Connection) (Profile, error)
}

// Config tunes worker behavior.
type Config struct {
	PollInterval  time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	WarnThreshold int
	BanThreshold  int
}

// Worker processes enrichment jobs against the scraper pool.
type Worker struct {
	store    JobStore
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

// NewWorker creates a Worker. Zero config fields get defaults: 500ms poll,
// 1s backoff base capped at 10m, warn at 3 consecutive failures, ban one
// failure later.
func NewWorker(store JobStore, provider Provider, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 3
	}
	if cfg.BanThreshold <= cfg.WarnThreshold {
		cfg.BanThreshold = cfg.WarnThreshold + 1
	}
	return &Worker{store: store, provider: provider, cfg: cfg, logger: slog.Default()}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("enrichment worker iteration failed", "error", err)
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

// RunOnce claims and processes a single enrichment job. Returns true if a
// job was processed, regardless of success or failure.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	now := time.Now()

	account, err := w.store.AssignAccount(now)
	if errors.Is(err, storage.ErrNotFound) {
		// Pool exhausted: every account is aging, capped, busy, or gone.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("assigning account: %w", err)
	}

	job, err := w.store.ClaimNextEnrichment(account.ID, now)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, account, job); err != nil {
		w.logger.Warn("enrichment job failed",
			"job_id", job.ID, "account_id", account.ID, "error", err)
		if failErr := w.store.FailEnrichment(job.ID, err.Error(), w.cfg.BackoffBase, w.cfg.BackoffCap); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		status, requeued, failErr := w.store.RecordAccountFailure(account.ID, w.cfg.WarnThreshold, w.cfg.BanThreshold)
		if failErr != nil {
			w.logger.Error("failed to record account failure", "account_id", account.ID, "error", failErr)
		} else if status == storage.AccountBanned {
			w.logger.Warn("scraper account banned",
				"account_id", account.ID, "requeued_jobs", requeued)
		}
		return true, nil
	}

	if err := w.store.RecordAccountSuccess(account.ID); err != nil {
		w.logger.Error("failed to record account success", "account_id", account.ID, "error", err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, account storage.ScraperAccount, job *storage.EnrichmentJob) error {
	conn, err := w.store.GetConnection(job.ConnectionID)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", job.ConnectionID, err)
	}

	profile, err := w.provider.EnrichProfile(ctx, account, conn)
	if err != nil {
		return fmt.Errorf("enriching %s: %w", conn.ProfileURL, err)
	}

	personID, err := w.applyProfile(conn, profile)
	if err != nil {
		return fmt.Errorf("applying enriched profile: %w", err)
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding enrichment data: %w", err)
	}
	if err := w.store.CompleteEnrichment(job.ID, string(data)); err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}

	w.logger.Info("enrichment completed",
		"job_id", job.ID, "person_id", personID, "account_id", account.ID)
	return nil
}

// applyProfile folds the enriched result back into the graph store:
// person upsert keyed by (company, profile URL) plus employment stints.
func (w *Worker) applyProfile(conn storage.Connection, profile Profile) (string, error) {
	person := storage.Person{
		ID:             uuid.New().String(),
		CompanyID:      conn.CompanyID,
		FullName:       firstNonEmpty(profile.FullName, conn.FullName),
		ProfileURL:     conn.ProfileURL,
		GitHubURL:      profile.GitHubURL,
		Email:          profile.Email,
		CurrentCompany: profile.Company,
		CurrentTitle:   profile.Title,
		TrustScore:     0.5,
		PipelineStatus: "enriched",
	}
	if err := w.store.SavePerson(person); err != nil {
		return "", err
	}

	for _, emp := range profile.Employment {
		rec := storage.EmploymentRecord{
			ID:                uuid.New().String(),
			PersonID:          person.ID,
			NormalizedCompany: storage.NormalizeCompany(emp.Company),
			Title:             emp.Title,
			StartDate:         emp.StartDate,
			EndDate:           emp.EndDate,
			IsCurrent:         emp.IsCurrent,
		}
		if err := w.store.AddEmploymentRecord(rec); err != nil {
			return "", err
		}
	}
	return person.ID, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
