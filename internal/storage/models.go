package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrQuotaExceeded is returned when an operation would push a session past
// its daily cap. Rejected before queueing, never retried automatically.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// ErrRegressionRejected is returned when a warm-path upsert attempted to
// lower an existing score for the same (company, candidate) pair.
var ErrRegressionRejected = errors.New("warm path score regression rejected")

// ErrInvalidTransition is returned when a state change is not allowed from
// the record's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrImmutable is returned when modifying a record that has reached a
// terminal state.
var ErrImmutable = errors.New("record is immutable")

// Person is a candidate or network member owned by a company tenant.
// Created on first sighting from any source, updated by enrichment, never
// hard-deleted while referenced.
type Person struct {
	ID             string
	CompanyID      string
	FullName       string
	ProfileURL     string
	GitHubURL      string
	Email          string
	CurrentCompany string
	CurrentTitle   string
	TrustScore     float64
	PipelineStatus string
	IsFromNetwork  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EmploymentRecord is one employment stint. A zero EndDate means current.
type EmploymentRecord struct {
	ID                string
	PersonID          string
	NormalizedCompany string
	Title             string
	StartDate         time.Time
	EndDate           time.Time
	IsCurrent         bool
}

// EducationRecord is one school attendance stint, used for shared-school
// overlap detection.
type EducationRecord struct {
	ID        string
	PersonID  string
	School    string
	StartDate time.Time
	EndDate   time.Time
}

// Path types, strongest first.
const (
	PathDirect         = "direct"
	PathRecommendation = "recommendation"
	PathColleague      = "colleague"
	PathSchool         = "school"
	PathActivity       = "platform_activity"
	PathNone           = "none"
)

// WarmPath is the materialized best reachability path for a
// (company, candidate) pair. Recomputed, never hand-edited.
type WarmPath struct {
	CompanyID      string
	CandidateID    string
	ViaPersonID    string
	PathType       string
	WarmthScore    float64
	Tier           int
	OverlapDetails string // JSON blob
	ComputedAt     time.Time
}

// Recommendation statuses.
const (
	RecStatusNew            = "new"
	RecStatusIntroRequested = "intro_requested"
	RecStatusIntroMade      = "intro_made"
	RecStatusContacted      = "contacted"
	RecStatusResponded      = "responded"
	RecStatusConverted      = "converted"
	RecStatusDeclined       = "declined"
)

// Recommendation is an unsolicited lead produced by an activation request.
// Immutable once converted or declined.
type Recommendation struct {
	ID            string
	CompanyID     string
	RecommenderID string
	CandidateID   string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RecommenderStats summarizes a recommender's historical outcomes, used as
// the trust multiplier input.
type RecommenderStats struct {
	Converted int
	Responded int
	Declined  int
	Total     int
}

// Urgency classes.
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
	UrgencyWait   = "wait"
)

// TimingSignal holds the readiness inputs and derived outputs for one
// person. Upserted, one row per person.
type TimingSignal struct {
	PersonID        string
	EmploymentStart time.Time
	LastLayoffAt    time.Time
	ManagerDeparted bool
	ManagerDepartAt time.Time
	Title           string
	ReadinessScore  float64
	Urgency         string
	UpdatedAt       time.Time
}

// CompanyEvent is an externally observed event (layoff, funding, manager
// departure) at a normalized company.
type CompanyEvent struct {
	ID                string
	NormalizedCompany string
	EventType         string
	OccurredAt        time.Time
	Details           string
	CreatedAt         time.Time
}

// Company event types consumed by the readiness scorer.
const (
	EventLayoff           = "layoff"
	EventFunding          = "funding"
	EventManagerDeparture = "manager_departure"
)

// Session lifecycle (warming state machine).
const (
	SessionPending = "pending"
	SessionWarming = "warming"
	SessionWarmed  = "warmed"
	SessionFailed  = "failed"
)

// Session operational status, tracked independently once warmed.
const (
	SessionActive       = "active"
	SessionPaused       = "paused"
	SessionExpired      = "expired"
	SessionDisconnected = "disconnected"
)

// Session health.
const (
	HealthHealthy    = "healthy"
	HealthWarning    = "warning"
	HealthRestricted = "restricted"
)

// Session is a user-owned automation session. CredentialHandle is an
// opaque reference into the external secret store; the core never holds
// plaintext credentials.
type Session struct {
	ID                 string
	CompanyID          string
	UserID             string
	CredentialHandle   string
	Lifecycle          string
	Status             string
	Health             string
	DailyMessageCap    int
	DailyEnrichmentCap int
	WarmingStartedAt   time.Time
	LastFrictionAt     time.Time
	FrictionCount      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Scraper account statuses. Banned and retired are terminal.
const (
	AccountAging   = "aging"
	AccountActive  = "active"
	AccountWarned  = "warned"
	AccountBanned  = "banned"
	AccountRetired = "retired"
)

// ScraperAccount is a disposable automation identity in the enrichment
// pool, distinct from any user session.
type ScraperAccount struct {
	ID                  string
	Status              string
	CredentialHandle    string
	ProxyURL            string
	DailyCap            int
	ConsecutiveFailures int
	TotalScraped        int
	AgingStartedAt      time.Time
	LastUsedAt          time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Connection is a raw imported connection record, the input to enrichment.
type Connection struct {
	ID            string
	CompanyID     string
	OwnerPersonID string
	ProfileURL    string
	FullName      string
	Headline      string
	ImportedAt    time.Time
}

// Enrichment job statuses.
const (
	EnrichPending    = "pending"
	EnrichProcessing = "processing"
	EnrichCompleted  = "completed"
	EnrichFailed     = "failed"
	EnrichRetry      = "retry"
)

// EnrichmentJob turns a raw connection into an enriched profile via an
// assigned scraper account.
type EnrichmentJob struct {
	ID             string
	ConnectionID   string
	AccountID      string
	Status         string
	Attempts       int
	MaxAttempts    int
	Priority       int
	ScheduledFor   time.Time
	ClaimedAt      time.Time
	EnrichmentData string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Outreach job statuses.
const (
	OutreachPending   = "pending"
	OutreachApproved  = "approved"
	OutreachScheduled = "scheduled"
	OutreachSending   = "sending"
	OutreachSent      = "sent"
	OutreachFailed    = "failed"
	OutreachCancelled = "cancelled"
)

// OutreachJob is an approval-gated message bound to a user session, never
// to the scraper pool.
type OutreachJob struct {
	ID               string
	SessionID        string
	CompanyID        string
	TargetPersonID   string
	RecommendationID string
	Message          string
	Status           string
	ApprovedBy       string
	ApprovedAt       time.Time
	ScheduledFor     time.Time
	ClaimedAt        time.Time
	SentAt           time.Time
	ResponseReceived bool
	ResponseAt       time.Time
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
