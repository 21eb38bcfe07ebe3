package ports

import (
	"context"
	"errors"
	"time"

	"FilingsMonitor/internal/domain"
)

var (
	// ErrTerminalStatus is returned when a write would overwrite a terminal
	// record with a different status.
	ErrTerminalStatus = errors.New("processing record is terminal")
	// ErrClaimLost is returned when another run owns the event's claim.
	ErrClaimLost = errors.New("processing claim lost")
	// ErrCooldownActive is returned by an alert commit when an alert for the
	// same cooldown key was recorded inside the window.
	ErrCooldownActive = errors.New("alert cooldown active")
	// ErrNotRequeueable is returned when re-queue targets a non-failed record.
	ErrNotRequeueable = errors.New("processing record is not eligible for re-queue")
)

// FilingSource pulls fresh filing events for the watch-list.
type FilingSource interface {
	FetchEvents(ctx context.Context) ([]domain.FilingEvent, error)
}

// EventStore persists processing records and provides per-event CAS.
type EventStore interface {
	HasSeen(ctx context.Context, eventID string) (bool, error)
	Lookup(ctx context.Context, eventID string) (domain.ProcessingRecord, bool, error)
	// Record writes rec idempotently. Re-recording the terminal status an
	// event already has is a no-op. When rec.ClaimToken is set, the write
	// only applies to a record still owned by that token.
	Record(ctx context.Context, rec domain.ProcessingRecord) error
	// Claim atomically takes ownership of an unsettled event for token.
	Claim(ctx context.Context, ev domain.FilingEvent, token string, now time.Time) (bool, error)
	// HashSeen reports whether another event of the issuer with the same
	// content hash ended filtered_noise or alerted at or after since.
	HashSeen(ctx context.Context, issuerID, contentHash, excludeEventID string, since time.Time) (bool, error)
	// Requeue removes a failed record so the next run processes it again.
	Requeue(ctx context.Context, eventID string) error
	// RequeueFailed re-queues every failed record of the given kinds.
	RequeueFailed(ctx context.Context, kinds []domain.FailureKind) (int, error)
}

// CooldownKey scopes the cooldown lookup. An empty EventType matches every
// event type of the issuer.
type CooldownKey struct {
	IssuerID  string
	EventType domain.EventType
}

// AlertHistory answers cooldown lookups over sent alerts.
type AlertHistory interface {
	LastAlert(ctx context.Context, key CooldownKey) (domain.AlertRecord, bool, error)
	RecentAlerts(ctx context.Context, since time.Time, limit int) ([]domain.AlertRecord, error)
}

// AlertCommitter writes the alerted record and its AlertRecord as one unit.
// The cooldown is re-checked inside the same transaction: when an alert for
// key exists at or after cooldownSince, ErrCooldownActive is returned and
// nothing is written.
type AlertCommitter interface {
	CommitAlert(ctx context.Context, rec domain.ProcessingRecord, alert domain.AlertRecord, key CooldownKey, cooldownSince time.Time) error
}

// Store bundles every persistence port a pipeline run needs.
type Store interface {
	EventStore
	AlertHistory
	AlertCommitter
	Close() error
}

// ModelRequest is one structured classification request.
type ModelRequest struct {
	SystemPrompt string
	UserContent  string
	SchemaName   string
	Schema       []byte
}

// ModelBackend returns the raw content produced by the language model.
type ModelBackend interface {
	Complete(ctx context.Context, req ModelRequest) (string, error)
	Ping(ctx context.Context) error
}

// Classifier turns a candidate event into a validated classification.
type Classifier interface {
	Classify(ctx context.Context, ev domain.FilingEvent) (domain.Classification, error)
}

// Dispatcher delivers committed alerts over a notification channel.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, payload domain.AlertPayload) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
