package domain

import "time"

// ProcessingStatus enumerates pipeline milestones of a filing event.
type ProcessingStatus string

const (
	StatusSeen          ProcessingStatus = "seen"
	StatusFilteredNoise ProcessingStatus = "filtered_noise"
	StatusClassified    ProcessingStatus = "classified"
	StatusAlerted       ProcessingStatus = "alerted"
	StatusFailed        ProcessingStatus = "failed"
)

// Terminal reports whether the status can never be overwritten by a later run.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusAlerted, StatusFilteredNoise, StatusFailed:
		return true
	default:
		return false
	}
}

// Settled reports whether an event in this status is skipped by dedup.
// Classified events are settled but not terminal: only an explicit re-queue
// moves them again.
func (s ProcessingStatus) Settled() bool {
	return s.Terminal() || s == StatusClassified
}

// FailureKind explains why an event ended in StatusFailed.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureSchemaInvalid      FailureKind = "schema_invalid"
	FailureBackendUnavailable FailureKind = "backend_unavailable"
	FailureTimeout            FailureKind = "timeout"
)

// Transient reports whether the failure came from the backend rather than
// from the model's output.
func (k FailureKind) Transient() bool {
	return k == FailureBackendUnavailable || k == FailureTimeout
}

// ProcessingRecord is the persisted outcome for one EventID.
type ProcessingRecord struct {
	EventID        string
	IssuerID       string
	ContentHash    string
	Status         ProcessingStatus
	Classification *Classification
	Reason         string
	FailureKind    FailureKind
	Attempts       int
	ClaimToken     string
	ProcessedAt    time.Time
}

// NewClaimRecord is the initial record written when a run claims an event.
func NewClaimRecord(ev FilingEvent, token string, now time.Time) ProcessingRecord {
	return ProcessingRecord{
		EventID:     ev.EventID,
		IssuerID:    ev.IssuerID,
		ContentHash: ev.ContentHash,
		Status:      StatusSeen,
		ClaimToken:  token,
		ProcessedAt: now,
	}
}
