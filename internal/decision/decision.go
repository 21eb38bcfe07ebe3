// Package decision maps a validated classification to an alert verdict.
package decision

import (
	"context"
	"fmt"
	"time"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
)

// CooldownScope selects how wide the cooldown key is.
type CooldownScope string

const (
	// ScopeEventType suppresses repeats of the same issuer and event type.
	ScopeEventType CooldownScope = "event_type"
	// ScopeIssuer suppresses any further alert for the issuer.
	ScopeIssuer CooldownScope = "issuer"
)

// Policy holds the deterministic alert rule.
type Policy struct {
	Threshold domain.ImpactLevel
	Cooldown  time.Duration
	Scope     CooldownScope
}

// HistoryLookup is the alert history query the engine depends on.
type HistoryLookup interface {
	LastAlert(ctx context.Context, key ports.CooldownKey) (domain.AlertRecord, bool, error)
}

// Key returns the cooldown key for an issuer and event type under the policy scope.
func (p Policy) Key(issuerID string, eventType domain.EventType) ports.CooldownKey {
	if p.Scope == ScopeIssuer {
		return ports.CooldownKey{IssuerID: issuerID}
	}
	return ports.CooldownKey{IssuerID: issuerID, EventType: eventType}
}

// CooldownSince is the earliest send time that still suppresses at now.
func (p Policy) CooldownSince(now time.Time) time.Time {
	return now.Add(-p.Cooldown)
}

// Decide alerts iff the impact reaches the threshold and no alert for the
// cooldown key was sent inside the window.
func (p Policy) Decide(ctx context.Context, issuerID string, c domain.Classification, now time.Time, history HistoryLookup) (domain.Verdict, error) {
	if !c.ImpactLevel.AtLeast(p.Threshold) {
		return domain.Verdict{Alert: false, Reason: domain.ReasonBelowThreshold}, nil
	}

	if p.Cooldown > 0 && history != nil {
		last, found, err := history.LastAlert(ctx, p.Key(issuerID, c.EventType))
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("alert history lookup: %w", err)
		}
		if found && !last.SentAt.Before(p.CooldownSince(now)) {
			return domain.Verdict{Alert: false, Reason: domain.ReasonCooldown}, nil
		}
	}

	return domain.Verdict{Alert: true, Reason: domain.ReasonAlert}, nil
}
