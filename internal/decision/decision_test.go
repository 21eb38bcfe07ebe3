package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
)

type history map[ports.CooldownKey]domain.AlertRecord

func (h history) LastAlert(_ context.Context, key ports.CooldownKey) (domain.AlertRecord, bool, error) {
	rec, ok := h[key]
	return rec, ok, nil
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func defaultPolicy() Policy {
	return Policy{Threshold: domain.ImpactMedium, Cooldown: 24 * time.Hour, Scope: ScopeEventType}
}

func TestDecideBelowThresholdNeverAlerts(t *testing.T) {
	t.Parallel()

	for _, lvl := range []domain.ImpactLevel{domain.ImpactNone, domain.ImpactLow} {
		for _, et := range domain.EventTypes {
			verdict, err := defaultPolicy().Decide(context.Background(), "ACME",
				domain.Classification{EventType: et, ImpactLevel: lvl}, now, history{})
			require.NoError(t, err)
			assert.False(t, verdict.Alert)
			assert.Equal(t, domain.ReasonBelowThreshold, verdict.Reason)
		}
	}
}

func TestDecideAlertsAtThreshold(t *testing.T) {
	t.Parallel()

	verdict, err := defaultPolicy().Decide(context.Background(), "ACME",
		domain.Classification{EventType: domain.EventLegal, ImpactLevel: domain.ImpactMedium}, now, history{})
	require.NoError(t, err)
	assert.True(t, verdict.Alert)
	assert.Equal(t, domain.ReasonAlert, verdict.Reason)
}

func TestDecideCooldown(t *testing.T) {
	t.Parallel()

	h := history{
		{IssuerID: "ACME", EventType: domain.EventInsiderActivity}: {
			IssuerID: "ACME", EventType: domain.EventInsiderActivity, SentAt: now.Add(-time.Hour),
		},
	}
	c := domain.Classification{EventType: domain.EventInsiderActivity, ImpactLevel: domain.ImpactHigh}

	verdict, err := defaultPolicy().Decide(context.Background(), "ACME", c, now, h)
	require.NoError(t, err)
	assert.False(t, verdict.Alert)
	assert.Equal(t, domain.ReasonCooldown, verdict.Reason)

	later := now.Add(24 * time.Hour)
	verdict, err = defaultPolicy().Decide(context.Background(), "ACME", c, later, h)
	require.NoError(t, err)
	assert.True(t, verdict.Alert)
}

func TestDecideCooldownScope(t *testing.T) {
	t.Parallel()

	h := history{
		{IssuerID: "ACME"}: {IssuerID: "ACME", EventType: domain.EventLegal, SentAt: now.Add(-time.Hour)},
	}
	c := domain.Classification{EventType: domain.EventEarnings, ImpactLevel: domain.ImpactHigh}

	verdict, err := defaultPolicy().Decide(context.Background(), "ACME", c, now, h)
	require.NoError(t, err)
	assert.True(t, verdict.Alert, "event_type scope ignores other event types")

	p := defaultPolicy()
	p.Scope = ScopeIssuer
	verdict, err = p.Decide(context.Background(), "ACME", c, now, h)
	require.NoError(t, err)
	assert.False(t, verdict.Alert)
	assert.Equal(t, domain.ReasonCooldown, verdict.Reason)
}

func TestDecideUnknownLevelNeverAlerts(t *testing.T) {
	t.Parallel()

	verdict, err := defaultPolicy().Decide(context.Background(), "ACME",
		domain.Classification{EventType: domain.EventLegal, ImpactLevel: "Severe"}, now, history{})
	require.NoError(t, err)
	assert.False(t, verdict.Alert)
}
