package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventIDStable(t *testing.T) {
	t.Parallel()

	a := EventID("acme", " 0001-24-000001 ", Form8K)
	b := EventID("ACME", "0001-24-000001", Form8K)
	assert.Equal(t, "ACME:0001-24-000001:8-K", a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, EventID("ACME", "0001-24-000001", Form10Q))
}

func TestContentHashIgnoresLayout(t *testing.T) {
	t.Parallel()

	h1 := ContentHash("Item 1.01  Entry into a\nMaterial Agreement")
	h2 := ContentHash("item 1.01 entry into a material agreement")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
	assert.NotEqual(t, h1, ContentHash("item 2.02 results of operations"))
}

func TestNewFilingEventDerivesFields(t *testing.T) {
	t.Parallel()

	ev := NewFilingEvent("ACME", "acc-1", Form4, time.Unix(0, 0), "text", "https://example.org")
	assert.Equal(t, "ACME:acc-1:4", ev.EventID)
	assert.Equal(t, ContentHash("text"), ev.ContentHash)
}

func TestParseFormType(t *testing.T) {
	t.Parallel()

	cases := map[string]FormType{
		"8-K":    Form8K,
		"10-q":   Form10Q,
		"10-K":   Form10K,
		"4":      Form4,
		"S-1":    FormOther,
		"10-K/A": FormOther,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseFormType(raw), raw)
	}
}

func TestImpactOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, ImpactHigh.AtLeast(ImpactMedium))
	assert.True(t, ImpactMedium.AtLeast(ImpactMedium))
	assert.False(t, ImpactLow.AtLeast(ImpactMedium))
	assert.False(t, ImpactLevel("Severe").AtLeast(ImpactNone))

	_, err := ParseImpactLevel("Severe")
	assert.Error(t, err)
}

func TestStatusClasses(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusAlerted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusFilteredNoise.Terminal())
	assert.False(t, StatusClassified.Terminal())
	assert.True(t, StatusClassified.Settled())
	assert.False(t, StatusSeen.Settled())
}
