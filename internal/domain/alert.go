package domain

import "time"

// AlertRecord is an append-only entry of alert history.
type AlertRecord struct {
	IssuerID  string
	EventType EventType
	SentAt    time.Time
	EventID   string
}

// AlertPayload is handed to the dispatcher once an alert is committed.
type AlertPayload struct {
	EventID        string      `json:"event_id"`
	IssuerID       string      `json:"issuer_id"`
	FormType       FormType    `json:"form_type"`
	URL            string      `json:"url,omitempty"`
	EventType      EventType   `json:"event_type"`
	ImpactLevel    ImpactLevel `json:"impact_level"`
	SummaryBullets []string    `json:"summary_bullets"`
	Reasoning      string      `json:"reasoning"`
}

// NewAlertPayload joins a filing with its accepted classification.
func NewAlertPayload(ev FilingEvent, c Classification) AlertPayload {
	bullets := make([]string, len(c.SummaryBullets))
	copy(bullets, c.SummaryBullets)
	return AlertPayload{
		EventID:        ev.EventID,
		IssuerID:       ev.IssuerID,
		FormType:       ev.FormType,
		URL:            ev.URL,
		EventType:      c.EventType,
		ImpactLevel:    c.ImpactLevel,
		SummaryBullets: bullets,
		Reasoning:      c.Reasoning,
	}
}

// NoiseReason names the pre-filter rule that rejected an event.
type NoiseReason string

const (
	NoiseNone        NoiseReason = ""
	NoiseDuplicate   NoiseReason = "duplicate_content"
	NoiseTooShort    NoiseReason = "too_short"
	NoiseBoilerplate NoiseReason = "boilerplate"
)

// NoiseVerdict is the result of the pre-filter.
type NoiseVerdict struct {
	IsNoise bool
	Reason  NoiseReason
	Detail  string
}

// VerdictReason explains an alert decision.
type VerdictReason string

const (
	ReasonAlert          VerdictReason = "alert"
	ReasonBelowThreshold VerdictReason = "below_threshold"
	ReasonCooldown       VerdictReason = "cooldown"
)

// Verdict is the decision engine's output.
type Verdict struct {
	Alert  bool
	Reason VerdictReason
}
