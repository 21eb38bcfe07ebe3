package domain

import "fmt"

// EventType is the category assigned by classification.
type EventType string

const (
	EventEarnings        EventType = "earnings"
	EventLegal           EventType = "legal"
	EventMergers         EventType = "M&A"
	EventGuidance        EventType = "guidance"
	EventInsiderActivity EventType = "insider_activity"
	EventOther           EventType = "other"
)

// EventTypes lists the accepted event types in schema order.
var EventTypes = []EventType{
	EventEarnings, EventLegal, EventMergers, EventGuidance, EventInsiderActivity, EventOther,
}

// ImpactLevel is the ordinal severity of a classified event.
type ImpactLevel string

const (
	ImpactNone   ImpactLevel = "None"
	ImpactLow    ImpactLevel = "Low"
	ImpactMedium ImpactLevel = "Medium"
	ImpactHigh   ImpactLevel = "High"
)

// ImpactLevels lists the accepted levels from lowest to highest.
var ImpactLevels = []ImpactLevel{ImpactNone, ImpactLow, ImpactMedium, ImpactHigh}

// Rank returns the ordinal position of the level, or -1 when it is unknown.
func (l ImpactLevel) Rank() int {
	for i, lvl := range ImpactLevels {
		if lvl == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is ordered at or above other.
func (l ImpactLevel) AtLeast(other ImpactLevel) bool {
	return l.Rank() >= 0 && l.Rank() >= other.Rank()
}

// ParseImpactLevel validates a level name.
func ParseImpactLevel(raw string) (ImpactLevel, error) {
	lvl := ImpactLevel(raw)
	if lvl.Rank() < 0 {
		return "", fmt.Errorf("unknown impact level %q", raw)
	}
	return lvl, nil
}

// MaxSummaryBullets caps the number of bullets a classification may carry.
const MaxSummaryBullets = 5

// Classification is a validated model verdict for one filing.
type Classification struct {
	SummaryBullets []string    `json:"summary_bullets"`
	EventType      EventType   `json:"event_type"`
	ImpactLevel    ImpactLevel `json:"impact_level"`
	Reasoning      string      `json:"reasoning"`
}
