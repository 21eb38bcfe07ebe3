package dispatch

import (
	"fmt"
	"strings"

	"FilingsMonitor/internal/domain"
)

// Subject renders the one-line alert title.
func Subject(p domain.AlertPayload) string {
	return fmt.Sprintf("[Market Alert] %s – %s Impact %s", p.IssuerID, p.ImpactLevel, p.FormType)
}

// Body renders the plain-text alert body.
func Body(p domain.AlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", p.EventType)
	fmt.Fprintf(&b, "Impact: %s\n", p.ImpactLevel)
	b.WriteString("\nSummary:\n")
	for i, bullet := range p.SummaryBullets {
		if i == domain.MaxSummaryBullets {
			break
		}
		fmt.Fprintf(&b, "- %s\n", bullet)
	}
	b.WriteString("\nReasoning:\n")
	b.WriteString(p.Reasoning)
	b.WriteString("\n")
	if p.URL != "" {
		fmt.Fprintf(&b, "\nFiling: %s\n", p.URL)
	}
	fmt.Fprintf(&b, "Event ID: %s\n", p.EventID)
	return b.String()
}
