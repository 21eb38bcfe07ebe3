package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"FilingsMonitor/internal/domain"
)

const schemaName = "filing_classification"

const defaultSystemPrompt = "You classify SEC filings for a market monitoring desk. " +
	"Respond with a single JSON object and nothing else. " +
	"Fields: summary_bullets (1 to 5 short factual bullets), " +
	"event_type (one of: earnings, legal, M&A, guidance, insider_activity, other), " +
	"impact_level (one of: None, Low, Medium, High; judge materiality to the issuer, not price direction), " +
	"reasoning (one or two sentences)."

// outputSchema returns the JSON schema every model response must satisfy.
func outputSchema() ([]byte, error) {
	eventTypes := make([]string, len(domain.EventTypes))
	for i, et := range domain.EventTypes {
		eventTypes[i] = string(et)
	}
	levels := make([]string, len(domain.ImpactLevels))
	for i, lvl := range domain.ImpactLevels {
		levels[i] = string(lvl)
	}

	def := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"summary_bullets": {
				Type:        jsonschema.Array,
				Description: fmt.Sprintf("At most %d factual bullets.", domain.MaxSummaryBullets),
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
			"event_type":   {Type: jsonschema.String, Enum: eventTypes},
			"impact_level": {Type: jsonschema.String, Enum: levels},
			"reasoning":    {Type: jsonschema.String},
		},
		Required:             []string{"summary_bullets", "event_type", "impact_level", "reasoning"},
		AdditionalProperties: false,
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	// jsonschema.Definition has no array bounds; add maxItems by hand.
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	props, _ := doc["properties"].(map[string]any)
	if bullets, ok := props["summary_bullets"].(map[string]any); ok {
		bullets["maxItems"] = domain.MaxSummaryBullets
	}

	return json.Marshal(doc)
}

// userContent renders the filing as the model's user message.
func userContent(ev domain.FilingEvent, maxChars int) string {
	text := strings.TrimSpace(ev.RawText)
	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			text = string(runes[:maxChars])
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Issuer: %s\n", ev.IssuerID)
	fmt.Fprintf(&b, "Form: %s\n", ev.FormType)
	if !ev.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "Filed: %s\n", ev.PublishedAt.Format("2006-01-02"))
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}
