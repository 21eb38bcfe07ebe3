package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"FilingsMonitor/internal/domain"
)

// wireClassification mirrors the response schema. Pointer-free strings make
// a missing field and an empty one fail the same "required" rule; a nil
// slice means the field was absent or null, and an empty one carries no
// summary at all.
type wireClassification struct {
	SummaryBullets []string `json:"summary_bullets" validate:"required,min=1,max=5,dive,notblank"`
	EventType      string   `json:"event_type" validate:"required,oneof=earnings legal M&A guidance insider_activity other"`
	ImpactLevel    string   `json:"impact_level" validate:"required,oneof=None Low Medium High"`
	Reasoning      string   `json:"reasoning" validate:"notblank"`
}

// newValidator registers the custom rules used by wireClassification.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// SchemaError lists why a response was rejected.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "schema violation: " + strings.Join(e.Violations, "; ")
}

// parse decodes and validates one raw model response. It never fills in
// defaults: anything short of a fully valid object is a SchemaError.
func parse(v *validator.Validate, raw string) (domain.Classification, error) {
	body := stripFences(raw)
	if body == "" {
		return domain.Classification{}, &SchemaError{Violations: []string{"empty response"}}
	}

	var wire wireClassification
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&wire); err != nil {
		return domain.Classification{}, &SchemaError{Violations: []string{"decode: " + err.Error()}}
	}

	if err := v.Struct(wire); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.Classification{}, &SchemaError{Violations: []string{err.Error()}}
		}
		violations := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			violations = append(violations, fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return domain.Classification{}, &SchemaError{Violations: violations}
	}

	bullets := make([]string, len(wire.SummaryBullets))
	for i, b := range wire.SummaryBullets {
		bullets[i] = strings.TrimSpace(b)
	}

	return domain.Classification{
		SummaryBullets: bullets,
		EventType:      domain.EventType(wire.EventType),
		ImpactLevel:    domain.ImpactLevel(wire.ImpactLevel),
		Reasoning:      strings.TrimSpace(wire.Reasoning),
	}, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
