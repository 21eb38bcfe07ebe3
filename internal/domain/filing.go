package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// FormType is the SEC form code of a filing.
type FormType string

const (
	Form8K    FormType = "8-K"
	Form10Q   FormType = "10-Q"
	Form10K   FormType = "10-K"
	Form4     FormType = "4"
	FormOther FormType = "other"
)

// ParseFormType maps a raw EDGAR form code onto the tracked form types.
func ParseFormType(raw string) FormType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "8-K":
		return Form8K
	case "10-Q":
		return Form10Q
	case "10-K":
		return Form10K
	case "4", "FORM 4":
		return Form4
	default:
		return FormOther
	}
}

// FilingEvent is one observed source document. Build it with NewFilingEvent
// so that EventID and ContentHash are derived consistently.
type FilingEvent struct {
	EventID     string
	IssuerID    string
	Accession   string
	FormType    FormType
	PublishedAt time.Time
	RawText     string
	ContentHash string
	URL         string
}

// NewFilingEvent derives the identity and content hash of a filing.
func NewFilingEvent(issuerID, accession string, form FormType, publishedAt time.Time, rawText, url string) FilingEvent {
	return FilingEvent{
		EventID:     EventID(issuerID, accession, form),
		IssuerID:    strings.ToUpper(strings.TrimSpace(issuerID)),
		Accession:   accession,
		FormType:    form,
		PublishedAt: publishedAt,
		RawText:     rawText,
		ContentHash: ContentHash(rawText),
		URL:         url,
	}
}

// EventID is the stable identifier of a filing: issuer, accession and form.
func EventID(issuerID, accession string, form FormType) string {
	return fmt.Sprintf("%s:%s:%s",
		strings.ToUpper(strings.TrimSpace(issuerID)),
		strings.TrimSpace(accession),
		form)
}

// ContentHash hashes whitespace-normalised text so that republications
// differing only in layout collapse to the same value.
func ContentHash(text string) string {
	normalised := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalised))
}
