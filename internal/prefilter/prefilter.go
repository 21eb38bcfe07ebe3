// Package prefilter rejects noisy filings with cheap deterministic rules
// before any model call is made.
package prefilter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"FilingsMonitor/internal/domain"
)

// HashLookup is the part of the event store the duplicate rule needs.
type HashLookup interface {
	HashSeen(ctx context.Context, issuerID, contentHash, excludeEventID string, since time.Time) (bool, error)
}

// Options configures the filter rules.
type Options struct {
	MinContentLength    int
	BoilerplatePatterns []string
	DuplicateLookback   time.Duration
}

// Filter applies the noise rules in order; the first match wins.
type Filter struct {
	minLength int
	patterns  []*regexp.Regexp
	lookback  time.Duration
	hashes    HashLookup
	now       func() time.Time
}

// New compiles the boilerplate patterns. A nil lookup disables the
// duplicate-content rule.
func New(opts Options, hashes HashLookup) (*Filter, error) {
	patterns := make([]*regexp.Regexp, 0, len(opts.BoilerplatePatterns))
	for _, raw := range opts.BoilerplatePatterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile boilerplate pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}

	return &Filter{
		minLength: opts.MinContentLength,
		patterns:  patterns,
		lookback:  opts.DuplicateLookback,
		hashes:    hashes,
		now:       time.Now,
	}, nil
}

// Check classifies the event as noise or candidate. An error is only
// returned when the duplicate lookup itself fails.
func (f *Filter) Check(ctx context.Context, ev domain.FilingEvent) (domain.NoiseVerdict, error) {
	if f.hashes != nil && ev.ContentHash != "" {
		since := f.now().Add(-f.lookback)
		dup, err := f.hashes.HashSeen(ctx, ev.IssuerID, ev.ContentHash, ev.EventID, since)
		if err != nil {
			return domain.NoiseVerdict{}, fmt.Errorf("duplicate lookup: %w", err)
		}
		if dup {
			return domain.NoiseVerdict{
				IsNoise: true,
				Reason:  domain.NoiseDuplicate,
				Detail:  "content hash " + ev.ContentHash + " already settled for issuer",
			}, nil
		}
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(ev.RawText)); n < f.minLength {
		return domain.NoiseVerdict{
			IsNoise: true,
			Reason:  domain.NoiseTooShort,
			Detail:  fmt.Sprintf("%d chars below minimum %d", n, f.minLength),
		}, nil
	}

	for _, re := range f.patterns {
		if re.MatchString(ev.RawText) {
			return domain.NoiseVerdict{
				IsNoise: true,
				Reason:  domain.NoiseBoilerplate,
				Detail:  "matched " + re.String(),
			}, nil
		}
	}

	return domain.NoiseVerdict{}, nil
}
