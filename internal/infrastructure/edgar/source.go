package edgar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/metrics"
	"FilingsMonitor/internal/ports"
)

// SeenChecker lets the source stop scanning a company at the first filing a
// previous run already settled.
type SeenChecker interface {
	HasSeen(ctx context.Context, eventID string) (bool, error)
}

// Source implements FilingSource over the watch-list.
type Source struct {
	client    *Client
	companies []config.CompanyConfig
	forms     []string
	maxPer    int
	maxChars  int
	seen      SeenChecker
	logger    *slog.Logger
}

var _ ports.FilingSource = (*Source)(nil)

// NewSource wires the EDGAR client with the configured watch-list. seen may
// be nil, in which case every recent filing is returned.
func NewSource(client *Client, cfg config.EdgarConfig, maxChars int, seen SeenChecker, log *slog.Logger) *Source {
	return &Source{
		client:    client,
		companies: cfg.Companies,
		forms:     cfg.Forms,
		maxPer:    cfg.MaxFilingsPerCompany,
		maxChars:  maxChars,
		seen:      seen,
		logger:    log,
	}
}

// FetchEvents collects new filings of every company. A company that fails is
// logged and skipped; an error is returned only when every company failed.
func (s *Source) FetchEvents(ctx context.Context) ([]domain.FilingEvent, error) {
	if s.client == nil {
		return nil, fmt.Errorf("edgar client is not configured")
	}

	s.debug("fetch events", "companies", len(s.companies))

	var (
		aggregated []domain.FilingEvent
		errs       []error
	)
	for _, company := range s.companies {
		events, err := s.fetchCompany(ctx, company)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.FetchErrorsTotal.WithLabelValues(company.Symbol).Inc()
			s.warn("company fetch failed", "symbol", company.Symbol, "cik", company.CIK, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", company.Symbol, err))
			continue
		}
		s.debug("company produced events", "symbol", company.Symbol, "count", len(events))
		aggregated = append(aggregated, events...)
	}

	if len(errs) > 0 && len(errs) == len(s.companies) {
		return nil, errors.Join(errs...)
	}

	s.debug("edgar source done", "total_events", len(aggregated))
	return aggregated, nil
}

func (s *Source) fetchCompany(ctx context.Context, company config.CompanyConfig) ([]domain.FilingEvent, error) {
	filings, err := s.client.RecentFilings(ctx, company.CIK, s.forms)
	if err != nil {
		return nil, err
	}

	var events []domain.FilingEvent
	for _, f := range filings {
		if s.maxPer > 0 && len(events) >= s.maxPer {
			break
		}

		form := domain.ParseFormType(f.Form)
		id := domain.EventID(company.Symbol, f.Accession, form)
		if s.seen != nil {
			seen, err := s.seen.HasSeen(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("seen check %s: %w", id, err)
			}
			// Filings are newest first; everything older was handled before.
			if seen {
				break
			}
		}

		text, err := s.client.DocumentText(ctx, f.DocumentURL, s.maxChars)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", f.Accession, err)
		}

		events = append(events, domain.NewFilingEvent(
			strings.ToUpper(company.Symbol), f.Accession, form, f.FiledAt, text, f.DocumentURL))
	}
	return events, nil
}

func (s *Source) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Source) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
