package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"FilingsMonitor/internal/classifier"
	"FilingsMonitor/internal/decision"
	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/metrics"
	"FilingsMonitor/internal/ports"
)

// NoiseFilter rejects events that are not worth a classification call.
type NoiseFilter interface {
	Check(ctx context.Context, ev domain.FilingEvent) (domain.NoiseVerdict, error)
}

// Outcome is the per-event result of one batch.
type Outcome string

const (
	OutcomeAlerted            Outcome = "alerted"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeNoise              Outcome = "filtered_noise"
	OutcomeBelowThreshold     Outcome = "below_threshold"
	OutcomeCooldown           Outcome = "cooldown"
	OutcomeFailed             Outcome = "failed"
	OutcomeClaimLost          Outcome = "claim_lost"
	OutcomePersistenceFailure Outcome = "persistence_failure"
	OutcomeCancelled          Outcome = "cancelled"
)

// EventResult reports what happened to one event.
type EventResult struct {
	EventID string
	Outcome Outcome
	Reason  string
	Err     error
}

// BatchReport collects the alerts emitted by a batch and every event outcome,
// both in input order.
type BatchReport struct {
	RunID    string
	Alerts   []domain.AlertPayload
	Results  []EventResult
	Started  time.Time
	Finished time.Time
}

// Count returns how many events ended with outcome o.
func (r BatchReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Errors returns the results that carry an error.
func (r BatchReport) Errors() []EventResult {
	var out []EventResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source      ports.FilingSource
	Store       ports.Store
	Filter      NoiseFilter
	Classifier  ports.Classifier
	Policy      decision.Policy
	Dispatcher  ports.Dispatcher
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Pipeline implements the filing-monitoring workflow.
type Pipeline struct {
	source      ports.FilingSource
	store       ports.Store
	filter      NoiseFilter
	classifier  ports.Classifier
	policy      decision.Policy
	dispatcher  ports.Dispatcher
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
	keys        *keyLock[ports.CooldownKey]
	hashes      *keyLock[contentKey]
}

type contentKey struct {
	issuerID    string
	contentHash string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if deps.Filter == nil {
		return nil, errors.New("pipeline: pre-filter is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Pipeline{
		source:      deps.Source,
		store:       deps.Store,
		filter:      deps.Filter,
		classifier:  deps.Classifier,
		policy:      deps.Policy,
		dispatcher:  deps.Dispatcher,
		concurrency: concurrency,
		logger:      logger.With("component", "pipeline"),
		now:         now,
		keys:        newKeyLock[ports.CooldownKey](),
		hashes:      newKeyLock[contentKey](),
	}, nil
}

// RunOnce fetches the watch-list, processes the batch and dispatches every
// committed alert. Delivery failures are logged; the alert stays committed.
func (p *Pipeline) RunOnce(ctx context.Context) (BatchReport, error) {
	if p.source == nil {
		return BatchReport{}, errors.New("pipeline: no filing source configured")
	}

	events, err := p.source.FetchEvents(ctx)
	if err != nil {
		return BatchReport{}, fmt.Errorf("fetch events: %w", err)
	}

	report := p.ProcessBatch(ctx, events)

	if p.dispatcher != nil {
		for _, payload := range report.Alerts {
			if dErr := p.dispatcher.Dispatch(ctx, payload); dErr != nil {
				p.logger.Error("alert delivery failed",
					"run_id", report.RunID,
					"event_id", payload.EventID,
					"channel", p.dispatcher.Name(),
					"error", dErr)
			}
		}
	}

	return report, nil
}

// ProcessBatch runs every event through dedup, pre-filter, classification and
// decision. Per-event failures are reported in the result list and never
// abort the rest of the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, events []domain.FilingEvent) BatchReport {
	report := BatchReport{
		RunID:   uuid.NewString(),
		Started: p.now(),
		Results: make([]EventResult, len(events)),
	}
	log := p.logger.With("run_id", report.RunID)
	log.Info("batch started", "events", len(events), "concurrency", p.concurrency)

	payloads := make([]*domain.AlertPayload, len(events))
	inBatch := make(map[string]bool, len(events))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, ev := range events {
		if inBatch[ev.EventID] {
			report.Results[i] = EventResult{EventID: ev.EventID, Outcome: OutcomeDuplicate, Reason: "repeated in batch"}
			continue
		}
		inBatch[ev.EventID] = true

		i, ev := i, ev
		g.Go(func() error {
			res, payload := p.processEvent(ctx, log, ev)
			report.Results[i] = res
			payloads[i] = payload
			return nil
		})
	}
	_ = g.Wait()

	for i, payload := range payloads {
		if payload != nil {
			report.Alerts = append(report.Alerts, *payload)
		}
		metrics.EventsTotal.WithLabelValues(string(report.Results[i].Outcome)).Inc()
	}

	report.Finished = p.now()
	metrics.BatchDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	log.Info("batch finished",
		"events", len(events),
		"alerts", len(report.Alerts),
		"failed", report.Count(OutcomeFailed),
		"persistence_failures", report.Count(OutcomePersistenceFailure))

	return report
}

func (p *Pipeline) processEvent(ctx context.Context, log *slog.Logger, ev domain.FilingEvent) (EventResult, *domain.AlertPayload) {
	res := EventResult{EventID: ev.EventID}
	log = log.With("event_id", ev.EventID)

	if err := ctx.Err(); err != nil {
		res.Outcome, res.Err = OutcomeCancelled, err
		return res, nil
	}

	token := uuid.NewString()
	claimed, err := p.store.Claim(ctx, ev, token, p.now())
	if err != nil {
		return p.persistenceFailure(log, res, "claim", err), nil
	}
	if !claimed {
		res.Outcome = OutcomeDuplicate
		log.Debug("event already processed")
		return res, nil
	}

	// Events of one issuer sharing a content hash settle one at a time, so a
	// republication within the batch sees the first copy's record. The hash
	// lock is always taken before the cooldown lock.
	if ev.ContentHash != "" {
		release := p.hashes.Lock(contentKey{issuerID: ev.IssuerID, contentHash: ev.ContentHash})
		defer release()
	}

	noise, err := p.filter.Check(ctx, ev)
	if err != nil {
		return p.persistenceFailure(log, res, "pre-filter", err), nil
	}
	if noise.IsNoise {
		rec := p.record(ev, token, domain.StatusFilteredNoise)
		rec.Reason = string(noise.Reason)
		if err := p.store.Record(ctx, rec); err != nil {
			return p.persistenceFailure(log, res, "record noise", err), nil
		}
		res.Outcome, res.Reason = OutcomeNoise, string(noise.Reason)
		log.Info("event filtered as noise", "reason", noise.Reason, "detail", noise.Detail)
		return res, nil
	}

	c, err := p.classifier.Classify(ctx, ev)
	if err != nil {
		kind, attempts := domain.FailureBackendUnavailable, 0
		var cErr *classifier.ClassificationError
		if errors.As(err, &cErr) {
			kind, attempts = cErr.Kind, cErr.Attempts
		}
		rec := p.record(ev, token, domain.StatusFailed)
		rec.FailureKind = kind
		rec.Attempts = attempts
		rec.Reason = err.Error()
		if rErr := p.store.Record(ctx, rec); rErr != nil {
			return p.persistenceFailure(log, res, "record failure", rErr), nil
		}
		res.Outcome, res.Reason, res.Err = OutcomeFailed, string(kind), err
		log.Warn("classification failed", "kind", kind, "attempts", attempts, "error", err)
		return res, nil
	}

	// Decide and commit under the cooldown key so that two events of the
	// same key in one batch cannot both pass the cooldown check.
	key := p.policy.Key(ev.IssuerID, c.EventType)
	unlock := p.keys.Lock(key)
	defer unlock()

	now := p.now()
	verdict, err := p.policy.Decide(ctx, ev.IssuerID, c, now, p.store)
	if err != nil {
		return p.persistenceFailure(log, res, "decide", err), nil
	}
	if !verdict.Alert {
		return p.settleClassified(ctx, log, res, ev, token, c, verdict.Reason), nil
	}

	rec := p.record(ev, token, domain.StatusAlerted)
	rec.Classification = &c
	rec.Reason = string(domain.ReasonAlert)
	rec.ProcessedAt = now
	alert := domain.AlertRecord{
		IssuerID:  ev.IssuerID,
		EventType: c.EventType,
		SentAt:    now,
		EventID:   ev.EventID,
	}

	err = p.store.CommitAlert(ctx, rec, alert, key, p.policy.CooldownSince(now))
	switch {
	case errors.Is(err, ports.ErrCooldownActive):
		return p.settleClassified(ctx, log, res, ev, token, c, domain.ReasonCooldown), nil
	case errors.Is(err, ports.ErrClaimLost):
		res.Outcome, res.Err = OutcomeClaimLost, err
		log.Warn("claim lost before alert commit")
		return res, nil
	case err != nil:
		return p.persistenceFailure(log, res, "commit alert", err), nil
	}

	metrics.AlertsTotal.Inc()
	payload := domain.NewAlertPayload(ev, c)
	res.Outcome, res.Reason = OutcomeAlerted, string(domain.ReasonAlert)
	log.Info("alert committed", "event_type", c.EventType, "impact", c.ImpactLevel)
	return res, &payload
}

func (p *Pipeline) settleClassified(ctx context.Context, log *slog.Logger, res EventResult, ev domain.FilingEvent, token string, c domain.Classification, reason domain.VerdictReason) EventResult {
	rec := p.record(ev, token, domain.StatusClassified)
	rec.Classification = &c
	rec.Reason = string(reason)
	if err := p.store.Record(ctx, rec); err != nil {
		if errors.Is(err, ports.ErrClaimLost) {
			res.Outcome, res.Err = OutcomeClaimLost, err
			return res
		}
		return p.persistenceFailure(log, res, "record classification", err)
	}

	res.Reason = string(reason)
	if reason == domain.ReasonCooldown {
		res.Outcome = OutcomeCooldown
	} else {
		res.Outcome = OutcomeBelowThreshold
	}
	log.Info("no alert", "reason", reason, "event_type", c.EventType, "impact", c.ImpactLevel)
	return res
}

// persistenceFailure leaves the event claimed but unsettled; it is never
// reported as alerted.
func (p *Pipeline) persistenceFailure(log *slog.Logger, res EventResult, stage string, err error) EventResult {
	res.Outcome = OutcomePersistenceFailure
	res.Reason = stage
	res.Err = fmt.Errorf("%s: %w", stage, err)
	log.Error("event processing aborted", "stage", stage, "error", err)
	return res
}

func (p *Pipeline) record(ev domain.FilingEvent, token string, status domain.ProcessingStatus) domain.ProcessingRecord {
	return domain.ProcessingRecord{
		EventID:     ev.EventID,
		IssuerID:    ev.IssuerID,
		ContentHash: ev.ContentHash,
		Status:      status,
		ClaimToken:  token,
		ProcessedAt: p.now(),
	}
}
