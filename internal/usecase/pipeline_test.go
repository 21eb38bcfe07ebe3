package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FilingsMonitor/internal/classifier"
	"FilingsMonitor/internal/decision"
	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/infrastructure/storage"
	"FilingsMonitor/internal/ports"
	"FilingsMonitor/internal/prefilter"
)

type fakeClassifier struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ev domain.FilingEvent) (domain.Classification, error)
}

func (f *fakeClassifier) Classify(_ context.Context, ev domain.FilingEvent) (domain.Classification, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ev.EventID]++
	f.mu.Unlock()
	return f.fn(ev)
}

func (f *fakeClassifier) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func fixed(c domain.Classification) func(domain.FilingEvent) (domain.Classification, error) {
	return func(domain.FilingEvent) (domain.Classification, error) { return c, nil }
}

var highLegal = domain.Classification{
	SummaryBullets: []string{"Settled patent litigation"},
	EventType:      domain.EventLegal,
	ImpactLevel:    domain.ImpactHigh,
	Reasoning:      "Material settlement.",
}

func longText(tag string) string {
	return strings.Repeat("The company entered into a material agreement. ", 10) + tag
}

func filing(issuer, accession, text string) domain.FilingEvent {
	return domain.NewFilingEvent(issuer, accession, domain.Form8K, time.Now(), text, "https://www.sec.gov/x/"+accession)
}

func newStore(t *testing.T) ports.Store {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "filings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newPipeline(t *testing.T, store ports.Store, cls ports.Classifier, concurrency int) *Pipeline {
	t.Helper()
	filter, err := prefilter.New(prefilter.Options{
		MinContentLength:    100,
		BoilerplatePatterns: []string{`(?i)is being filed solely to`},
		DuplicateLookback:   30 * 24 * time.Hour,
	}, store)
	require.NoError(t, err)

	p, err := NewPipeline(PipelineDeps{
		Store:       store,
		Filter:      filter,
		Classifier:  cls,
		Policy:      decision.Policy{Threshold: domain.ImpactMedium, Cooldown: 24 * time.Hour, Scope: decision.ScopeEventType},
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	return p
}

func status(t *testing.T, store ports.Store, eventID string) domain.ProcessingRecord {
	t.Helper()
	rec, found, err := store.Lookup(context.Background(), eventID)
	require.NoError(t, err)
	require.True(t, found, "record for %s", eventID)
	return rec
}

func TestNewPipelineRequiresDeps(t *testing.T) {
	_, err := NewPipeline(PipelineDeps{})
	assert.Error(t, err)
}

func TestProcessBatchIsIdempotent(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 4)

	events := []domain.FilingEvent{
		filing("ACME", "0001", longText("a")),
		filing("GLOBEX", "0002", longText("b")),
	}

	first := p.ProcessBatch(context.Background(), events)
	require.Len(t, first.Alerts, 2)
	assert.Equal(t, events[0].EventID, first.Alerts[0].EventID)
	assert.Equal(t, events[1].EventID, first.Alerts[1].EventID)
	assert.Equal(t, domain.ImpactHigh, first.Alerts[0].ImpactLevel)

	second := p.ProcessBatch(context.Background(), events)
	assert.Empty(t, second.Alerts)
	assert.Equal(t, 2, second.Count(OutcomeDuplicate))
	assert.Equal(t, 2, cls.total(), "settled events are never classified again")

	for _, ev := range events {
		rec := status(t, store, ev.EventID)
		assert.Equal(t, domain.StatusAlerted, rec.Status)
		require.NotNil(t, rec.Classification)
		assert.Equal(t, domain.EventLegal, rec.Classification.EventType)
	}

	alerts, err := store.RecentAlerts(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestRepeatedEventInBatch(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 4)

	ev := filing("ACME", "0001", longText("a"))
	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{ev, ev})

	assert.Len(t, report.Alerts, 1)
	assert.Equal(t, OutcomeAlerted, report.Results[0].Outcome)
	assert.Equal(t, OutcomeDuplicate, report.Results[1].Outcome)
	assert.Equal(t, 1, cls.total())
}

func TestDuplicateContentIsNoise(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 1)

	text := longText("same body")
	original := filing("ACME", "0001", text)
	republished := filing("ACME", "0002", text)

	first := p.ProcessBatch(context.Background(), []domain.FilingEvent{original})
	require.Len(t, first.Alerts, 1)

	second := p.ProcessBatch(context.Background(), []domain.FilingEvent{republished})
	assert.Empty(t, second.Alerts)
	require.Len(t, second.Results, 1)
	assert.Equal(t, OutcomeNoise, second.Results[0].Outcome)
	assert.Equal(t, string(domain.NoiseDuplicate), second.Results[0].Reason)
	assert.Equal(t, 1, cls.total())

	rec := status(t, store, republished.EventID)
	assert.Equal(t, domain.StatusFilteredNoise, rec.Status)
}

func TestDuplicateContentInOneBatch(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: func(domain.FilingEvent) (domain.Classification, error) {
		time.Sleep(20 * time.Millisecond)
		return highLegal, nil
	}}
	p := newPipeline(t, store, cls, 4)

	text := longText("same body")
	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{
		filing("ACME", "0001", text),
		filing("ACME", "0002", text),
		filing("GLOBEX", "0003", text),
	})

	assert.Len(t, report.Alerts, 2, "one per issuer")
	assert.Equal(t, 2, report.Count(OutcomeAlerted))
	assert.Equal(t, 1, report.Count(OutcomeNoise))
	assert.Equal(t, 2, cls.total())
	for _, r := range report.Results {
		if r.Outcome == OutcomeNoise {
			assert.Equal(t, string(domain.NoiseDuplicate), r.Reason)
		}
	}
}

func TestRepublishedNoiseIsDuplicate(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 1)

	text := longText("This amendment is being filed solely to add an exhibit.")
	first := p.ProcessBatch(context.Background(), []domain.FilingEvent{filing("ACME", "0001", text)})
	assert.Equal(t, string(domain.NoiseBoilerplate), first.Results[0].Reason)

	second := p.ProcessBatch(context.Background(), []domain.FilingEvent{filing("ACME", "0002", text)})
	assert.Equal(t, OutcomeNoise, second.Results[0].Outcome)
	assert.Equal(t, string(domain.NoiseDuplicate), second.Results[0].Reason)

	// Another issuer's identical text is not a republication.
	other := p.ProcessBatch(context.Background(), []domain.FilingEvent{filing("GLOBEX", "0003", text)})
	assert.Equal(t, string(domain.NoiseBoilerplate), other.Results[0].Reason)
	assert.Zero(t, cls.total())
}

func TestShortAndBoilerplateNeverReachClassifier(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 2)

	short := filing("ACME", "0001", "Item 9.01 Exhibits.")
	cover := filing("ACME", "0002", longText("This amendment is being filed solely to add an exhibit."))

	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{short, cover})
	assert.Empty(t, report.Alerts)
	assert.Equal(t, string(domain.NoiseTooShort), report.Results[0].Reason)
	assert.Equal(t, string(domain.NoiseBoilerplate), report.Results[1].Reason)
	assert.Zero(t, cls.total())
}

func TestSchemaInvalidEndsFailedAndCanBeRequeued(t *testing.T) {
	store := newStore(t)
	backend := &stubBackend{raw: `{"summary_bullets":["x"],"event_type":"legal","impact_level":"Severe","reasoning":"r"}`}
	adapter, err := classifier.New(backend, classifier.Options{
		RetryLimit:      2,
		BackendAttempts: 3,
		Timeout:         time.Second,
		BackoffInitial:  time.Millisecond,
		BackoffMax:      time.Millisecond,
	}, nil)
	require.NoError(t, err)
	p := newPipeline(t, store, adapter, 1)

	ev := filing("ACME", "0001", longText("a"))
	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{ev})
	assert.Empty(t, report.Alerts)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	assert.Equal(t, 3, backend.count())

	rec := status(t, store, ev.EventID)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.FailureSchemaInvalid, rec.FailureKind)
	assert.Equal(t, 3, rec.Attempts)

	// Failed events are not retried automatically.
	again := p.ProcessBatch(context.Background(), []domain.FilingEvent{ev})
	assert.Equal(t, OutcomeDuplicate, again.Results[0].Outcome)
	assert.Equal(t, 3, backend.count())

	require.NoError(t, store.Requeue(context.Background(), ev.EventID))
	backend.set(`{"summary_bullets":["x"],"event_type":"legal","impact_level":"High","reasoning":"r"}`)

	retried := p.ProcessBatch(context.Background(), []domain.FilingEvent{ev})
	assert.Len(t, retried.Alerts, 1)
	assert.Equal(t, domain.StatusAlerted, status(t, store, ev.EventID).Status)
}

func TestCooldownAllowsOneAlertPerKey(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 1)

	first := filing("ACME", "0001", longText("first settlement"))
	second := filing("ACME", "0002", longText("second settlement"))

	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{first, second})
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, first.EventID, report.Alerts[0].EventID)
	assert.Equal(t, OutcomeCooldown, report.Results[1].Outcome)

	rec := status(t, store, second.EventID)
	assert.Equal(t, domain.StatusClassified, rec.Status)
	assert.Equal(t, string(domain.ReasonCooldown), rec.Reason)
}

func TestCooldownHoldsUnderConcurrency(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 8)

	var events []domain.FilingEvent
	for i := 0; i < 8; i++ {
		events = append(events, filing("ACME", fmt.Sprintf("%04d", i), longText(fmt.Sprintf("filing %d", i))))
	}

	report := p.ProcessBatch(context.Background(), events)
	assert.Len(t, report.Alerts, 1)
	assert.Equal(t, 1, report.Count(OutcomeAlerted))
	assert.Equal(t, 7, report.Count(OutcomeCooldown))
}

func TestDifferentEventTypeIsNotSuppressed(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: func(ev domain.FilingEvent) (domain.Classification, error) {
		c := highLegal
		if strings.HasSuffix(ev.RawText, "guidance") {
			c.EventType = domain.EventGuidance
		}
		return c, nil
	}}
	p := newPipeline(t, store, cls, 2)

	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{
		filing("ACME", "0001", longText("legal")),
		filing("ACME", "0002", longText("guidance")),
	})
	assert.Len(t, report.Alerts, 2)
}

func TestBelowThresholdIsClassified(t *testing.T) {
	store := newStore(t)
	low := highLegal
	low.ImpactLevel = domain.ImpactLow
	p := newPipeline(t, store, &fakeClassifier{fn: fixed(low)}, 1)

	ev := filing("ACME", "0001", longText("a"))
	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{ev})
	assert.Empty(t, report.Alerts)
	assert.Equal(t, OutcomeBelowThreshold, report.Results[0].Outcome)

	rec := status(t, store, ev.EventID)
	assert.Equal(t, domain.StatusClassified, rec.Status)
	assert.Equal(t, string(domain.ReasonBelowThreshold), rec.Reason)
}

type failingCommitStore struct {
	ports.Store
}

func (failingCommitStore) CommitAlert(context.Context, domain.ProcessingRecord, domain.AlertRecord, ports.CooldownKey, time.Time) error {
	return errors.New("disk full")
}

func TestCommitFailureIsFailClosed(t *testing.T) {
	base := newStore(t)
	store := failingCommitStore{Store: base}
	cls := &fakeClassifier{fn: func(ev domain.FilingEvent) (domain.Classification, error) {
		if ev.IssuerID == "GLOBEX" {
			return domain.Classification{}, errors.New("connection refused")
		}
		return highLegal, nil
	}}
	p := newPipeline(t, store, cls, 2)

	alerting := filing("ACME", "0001", longText("a"))
	broken := filing("GLOBEX", "0002", longText("b"))
	short := filing("INITECH", "0003", "tiny")

	report := p.ProcessBatch(context.Background(), []domain.FilingEvent{alerting, broken, short})
	assert.Empty(t, report.Alerts)
	assert.Equal(t, OutcomePersistenceFailure, report.Results[0].Outcome)
	assert.Error(t, report.Results[0].Err)
	assert.Equal(t, OutcomeFailed, report.Results[1].Outcome)
	assert.Equal(t, OutcomeNoise, report.Results[2].Outcome)
	assert.Len(t, report.Errors(), 2)

	assert.Equal(t, domain.StatusSeen, status(t, base, alerting.EventID).Status)
	rec := status(t, base, broken.EventID)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.FailureBackendUnavailable, rec.FailureKind)

	// The unsettled event is picked up again by a healthy run.
	healthy := newPipeline(t, base, cls, 1)
	retry := healthy.ProcessBatch(context.Background(), []domain.FilingEvent{alerting})
	assert.Len(t, retry.Alerts, 1)
}

func TestCancelledBatch(t *testing.T) {
	store := newStore(t)
	cls := &fakeClassifier{fn: fixed(highLegal)}
	p := newPipeline(t, store, cls, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := p.ProcessBatch(ctx, []domain.FilingEvent{filing("ACME", "0001", longText("a"))})
	assert.Empty(t, report.Alerts)
	assert.Equal(t, OutcomeCancelled, report.Results[0].Outcome)
	assert.Zero(t, cls.total())
}

type stubSource struct {
	events []domain.FilingEvent
	err    error
}

func (s stubSource) FetchEvents(context.Context) ([]domain.FilingEvent, error) {
	return s.events, s.err
}

type recordingDispatcher struct {
	mu  sync.Mutex
	got []domain.AlertPayload
	err error
}

func (d *recordingDispatcher) Name() string { return "recording" }

func (d *recordingDispatcher) Dispatch(_ context.Context, p domain.AlertPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, p)
	return d.err
}

func TestRunOnceDispatchesCommittedAlerts(t *testing.T) {
	store := newStore(t)
	filter, err := prefilter.New(prefilter.Options{MinContentLength: 10, DuplicateLookback: time.Hour}, store)
	require.NoError(t, err)

	ev := filing("ACME", "0001", longText("a"))
	disp := &recordingDispatcher{err: errors.New("channel down")}
	p, err := NewPipeline(PipelineDeps{
		Source:     stubSource{events: []domain.FilingEvent{ev}},
		Store:      store,
		Filter:     filter,
		Classifier: &fakeClassifier{fn: fixed(highLegal)},
		Policy:     decision.Policy{Threshold: domain.ImpactMedium, Cooldown: time.Hour},
		Dispatcher: disp,
	})
	require.NoError(t, err)

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)
	require.Len(t, disp.got, 1)
	assert.Equal(t, ev.EventID, disp.got[0].EventID)

	// A delivery failure does not un-commit the alert.
	assert.Equal(t, domain.StatusAlerted, status(t, store, ev.EventID).Status)

	report, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Alerts)
	assert.Len(t, disp.got, 1)
}

func TestRunOnceSourceError(t *testing.T) {
	store := newStore(t)
	filter, err := prefilter.New(prefilter.Options{}, store)
	require.NoError(t, err)

	p, err := NewPipeline(PipelineDeps{
		Source:     stubSource{err: errors.New("edgar down")},
		Store:      store,
		Filter:     filter,
		Classifier: &fakeClassifier{fn: fixed(highLegal)},
	})
	require.NoError(t, err)

	_, err = p.RunOnce(context.Background())
	assert.ErrorContains(t, err, "edgar down")
}

type stubBackend struct {
	mu    sync.Mutex
	raw   string
	calls int
}

func (b *stubBackend) Complete(context.Context, ports.ModelRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.raw, nil
}

func (b *stubBackend) Ping(context.Context) error { return nil }

func (b *stubBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *stubBackend) set(raw string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = raw
}
