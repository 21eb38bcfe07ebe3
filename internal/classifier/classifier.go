// Package classifier wraps the language model behind a strict output schema.
// Responses are validated and rejected, never repaired; retries are bounded
// and every exhausted path ends in a ClassificationError.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/go-playground/validator/v10"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/metrics"
	"FilingsMonitor/internal/ports"
)

// ClassificationError reports why no classification could be produced.
type ClassificationError struct {
	Kind     domain.FailureKind
	Attempts int
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification %s after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Options tunes retries and request shaping.
type Options struct {
	// RetryLimit is the number of extra attempts after a schema-invalid response.
	RetryLimit int
	// BackendAttempts bounds calls that fail in transport or time out.
	BackendAttempts int
	Timeout         time.Duration
	MaxChars        int
	SystemPrompt    string
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		RetryLimit:      2,
		BackendAttempts: 3,
		Timeout:         60 * time.Second,
		MaxChars:        15000,
		BackoffInitial:  time.Second,
		BackoffMax:      10 * time.Second,
	}
}

// Adapter implements ports.Classifier over a ModelBackend.
type Adapter struct {
	backend  ports.ModelBackend
	opts     Options
	schema   []byte
	validate *validator.Validate
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ ports.Classifier = (*Adapter)(nil)

// New builds the adapter and precomputes the request schema.
func New(backend ports.ModelBackend, opts Options, logger *slog.Logger) (*Adapter, error) {
	if backend == nil {
		return nil, errors.New("classifier backend is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryLimit < 0 {
		opts.RetryLimit = 0
	}
	if opts.BackendAttempts < 1 {
		opts.BackendAttempts = 1
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}

	schema, err := outputSchema()
	if err != nil {
		return nil, err
	}

	return &Adapter{
		backend:  backend,
		opts:     opts,
		schema:   schema,
		validate: newValidator(),
		logger:   logger,
		sleep:    sleepContext,
	}, nil
}

// Classify issues one structured request per attempt until a response
// validates or a retry budget is exhausted.
func (a *Adapter) Classify(ctx context.Context, ev domain.FilingEvent) (domain.Classification, error) {
	req := ports.ModelRequest{
		SystemPrompt: a.opts.SystemPrompt,
		UserContent:  userContent(ev, a.opts.MaxChars),
		SchemaName:   schemaName,
		Schema:       a.schema,
	}

	var (
		attempts       int
		schemaFailures int
		backendFails   int
	)

	for {
		attempts++
		raw, err := a.complete(ctx, req)
		if err != nil {
			kind := failureKind(err)
			backendFails++
			metrics.ClassifierAttemptsTotal.WithLabelValues(string(kind)).Inc()
			a.logger.Warn("model call failed",
				"event_id", ev.EventID, "attempt", attempts, "kind", kind, "error", err)

			if backendFails >= a.opts.BackendAttempts || ctx.Err() != nil {
				return domain.Classification{}, &ClassificationError{Kind: kind, Attempts: attempts, Err: err}
			}
			if sErr := a.sleep(ctx, a.backoff(backendFails)); sErr != nil {
				return domain.Classification{}, &ClassificationError{Kind: kind, Attempts: attempts, Err: sErr}
			}
			continue
		}

		cls, err := parse(a.validate, raw)
		if err == nil {
			metrics.ClassifierAttemptsTotal.WithLabelValues("ok").Inc()
			return cls, nil
		}

		schemaFailures++
		metrics.ClassifierAttemptsTotal.WithLabelValues(string(domain.FailureSchemaInvalid)).Inc()
		a.logger.Warn("model response rejected",
			"event_id", ev.EventID, "attempt", attempts, "error", err)

		if schemaFailures > a.opts.RetryLimit {
			return domain.Classification{}, &ClassificationError{
				Kind:     domain.FailureSchemaInvalid,
				Attempts: attempts,
				Err:      err,
			}
		}
	}
}

func (a *Adapter) complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	callCtx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := a.backend.Complete(callCtx, req)
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	return raw, err
}

// backoff is exponential with 10% jitter, capped at BackoffMax.
func (a *Adapter) backoff(failures int) time.Duration {
	delay := float64(a.opts.BackoffInitial) * math.Pow(2, float64(failures-1))
	if a.opts.BackoffMax > 0 && delay > float64(a.opts.BackoffMax) {
		delay = float64(a.opts.BackoffMax)
	}
	jitter := delay * 0.1
	delay += (rand.Float64()*2 - 1) * jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func failureKind(err error) domain.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailureTimeout
	}
	return domain.FailureBackendUnavailable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
