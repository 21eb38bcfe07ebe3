// Package dispatch renders committed alerts and delivers them over the
// configured notification channels.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/metrics"
	"FilingsMonitor/internal/ports"
)

// Registry keeps a mapping from channel names to their dispatchers.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]ports.Dispatcher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{dispatchers: map[string]ports.Dispatcher{}}
}

// Register adds or replaces a channel implementation.
func (r *Registry) Register(d ports.Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dispatchers == nil {
		r.dispatchers = map[string]ports.Dispatcher{}
	}
	r.dispatchers[d.Name()] = d
}

// Resolve returns a channel by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.dispatchers[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("dispatch channel %s is not registered", name)
}

// Fanout resolves names into one dispatcher that delivers to all of them.
func (r *Registry) Fanout(names []string, logger *slog.Logger) (*Fanout, error) {
	channels := make([]ports.Dispatcher, 0, len(names))
	for _, name := range names {
		d, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		channels = append(channels, d)
	}
	return NewFanout(channels, logger), nil
}

// Fanout delivers every payload to each channel with bounded retries. A
// failing channel does not stop delivery to the others.
type Fanout struct {
	channels []ports.Dispatcher
	attempts int
	wait     time.Duration
	logger   *slog.Logger
}

var _ ports.Dispatcher = (*Fanout)(nil)

// NewFanout builds a fan-out over channels with three attempts per channel.
func NewFanout(channels []ports.Dispatcher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{channels: channels, attempts: 3, wait: 2 * time.Second, logger: logger}
}

// WithRetry overrides the per-channel attempt budget and pause.
func (f *Fanout) WithRetry(attempts int, wait time.Duration) *Fanout {
	if attempts < 1 {
		attempts = 1
	}
	f.attempts = attempts
	f.wait = wait
	return f
}

func (f *Fanout) Name() string { return "fanout" }

// Dispatch sends payload to every channel and joins the failures.
func (f *Fanout) Dispatch(ctx context.Context, payload domain.AlertPayload) error {
	var errs []error
	for _, ch := range f.channels {
		if err := f.deliver(ctx, ch, payload); err != nil {
			metrics.DispatchTotal.WithLabelValues(ch.Name(), "error").Inc()
			f.logger.Error("alert delivery failed",
				"channel", ch.Name(), "event_id", payload.EventID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		metrics.DispatchTotal.WithLabelValues(ch.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

func (f *Fanout) deliver(ctx context.Context, ch ports.Dispatcher, payload domain.AlertPayload) error {
	var err error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err = ch.Dispatch(ctx, payload); err == nil {
			return nil
		}
		if attempt == f.attempts {
			break
		}
		f.logger.Warn("alert delivery retry",
			"channel", ch.Name(), "event_id", payload.EventID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.wait):
		}
	}
	return err
}
