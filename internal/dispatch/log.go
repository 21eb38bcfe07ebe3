package dispatch

import (
	"context"
	"log/slog"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
)

// LogDispatcher writes alerts to the structured log. It is the default
// channel and never fails.
type LogDispatcher struct {
	logger *slog.Logger
}

var _ ports.Dispatcher = (*LogDispatcher)(nil)

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (l *LogDispatcher) Name() string { return "log" }

func (l *LogDispatcher) Dispatch(_ context.Context, p domain.AlertPayload) error {
	l.logger.Info(Subject(p),
		"event_id", p.EventID,
		"event_type", p.EventType,
		"impact_level", p.ImpactLevel,
		"summary", p.SummaryBullets,
		"reasoning", p.Reasoning,
		"url", p.URL)
	return nil
}
