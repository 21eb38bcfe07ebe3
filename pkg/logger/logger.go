package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Printf adapts a slog.Logger to libraries that log through
// Errorf/Warningf/Infof/Debugf, tagging every line with a component.
type Printf struct {
	log *slog.Logger
}

// New returns a printf-style logger bound to component.
func New(base *slog.Logger, component string) *Printf {
	if base == nil {
		base = slog.Default()
	}
	return &Printf{log: base.With("component", component)}
}

func (p *Printf) Errorf(format string, args ...interface{}) {
	p.log.Error(line(format, args...))
}

func (p *Printf) Warningf(format string, args ...interface{}) {
	p.log.Warn(line(format, args...))
}

func (p *Printf) Infof(format string, args ...interface{}) {
	p.log.Info(line(format, args...))
}

func (p *Printf) Debugf(format string, args ...interface{}) {
	p.log.Debug(line(format, args...))
}

func line(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
