// Package storage implements the event store and alert history on SQLite,
// Postgres or Badger.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"FilingsMonitor/internal/ports"
)

// Options selects and locates a backend.
type Options struct {
	Driver string
	// Path is the SQLite file or Badger directory.
	Path string
	// DSN is the Postgres connection string.
	DSN      string
	InMemory bool
}

// Open returns the store for opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (ports.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Driver {
	case "", "sqlite":
		if err := ensureDir(opts.Path); err != nil {
			return nil, err
		}
		return OpenSQLite(ctx, opts.Path)
	case "postgres":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a dsn")
		}
		return OpenPostgres(ctx, opts.DSN)
	case "badger":
		if !opts.InMemory {
			if err := os.MkdirAll(opts.Path, 0o755); err != nil {
				return nil, fmt.Errorf("create badger dir: %w", err)
			}
		}
		return OpenBadger(opts.Path, opts.InMemory, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return nil
}
