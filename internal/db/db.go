// Package db opens the document store selected by configuration.
//
// Three drivers are supported:
//
//   - memory: a process-local store, for tests and demos
//   - sqlite: a single-file store (the default), via modernc.org/sqlite
//   - postgres: a JSONB-backed store, via lib/pq
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/panotour/internal/config"
	"github.com/onnwee/panotour/internal/docstore"
	"github.com/onnwee/panotour/internal/docstore/postgres"
	"github.com/onnwee/panotour/internal/docstore/sqlite"
)

// Options selects and locates a store.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

// OptionsFromConfig extracts the store options of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Driver:      cfg.DocstoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}
}

// Open opens the store. The returned *sql.DB backs the store for health
// checks and is nil for the memory driver. The postgres schema is created if
// missing.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (docstore.Store, *sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory document store, tours are lost on restart")
		return docstore.NewMemory(), nil, nil

	case config.DriverPostgres:
		store, err := postgres.Open(ctx, opts.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to prepare postgres schema: %w", err)
		}
		logger.Info("using postgres document store")
		return store, store.DB(), nil

	case config.DriverSQLite, "":
		store, err := sqlite.Open(opts.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite %s: %w", opts.SQLitePath, err)
		}
		logger.Info("using sqlite document store", "path", opts.SQLitePath)
		return store, store.DB(), nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidDocstoreDriver, opts.Driver)
	}
}
