// Package storage selects the persistence backend for reply settings.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/keyreply/internal/config"
	"github.com/memohai/keyreply/internal/settings"
	"github.com/memohai/keyreply/internal/storage/badgerkv"
	"github.com/memohai/keyreply/internal/storage/file"
	"github.com/memohai/keyreply/internal/storage/postgres"
	"github.com/memohai/keyreply/internal/storage/sqlite"
)

// Backend is a settings.Persister that owns a resource.
type Backend interface {
	settings.Persister
	Close() error
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, log *slog.Logger, cfg config.StoreConfig) (Backend, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = config.DefaultStoreBackend
	}
	path := strings.TrimSpace(cfg.Path)
	switch backend {
	case "json", "yaml", "yml", "file":
		if path == "" {
			path = config.DefaultSettingsPath
		}
		return file.New(log, path, file.FormatFor(backend, path)), nil
	case "sqlite":
		if path == "" {
			path = "keyreply.db"
		}
		return sqlite.Open(ctx, log, path)
	case "postgres":
		return postgres.Open(ctx, log, cfg.Postgres)
	case "badger":
		if path == "" {
			path = "data/settings"
		}
		return badgerkv.Open(log, path)
	default:
		return nil, fmt.Errorf("unknown store backend %q (use json, yaml, sqlite, postgres, badger)", cfg.Backend)
	}
}

// Watchable reports whether b is a file backend the watcher can follow.
func Watchable(b Backend) (*file.Store, bool) {
	fs, ok := b.(*file.Store)
	return fs, ok
}
