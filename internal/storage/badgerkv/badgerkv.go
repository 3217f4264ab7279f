// Package badgerkv persists reply settings as a single JSON value in an embedded badger store.
package badgerkv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger"

	"github.com/memohai/keyreply/internal/settings"
)

var snapshotKey = []byte("settings:snapshot")

type Store struct {
	kv     *badger.DB
	logger *slog.Logger
}

func Open(log *slog.Logger, dir string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("store", "badger"), slog.String("path", dir))
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: log})
	kv, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %s: %w", dir, err)
	}
	return &Store{kv: kv, logger: log}, nil
}

func (s *Store) Load(ctx context.Context) (settings.Settings, bool, error) {
	var val []byte
	err := s.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("badger get: %w", err)
	}
	var rec settings.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return settings.Settings{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	loaded, warnings, err := settings.FromRecord(rec)
	for _, w := range warnings {
		s.logger.Warn("settings repaired on load", slog.String("detail", w))
	}
	if err != nil {
		return settings.Settings{}, false, err
	}
	return loaded, true, nil
}

func (s *Store) Save(ctx context.Context, cfg settings.Settings) error {
	val, err := json.Marshal(settings.ToRecord(cfg))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = s.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, val)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// badgerLogger routes badger's printf-style logging through slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
