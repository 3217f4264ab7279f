package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Persister is the durable side of the store.
type Persister interface {
	// Load returns the persisted snapshot. found is false when nothing has been saved yet.
	Load(ctx context.Context) (s Settings, found bool, err error)
	Save(ctx context.Context, s Settings) error
}

// Store owns the live snapshot. Readers never block on writers or on I/O.
type Store struct {
	current atomic.Pointer[versioned]
	// swapMu orders swaps so versions stay dense and each swap validates against its predecessor.
	swapMu    sync.Mutex
	persistMu sync.Mutex
	persister Persister
	logger    *slog.Logger
}

type versioned struct {
	settings Settings
	version  uint64
}

func NewStore(log *slog.Logger, persister Persister) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		persister: persister,
		logger:    log.With(slog.String("service", "settings")),
	}
	s.current.Store(&versioned{settings: Default()})
	return s
}

// Get returns a deep copy of the live snapshot.
func (s *Store) Get() Settings {
	return s.current.Load().settings.Clone()
}

// Version increases by one on every swap. Callers use it to detect changes cheaply.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Snapshot returns the live settings together with the version they were installed under.
func (s *Store) Snapshot() (Settings, uint64) {
	cur := s.current.Load()
	return cur.settings.Clone(), cur.version
}

// Replace validates next, swaps it in and persists it. A *ValidationError leaves the live snapshot
// untouched. A *PersistError means next is live but not durable.
//
// A rule without an id is rejected unless it is carried over unchanged from the live snapshot.
func (s *Store) Replace(ctx context.Context, next Settings) error {
	s.swapMu.Lock()
	live := s.current.Load()
	normalized, err := validateCarried(next, &live.settings)
	if err != nil {
		s.swapMu.Unlock()
		return err
	}
	s.swapLocked(normalized)
	s.swapMu.Unlock()
	if err := s.persistLatest(ctx); err != nil {
		s.logger.Error("persist settings failed, keeping in-memory snapshot", slog.Any("error", err))
		return &PersistError{Err: err}
	}
	return nil
}

// Install swaps s in without persisting it. The file watcher uses it after an external edit.
func (s *Store) Install(next Settings) error {
	normalized, err := validate(next, allowBlankID)
	if err != nil {
		return err
	}
	s.swap(normalized)
	s.logger.Info("settings reloaded",
		slog.Int("keywords", len(normalized.Keywords)),
		slog.Int("senders", len(normalized.Senders)),
	)
	return nil
}

// Bootstrap loads persisted state, or materialises and persists Default when there is none.
func (s *Store) Bootstrap(ctx context.Context) error {
	if s.persister == nil {
		return fmt.Errorf("settings persister not configured")
	}
	loaded, found, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if found {
		normalized, err := validate(loaded, allowBlankID)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		s.swap(normalized)
		s.logger.Info("settings loaded",
			slog.Int("keywords", len(normalized.Keywords)),
			slog.Int("senders", len(normalized.Senders)),
		)
		return nil
	}
	s.swap(Default())
	if err := s.persistLatest(ctx); err != nil {
		return fmt.Errorf("persist default settings: %w", err)
	}
	s.logger.Info("no persisted settings found, wrote defaults")
	return nil
}

func (s *Store) swap(next Settings) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.swapLocked(next)
}

func (s *Store) swapLocked(next Settings) {
	prev := s.current.Load()
	s.current.Store(&versioned{settings: next.Clone(), version: prev.version + 1})
}

// persistLatest saves whatever is live once the lock is held, so a slower writer never
// overwrites a newer snapshot on disk with its own older one.
func (s *Store) persistLatest(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.persister.Save(ctx, s.current.Load().settings.Clone())
}
