// Package watch reloads reply settings when their file is edited outside the process.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/memohai/keyreply/internal/settings"
)

const DefaultDebounce = 250 * time.Millisecond

// Source is the file backend being followed.
type Source interface {
	Path() string
	LoadIfChanged(ctx context.Context) (settings.Settings, bool, error)
}

// Installer receives reloaded snapshots.
type Installer interface {
	Install(next settings.Settings) error
}

// Watcher follows the directory of the settings file, since atomic saves replace the file
// (and its inode) rather than writing to it.
type Watcher struct {
	source   Source
	target   Installer
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(log *slog.Logger, source Source, target Installer, debounce time.Duration) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		source:   source,
		target:   target,
		debounce: debounce,
		logger:   log.With(slog.String("component", "settings_watcher"), slog.String("path", source.Path())),
	}
}

// Start begins watching in the background. It is a no-op when already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.source.Path())
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, fw, w.done)
	w.logger.Info("watching settings file")
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	cancel()
	<-done
	return fw.Close()
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(w.source.Path())
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	next, changed, err := w.source.LoadIfChanged(ctx)
	if err != nil {
		w.logger.Error("reload settings failed, keeping current snapshot", slog.Any("error", err))
		return
	}
	if !changed {
		return
	}
	if err := w.target.Install(next); err != nil {
		w.logger.Error("reloaded settings rejected", slog.Any("error", err))
	}
}
