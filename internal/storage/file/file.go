// Package file persists reply settings as a JSON or YAML document.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/memohai/keyreply/internal/settings"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks a format from backend name or, failing that, the file extension.
func FormatFor(backend, path string) Format {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "yaml", "yml":
		return FormatYAML
	case "json":
		return FormatJSON
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Store reads and writes one settings document. Writes go to a temp file that is renamed over
// the target, so readers (and the file watcher) never see a partial document.
type Store struct {
	path   string
	format Format
	logger *slog.Logger

	mu         sync.Mutex
	lastDigest [sha256.Size]byte
	hasDigest  bool
}

func New(log *slog.Logger, path string, format Format) *Store {
	if log == nil {
		log = slog.Default()
	}
	if format == "" {
		format = FormatFor("", path)
	}
	return &Store{
		path:   path,
		format: format,
		logger: log.With(slog.String("store", "file"), slog.String("path", path)),
	}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (settings.Settings, bool, error) {
	data, found, err := s.read()
	if err != nil || !found {
		return settings.Settings{}, found, err
	}
	loaded, err := s.decode(data)
	if err != nil {
		return settings.Settings{}, false, err
	}
	s.remember(data)
	return loaded, true, nil
}

// LoadIfChanged reloads the document unless its bytes match the last read or write by this store.
func (s *Store) LoadIfChanged(ctx context.Context) (settings.Settings, bool, error) {
	data, found, err := s.read()
	if err != nil || !found {
		return settings.Settings{}, false, err
	}
	digest := sha256.Sum256(data)
	s.mu.Lock()
	same := s.hasDigest && digest == s.lastDigest
	s.mu.Unlock()
	if same {
		return settings.Settings{}, false, nil
	}
	loaded, err := s.decode(data)
	if err != nil {
		return settings.Settings{}, false, err
	}
	s.remember(data)
	return loaded, true, nil
}

func (s *Store) Save(ctx context.Context, cfg settings.Settings) error {
	data, err := s.encode(settings.ToRecord(cfg))
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path, data, 0o644); err != nil {
		return err
	}
	s.remember(data)
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) read() ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *Store) decode(data []byte) (settings.Settings, error) {
	var rec settings.Record
	var err error
	switch s.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &rec)
	default:
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	loaded, warnings, err := settings.FromRecord(rec)
	for _, w := range warnings {
		s.logger.Warn("settings repaired on load", slog.String("detail", w))
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return loaded, nil
}

func (s *Store) encode(rec settings.Record) ([]byte, error) {
	switch s.format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.path, err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.path, err)
		}
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		// Keep Arabic templates readable in the file.
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.path, err)
		}
		return buf.Bytes(), nil
	}
}

func (s *Store) remember(data []byte) {
	digest := sha256.Sum256(data)
	s.mu.Lock()
	s.lastDigest = digest
	s.hasDigest = true
	s.mu.Unlock()
}

func writeAtomic(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}
