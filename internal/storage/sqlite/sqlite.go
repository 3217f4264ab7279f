// Package sqlite persists reply settings in a local sqlite database (modernc, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	migrations "github.com/memohai/keyreply/db"
	"github.com/memohai/keyreply/internal/db"
	"github.com/memohai/keyreply/internal/settings"
)

type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Open migrates the database at path to the latest schema and opens it.
func Open(ctx context.Context, log *slog.Logger, path string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("store", "sqlite"), slog.String("path", path))
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	if err := db.RunMigrate(log, db.SQLiteMigrateURL(path), migrations.SQLiteMigrations, "up", nil); err != nil {
		return nil, err
	}
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return &Store{conn: conn, logger: log}, nil
}

func (s *Store) Load(ctx context.Context) (settings.Settings, bool, error) {
	var rec settings.Record
	err := s.conn.QueryRowContext(ctx,
		`SELECT template_ar, template_en FROM reply_templates WHERE singleton = 1`,
	).Scan(&rec.DefaultTemplateAr, &rec.DefaultTemplateEn)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load templates: %w", err)
	}

	keywords, err := s.conn.QueryContext(ctx, `SELECT keyword FROM reply_keywords ORDER BY position`)
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load keywords: %w", err)
	}
	defer keywords.Close()
	for keywords.Next() {
		var kw string
		if err := keywords.Scan(&kw); err != nil {
			return settings.Settings{}, false, fmt.Errorf("scan keyword: %w", err)
		}
		rec.Keywords = append(rec.Keywords, kw)
	}
	if err := keywords.Err(); err != nil {
		return settings.Settings{}, false, fmt.Errorf("load keywords: %w", err)
	}

	rules, err := s.conn.QueryContext(ctx,
		`SELECT id, display_name, delivery_mode, template_choice, custom_template FROM reply_sender_rules ORDER BY id`)
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load sender rules: %w", err)
	}
	defer rules.Close()
	for rules.Next() {
		var rr settings.RuleRecord
		if err := rules.Scan(&rr.ID, &rr.Name, &rr.ReplyType, &rr.Template, &rr.CustomTemplate); err != nil {
			return settings.Settings{}, false, fmt.Errorf("scan sender rule: %w", err)
		}
		rec.Senders = append(rec.Senders, rr)
	}
	if err := rules.Err(); err != nil {
		return settings.Settings{}, false, fmt.Errorf("load sender rules: %w", err)
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

// Save replaces every row in one transaction.
func (s *Store) Save(ctx context.Context, cfg settings.Settings) (err error) {
	rec := settings.ToRecord(cfg)
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM reply_keywords`); err != nil {
		return fmt.Errorf("clear keywords: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM reply_sender_rules`); err != nil {
		return fmt.Errorf("clear sender rules: %w", err)
	}
	for i, kw := range rec.Keywords {
		if _, err = tx.ExecContext(ctx, `INSERT INTO reply_keywords (position, keyword) VALUES (?, ?)`, i, kw); err != nil {
			return fmt.Errorf("insert keyword: %w", err)
		}
	}
	for _, rr := range rec.Senders {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO reply_sender_rules (id, display_name, delivery_mode, template_choice, custom_template) VALUES (?, ?, ?, ?, ?)`,
			rr.ID, rr.Name, rr.ReplyType, rr.Template, rr.CustomTemplate,
		); err != nil {
			return fmt.Errorf("insert sender rule %q: %w", rr.ID, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO reply_templates (singleton, template_ar, template_en, updated_at) VALUES (1, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (singleton) DO UPDATE SET template_ar = excluded.template_ar, template_en = excluded.template_en, updated_at = excluded.updated_at`,
		rec.DefaultTemplateAr, rec.DefaultTemplateEn,
	); err != nil {
		return fmt.Errorf("upsert templates: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}
