// Package postgres persists reply settings in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/memohai/keyreply/db"
	"github.com/memohai/keyreply/internal/config"
	"github.com/memohai/keyreply/internal/db"
	"github.com/memohai/keyreply/internal/settings"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open runs pending migrations and connects a pool.
func Open(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("store", "postgres"), slog.String("database", cfg.Database))
	if err := db.RunMigrate(log, db.DSN(cfg), migrations.PostgresMigrations, "up", nil); err != nil {
		return nil, err
	}
	pool, err := db.OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(log, pool), nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, logger: log}
}

func (s *Store) Load(ctx context.Context) (settings.Settings, bool, error) {
	var rec settings.Record
	err := s.pool.QueryRow(ctx,
		`SELECT template_ar, template_en FROM reply_templates WHERE singleton`,
	).Scan(&rec.DefaultTemplateAr, &rec.DefaultTemplateEn)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load templates: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT keyword FROM reply_keywords ORDER BY position`)
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load keywords: %w", err)
	}
	rec.Keywords, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load keywords: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, display_name, delivery_mode, template_choice, custom_template FROM reply_sender_rules ORDER BY id`)
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load sender rules: %w", err)
	}
	rec.Senders, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (settings.RuleRecord, error) {
		var rr settings.RuleRecord
		err := row.Scan(&rr.ID, &rr.Name, &rr.ReplyType, &rr.Template, &rr.CustomTemplate)
		return rr, err
	})
	if err != nil {
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
func (s *Store) Save(ctx context.Context, cfg settings.Settings) error {
	rec := settings.ToRecord(cfg)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM reply_keywords`); err != nil {
			return fmt.Errorf("clear keywords: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM reply_sender_rules`); err != nil {
			return fmt.Errorf("clear sender rules: %w", err)
		}
		batch := &pgx.Batch{}
		for i, kw := range rec.Keywords {
			batch.Queue(`INSERT INTO reply_keywords (position, keyword) VALUES ($1, $2)`, i, kw)
		}
		for _, rr := range rec.Senders {
			batch.Queue(
				`INSERT INTO reply_sender_rules (id, display_name, delivery_mode, template_choice, custom_template) VALUES ($1, $2, $3, $4, $5)`,
				rr.ID, rr.Name, rr.ReplyType, rr.Template, rr.CustomTemplate,
			)
		}
		batch.Queue(
			`INSERT INTO reply_templates (singleton, template_ar, template_en, updated_at) VALUES (TRUE, $1, $2, now())
			 ON CONFLICT (singleton) DO UPDATE SET template_ar = EXCLUDED.template_ar, template_en = EXCLUDED.template_en, updated_at = now()`,
			rec.DefaultTemplateAr, rec.DefaultTemplateEn,
		)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
