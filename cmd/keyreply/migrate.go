package main

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	migrations "github.com/memohai/keyreply/db"
	"github.com/memohai/keyreply/internal/config"
	"github.com/memohai/keyreply/internal/db"
	"github.com/memohai/keyreply/internal/logger"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|version|force N>",
		Short:     "Run schema migrations for the sqlite or postgres settings store",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			url, source, err := migrationTarget(cfg.Store)
			if err != nil {
				return err
			}
			log := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return db.RunMigrate(log, url, source, args[0], args[1:])
		},
	}
}

func migrationTarget(store config.StoreConfig) (string, fs.FS, error) {
	switch strings.ToLower(strings.TrimSpace(store.Backend)) {
	case "sqlite":
		path := strings.TrimSpace(store.Path)
		if path == "" {
			path = "keyreply.db"
		}
		return db.SQLiteMigrateURL(path), migrations.SQLiteMigrations, nil
	case "postgres":
		return db.DSN(store.Postgres), migrations.PostgresMigrations, nil
	default:
		return "", nil, fmt.Errorf("store backend %q has no schema to migrate", store.Backend)
	}
}
