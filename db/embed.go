package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// PostgresMigrations holds the SQL migrations for the postgres settings backend.
var PostgresMigrations = mustSub("migrations/postgres")

// SQLiteMigrations holds the SQL migrations for the sqlite settings backend.
var SQLiteMigrations = mustSub("migrations/sqlite")

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
