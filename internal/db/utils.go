package db

import (
	"fmt"
	"net/url"

	"github.com/memohai/keyreply/internal/config"
)

// DSN builds a PostgreSQL connection string from config.
func DSN(cfg config.PostgresConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// SQLiteDSN is the database/sql DSN for modernc sqlite with foreign keys and WAL enabled.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// SQLiteMigrateURL is the golang-migrate URL for the sqlite driver.
func SQLiteMigrateURL(path string) string {
	return "sqlite://" + path
}
