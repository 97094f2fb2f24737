package store

import (
	"context"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// TIMESTAMP (not TIMESTAMPTZ) lets the driver scan the columns back into
// time.Time.
const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	input_path TEXT NOT NULL,
	output_path TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	page_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	pages_rendered INTEGER NOT NULL,
	pixels_processed INTEGER NOT NULL,
	output_bytes INTEGER NOT NULL,
	compute_time_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_logs_user_id_idx ON usage_logs (user_id, created_at);
`

// NewSQLiteJobStore opens (creating if needed) the database file at path.
func NewSQLiteJobStore(ctx context.Context, path string) (*SQLJobStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	store, err := openSQLJobStore(ctx, "sqlite3", dsn, sqliteSchemaSQL, rebindNumbered)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer per file.
	store.db.SetMaxOpenConns(1)
	return store, nil
}

// rebindNumbered turns $n into SQLite's explicit ?n form.
func rebindNumbered(q string) string {
	return strings.ReplaceAll(q, "$", "?")
}
