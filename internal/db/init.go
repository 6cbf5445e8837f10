// Package db initializes the relay's PostgreSQL schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Tombstoned items keep their row with deleted_at set and are never
// physically removed, so deletions propagate to devices that sync
// later.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    login TEXT PRIMARY KEY,
    secret_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    user_login TEXT PRIMARY KEY REFERENCES users(login) ON DELETE CASCADE,
    token TEXT UNIQUE NOT NULL,
    issued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    user_login TEXT REFERENCES users(login) ON DELETE CASCADE,
    collection TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    username TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    folder TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS items_user_collection_updated
    ON items (user_login, collection, updated_at);
`

// InitPostgres opens a connection to dsn, verifies it, and applies
// the schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
