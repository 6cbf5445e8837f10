// Package repository provides persistence implementations for the
// relay's authentication and synchronization services using a
// PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmagur/passlock/internal/models"
)

// PostgresSyncRepository stores vault items per user and collection.
// Tombstoned items are kept forever so deletions propagate to every
// device.
type PostgresSyncRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresSyncRepository creates a repository over the provided
// *sql.DB. db must be a valid connection to a PostgreSQL instance.
func NewPostgresSyncRepository(db *sql.DB) *PostgresSyncRepository {
	return &PostgresSyncRepository{DB: db}
}

// ItemsSince returns the user's items in collection changed since the
// given time, tombstones included. A zero since returns everything.
func (r *PostgresSyncRepository) ItemsSince(ctx context.Context, userID, collection string, since time.Time) ([]models.VaultItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, url, username, password, title, folder, created_at, updated_at, deleted_at
		FROM items
		WHERE user_login = $1 AND collection = $2 AND updated_at > $3
	`, userID, collection, since)
	if err != nil {
		return nil, fmt.Errorf("ItemsSince: %w", err)
	}
	defer rows.Close()

	var items []models.VaultItem
	for rows.Next() {
		var item models.VaultItem
		var deletedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.URL, &item.Username, &item.Password,
			&item.Title, &item.Folder, &item.CreatedAt, &item.UpdatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if deletedAt.Valid {
			item.DeletedAt = &deletedAt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertIfNewer merges a pushed collection snapshot with last-write-
// wins semantics keyed by id: an incoming item replaces the stored row
// only when its updated_at is strictly newer. A repeated push of the
// same snapshot is therefore a no-op, making pushes idempotent under
// retry. Returns the number of rows written.
func (r *PostgresSyncRepository) UpsertIfNewer(ctx context.Context, userID, collection string, items []models.VaultItem) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, user_login, collection, url, username, password, title, folder, created_at, updated_at, deleted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				url = EXCLUDED.url,
				username = EXCLUDED.username,
				password = EXCLUDED.password,
				title = EXCLUDED.title,
				folder = EXCLUDED.folder,
				updated_at = EXCLUDED.updated_at,
				deleted_at = EXCLUDED.deleted_at
			WHERE items.updated_at < EXCLUDED.updated_at
		`, item.ID, userID, collection, item.URL, item.Username, item.Password,
			item.Title, item.Folder, item.CreatedAt, item.UpdatedAt, deletedAtValue(item))
		if err != nil {
			return 0, fmt.Errorf("upsert: %w", err)
		}
		if rows, err := res.RowsAffected(); err == nil {
			written += int(rows)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

func deletedAtValue(item models.VaultItem) any {
	if item.DeletedAt == nil {
		return nil
	}
	return *item.DeletedAt
}
