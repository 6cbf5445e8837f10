package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmagur/passlock/internal/models"
)

func setupMock(t *testing.T) (*PostgresSyncRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresSyncRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

const itemColumns = "id, url, username, password, title, folder, created_at, updated_at, deleted_at"

func itemRows(items ...models.VaultItem) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "url", "username", "password", "title", "folder", "created_at", "updated_at", "deleted_at"})
	for _, item := range items {
		var deletedAt any
		if item.DeletedAt != nil {
			deletedAt = *item.DeletedAt
		}
		rows.AddRow(item.ID, item.URL, item.Username, item.Password, item.Title, item.Folder,
			item.CreatedAt, item.UpdatedAt, deletedAt)
	}
	return rows
}

func TestItemsSince_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	deleted := since.Add(2 * time.Hour)
	want := []models.VaultItem{
		{ID: "i1", URL: "a.com", Username: "u", Password: "p", CreatedAt: since, UpdatedAt: since.Add(time.Hour)},
		{ID: "i2", URL: "b.com", CreatedAt: since, UpdatedAt: deleted, DeletedAt: &deleted},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+itemColumns)).
		WithArgs("alice", models.CollectionPasswords, since).
		WillReturnRows(itemRows(want...))

	items, err := repo.ItemsSince(context.Background(), "alice", models.CollectionPasswords, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items len = %d; want 2", len(items))
	}
	if items[0].ID != "i1" || items[0].DeletedAt != nil {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].ID != "i2" || items[1].DeletedAt == nil || !items[1].DeletedAt.Equal(deleted) {
		t.Errorf("tombstone not preserved: %+v", items[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestItemsSince_QueryError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + itemColumns)).
		WillReturnError(errors.New("query fail"))

	_, err := repo.ItemsSince(context.Background(), "alice", models.CollectionPasswords, time.Time{})
	if err == nil || !regexp.MustCompile(`ItemsSince`).MatchString(err.Error()) {
		t.Errorf("expected ItemsSince error, got %v", err)
	}
}

func TestUpsertIfNewer_WritesAndCounts(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	now := time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)
	items := []models.VaultItem{
		{ID: "i1", URL: "a.com", CreatedAt: now, UpdatedAt: now},
		{ID: "i2", URL: "b.com", CreatedAt: now, UpdatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO items`)).
		WithArgs(items[0].ID, "alice", models.CollectionPasswords, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO items`)).
		WithArgs(items[1].ID, "alice", models.CollectionPasswords, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0)) // older than stored: skipped
	mock.ExpectCommit()

	written, err := repo.UpsertIfNewer(context.Background(), "alice", models.CollectionPasswords, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d; want 1 (second row skipped as older)", written)
	}
}

func TestUpsertIfNewer_ExecError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO items`)).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	_, err := repo.UpsertIfNewer(context.Background(), "alice", models.CollectionPasswords,
		[]models.VaultItem{{ID: "i1"}})
	if err == nil || !regexp.MustCompile(`upsert`).MatchString(err.Error()) {
		t.Errorf("expected upsert error, got %v", err)
	}
}

func TestUpsertIfNewer_BeginError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := repo.UpsertIfNewer(context.Background(), "alice", models.CollectionPasswords, nil)
	if err == nil || !regexp.MustCompile(`begin tx`).MatchString(err.Error()) {
		t.Errorf("expected begin tx error, got %v", err)
	}
}
