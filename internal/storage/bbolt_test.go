package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmagur/passlock/internal/crypto"
	"github.com/dmagur/passlock/internal/models"
)

func openTestStore(t *testing.T, backupCap int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vault.db"), backupCap)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func envWith(ciphertext string) crypto.Envelope {
	return crypto.Envelope{Ciphertext: ciphertext, Salt: "c2FsdA==", IV: "aXYxMjM0NTY3OA==", Iterations: 210000}
}

func TestEnvelope_SaveLoadExists(t *testing.T) {
	s := openTestStore(t, 5)

	exists, err := s.EnvelopeExists()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("fresh store reports an envelope")
	}
	if _, err := s.LoadEnvelope(); !errors.Is(err, ErrNoEnvelope) {
		t.Fatalf("load on fresh store = %v; want ErrNoEnvelope", err)
	}

	want := envWith("Y2lwaGVy")
	if err := s.SaveEnvelope(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadEnvelope()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Errorf("envelope = %+v; want %+v", got, want)
	}

	exists, err = s.EnvelopeExists()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Errorf("envelope not reported after save")
	}
}

func TestBackups_TrimmedToCap(t *testing.T) {
	s := openTestStore(t, 3)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		env := envWith(string(rune('a' + i)))
		if err := s.AddBackup(env, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("add backup %d: %v", i, err)
		}
	}

	backups, err := s.Backups()
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("backups len = %d; want 3", len(backups))
	}
	// Oldest dropped: the retained history is the most recent three,
	// oldest first.
	for i, want := range []string{"c", "d", "e"} {
		if backups[i].Ciphertext != want {
			t.Errorf("backup[%d].Ciphertext = %q; want %q", i, backups[i].Ciphertext, want)
		}
	}
}

func TestBackups_ShrunkenCapTrimsExcessInOneWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(path, 6)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := s.AddBackup(envWith(string(rune('a'+i))), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("add backup %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen with a smaller cap: the next write must trim several
	// entries at once, not just one.
	s, err = Open(path, 2)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.AddBackup(envWith("g"), base.Add(time.Hour)); err != nil {
		t.Fatalf("add backup after reopen: %v", err)
	}

	backups, err := s.Backups()
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("backups len = %d; want 2 (cap after reopen)", len(backups))
	}
	for i, want := range []string{"f", "g"} {
		if backups[i].Ciphertext != want {
			t.Errorf("backup[%d].Ciphertext = %q; want %q", i, backups[i].Ciphertext, want)
		}
	}
}

func TestQueue_InsertionOrderAndClear(t *testing.T) {
	s := openTestStore(t, 5)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		entry := models.SyncQueueEntry{
			Kind:     models.KindPassword,
			Action:   models.ActionAdd,
			Payload:  models.VaultItem{ID: id},
			QueuedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Enqueue(entry); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	queued, err := s.Queue()
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("queue len = %d; want 3", len(queued))
	}
	for i, want := range []string{"first", "second", "third"} {
		if queued[i].Payload.ID != want {
			t.Errorf("queue[%d] = %q; want %q", i, queued[i].Payload.ID, want)
		}
	}

	if err := s.ClearQueue(); err != nil {
		t.Fatalf("clear queue: %v", err)
	}
	queued, err = s.Queue()
	if err != nil {
		t.Fatalf("queue after clear: %v", err)
	}
	if len(queued) != 0 {
		t.Errorf("queue not empty after clear: %+v", queued)
	}

	// The sequence keeps growing after a clear; order must survive.
	if err := s.Enqueue(models.SyncQueueEntry{Payload: models.VaultItem{ID: "after-clear"}}); err != nil {
		t.Fatalf("enqueue after clear: %v", err)
	}
	queued, _ = s.Queue()
	if len(queued) != 1 || queued[0].Payload.ID != "after-clear" {
		t.Errorf("queue after re-enqueue = %+v", queued)
	}
}

func TestWatermark_RoundTrip(t *testing.T) {
	s := openTestStore(t, 5)

	at, err := s.Watermark(models.CollectionPasswords)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if !at.IsZero() {
		t.Errorf("fresh watermark = %v; want zero", at)
	}

	want := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	if err := s.SetWatermark(models.CollectionPasswords, want); err != nil {
		t.Fatalf("set watermark: %v", err)
	}

	got, err := s.Watermark(models.CollectionPasswords)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("watermark = %v; want %v", got, want)
	}

	// Collections are independent.
	other, err := s.Watermark(models.CollectionBookmarks)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if !other.IsZero() {
		t.Errorf("bookmark watermark = %v; want zero", other)
	}
}
