package vault

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmagur/passlock/internal/crypto"
	"github.com/dmagur/passlock/internal/models"
)

// memStore is an in-memory EnvelopeStore.
type memStore struct {
	mu      sync.Mutex
	env     crypto.Envelope
	exists  bool
	saveErr error
}

func (m *memStore) LoadEnvelope() (crypto.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.env, nil
}

func (m *memStore) SaveEnvelope(env crypto.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.env = env
	m.exists = true
	return nil
}

func (m *memStore) EnvelopeExists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, nil
}

// memBackups records backup writes and can be made to fail.
type memBackups struct {
	mu     sync.Mutex
	count  int
	addErr error
}

func (m *memBackups) AddBackup(crypto.Envelope, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.count++
	return nil
}

func (m *memBackups) added() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func newTestVault(t *testing.T, opts ...Option) (*Vault, *memStore, *memBackups) {
	t.Helper()
	store := &memStore{}
	backups := &memBackups{}
	return New(store, backups, zap.NewNop(), opts...), store, backups
}

func TestUnlock_CreatesEmptyVaultAndSealsIt(t *testing.T) {
	v, store, _ := newTestVault(t)

	require.NoError(t, v.Unlock([]byte("master")))
	assert.True(t, v.Unlocked())

	exists, err := store.EnvelopeExists()
	require.NoError(t, err)
	assert.True(t, exists, "empty vault must be sealed immediately on first unlock")

	items, err := v.ListItems()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUnlock_WrongSecretLeavesVaultLocked(t *testing.T) {
	v, store, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("right")))
	v.Lock()

	other := New(store, nil, zap.NewNop())
	err := other.Unlock([]byte("wrong"))
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.False(t, other.Unlocked())

	_, err = other.ListItems()
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestAddItem_SurvivesLockCycle(t *testing.T) {
	v, store, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("master")))

	added, err := v.AddItem(models.KindPassword, models.VaultItem{
		URL: "a.com", Username: "u", Password: "p",
	})
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)

	v.Lock()
	assert.False(t, v.Unlocked())

	reopened := New(store, nil, zap.NewNop())
	require.NoError(t, reopened.Unlock([]byte("master")))

	items, err := reopened.ListItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0]
	assert.Equal(t, added.ID, got.ID)
	assert.Equal(t, "a.com", got.URL)
	assert.Equal(t, "u", got.Username)
	assert.Equal(t, "p", got.Password)
	assert.True(t, added.UpdatedAt.Equal(got.UpdatedAt))
	assert.Nil(t, got.DeletedAt)
}

func TestMutations_RequireUnlockedState(t *testing.T) {
	v, _, _ := newTestVault(t)

	_, err := v.AddItem(models.KindPassword, models.VaultItem{URL: "a.com"})
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = v.UpdateItem(models.KindPassword, models.VaultItem{ID: "x"})
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, v.SoftDeleteItem(models.KindPassword, "x"), ErrVaultLocked)
	_, err = v.ListItems()
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, v.ReplaceCollection(models.KindPassword, nil), ErrVaultLocked)
}

func TestUpdateItem_UnknownID(t *testing.T) {
	v, _, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))

	_, err := v.UpdateItem(models.KindPassword, models.VaultItem{ID: "missing"})
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, v.SoftDeleteItem(models.KindPassword, "missing"), ErrItemNotFound)
}

func TestUpdateItem_AdvancesUpdatedAt(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	v, _, _ := newTestVault(t, WithClock(func() time.Time { return now }))
	require.NoError(t, v.Unlock([]byte("m")))

	added, err := v.AddItem(models.KindPassword, models.VaultItem{URL: "a.com"})
	require.NoError(t, err)

	// Clock did not move: UpdatedAt must still strictly advance.
	updated, err := v.UpdateItem(models.KindPassword, models.VaultItem{ID: added.ID, URL: "b.com"})
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(added.UpdatedAt),
		"UpdatedAt must be monotonically increasing per item")
	assert.Equal(t, added.CreatedAt, updated.CreatedAt)
}

func TestSoftDelete_KeepsTombstoneForSync(t *testing.T) {
	v, _, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))

	added, err := v.AddItem(models.KindBookmark, models.VaultItem{Title: "docs", URL: "b.com"})
	require.NoError(t, err)
	require.NoError(t, v.SoftDeleteItem(models.KindBookmark, added.ID))

	raw, err := v.ListBookmarks()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.True(t, raw[0].Deleted())

	visible, err := v.VisibleBookmarks()
	require.NoError(t, err)
	assert.Empty(t, visible)

	// Deleting a tombstone again is a logic error.
	assert.ErrorIs(t, v.SoftDeleteItem(models.KindBookmark, added.ID), ErrItemNotFound)
}

func TestAutoLock_FiresAfterIdleWindow(t *testing.T) {
	v, _, _ := newTestVault(t, WithIdleWindow(30*time.Millisecond))
	require.NoError(t, v.Unlock([]byte("m")))

	require.Eventually(t, func() bool { return !v.Unlocked() },
		2*time.Second, 10*time.Millisecond, "auto-lock never fired")

	_, err := v.ListItems()
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestLock_IsIdempotent(t *testing.T) {
	v, _, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))
	v.Lock()
	v.Lock()
	assert.False(t, v.Unlocked())
}

func TestPersistFailure_RollsBackMutation(t *testing.T) {
	v, store, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))

	store.saveErr = errors.New("disk full")
	_, err := v.AddItem(models.KindPassword, models.VaultItem{URL: "a.com"})
	require.Error(t, err)
	store.saveErr = nil

	items, err := v.ListItems()
	require.NoError(t, err)
	assert.Empty(t, items, "failed persist must not leave the item in memory")
}

func TestBackupFailure_DoesNotFailMutation(t *testing.T) {
	v, _, backups := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))

	backups.addErr = errors.New("backup store unavailable")
	_, err := v.AddItem(models.KindPassword, models.VaultItem{URL: "a.com"})
	assert.NoError(t, err, "backup failures are logged and swallowed")
}

func TestMutations_WriteBackups(t *testing.T) {
	v, _, backups := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))
	before := backups.added()

	_, err := v.AddItem(models.KindPassword, models.VaultItem{URL: "a.com"})
	require.NoError(t, err)
	assert.Equal(t, before+1, backups.added())
}

func TestReplaceCollection_PersistsMergedState(t *testing.T) {
	v, store, _ := newTestVault(t)
	require.NoError(t, v.Unlock([]byte("m")))

	merged := []models.VaultItem{
		{ID: "r1", URL: "remote.example", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}
	require.NoError(t, v.ReplaceCollection(models.KindPassword, merged))

	reopened := New(store, nil, zap.NewNop())
	require.NoError(t, reopened.Unlock([]byte("m")))
	items, err := reopened.ListItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ID)
}
