// Package vault holds the decrypted working set for one unlocked
// session and persists it as a full encrypted snapshot on every
// mutation. A Vault starts Locked, moves to Unlocked on a successful
// Unlock, and returns to Locked on explicit Lock, auto-lock timeout,
// or process restart. The master secret lives only in process memory
// for the duration of the unlocked session.
package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmagur/passlock/internal/crypto"
	"github.com/dmagur/passlock/internal/models"
)

var (
	// ErrVaultLocked is returned by any operation that needs a
	// resident session while the vault is locked.
	ErrVaultLocked = errors.New("vault is locked")
	// ErrItemNotFound is returned on update/delete of an unknown id.
	ErrItemNotFound = errors.New("item not found")
)

// Defaults for the auto-lock window and the rolling backup cap.
const (
	DefaultIdleWindow = 15 * time.Minute
	DefaultBackupCap  = 5
	snapshotVersion   = 1
)

// EnvelopeStore persists the primary encrypted snapshot. Exists
// reports whether a snapshot was ever written, so Unlock can tell a
// first unlock from a wrong secret.
type EnvelopeStore interface {
	LoadEnvelope() (crypto.Envelope, error)
	SaveEnvelope(crypto.Envelope) error
	EnvelopeExists() (bool, error)
}

// BackupSink keeps a bounded history of snapshots so storage
// corruption is recoverable. Implementations trim to their cap on
// every write.
type BackupSink interface {
	AddBackup(env crypto.Envelope, at time.Time) error
}

// snapshot is the plaintext form sealed into the envelope. Every save
// is a full encrypt-and-replace; the vault is never partially
// persisted.
type snapshot struct {
	Items     []models.VaultItem   `json:"items"`
	Bookmarks []models.VaultItem   `json:"bookmarks"`
	Metadata  models.VaultMetadata `json:"metadata"`
}

// Option configures a Vault at construction time.
type Option func(*Vault)

// WithIdleWindow overrides the auto-lock idle window.
func WithIdleWindow(d time.Duration) Option {
	return func(v *Vault) { v.idleWindow = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// Vault is an explicit session object: the resident master secret and
// decrypted item set for one unlocked session. It is safe for
// concurrent use from one logical session; concurrent unlocks from
// two processes against the same storage must be serialized by the
// caller.
type Vault struct {
	mu sync.Mutex

	store   EnvelopeStore
	backups BackupSink
	log     *zap.Logger

	idleWindow time.Duration
	now        func() time.Time

	// Unlocked-session state. All nil/empty while locked.
	secret    []byte
	items     map[string]models.VaultItem
	bookmarks map[string]models.VaultItem
	metadata  models.VaultMetadata
	idleTimer *time.Timer
}

// New creates a locked Vault persisting through store, with bounded
// backups written to backups on every successful save.
func New(store EnvelopeStore, backups BackupSink, log *zap.Logger, opts ...Option) *Vault {
	v := &Vault{
		store:      store,
		backups:    backups,
		log:        log,
		idleWindow: DefaultIdleWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Unlock decrypts the stored snapshot with secret and makes the
// session resident. When no snapshot exists yet it creates an empty
// vault and seals it immediately. On decryption failure the vault
// stays locked with no partial state change.
func (v *Vault) Unlock(secret []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	exists, err := v.store.EnvelopeExists()
	if err != nil {
		return fmt.Errorf("check stored vault: %w", err)
	}

	var snap snapshot
	if exists {
		env, err := v.store.LoadEnvelope()
		if err != nil {
			return fmt.Errorf("load stored vault: %w", err)
		}
		if err := crypto.OpenObject(env, secret, &snap); err != nil {
			return err
		}
	} else {
		snap = snapshot{
			Metadata: models.VaultMetadata{
				CreatedAt: v.now(),
				Version:   snapshotVersion,
			},
		}
	}

	v.secret = append([]byte(nil), secret...)
	v.items = indexItems(snap.Items)
	v.bookmarks = indexItems(snap.Bookmarks)
	v.metadata = snap.Metadata

	if !exists {
		if err := v.persistLocked(); err != nil {
			v.clearSessionLocked()
			return err
		}
	}

	v.armTimerLocked()
	return nil
}

// Lock discards the resident session. The stored snapshot is
// untouched. Idempotent; the idle timer is always cancelled.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearSessionLocked()
}

// Unlocked reports whether a session is resident.
func (v *Vault) Unlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.secret != nil
}

// AddItem stamps and stores a new item in the collection matching
// kind, persists a snapshot, and returns the stored item.
func (v *Vault) AddItem(kind models.ItemKind, item models.VaultItem) (models.VaultItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.secret == nil {
		return models.VaultItem{}, ErrVaultLocked
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	nowTS := v.now()
	item.CreatedAt = nowTS
	item.UpdatedAt = nowTS
	item.DeletedAt = nil

	v.collectionLocked(kind)[item.ID] = item
	if err := v.persistLocked(); err != nil {
		delete(v.collectionLocked(kind), item.ID)
		return models.VaultItem{}, err
	}

	v.armTimerLocked()
	return item, nil
}

// UpdateItem replaces the payload of an existing item, preserving its
// identity and CreatedAt and advancing UpdatedAt.
func (v *Vault) UpdateItem(kind models.ItemKind, item models.VaultItem) (models.VaultItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.secret == nil {
		return models.VaultItem{}, ErrVaultLocked
	}

	coll := v.collectionLocked(kind)
	existing, ok := coll[item.ID]
	if !ok {
		return models.VaultItem{}, ErrItemNotFound
	}

	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = v.monotonicNowLocked(existing.UpdatedAt)
	coll[item.ID] = item
	if err := v.persistLocked(); err != nil {
		coll[item.ID] = existing
		return models.VaultItem{}, err
	}

	v.armTimerLocked()
	return item, nil
}

// SoftDeleteItem tombstones an item. The record stays in the vault so
// the deletion propagates through sync.
func (v *Vault) SoftDeleteItem(kind models.ItemKind, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.secret == nil {
		return ErrVaultLocked
	}

	coll := v.collectionLocked(kind)
	existing, ok := coll[id]
	if !ok || existing.Deleted() {
		return ErrItemNotFound
	}

	item := existing
	deletedAt := v.monotonicNowLocked(existing.UpdatedAt)
	item.DeletedAt = &deletedAt
	item.UpdatedAt = deletedAt
	coll[id] = item
	if err := v.persistLocked(); err != nil {
		coll[id] = existing
		return err
	}

	v.armTimerLocked()
	return nil
}

// ListItems returns every credential including tombstones, for
// callers that need sync visibility.
func (v *Vault) ListItems() ([]models.VaultItem, error) {
	return v.list(models.KindPassword, false)
}

// ListBookmarks returns every bookmark including tombstones.
func (v *Vault) ListBookmarks() ([]models.VaultItem, error) {
	return v.list(models.KindBookmark, false)
}

// VisibleItems returns credentials with tombstones filtered out, the
// UI-facing read path.
func (v *Vault) VisibleItems() ([]models.VaultItem, error) {
	return v.list(models.KindPassword, true)
}

// VisibleBookmarks returns bookmarks with tombstones filtered out.
func (v *Vault) VisibleBookmarks() ([]models.VaultItem, error) {
	return v.list(models.KindBookmark, true)
}

// ReplaceCollection swaps in a merged collection produced by the sync
// engine and persists the result. UpdatedAt stamps arrive already set
// by the merge and are kept as-is.
func (v *Vault) ReplaceCollection(kind models.ItemKind, items []models.VaultItem) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.secret == nil {
		return ErrVaultLocked
	}

	previous := v.collectionLocked(kind)
	replacement := indexItems(items)
	v.setCollectionLocked(kind, replacement)
	if err := v.persistLocked(); err != nil {
		v.setCollectionLocked(kind, previous)
		return err
	}

	v.armTimerLocked()
	return nil
}

func (v *Vault) list(kind models.ItemKind, visibleOnly bool) ([]models.VaultItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.secret == nil {
		return nil, ErrVaultLocked
	}

	coll := v.collectionLocked(kind)
	out := make([]models.VaultItem, 0, len(coll))
	for _, item := range coll {
		if visibleOnly && item.Deleted() {
			continue
		}
		out = append(out, item)
	}

	v.armTimerLocked()
	return out, nil
}

// persistLocked seals the full snapshot and replaces the stored
// envelope. A successful save also feeds the rolling backup; backup
// failures are logged and swallowed because the primary write is the
// operation of record.
func (v *Vault) persistLocked() error {
	snap := snapshot{
		Items:     flatten(v.items),
		Bookmarks: flatten(v.bookmarks),
		Metadata:  v.metadata,
	}
	env, err := crypto.SealObject(snap, v.secret)
	if err != nil {
		return fmt.Errorf("seal vault: %w", err)
	}
	if err := v.store.SaveEnvelope(env); err != nil {
		return fmt.Errorf("save vault: %w", err)
	}
	if v.backups != nil {
		if err := v.backups.AddBackup(env, v.now()); err != nil {
			v.log.Warn("backup write failed", zap.Error(err))
		}
	}
	return nil
}

// monotonicNowLocked keeps UpdatedAt non-decreasing per item even if
// the wall clock steps backwards between mutations.
func (v *Vault) monotonicNowLocked(last time.Time) time.Time {
	nowTS := v.now()
	if !nowTS.After(last) {
		return last.Add(time.Millisecond)
	}
	return nowTS
}

// armTimerLocked restarts the auto-lock countdown. Called on every
// qualifying access; cancel-and-reschedule, never a fixed deadline.
func (v *Vault) armTimerLocked() {
	if v.idleTimer != nil {
		v.idleTimer.Stop()
	}
	v.idleTimer = time.AfterFunc(v.idleWindow, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.secret == nil {
			return
		}
		v.log.Info("auto-lock: idle window elapsed")
		v.clearSessionLocked()
	})
}

func (v *Vault) clearSessionLocked() {
	if v.idleTimer != nil {
		v.idleTimer.Stop()
		v.idleTimer = nil
	}
	crypto.ClearBytes(v.secret)
	v.secret = nil
	v.items = nil
	v.bookmarks = nil
	v.metadata = models.VaultMetadata{}
}

func (v *Vault) collectionLocked(kind models.ItemKind) map[string]models.VaultItem {
	if kind == models.KindBookmark {
		return v.bookmarks
	}
	return v.items
}

func (v *Vault) setCollectionLocked(kind models.ItemKind, coll map[string]models.VaultItem) {
	if kind == models.KindBookmark {
		v.bookmarks = coll
	} else {
		v.items = coll
	}
}

func indexItems(items []models.VaultItem) map[string]models.VaultItem {
	byID := make(map[string]models.VaultItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID
}

func flatten(byID map[string]models.VaultItem) []models.VaultItem {
	out := make([]models.VaultItem, 0, len(byID))
	for _, item := range byID {
		out = append(out, item)
	}
	return out
}
