// Package syncer orchestrates one bidirectional sync pass: pull
// remote deltas, merge with the vault via the conflict resolver, push
// the merged collections back in full, and drain the offline mutation
// queue. At most one pass runs at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dmagur/passlock/internal/merge"
	"github.com/dmagur/passlock/internal/models"
	"github.com/dmagur/passlock/internal/vault"
)

// ErrNotAuthenticated is returned when a pass is attempted without a
// valid remote session. No network calls are made in that case.
var ErrNotAuthenticated = errors.New("not authenticated")

// Status of a PerformSync call.
type Status string

const (
	// StatusOK means the pass completed and the watermark advanced.
	StatusOK Status = "ok"
	// StatusInProgress means another pass was already running; this
	// call did nothing. It is a status, not a failure.
	StatusInProgress Status = "in_progress"
)

// RemoteStore is the remote collaborator consumed by the engine. The
// remote performs its own last-write-wins merge keyed by id on push,
// which makes the full push idempotent under retry.
type RemoteStore interface {
	// Authenticated reports whether a valid session is attached.
	Authenticated() bool
	// Fetch returns the items of collection changed since the given
	// time, plus the remote's timestamp. A zero since means fetch
	// everything.
	Fetch(ctx context.Context, collection string, since time.Time) ([]models.VaultItem, time.Time, error)
	// Push uploads the full merged collection.
	Push(ctx context.Context, collection string, items []models.VaultItem) (int, time.Time, error)
}

// QueueStore persists mutations recorded while the remote was
// unreachable.
type QueueStore interface {
	Enqueue(models.SyncQueueEntry) error
	Queue() ([]models.SyncQueueEntry, error)
	ClearQueue() error
}

// WatermarkStore persists the last-sync timestamp per collection.
type WatermarkStore interface {
	Watermark(collection string) (time.Time, error)
	SetWatermark(collection string, at time.Time) error
}

// Result reports the outcome of one PerformSync call.
type Result struct {
	Status Status
	// Conflicts detected across both collections during the pass.
	// Under last-write-wins they are already resolved; under the
	// manual policy they await an external decision.
	Conflicts []models.Conflict
	// QueueFailures counts offline mutations that failed to replay
	// and were dropped. Surfaced so a UI can tell the user instead of
	// losing them silently.
	QueueFailures int
}

// Engine runs sync passes against one vault and one remote.
type Engine struct {
	vault      *vault.Vault
	remote     RemoteStore
	queue      QueueStore
	watermarks WatermarkStore
	policy     merge.Policy
	log        *zap.Logger

	syncing atomic.Bool
}

// New creates an Engine. policy defaults to last-write-wins when
// empty.
func New(v *vault.Vault, remote RemoteStore, queue QueueStore, watermarks WatermarkStore, policy merge.Policy, log *zap.Logger) *Engine {
	if policy == "" {
		policy = merge.PolicyLastWriteWins
	}
	return &Engine{
		vault:      v,
		remote:     remote,
		queue:      queue,
		watermarks: watermarks,
		policy:     policy,
		log:        log,
	}
}

// collections maps each synced collection to its vault accessors.
var collections = []struct {
	name string
	kind models.ItemKind
}{
	{models.CollectionPasswords, models.KindPassword},
	{models.CollectionBookmarks, models.KindBookmark},
}

// PerformSync runs one pass. A call while another pass is running
// returns StatusInProgress immediately without starting a second
// pass. Any remote error aborts the whole pass with no watermark
// update, so the next attempt retries from the same point;
// queue-drain failures are per-entry and non-fatal.
func (e *Engine) PerformSync(ctx context.Context) (Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return Result{Status: StatusInProgress}, nil
	}
	defer e.syncing.Store(false)

	if !e.remote.Authenticated() {
		return Result{}, ErrNotAuthenticated
	}

	started := time.Now()
	var result Result
	result.Status = StatusOK

	// The remote's fetch timestamp is the next watermark: the delta
	// filter is evaluated against the relay's clock, so using our own
	// clock here would be skew-sensitive. Fall back to the pass start
	// when the remote sends none.
	stamps := make(map[string]time.Time, len(collections))
	for _, coll := range collections {
		conflicts, stamp, err := e.syncCollection(ctx, coll.name, coll.kind)
		if err != nil {
			return Result{}, fmt.Errorf("sync %s: %w", coll.name, err)
		}
		if stamp.IsZero() {
			stamp = started
		}
		stamps[coll.name] = stamp
		result.Conflicts = append(result.Conflicts, conflicts...)
	}

	result.QueueFailures = e.drainQueue()

	for _, coll := range collections {
		if err := e.watermarks.SetWatermark(coll.name, stamps[coll.name]); err != nil {
			return Result{}, fmt.Errorf("record watermark: %w", err)
		}
	}

	e.log.Info("sync pass complete",
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("queue_failures", result.QueueFailures))
	return result, nil
}

// syncCollection pulls the remote delta, merges, writes the merged
// set back to the vault, and pushes the full merged collection. The
// returned timestamp is the remote's fetch stamp, recorded as the
// collection's watermark once the whole pass succeeds.
func (e *Engine) syncCollection(ctx context.Context, collection string, kind models.ItemKind) ([]models.Conflict, time.Time, error) {
	local, err := e.listLocal(kind)
	if err != nil {
		return nil, time.Time{}, err
	}

	since, err := e.watermarks.Watermark(collection)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read watermark: %w", err)
	}

	remote, stamp, err := e.remote.Fetch(ctx, collection, since)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fetch: %w", err)
	}

	res := merge.Merge(local, remote, e.policy)

	if err := e.vault.ReplaceCollection(kind, res.Merged); err != nil {
		return nil, time.Time{}, fmt.Errorf("store merged collection: %w", err)
	}

	if _, _, err := e.remote.Push(ctx, collection, res.Merged); err != nil {
		return nil, time.Time{}, fmt.Errorf("push: %w", err)
	}

	return res.Conflicts, stamp, nil
}

// drainQueue replays queued offline mutations against the vault in
// insertion order, then clears the queue. A failing entry is logged
// and skipped rather than aborting the drain. Returns the number of
// dropped entries.
func (e *Engine) drainQueue() int {
	entries, err := e.queue.Queue()
	if err != nil {
		e.log.Warn("read offline queue failed", zap.Error(err))
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	failures := 0
	for _, entry := range entries {
		if err := e.replay(entry); err != nil {
			failures++
			e.log.Warn("offline mutation dropped",
				zap.String("id", entry.Payload.ID),
				zap.String("action", string(entry.Action)),
				zap.Error(err))
		}
	}

	if err := e.queue.ClearQueue(); err != nil {
		e.log.Warn("clear offline queue failed", zap.Error(err))
	}
	return failures
}

func (e *Engine) replay(entry models.SyncQueueEntry) error {
	switch entry.Action {
	case models.ActionAdd:
		_, err := e.vault.AddItem(entry.Kind, entry.Payload)
		return err
	case models.ActionUpdate:
		_, err := e.vault.UpdateItem(entry.Kind, entry.Payload)
		return err
	default:
		return fmt.Errorf("unknown queue action %q", entry.Action)
	}
}

// Enqueue records a mutation that could not reach the remote, for
// replay on the next pass.
func (e *Engine) Enqueue(kind models.ItemKind, action models.QueueAction, payload models.VaultItem) error {
	entry := models.SyncQueueEntry{
		Kind:     kind,
		Action:   action,
		Payload:  payload,
		QueuedAt: time.Now(),
	}
	return e.queue.Enqueue(entry)
}

func (e *Engine) listLocal(kind models.ItemKind) ([]models.VaultItem, error) {
	if kind == models.KindBookmark {
		return e.vault.ListBookmarks()
	}
	return e.vault.ListItems()
}
