// Package models defines the core data structures shared by the vault,
// the sync engine, and the relay server.
package models

import (
	"time"
)

// ItemKind identifies which collection a vault item belongs to.
type ItemKind string

const (
	// KindPassword is a stored credential (url, username, password).
	KindPassword ItemKind = "password"
	// KindBookmark is a stored bookmark (title, url, folder).
	KindBookmark ItemKind = "bookmark"
)

// Collection names as they appear on the sync wire.
const (
	CollectionPasswords = "passwords"
	CollectionBookmarks = "bookmarks"
)

// VaultItem is a single credential or bookmark. DeletedAt implements
// soft delete: a tombstoned item is kept forever so the deletion
// propagates through sync instead of disappearing silently. UpdatedAt
// is the sole ordering key for conflict resolution and is stamped on
// every mutation.
type VaultItem struct {
	// ID is the globally unique identifier of the item (UUID).
	ID string `json:"id"`
	// URL is the site the credential or bookmark points at.
	URL string `json:"url,omitempty"`
	// Username of a credential. Empty for bookmarks.
	Username string `json:"username,omitempty"`
	// Password of a credential. Empty for bookmarks.
	Password string `json:"password,omitempty"`
	// Title of a bookmark. Empty for credentials.
	Title string `json:"title,omitempty"`
	// Folder groups bookmarks. Empty for credentials.
	Folder string `json:"folder,omitempty"`
	// CreatedAt is the creation time, stamped once.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is the last mutation time, monotonically
	// non-decreasing per item on one device.
	UpdatedAt time.Time `json:"updatedAt"`
	// DeletedAt marks the item as a tombstone when non-nil.
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Deleted reports whether the item is a tombstone.
func (v VaultItem) Deleted() bool {
	return v.DeletedAt != nil
}

// QueueAction is the kind of mutation recorded in the offline queue.
type QueueAction string

const (
	ActionAdd    QueueAction = "add"
	ActionUpdate QueueAction = "update"
)

// SyncQueueEntry records a mutation that could not reach the remote
// immediately. Entries are replayed in insertion order on the next
// successful sync pass and cleared afterwards.
type SyncQueueEntry struct {
	Kind     ItemKind    `json:"kind"`
	Action   QueueAction `json:"action"`
	Payload  VaultItem   `json:"payload"`
	QueuedAt time.Time   `json:"queuedAt"`
}

// Conflict is produced when local and remote both hold an item with
// the same id, differing content, and differing UpdatedAt. It is
// derived during a merge and never persisted.
type Conflict struct {
	ID         string    `json:"id"`
	Local      VaultItem `json:"local"`
	Remote     VaultItem `json:"remote"`
	LocalTime  time.Time `json:"localTime"`
	RemoteTime time.Time `json:"remoteTime"`
}

// VaultMetadata describes a vault snapshot.
type VaultMetadata struct {
	CreatedAt time.Time `json:"createdAt"`
	Version   int       `json:"version"`
}

// FetchResponse is the body of GET /sync/{collection}.
type FetchResponse struct {
	Items     []VaultItem `json:"items"`
	Timestamp time.Time   `json:"timestamp"`
}

// PushRequest is the body of POST /sync/{collection}. The push is a
// full snapshot of the collection, not a delta; the relay performs its
// own last-write-wins merge keyed by id, which makes the push
// idempotent under retry.
type PushRequest struct {
	Items     []VaultItem `json:"items"`
	DeviceID  string      `json:"deviceId"`
	Timestamp time.Time   `json:"timestamp"`
}

// PushResponse is the body returned by POST /sync/{collection}.
type PushResponse struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}
