// Package service provides business-logic services for authentication
// and item synchronization, delegating persistence to repository
// interfaces.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dmagur/passlock/internal/models"
)

// Collections the relay accepts on the sync wire.
var validCollections = map[string]bool{
	models.CollectionPasswords: true,
	models.CollectionBookmarks: true,
}

// ErrUnknownCollection rejects sync requests for a collection the
// relay does not serve.
var ErrUnknownCollection = fmt.Errorf("unknown collection")

// SyncRepository defines the persistence operations needed by the
// SyncService.
type SyncRepository interface {
	// ItemsSince returns the user's items in collection changed since
	// the given time, tombstones included. Zero since means all.
	ItemsSince(ctx context.Context, userID, collection string, since time.Time) ([]models.VaultItem, error)
	// UpsertIfNewer merges a pushed snapshot with last-write-wins
	// semantics keyed by id and returns the number of rows written.
	UpsertIfNewer(ctx context.Context, userID, collection string, items []models.VaultItem) (int, error)
}

// SyncService implements the relay's synchronization logic.
type SyncService struct {
	repo SyncRepository
}

// NewSyncService constructs a SyncService over repo.
func NewSyncService(repo SyncRepository) *SyncService {
	return &SyncService{repo: repo}
}

// Changed returns the delta of collection since the given time, plus
// the relay timestamp clients use as their next watermark hint.
func (s *SyncService) Changed(ctx context.Context, userID, collection string, since time.Time) (models.FetchResponse, error) {
	if !validCollections[collection] {
		return models.FetchResponse{}, ErrUnknownCollection
	}
	items, err := s.repo.ItemsSince(ctx, userID, collection, since)
	if err != nil {
		return models.FetchResponse{}, err
	}
	return models.FetchResponse{Items: items, Timestamp: time.Now().UTC()}, nil
}

// MergePush applies a full collection snapshot with last-write-wins
// merge keyed by id. Calling it twice with the same snapshot writes
// nothing the second time.
func (s *SyncService) MergePush(ctx context.Context, userID, collection string, items []models.VaultItem) (models.PushResponse, error) {
	if !validCollections[collection] {
		return models.PushResponse{}, ErrUnknownCollection
	}
	count, err := s.repo.UpsertIfNewer(ctx, userID, collection, items)
	if err != nil {
		return models.PushResponse{}, err
	}
	return models.PushResponse{Count: count, Timestamp: time.Now().UTC()}, nil
}
