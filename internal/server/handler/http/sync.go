// Package http provides the relay's HTTP handlers for item
// synchronization and user authentication.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmagur/passlock/internal/middleware"
	"github.com/dmagur/passlock/internal/models"
	"github.com/dmagur/passlock/internal/service"
)

// SyncService defines the synchronization operations required by the
// SyncHandler.
type SyncService interface {
	// Changed returns the items of collection changed since the given
	// time for the authenticated user.
	Changed(ctx context.Context, userID, collection string, since time.Time) (models.FetchResponse, error)
	// MergePush applies a full collection snapshot with
	// last-write-wins merge keyed by id.
	MergePush(ctx context.Context, userID, collection string, items []models.VaultItem) (models.PushResponse, error)
}

// SyncHandler handles GET and POST /sync/{collection}.
type SyncHandler struct {
	SyncService SyncService
}

// Changed handles GET /sync/{collection}?since=<RFC3339>.
// The since parameter is optional; omitting it returns the full
// collection (a client's first-ever sync).
func (h *SyncHandler) Changed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserIDFromContext(ctx)
	collection := chi.URLParam(r, "collection")

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	resp, err := h.SyncService.Changed(ctx, userID, collection, since)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	if resp.Items == nil {
		resp.Items = []models.VaultItem{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Push handles POST /sync/{collection} with a full snapshot body
// {items, deviceId, timestamp}.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserIDFromContext(ctx)
	collection := chi.URLParam(r, "collection")

	var req models.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	resp, err := h.SyncService.MergePush(ctx, userID, collection, req.Items)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeSyncError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrUnknownCollection) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
