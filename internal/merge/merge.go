// Package merge reconciles two divergent item collections into one.
// Merge is a pure function: no hidden state, no randomness, identical
// inputs always produce identical output.
package merge

import (
	"encoding/json"
	"sort"

	"github.com/dmagur/passlock/internal/models"
)

// Policy selects how detected conflicts are resolved.
type Policy string

const (
	// PolicyLastWriteWins keeps whichever side has the strictly
	// greater UpdatedAt. An exact timestamp tie with differing
	// content keeps the local side, so the merge stays deterministic.
	PolicyLastWriteWins Policy = "last_write_wins"
	// PolicyManual defers resolution: conflicts are returned
	// unresolved and only the non-conflicting subset is merged.
	PolicyManual Policy = "manual"
)

// Result holds the merged collection and any conflicts detected.
// Under PolicyLastWriteWins the conflicts are already resolved into
// Merged and reported for visibility; under PolicyManual they are
// excluded from Merged and await an external decision.
type Result struct {
	Merged    []models.VaultItem
	Conflicts []models.Conflict
}

// Merge reconciles local and remote. An id present on both sides with
// differing content and differing UpdatedAt is a conflict; ids unique
// to one side, or shared ids with identical content or identical
// timestamps, are never conflicts. The merged set is the union by id,
// sorted by id, with exactly one record per id.
func Merge(local, remote []models.VaultItem, policy Policy) Result {
	localByID := indexByID(local)
	remoteByID := indexByID(remote)

	var merged []models.VaultItem
	var conflicts []models.Conflict

	for id, l := range localByID {
		r, shared := remoteByID[id]
		if !shared {
			merged = append(merged, l)
			continue
		}

		if sameContent(l, r) || l.UpdatedAt.Equal(r.UpdatedAt) {
			merged = append(merged, l)
			continue
		}

		conflict := models.Conflict{
			ID:         id,
			Local:      l,
			Remote:     r,
			LocalTime:  l.UpdatedAt,
			RemoteTime: r.UpdatedAt,
		}
		conflicts = append(conflicts, conflict)

		if policy == PolicyLastWriteWins {
			if r.UpdatedAt.After(l.UpdatedAt) {
				merged = append(merged, r)
			} else {
				merged = append(merged, l)
			}
		}
	}

	for id, r := range remoteByID {
		if _, shared := localByID[id]; !shared {
			merged = append(merged, r)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ID < conflicts[j].ID })

	return Result{Merged: merged, Conflicts: conflicts}
}

// indexByID collapses duplicate ids within one side, keeping the
// record with the greatest UpdatedAt.
func indexByID(items []models.VaultItem) map[string]models.VaultItem {
	byID := make(map[string]models.VaultItem, len(items))
	for _, item := range items {
		if existing, ok := byID[item.ID]; ok && existing.UpdatedAt.After(item.UpdatedAt) {
			continue
		}
		byID[item.ID] = item
	}
	return byID
}

// sameContent compares items by canonical serialization, ignoring the
// bookkeeping stamps themselves.
func sameContent(a, b models.VaultItem) bool {
	a.UpdatedAt = b.UpdatedAt
	a.CreatedAt = b.CreatedAt
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}
