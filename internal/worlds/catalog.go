package worlds

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Status is where a world currently exists.
type Status int

const (
	// StatusLocalOnly means the world folder exists on device but no
	// matching remote archive was seen.
	StatusLocalOnly Status = iota

	// StatusRemoteOnly means a remote archive exists with no matching
	// local folder.
	StatusRemoteOnly

	// StatusBoth means the world was observed on both sides.
	StatusBoth
)

func (s Status) String() string {
	switch s {
	case StatusLocalOnly:
		return "local"
	case StatusRemoteOnly:
		return "remote"
	case StatusBoth:
		return "local+remote"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WorldEntry is one logical world in the reconciled catalog. ID is the
// local folder name, used one-to-one as the remote object's lookup key.
// Status is derived on every rebuild and never persisted as truth.
type WorldEntry struct {
	ID          string
	DisplayName string
	Status      Status
}

// Reconciler merges the local folder listing and the remote object
// listing into one catalog.
type Reconciler struct {
	store  *Store
	remote RemoteStore
	logger *slog.Logger
}

// NewReconciler creates a reconciler over the given local store and
// remote store.
func NewReconciler(store *Store, remote RemoteStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		remote: remote,
		logger: logger,
	}
}

// Build produces a fresh catalog snapshot: local worlds first, remote
// worlds merged in, sorted by display name (ordinal ascending, stable).
// A failed remote listing degrades to the local-only view rather than
// failing the rebuild; losing the whole catalog to a transient network
// blip is worse than showing a partial one.
func (r *Reconciler) Build(ctx context.Context) ([]WorldEntry, error) {
	ids, err := r.store.Worlds()
	if err != nil {
		return nil, fmt.Errorf("listing local worlds: %w", err)
	}

	var entries []WorldEntry

	for _, id := range ids {
		name, ok, err := r.store.LevelName(id)
		if err != nil {
			return nil, fmt.Errorf("reading level name for %s: %w", id, err)
		}

		if !ok {
			// No readable metadata file: not a world folder, leave it out.
			r.logger.Debug("skipping folder without level name", slog.String("id", id))
			continue
		}

		if name == "" {
			name = id
		}

		entries = append(entries, WorldEntry{
			ID:          id,
			DisplayName: name,
			Status:      StatusLocalOnly,
		})
	}

	remote, err := r.remote.ListAll(ctx)
	if err != nil {
		r.logger.Warn("remote listing failed, showing local worlds only",
			slog.String("error", err.Error()),
		)

		remote = nil
	}

	for _, obj := range remote {
		id := obj.Name
		name := obj.Description

		if id == "" || name == "" {
			continue
		}

		idx := indexByID(entries, id)
		if idx < 0 {
			entries = append(entries, WorldEntry{
				ID:          id,
				DisplayName: name,
				Status:      StatusRemoteOnly,
			})

			continue
		}

		// Already catalogued. A local entry gains remote presence; a
		// remote duplicate (two objects sharing an id) loses to the
		// first one in listing order.
		if entries[idx].Status == StatusLocalOnly {
			entries[idx].Status = StatusBoth
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return entries, nil
}

func indexByID(entries []WorldEntry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}

	return -1
}
