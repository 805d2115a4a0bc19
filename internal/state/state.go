package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory
	// (~/.bedrock-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	catalogBucket = []byte("catalog")
	syncBucket    = []byte("sync")
)

// snapshotKey holds the whole last-known catalog as one ordered JSON
// array. Storing it as a single value preserves the display-name sort
// order, which per-key storage would lose.
var snapshotKey = []byte("snapshot")

// World is one catalog entry as persisted between runs. Status is the
// string form of the catalog status so this package does not depend on
// the worlds package.
type World struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// SyncRecord tracks the last completed transfer for one world.
type SyncRecord struct {
	WorldID   string    `json:"world_id"`
	Direction string    `json:"direction"`
	Time      time.Time `json:"time"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at the given path, creating it and its
// parent directory if they do not exist.
func Load(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(catalogBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(syncBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the underlying database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveCatalog replaces the stored last-known catalog snapshot.
func (s *State) SaveCatalog(worlds []World) error {
	data, err := json.Marshal(worlds)
	if err != nil {
		return fmt.Errorf("encoding catalog snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(catalogBucket).Put(snapshotKey, data)
	})
	if err != nil {
		return fmt.Errorf("saving catalog snapshot: %w", err)
	}

	return nil
}

// Catalog returns the last-known catalog snapshot in stored order, or
// an empty slice when none has been saved yet.
func (s *State) Catalog() ([]World, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(catalogBucket).Get(snapshotKey); v != nil {
			data = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading catalog snapshot: %w", err)
	}

	if data == nil {
		return nil, nil
	}

	var worlds []World
	if err := json.Unmarshal(data, &worlds); err != nil {
		return nil, fmt.Errorf("decoding catalog snapshot: %w", err)
	}

	return worlds, nil
}

// SetLastSync records a completed transfer for a world.
func (s *State) SetLastSync(worldID, direction string, at time.Time) error {
	rec := SyncRecord{
		WorldID:   worldID,
		Direction: direction,
		Time:      at,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding sync record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(syncBucket).Put([]byte(worldID), data)
	})
	if err != nil {
		return fmt.Errorf("saving sync record for %s: %w", worldID, err)
	}

	return nil
}

// LastSync returns the last recorded transfer for a world, or nil when
// the world has never been synced.
func (s *State) LastSync(worldID string) (*SyncRecord, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(syncBucket).Get([]byte(worldID)); v != nil {
			data = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading sync record for %s: %w", worldID, err)
	}

	if data == nil {
		return nil, nil
	}

	var rec SyncRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding sync record for %s: %w", worldID, err)
	}

	return &rec, nil
}

// DeleteSyncRecord removes a world's transfer record, typically after
// the world is deleted on both sides.
func (s *State) DeleteSyncRecord(worldID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(syncBucket).Delete([]byte(worldID))
	})
	if err != nil {
		return fmt.Errorf("deleting sync record for %s: %w", worldID, err)
	}

	return nil
}
