package store

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/thrylos-labs/hashsync/types"
)

// SnapshotStore persists block snapshots. The latest snapshot is used to
// restore a node after restart; snapshots are also indexed by root hash so a
// node can say which peer set a past root stood for.
type SnapshotStore struct {
	db    *Database
	cache *LRUCache[*types.Snapshot]
}

func NewSnapshotStore(db *Database, cacheSize int) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := NewLRUCache[*types.Snapshot](cacheSize, uint(cacheSize*8), 0.01)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &SnapshotStore{db: db, cache: c}, nil
}

// SaveSnapshot writes snap as the latest snapshot and under its root hash.
func (s *SnapshotStore) SaveSnapshot(snap *types.Snapshot) error {
	if snap.RootHash == "" {
		return fmt.Errorf("snapshot has no root hash")
	}
	if snap.SavedAt == 0 {
		snap.SavedAt = time.Now().Unix()
	}
	encoded, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	err = s.db.SetMany(map[string][]byte{
		LatestSnapshotKey:          encoded,
		RootPrefix + snap.RootHash: encoded,
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.RootHash, err)
	}
	s.cache.Add(snap.RootHash, snap)
	return nil
}

// LatestSnapshot returns the most recently saved snapshot or ErrNotFound.
func (s *SnapshotStore) LatestSnapshot() (*types.Snapshot, error) {
	return s.load([]byte(LatestSnapshotKey))
}

// SnapshotByRoot returns the snapshot that produced root, or ErrNotFound.
func (s *SnapshotStore) SnapshotByRoot(root string) (*types.Snapshot, error) {
	if snap, ok := s.cache.Get(root); ok {
		return snap, nil
	}
	snap, err := s.load([]byte(RootPrefix + root))
	if err != nil {
		return nil, err
	}
	s.cache.Add(root, snap)
	return snap, nil
}

// Roots lists every root hash with a stored snapshot.
func (s *SnapshotStore) Roots() ([]string, error) {
	keys, err := s.db.Keys([]byte(RootPrefix))
	if err != nil {
		return nil, err
	}
	roots := make([]string, len(keys))
	for i, k := range keys {
		roots[i] = k[len(RootPrefix):]
	}
	return roots, nil
}

func (s *SnapshotStore) load(key []byte) (*types.Snapshot, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	var snap types.Snapshot
	if err := cbor.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}
