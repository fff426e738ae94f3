package storage

import (
	"sync"

	"github.com/tidwall/btree"

	"partrecon/internal/clock"
)

type partKey struct {
	cache     string
	partition int
}

// MemStore is an in-memory implementation of Store. Each partition is kept
// in its own ordered B-tree. It is thread-safe.
type MemStore struct {
	mu     sync.RWMutex
	parts  map[partKey]*btree.Map[string, VersionedValue]
	closed bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		parts: make(map[partKey]*btree.Map[string, VersionedValue]),
	}
}

// Get retrieves the entry for a key.
func (s *MemStore) Get(cache string, partition int, key string) (*VersionedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	tree := s.parts[partKey{cache, partition}]
	if tree == nil {
		return nil, nil
	}
	vv, ok := tree.Get(key)
	if !ok {
		return nil, nil
	}
	cp := vv.Copy()
	return &cp, nil
}

// Put stores the entry if it is newer than the stored one.
func (s *MemStore) Put(cache string, partition int, key string, vv VersionedValue) (bool, error) {
	if err := checkWrite(key, vv.Version); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	tree := s.tree(cache, partition)
	if cur, ok := tree.Get(key); ok && !newer(vv.Version, &cur) {
		return false, nil
	}
	tree.Set(key, vv.Copy())
	return true, nil
}

// PutRepair replaces the entry if the stored version equals expected.
func (s *MemStore) PutRepair(cache string, partition int, key string, vv *VersionedValue, expected clock.Version) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if vv != nil {
		if err := checkWrite(key, vv.Version); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	tree := s.tree(cache, partition)

	var cur *VersionedValue
	if v, ok := tree.Get(key); ok {
		cur = &v
	}
	if currentVersion(cur) != expected {
		return false, nil
	}

	if vv == nil {
		if cur == nil {
			return false, nil
		}
		tree.Delete(key)
		return true, nil
	}
	tree.Set(key, vv.Copy())
	return true, nil
}

// Scan returns up to limit records after the given key.
func (s *MemStore) Scan(cache string, partition int, after string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	tree := s.parts[partKey{cache, partition}]
	if tree == nil || limit <= 0 {
		return []Record{}, nil
	}

	records := make([]Record, 0, min(limit, tree.Len()))
	tree.Ascend(after, func(key string, vv VersionedValue) bool {
		if key == after {
			return true
		}
		records = append(records, Record{Key: key, Version: vv.Version})
		return len(records) < limit
	})
	return records, nil
}

// Versions returns the stored version of each requested key.
func (s *MemStore) Versions(cache string, partition int, keys []string) (map[string]clock.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	tree := s.parts[partKey{cache, partition}]
	versions := make(map[string]clock.Version, len(keys))
	for _, key := range keys {
		var v clock.Version
		if tree != nil {
			if vv, ok := tree.Get(key); ok {
				v = vv.Version
			}
		}
		versions[key] = v
	}
	return versions, nil
}

// Len returns the number of entries (tombstones included) in a partition.
func (s *MemStore) Len(cache string, partition int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tree := s.parts[partKey{cache, partition}]; tree != nil {
		return tree.Len()
	}
	return 0
}

// Close marks the store closed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tree returns the partition's tree, creating it. Caller holds the write lock.
func (s *MemStore) tree(cache string, partition int) *btree.Map[string, VersionedValue] {
	k := partKey{cache, partition}
	tree := s.parts[k]
	if tree == nil {
		tree = btree.NewMap[string, VersionedValue](32)
		s.parts[k] = tree
	}
	return tree
}
