package storage

import (
	"errors"
	"fmt"

	"partrecon/internal/clock"
)

var (
	// ErrEmptyKey is returned for operations on the empty key.
	ErrEmptyKey = errors.New("key cannot be empty")
	// ErrNoVersion is returned when a write carries the zero version.
	ErrNoVersion = errors.New("write requires a non-zero version")
	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// VersionedValue represents a value with its version.
type VersionedValue struct {
	Value   []byte        `json:"value,omitempty"`
	Version clock.Version `json:"version"`
	Deleted bool          `json:"deleted,omitempty"` // tombstone
}

// Copy returns a copy that does not share the value buffer.
func (vv VersionedValue) Copy() VersionedValue {
	vv.Value = append([]byte(nil), vv.Value...)
	return vv
}

// Record is a key and its version as returned by partition scans.
type Record struct {
	Key     string        `json:"key"`
	Version clock.Version `json:"version"`
}

// Store defines the interface for partitioned versioned storage.
type Store interface {
	// Get returns the entry for a key, or nil if the node holds nothing for it.
	// Tombstones are returned with Deleted set.
	Get(cache string, partition int, key string) (*VersionedValue, error)
	// Put stores the entry if its version is newer than the stored one.
	// Returns whether the entry was applied.
	Put(cache string, partition int, key string, vv VersionedValue) (bool, error)
	// PutRepair replaces the stored entry with vv (exact version, no ordering
	// check) only if the stored version still equals expected. A nil vv
	// removes the key. The zero expected version matches an absent key.
	PutRepair(cache string, partition int, key string, vv *VersionedValue, expected clock.Version) (bool, error)
	// Scan returns up to limit records with keys strictly greater than after,
	// in byte order. An empty after starts at the beginning of the partition.
	Scan(cache string, partition int, after string, limit int) ([]Record, error)
	// Versions returns the stored version of every requested key; keys the
	// node does not hold map to the zero version.
	Versions(cache string, partition int, keys []string) (map[string]clock.Version, error)
	// Close releases the store's resources.
	Close() error
}

// newer reports whether an incoming entry should replace the current one.
func newer(incoming clock.Version, current *VersionedValue) bool {
	return current == nil || incoming.After(current.Version)
}

// currentVersion returns the version of an entry, or zero when absent.
func currentVersion(current *VersionedValue) clock.Version {
	if current == nil {
		return clock.Version{}
	}
	return current.Version
}

func checkWrite(key string, v clock.Version) error {
	if key == "" {
		return ErrEmptyKey
	}
	if v.IsZero() {
		return fmt.Errorf("%w: key=%s", ErrNoVersion, key)
	}
	return nil
}
