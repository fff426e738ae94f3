package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"partrecon/internal/clock"
)

// maxTxnRetries bounds retries of write transactions that hit badger.ErrConflict.
const maxTxnRetries = 5

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerStore implements Store on top of BadgerDB. Entries are stored under
// "d/{cache}/{partition:08x}/{key}" so that a partition is one contiguous,
// byte-ordered key range.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) a Badger-backed store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get retrieves the entry for a key.
func (s *BadgerStore) Get(cache string, partition int, key string) (*VersionedValue, error) {
	var out *VersionedValue
	err := s.db.View(func(txn *badger.Txn) error {
		vv, err := readEntry(txn, dataKey(cache, partition, key))
		out = vv
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores the entry if it is newer than the stored one.
func (s *BadgerStore) Put(cache string, partition int, key string, vv VersionedValue) (bool, error) {
	if err := checkWrite(key, vv.Version); err != nil {
		return false, err
	}
	raw, err := json.Marshal(vv)
	if err != nil {
		return false, fmt.Errorf("encode entry: %w", err)
	}

	k := dataKey(cache, partition, key)
	var applied bool
	err = s.update(func(txn *badger.Txn) error {
		cur, err := readEntry(txn, k)
		if err != nil {
			return err
		}
		applied = newer(vv.Version, cur)
		if !applied {
			return nil
		}
		return txn.Set(k, raw)
	})
	return applied, err
}

// PutRepair replaces the entry if the stored version equals expected.
func (s *BadgerStore) PutRepair(cache string, partition int, key string, vv *VersionedValue, expected clock.Version) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	var raw []byte
	if vv != nil {
		if err := checkWrite(key, vv.Version); err != nil {
			return false, err
		}
		var err error
		if raw, err = json.Marshal(vv); err != nil {
			return false, fmt.Errorf("encode entry: %w", err)
		}
	}

	k := dataKey(cache, partition, key)
	var applied bool
	err := s.update(func(txn *badger.Txn) error {
		applied = false
		cur, err := readEntry(txn, k)
		if err != nil {
			return err
		}
		if currentVersion(cur) != expected {
			return nil
		}
		if raw == nil {
			if cur == nil {
				return nil
			}
			applied = true
			return txn.Delete(k)
		}
		applied = true
		return txn.Set(k, raw)
	})
	return applied, err
}

// Scan returns up to limit records after the given key.
func (s *BadgerStore) Scan(cache string, partition int, after string, limit int) ([]Record, error) {
	records := []Record{}
	if limit <= 0 {
		return records, nil
	}

	prefix := partPrefix(cache, partition)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   min(limit, 100),
			Prefix:         prefix,
		})
		defer it.Close()

		start := append(append([]byte(nil), prefix...), after...)
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(bytes.TrimPrefix(item.Key(), prefix))
			if key == after {
				continue
			}
			var vv VersionedValue
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &vv)
			}); err != nil {
				return fmt.Errorf("decode entry %s: %w", key, err)
			}
			records = append(records, Record{Key: key, Version: vv.Version})
			if len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Versions returns the stored version of each requested key.
func (s *BadgerStore) Versions(cache string, partition int, keys []string) (map[string]clock.Version, error) {
	versions := make(map[string]clock.Version, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			vv, err := readEntry(txn, dataKey(cache, partition, key))
			if err != nil {
				return err
			}
			versions[key] = currentVersion(vv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction kept conflicting after %d attempts: %w", maxTxnRetries, err)
}

func readEntry(txn *badger.Txn, k []byte) (*VersionedValue, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var vv VersionedValue
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &vv)
	}); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &vv, nil
}

func partPrefix(cache string, partition int) []byte {
	return []byte(fmt.Sprintf("d/%s/%08x/", cache, partition))
}

func dataKey(cache string, partition int, key string) []byte {
	return append(partPrefix(cache, partition), key...)
}
