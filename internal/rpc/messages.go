package rpc

import (
	"partrecon/internal/clock"
	"partrecon/internal/storage"
)

// PutRequest writes a value through the coordinator.
type PutRequest struct {
	Cache     string `json:"cache"`
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	RequestID string `json:"request_id,omitempty"`
}

// PutResponse reports the version assigned to a write and how it replicated.
type PutResponse struct {
	Version clock.Version `json:"version"`
	Acks    int           `json:"acks"`
	Failed  []string      `json:"failed,omitempty"`
}

// GetRequest reads a key from its primary.
type GetRequest struct {
	Cache string `json:"cache"`
	Key   string `json:"key"`
}

// GetResponse carries the primary's entry for a key.
type GetResponse struct {
	Found   bool          `json:"found"`
	Value   []byte        `json:"value,omitempty"`
	Version clock.Version `json:"version"`
	Deleted bool          `json:"deleted,omitempty"`
}

// DeleteRequest writes a tombstone through the coordinator.
type DeleteRequest struct {
	Cache     string `json:"cache"`
	Key       string `json:"key"`
	RequestID string `json:"request_id,omitempty"`
}

// DeleteResponse reports the tombstone version and how it replicated.
type DeleteResponse struct {
	Version clock.Version `json:"version"`
	Acks    int           `json:"acks"`
	Failed  []string      `json:"failed,omitempty"`
}

// ReplicaPutRequest applies a coordinator's write on one owner.
type ReplicaPutRequest struct {
	Cache         string                 `json:"cache"`
	Partition     int                    `json:"partition"`
	Key           string                 `json:"key"`
	Entry         storage.VersionedValue `json:"entry"`
	CoordinatorID string                 `json:"coordinator_id"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// ReplicaPutResponse reports whether the replica stored the entry.
type ReplicaPutResponse struct {
	Applied bool `json:"applied"`
}

// ScanRequest asks an owner for one page of a partition's keys.
type ScanRequest struct {
	Cache     string `json:"cache"`
	Partition int    `json:"partition"`
	After     string `json:"after,omitempty"`
	Limit     int    `json:"limit"`
}

// ScanResponse is one page of keys with versions, in key order.
type ScanResponse struct {
	Records []storage.Record `json:"records"`
}

// VersionsRequest asks an owner for the current versions of specific keys.
type VersionsRequest struct {
	Cache     string   `json:"cache"`
	Partition int      `json:"partition"`
	Keys      []string `json:"keys"`
}

// VersionsResponse maps every requested key to its version on the owner.
// Keys the owner does not hold map to the zero version.
type VersionsResponse struct {
	Versions map[string]clock.Version `json:"versions"`
}

// ReadEntryRequest reads the raw entry of a key on one owner.
type ReadEntryRequest struct {
	Cache     string `json:"cache"`
	Partition int    `json:"partition"`
	Key       string `json:"key"`
}

// ReadEntryResponse carries the owner's entry, tombstones included.
type ReadEntryResponse struct {
	Found bool                   `json:"found"`
	Entry storage.VersionedValue `json:"entry"`
}

// RepairRequest overwrites a key on one owner if the owner still holds the
// expected version. A nil Entry removes the key.
type RepairRequest struct {
	Cache     string                  `json:"cache"`
	Partition int                     `json:"partition"`
	Key       string                  `json:"key"`
	Entry     *storage.VersionedValue `json:"entry,omitempty"`
	Expected  clock.Version           `json:"expected"`
}

// RepairResponse reports whether the repair write was applied.
type RepairResponse struct {
	Applied bool `json:"applied"`
}
