// Package storage provides the node-local versioned key-value store. Values
// are grouped by cache and partition and kept in key order so that a
// partition can be scanned in stable batches. Deletions are kept as
// versioned tombstones, which lets replicas be compared and repaired after a
// delete just like after a write.
package storage
