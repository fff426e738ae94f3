// Package affinity maps keys to partitions and partitions to their owner
// nodes. Every cache has a fixed partition count and backup count; the owners
// of a partition are the primary followed by its backups, taken from the
// consistent hashing ring.
package affinity
