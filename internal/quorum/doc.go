// Package quorum fans operations out to the owners of a partition. DoWrite
// replicates a write and counts acknowledgements against a write quorum;
// All runs a call on every owner and fails if any owner fails, which is what
// partition scans and rechecks need.
package quorum
