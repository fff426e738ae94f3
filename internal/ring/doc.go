// Package ring implements a consistent hashing ring with virtual nodes.
// Partitions are placed on the ring by a token derived from the cache name and
// partition number, and the first distinct nodes walking clockwise from that
// token form the partition's owner list (primary first).
package ring
