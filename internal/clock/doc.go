// Package clock provides the write-order versions attached to every stored
// value. A Version is totally ordered, so two replicas of a key either hold
// the same version or one of them is strictly behind. Version maps collect
// the per-node versions of a key set and are the unit the reconciliation
// pipeline compares between rounds.
package clock
