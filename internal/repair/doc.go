// Package repair converges the backups of a partition onto its primary.
//
// For each conflicting key the primary's current entry is the source of
// truth. Backups that observed a different version receive a conditional
// write carrying the primary's entry, applied only if the backup still holds
// the version it reported, so repairs never overwrite newer live writes and
// can be repeated safely.
package repair
