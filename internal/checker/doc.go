// Package checker runs partition reconciliation sessions.
//
// A session seeds one batch per partition of every selected cache and then
// drains a delayed work queue. Batches scan partitions page by page and
// report suspect keys; suspects are rechecked after a delay until they
// converge or the attempts run out; in fix mode the remaining conflicts are
// repaired from the primary. The session ends when the queue is empty and no
// task is in flight.
package checker
