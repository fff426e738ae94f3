package checker

import "errors"

var (
	// ErrCancelled is returned when the session's context ends before the
	// queue drains.
	ErrCancelled = errors.New("reconciliation cancelled")
	// ErrTaskFailed wraps the error of a batch, recheck or repair task that
	// was dropped. The session carries on without it.
	ErrTaskFailed = errors.New("task failed")
	// ErrUnsupportedWorkload is returned for a work item the processor does
	// not know how to run. It indicates a programming error.
	ErrUnsupportedWorkload = errors.New("unsupported workload")
	// ErrRepairFailed is returned when some keys could not be repaired after
	// all attempts.
	ErrRepairFailed = errors.New("repair failed")
	// ErrUnknownCache is returned when a selected cache cannot be seeded.
	ErrUnknownCache = errors.New("unknown cache")
	// ErrCursorStalled marks a batch whose continuation did not advance.
	ErrCursorStalled = errors.New("batch cursor did not advance")
)
