package checker

import "time"

// Defaults applied by DefaultOptions and, for unset fields, by NewProcessor.
const (
	DefaultBatchSize       = 100
	DefaultRecheckAttempts = 2
	DefaultRecheckDelay    = 10 * time.Second
	DefaultPollInterval    = time.Second
	DefaultParallelism     = 16
	DefaultRepairAttempts  = 3
)

// Options configures a reconciliation session.
type Options struct {
	// Caches selects the caches to reconcile.
	Caches []string
	// FixMode repairs conflicts that survive all rechecks. Without it they
	// are only reported.
	FixMode bool
	// Throttle is the minimum interval between dispatches. Zero disables it.
	Throttle time.Duration
	// BatchSize is the number of keys each owner scans per batch.
	BatchSize int
	// RecheckAttempts is how many times an unresolved recheck is retried
	// before the keys are repaired or reported.
	RecheckAttempts int
	// RecheckDelay is the delay before the first recheck of a suspect.
	RecheckDelay time.Duration
	// Backoff gives the delay before each recheck or repair attempt. Nil
	// uses a fixed RecheckDelay.
	Backoff Backoff
	// PollInterval is how long the driver waits when the queue is empty but
	// tasks are still in flight.
	PollInterval time.Duration
	// Parallelism bounds the number of tasks in flight.
	Parallelism int
	// RepairAttempts is the total number of tries for a failing repair.
	RepairAttempts int
}

// DefaultOptions returns the default session options for caches.
func DefaultOptions(caches ...string) Options {
	return Options{
		Caches:          caches,
		BatchSize:       DefaultBatchSize,
		RecheckAttempts: DefaultRecheckAttempts,
		RecheckDelay:    DefaultRecheckDelay,
		PollInterval:    DefaultPollInterval,
		Parallelism:     DefaultParallelism,
		RepairAttempts:  DefaultRepairAttempts,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RecheckAttempts < 0 {
		o.RecheckAttempts = 0
	}
	if o.RecheckDelay < 0 {
		o.RecheckDelay = 0
	}
	if o.Backoff == nil {
		o.Backoff = Fixed(o.RecheckDelay)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.RepairAttempts <= 0 {
		o.RepairAttempts = DefaultRepairAttempts
	}
	return o
}
