package checker

import (
	"sort"
	"sync"
	"time"

	"partrecon/internal/clock"
)

// Status is the final state of a session.
type Status string

const (
	// StatusCompleted sessions drained their queue with no unrepaired keys.
	StatusCompleted Status = "completed"
	// StatusCancelled sessions ended because their context was done.
	StatusCancelled Status = "cancelled"
	// StatusFailed sessions could not run or left keys unrepaired.
	StatusFailed Status = "failed"
)

// Resolution says what happened to an inconsistent key.
type Resolution string

const (
	// Detected keys were reported without a repair attempt.
	Detected Resolution = "detected"
	// Repaired keys were rewritten on at least one backup.
	Repaired Resolution = "repaired"
	// Superseded keys needed no repair write: the backups already matched or
	// a newer write replaced the observed versions.
	Superseded Resolution = "superseded"
)

// Stats counts the work done by a session.
type Stats struct {
	Batches     int `json:"batches" yaml:"batches"`
	Rechecks    int `json:"rechecks" yaml:"rechecks"`
	Repairs     int `json:"repairs" yaml:"repairs"`
	KeysScanned int `json:"keys_scanned" yaml:"keys_scanned"`
	Suspects    int `json:"suspects" yaml:"suspects"`
}

// Inconsistency is a key whose owners still disagreed after all rechecks.
type Inconsistency struct {
	Cache      string             `json:"cache" yaml:"cache"`
	Partition  int                `json:"partition" yaml:"partition"`
	Key        string             `json:"key" yaml:"key"`
	Versions   clock.NodeVersions `json:"versions" yaml:"versions"`
	Resolution Resolution         `json:"resolution" yaml:"resolution"`
}

// RepairFailure is a key that could not be repaired.
type RepairFailure struct {
	Cache     string `json:"cache" yaml:"cache"`
	Partition int    `json:"partition" yaml:"partition"`
	Key       string `json:"key" yaml:"key"`
	Error     string `json:"error" yaml:"error"`
}

// TaskFailure is a batch, recheck or repair task dropped after an error.
type TaskFailure struct {
	Task      string `json:"task" yaml:"task"`
	Cache     string `json:"cache" yaml:"cache"`
	Partition int    `json:"partition" yaml:"partition"`
	Error     string `json:"error" yaml:"error"`
}

// Report summarizes a session.
type Report struct {
	SessionID       string          `json:"session_id" yaml:"session_id"`
	Status          Status          `json:"status" yaml:"status"`
	Error           string          `json:"error,omitempty" yaml:"error,omitempty"`
	Caches          []string        `json:"caches" yaml:"caches"`
	FixMode         bool            `json:"fix_mode" yaml:"fix_mode"`
	StartedAt       time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time       `json:"finished_at" yaml:"finished_at"`
	Stats           Stats           `json:"stats" yaml:"stats"`
	Inconsistencies []Inconsistency `json:"inconsistencies,omitempty" yaml:"inconsistencies,omitempty"`
	RepairFailures  []RepairFailure `json:"repair_failures,omitempty" yaml:"repair_failures,omitempty"`
	TaskFailures    []TaskFailure   `json:"task_failures,omitempty" yaml:"task_failures,omitempty"`
}

// reportBuilder collects results from concurrent tasks.
type reportBuilder struct {
	mu     sync.Mutex
	report Report
}

func (b *reportBuilder) dispatched(task string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch task {
	case taskBatch:
		b.report.Stats.Batches++
	case taskRecheck:
		b.report.Stats.Rechecks++
	case taskRepair:
		b.report.Stats.Repairs++
	}
}

func (b *reportBuilder) scanned(keys, suspects int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Stats.KeysScanned += keys
	b.report.Stats.Suspects += suspects
}

func (b *reportBuilder) inconsistent(cache string, partition int, conflicts clock.VersionMap, res Resolution) {
	if len(conflicts) == 0 {
		return
	}
	inconsistentKeysTotal.WithLabelValues(string(res)).Add(float64(len(conflicts)))

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range conflicts.Keys() {
		b.report.Inconsistencies = append(b.report.Inconsistencies, Inconsistency{
			Cache:      cache,
			Partition:  partition,
			Key:        key,
			Versions:   conflicts[key].Copy(),
			Resolution: res,
		})
	}
}

func (b *reportBuilder) repairFailed(cache string, partition int, failed map[string]error) {
	repairFailuresTotal.Add(float64(len(failed)))

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, err := range failed {
		b.report.RepairFailures = append(b.report.RepairFailures, RepairFailure{
			Cache:     cache,
			Partition: partition,
			Key:       key,
			Error:     err.Error(),
		})
	}
}

func (b *reportBuilder) taskFailed(task, cache string, partition int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.TaskFailures = append(b.report.TaskFailures, TaskFailure{
		Task:      task,
		Cache:     cache,
		Partition: partition,
		Error:     err.Error(),
	})
}

// build returns the report with its lists in a stable order.
func (b *reportBuilder) build() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.report
	r.Inconsistencies = append([]Inconsistency(nil), r.Inconsistencies...)
	r.RepairFailures = append([]RepairFailure(nil), r.RepairFailures...)
	r.TaskFailures = append([]TaskFailure(nil), r.TaskFailures...)

	sort.Slice(r.Inconsistencies, func(i, j int) bool {
		a, c := r.Inconsistencies[i], r.Inconsistencies[j]
		return less(a.Cache, a.Partition, a.Key, c.Cache, c.Partition, c.Key)
	})
	sort.Slice(r.RepairFailures, func(i, j int) bool {
		a, c := r.RepairFailures[i], r.RepairFailures[j]
		return less(a.Cache, a.Partition, a.Key, c.Cache, c.Partition, c.Key)
	})
	sort.SliceStable(r.TaskFailures, func(i, j int) bool {
		a, c := r.TaskFailures[i], r.TaskFailures[j]
		return less(a.Cache, a.Partition, a.Task, c.Cache, c.Partition, c.Task)
	})
	return &r
}

func less(cacheA string, partA int, keyA string, cacheB string, partB int, keyB string) bool {
	if cacheA != cacheB {
		return cacheA < cacheB
	}
	if partA != partB {
		return partA < partB
	}
	return keyA < keyB
}

// Count returns how many inconsistencies have the given resolution.
func (r *Report) Count(res Resolution) int {
	n := 0
	for _, inc := range r.Inconsistencies {
		if inc.Resolution == res {
			n++
		}
	}
	return n
}
