package checker

import "partrecon/internal/clock"

// Workload is a unit of work in the session queue. The set of workloads is
// closed: Batch, Recheck and Repair.
type Workload interface {
	workload()
}

// Batch scans one page of a partition after LowerBound.
type Batch struct {
	Cache      string
	Partition  int
	LowerBound string
}

// Recheck re-reads the versions of suspect keys and compares them with the
// versions observed earlier.
type Recheck struct {
	Cache     string
	Partition int
	Versions  clock.VersionMap
	Attempt   int
}

// Repair converges the conflicting keys of a partition onto the primary.
// Conflicts holds the versions observed on each owner by the last recheck.
type Repair struct {
	Cache     string
	Partition int
	Conflicts clock.VersionMap
	Attempt   int
}

func (Batch) workload()   {}
func (Recheck) workload() {}
func (Repair) workload()  {}

const (
	taskBatch   = "batch"
	taskRecheck = "recheck"
	taskRepair  = "repair"
)
