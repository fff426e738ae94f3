package repair

import (
	"sort"

	"partrecon/internal/clock"
)

// Divergent returns the nodes in observed, other than primary, whose version
// differs from source. The result is sorted.
func Divergent(primary string, source clock.Version, observed clock.NodeVersions) []string {
	var out []string
	for node, v := range observed {
		if node == primary {
			continue
		}
		if v != source {
			out = append(out, node)
		}
	}
	sort.Strings(out)
	return out
}

// Outcome is the result of repairing one key.
type Outcome int

const (
	// Repaired means at least one backup was rewritten.
	Repaired Outcome = iota
	// Skipped means nothing was applied: the backups already matched the
	// primary or a newer write superseded the observed versions.
	Skipped
	// Failed means a call to the primary or a backup failed.
	Failed
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case Repaired:
		return "repaired"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result lists the keys of a repair request by outcome.
type Result struct {
	Repaired []string
	Skipped  []string
	Failed   map[string]error
}

func (r *Result) add(key string, outcome Outcome, err error) {
	switch outcome {
	case Repaired:
		r.Repaired = append(r.Repaired, key)
	case Skipped:
		r.Skipped = append(r.Skipped, key)
	case Failed:
		if r.Failed == nil {
			r.Failed = make(map[string]error)
		}
		r.Failed[key] = err
	}
}

// FailedKeys returns the failed keys in sorted order.
func (r *Result) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
