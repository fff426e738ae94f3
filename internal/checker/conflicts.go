package checker

import "partrecon/internal/clock"

// CheckConflicts returns the entries of expected whose keys are still in
// conflict according to actual.
//
// A key is resolved when every owner in actual reports the same version,
// including the key being absent everywhere, or when the newest version in
// actual is newer than the newest one in expected: a later write superseded
// the snapshot and the next session will look at it. A key missing from
// actual stays unresolved. The returned entries are copies of expected's.
func CheckConflicts(expected, actual clock.VersionMap) clock.VersionMap {
	out := make(clock.VersionMap)
	for key, exp := range expected {
		if act, ok := actual[key]; ok {
			if act.Agree() || act.Max().After(exp.Max()) {
				continue
			}
		}
		out[key] = exp.Copy()
	}
	return out
}

// pick returns the entries of m for keys, skipping keys m does not hold.
func pick(m clock.VersionMap, keys []string) clock.VersionMap {
	out := make(clock.VersionMap, len(keys))
	for _, k := range keys {
		if nv, ok := m[k]; ok {
			out[k] = nv.Copy()
		}
	}
	return out
}
