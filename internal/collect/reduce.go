package collect

import (
	"partrecon/internal/clock"
	"partrecon/internal/storage"
)

// BatchRequest selects one page of a partition.
type BatchRequest struct {
	Cache     string
	Partition int
	BatchSize int
	// LowerBound is exclusive. Empty starts at the beginning of the partition.
	LowerBound string
}

// BatchResult is the outcome of one batch collection.
type BatchResult struct {
	// NextLowerBound continues the scan. Empty means the partition is done.
	NextLowerBound string
	// Suspects holds the keys whose owners disagree, with every owner's version.
	Suspects clock.VersionMap
	// Scanned is the number of distinct keys covered by the batch.
	Scanned int
}

// RecheckRequest selects specific keys of a partition.
type RecheckRequest struct {
	Cache     string
	Partition int
	Keys      []string
}

// Page is one owner's scan result.
type Page struct {
	Owner   string
	Records []storage.Record
}

// Versions is one owner's answer to a recheck.
type Versions struct {
	Owner    string
	Versions map[string]clock.Version
}

// ReduceBatch merges the owners' pages into one batch.
//
// Owners may hold different key sets, so their pages can end at different
// keys. The batch covers keys up to the smallest last key among the owners
// that returned a full page; everything beyond it is picked up by the next
// batch. When no page is full every owner has reached the end of the
// partition. A key missing on some owner counts as the zero version there.
func ReduceBatch(req BatchRequest, pages []Page) BatchResult {
	var (
		bound string
		full  bool
	)
	for _, p := range pages {
		if len(p.Records) == 0 || len(p.Records) < req.BatchSize {
			continue
		}
		last := p.Records[len(p.Records)-1].Key
		if !full || last < bound {
			bound = last
		}
		full = true
	}

	seen := make(map[string]clock.NodeVersions)
	for _, p := range pages {
		for _, r := range p.Records {
			if full && r.Key > bound {
				break
			}
			nv, ok := seen[r.Key]
			if !ok {
				nv = make(clock.NodeVersions, len(pages))
				seen[r.Key] = nv
			}
			nv[p.Owner] = r.Version
		}
	}

	suspects := make(clock.VersionMap)
	for key, nv := range seen {
		for _, p := range pages {
			if _, ok := nv[p.Owner]; !ok {
				nv[p.Owner] = clock.Version{}
			}
		}
		if !nv.Agree() {
			suspects[key] = nv
		}
	}

	res := BatchResult{Suspects: suspects, Scanned: len(seen)}
	if full {
		res.NextLowerBound = bound
	}
	return res
}

// ReduceRecheck builds a version map with one entry per owner for every
// requested key, using the zero version where an owner holds nothing.
func ReduceRecheck(req RecheckRequest, answers []Versions) clock.VersionMap {
	out := make(clock.VersionMap, len(req.Keys))
	for _, key := range req.Keys {
		nv := make(clock.NodeVersions, len(answers))
		for _, a := range answers {
			nv[a.Owner] = a.Versions[key]
		}
		out[key] = nv
	}
	return out
}
