package clock

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Version identifies a write on a key. Versions compare by topology
// generation first, then by the per-node order counter, then by the order of
// the node that produced the write.
type Version struct {
	Topology  uint32 `json:"topology" yaml:"topology"`
	Order     uint64 `json:"order" yaml:"order"`
	NodeOrder uint32 `json:"node_order" yaml:"node_order"`
}

// IsZero reports whether v is the zero Version, which marks a key that is
// absent on a node.
func (v Version) IsZero() bool {
	return v == Version{}
}

// CompareResult represents the result of comparing two versions.
type CompareResult int

const (
	// Before indicates this version was written before the other.
	Before CompareResult = iota
	// After indicates this version was written after the other.
	After
	// Equal indicates the versions are identical.
	Equal
)

// String returns the string representation of CompareResult.
func (c CompareResult) String() string {
	switch c {
	case Before:
		return "BEFORE"
	case After:
		return "AFTER"
	case Equal:
		return "EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Compare compares two versions and returns their relationship.
func (v Version) Compare(other Version) CompareResult {
	switch {
	case v.Topology != other.Topology:
		return order(v.Topology < other.Topology)
	case v.Order != other.Order:
		return order(v.Order < other.Order)
	case v.NodeOrder != other.NodeOrder:
		return order(v.NodeOrder < other.NodeOrder)
	default:
		return Equal
	}
}

func order(less bool) CompareResult {
	if less {
		return Before
	}
	return After
}

// After returns true if v was written after other.
func (v Version) After(other Version) bool {
	return v.Compare(other) == After
}

// Before returns true if v was written before other.
func (v Version) Before(other Version) bool {
	return v.Compare(other) == Before
}

// String returns a string representation of the version.
func (v Version) String() string {
	if v.IsZero() {
		return "<absent>"
	}
	return fmt.Sprintf("%d.%d@%d", v.Topology, v.Order, v.NodeOrder)
}

// NodeVersions maps a node ID to the version of one key on that node.
// A zero Version means the node does not hold the key.
type NodeVersions map[string]Version

// Copy creates a copy of the node versions.
func (nv NodeVersions) Copy() NodeVersions {
	cp := make(NodeVersions, len(nv))
	for node, v := range nv {
		cp[node] = v
	}
	return cp
}

// Agree returns true if every node reports the same version. An empty set
// agrees trivially.
func (nv NodeVersions) Agree() bool {
	first := true
	var want Version
	for _, v := range nv {
		if first {
			want, first = v, false
			continue
		}
		if v != want {
			return false
		}
	}
	return true
}

// Max returns the newest version in the set, or the zero Version if the set
// is empty or no node holds the key.
func (nv NodeVersions) Max() Version {
	var max Version
	for _, v := range nv {
		if v.After(max) {
			max = v
		}
	}
	return max
}

// Nodes returns the node IDs in sorted order.
func (nv NodeVersions) Nodes() []string {
	nodes := make([]string, 0, len(nv))
	for node := range nv {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// String returns a deterministic representation of the node versions.
func (nv NodeVersions) String() string {
	if len(nv) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(nv))
	for _, node := range nv.Nodes() {
		parts = append(parts, fmt.Sprintf("%s:%s", node, nv[node]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// VersionMap maps a key to the versions each owner holds for it.
type VersionMap map[string]NodeVersions

// Keys returns the keys in sorted order.
func (m VersionMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy creates a deep copy of the version map.
func (m VersionMap) Copy() VersionMap {
	cp := make(VersionMap, len(m))
	for k, nv := range m {
		cp[k] = nv.Copy()
	}
	return cp
}

// Generator issues versions for writes coordinated by one node. It is safe
// for concurrent use.
type Generator struct {
	nodeOrder uint32
	order     atomic.Uint64
}

// NewGenerator creates a generator for the node with the given order.
func NewGenerator(nodeOrder uint32) *Generator {
	return &Generator{nodeOrder: nodeOrder}
}

// Next returns a new version for the given topology generation. Versions
// returned by one generator are strictly increasing within a topology.
func (g *Generator) Next(topology uint32) Version {
	return Version{
		Topology:  topology,
		Order:     g.order.Add(1),
		NodeOrder: g.nodeOrder,
	}
}

// Observe advances the generator past a version seen from another node so
// later local writes order after it.
func (g *Generator) Observe(v Version) {
	for {
		cur := g.order.Load()
		if v.Order <= cur {
			return
		}
		if g.order.CompareAndSwap(cur, v.Order) {
			return
		}
	}
}
