package ring

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// DefaultVNodes is the number of virtual nodes per node when none is given.
const DefaultVNodes = 128

// Node represents a physical node in the cluster.
type Node struct {
	ID   string
	Addr string
}

// vnode represents a virtual node on the ring.
type vnode struct {
	hash   uint32
	nodeID string
}

// Ring implements consistent hashing with virtual nodes.
type Ring struct {
	mu            sync.RWMutex
	vnodesPerNode int
	vnodes        []vnode
	nodes         map[string]Node
}

// NewRing creates a new consistent hashing ring.
func NewRing(vnodesPerNode int) *Ring {
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVNodes
	}
	return &Ring{
		vnodesPerNode: vnodesPerNode,
		nodes:         make(map[string]Node),
	}
}

// SetNodes rebuilds the ring with the given nodes. The same node set always
// produces the same ring regardless of input order.
func (r *Ring) SetNodes(nodes []Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]Node, len(nodes))
	r.vnodes = make([]vnode, 0, len(nodes)*r.vnodesPerNode)
	for _, node := range nodes {
		if _, dup := r.nodes[node.ID]; dup {
			continue
		}
		r.nodes[node.ID] = node
		r.vnodes = append(r.vnodes, r.vnodesFor(node.ID)...)
	}
	r.sortVNodes()
}

// RemoveNode removes a node and its virtual nodes from the ring.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; !exists {
		return
	}
	delete(r.nodes, nodeID)

	kept := r.vnodes[:0]
	for _, v := range r.vnodes {
		if v.nodeID != nodeID {
			kept = append(kept, v)
		}
	}
	r.vnodes = kept
}

// Owners returns up to k distinct nodes for the token, walking clockwise from
// the token's position. The first node is the primary.
func (r *Ring) Owners(token string, k int) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 || k <= 0 {
		return []Node{}
	}

	h := hashString(token)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= h
	})

	seen := make(map[string]bool, k)
	owners := make([]Node, 0, k)
	for i := 0; i < len(r.vnodes) && len(owners) < k; i++ {
		v := r.vnodes[(idx+i)%len(r.vnodes)]
		if seen[v.nodeID] {
			continue
		}
		seen[v.nodeID] = true
		owners = append(owners, r.nodes[v.nodeID])
	}
	return owners
}

// Node returns the node with the given ID.
func (r *Ring) Node(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	return node, ok
}

// Nodes returns all nodes sorted by ID.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// VNodes returns the number of virtual nodes per physical node.
func (r *Ring) VNodes() int {
	return r.vnodesPerNode
}

func (r *Ring) vnodesFor(nodeID string) []vnode {
	vs := make([]vnode, r.vnodesPerNode)
	for i := range vs {
		vs[i] = vnode{
			hash:   hashString(fmt.Sprintf("%s-vnode-%d", nodeID, i)),
			nodeID: nodeID,
		}
	}
	return vs
}

// sortVNodes orders virtual nodes by hash; equal hashes fall back to node ID
// so the ring does not depend on insertion order.
func (r *Ring) sortVNodes() {
	sort.Slice(r.vnodes, func(i, j int) bool {
		if r.vnodes[i].hash != r.vnodes[j].hash {
			return r.vnodes[i].hash < r.vnodes[j].hash
		}
		return r.vnodes[i].nodeID < r.vnodes[j].nodeID
	})
}

// hashString computes a 32-bit FNV-1a hash of the string.
func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
