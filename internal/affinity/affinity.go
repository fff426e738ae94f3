package affinity

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"partrecon/internal/ring"
)

const (
	// DefaultPartitions is used when a cache does not set a partition count.
	DefaultPartitions = 64
)

var (
	// ErrUnknownCache is returned for caches that are not configured.
	ErrUnknownCache = errors.New("unknown cache")
	// ErrNoPartition is returned for partition numbers outside the cache's range.
	ErrNoPartition = errors.New("partition out of range")
	// ErrNoOwners is returned when the ring has no nodes to own a partition.
	ErrNoOwners = errors.New("no owners for partition")
)

// Cache describes how one cache is partitioned and replicated.
type Cache struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Partitions int    `mapstructure:"partitions" yaml:"partitions"`
	Backups    int    `mapstructure:"backups" yaml:"backups"`
}

// Function is the cluster's affinity function. It is safe for concurrent use.
type Function struct {
	mu       sync.RWMutex
	ring     *ring.Ring
	caches   map[string]Cache
	topology uint32
}

// New creates an affinity function over the given nodes and caches. The
// initial topology version is 1.
func New(vnodes int, nodes []ring.Node, caches []Cache) *Function {
	r := ring.NewRing(vnodes)
	r.SetNodes(nodes)

	byName := make(map[string]Cache, len(caches))
	for _, c := range caches {
		if c.Partitions <= 0 {
			c.Partitions = DefaultPartitions
		}
		if c.Backups < 0 {
			c.Backups = 0
		}
		byName[c.Name] = c
	}

	return &Function{
		ring:     r,
		caches:   byName,
		topology: 1,
	}
}

// Caches returns the configured cache names in sorted order.
func (f *Function) Caches() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.caches))
	for name := range f.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PartitionCount returns the number of partitions of a cache.
func (f *Function) PartitionCount(cache string) (int, error) {
	c, err := f.cache(cache)
	if err != nil {
		return 0, err
	}
	return c.Partitions, nil
}

// Partition returns the partition a key belongs to.
func (f *Function) Partition(cache, key string) (int, error) {
	c, err := f.cache(cache)
	if err != nil {
		return 0, err
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(c.Partitions)), nil
}

// Owners returns the IDs of the primary and backup nodes of a partition,
// primary first.
func (f *Function) Owners(cache string, partition int) ([]string, error) {
	nodes, err := f.OwnerNodes(cache, partition)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids, nil
}

// OwnerNodes returns the primary and backup nodes of a partition, primary
// first.
func (f *Function) OwnerNodes(cache string, partition int) ([]ring.Node, error) {
	c, err := f.cache(cache)
	if err != nil {
		return nil, err
	}
	if partition < 0 || partition >= c.Partitions {
		return nil, fmt.Errorf("%w: %s/%d (partitions=%d)", ErrNoPartition, cache, partition, c.Partitions)
	}

	owners := f.ring.Owners(token(cache, partition), c.Backups+1)
	if len(owners) == 0 {
		return nil, fmt.Errorf("%w: %s/%d", ErrNoOwners, cache, partition)
	}
	return owners, nil
}

// IsOwner reports whether the node currently owns the partition.
func (f *Function) IsOwner(nodeID, cache string, partition int) (bool, error) {
	owners, err := f.Owners(cache, partition)
	if err != nil {
		return false, err
	}
	for _, id := range owners {
		if id == nodeID {
			return true, nil
		}
	}
	return false, nil
}

// Node looks up a node by ID.
func (f *Function) Node(id string) (ring.Node, bool) {
	return f.ring.Node(id)
}

// Nodes returns all nodes sorted by ID.
func (f *Function) Nodes() []ring.Node {
	return f.ring.Nodes()
}

// NodeOrder returns the 1-based position of the node in the sorted node
// list, or 0 if the node is unknown. It is used to break ties between
// versions issued by different nodes.
func (f *Function) NodeOrder(id string) uint32 {
	for i, n := range f.ring.Nodes() {
		if n.ID == id {
			return uint32(i + 1)
		}
	}
	return 0
}

// Topology returns the current topology version.
func (f *Function) Topology() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.topology
}

// SetNodes replaces the node set and advances the topology version.
func (f *Function) SetNodes(nodes []ring.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ring.SetNodes(nodes)
	f.topology++
}

// RemoveNode removes a node and advances the topology version.
func (f *Function) RemoveNode(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ring.RemoveNode(id)
	f.topology++
}

func (f *Function) cache(name string) (Cache, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.caches[name]
	if !ok {
		return Cache{}, fmt.Errorf("%w: %s", ErrUnknownCache, name)
	}
	return c, nil
}

func token(cache string, partition int) string {
	return fmt.Sprintf("%s/%d", cache, partition)
}
