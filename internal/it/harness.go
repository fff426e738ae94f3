package it

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"partrecon/internal/affinity"
	"partrecon/internal/checker"
	"partrecon/internal/clock"
	"partrecon/internal/collect"
	"partrecon/internal/node"
	"partrecon/internal/repair"
	"partrecon/internal/ring"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

// Options configures a test cluster.
type Options struct {
	Size        int
	VNodes      int
	WriteQuorum int
	Caches      []affinity.Cache
	// GRPC serves every node on a loopback listener and reaches it through
	// an rpc.Pool. Otherwise nodes are called in process.
	GRPC bool
}

// Cluster represents a test cluster of nodes sharing one affinity function.
type Cluster struct {
	Affinity *affinity.Function
	Dialer   rpc.Dialer

	inproc *rpc.InProcess
	pool   *rpc.Pool
	ids    []string
	nodes  map[string]*Node
	logger *zap.Logger
	serve  sync.WaitGroup
}

// Node represents a single node in the test cluster.
type Node struct {
	ID     string
	Addr   string
	server *node.Server
	node   *node.Node // nil for in-process nodes
}

// Store returns the node's local store, bypassing replication.
func (n *Node) Store() storage.Store {
	return n.server.Store()
}

// NewCluster starts a cluster of opts.Size nodes named n1..nN.
func NewCluster(opts Options, logger *zap.Logger) (*Cluster, error) {
	if opts.Size <= 0 {
		return nil, errors.New("cluster size must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cluster{
		nodes:  make(map[string]*Node, opts.Size),
		logger: logger,
	}

	listeners := make(map[string]net.Listener, opts.Size)
	ringNodes := make([]ring.Node, 0, opts.Size)
	for i := 1; i <= opts.Size; i++ {
		id := fmt.Sprintf("n%d", i)
		addr := ""
		if opts.GRPC {
			lis, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				closeAll(listeners)
				return nil, fmt.Errorf("failed to listen for %s: %w", id, err)
			}
			listeners[id] = lis
			addr = lis.Addr().String()
		}
		c.ids = append(c.ids, id)
		ringNodes = append(ringNodes, ring.Node{ID: id, Addr: addr})
	}
	c.Affinity = affinity.New(opts.VNodes, ringNodes, opts.Caches)

	if !opts.GRPC {
		c.inproc = rpc.NewInProcess()
		c.Dialer = c.inproc
		for _, n := range ringNodes {
			srv := node.NewServer(n.ID, storage.NewMemStore(), c.Affinity, c.inproc, opts.WriteQuorum, logger.With(zap.String("node", n.ID)))
			c.inproc.Register(n.ID, srv)
			c.nodes[n.ID] = &Node{ID: n.ID, server: srv}
		}
		return c, nil
	}

	c.pool = rpc.NewPool(func(id string) (string, bool) {
		n, ok := c.Affinity.Node(id)
		return n.Addr, ok
	})
	c.Dialer = c.pool
	for _, n := range ringNodes {
		n := n
		nd := node.NewNode(node.Options{ID: n.ID, ListenAddr: n.Addr, WriteQuorum: opts.WriteQuorum},
			storage.NewMemStore(), c.Affinity, c.pool, logger)
		c.nodes[n.ID] = &Node{ID: n.ID, Addr: n.Addr, server: nd.Service(), node: nd}

		lis := listeners[n.ID]
		c.serve.Add(1)
		go func() {
			defer c.serve.Done()
			if err := nd.Serve(lis); err != nil {
				logger.Warn("node stopped serving", zap.String("node", n.ID), zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range c.ids {
		if err := c.waitForReady(ctx, c.nodes[id]); err != nil {
			c.Stop()
			return nil, fmt.Errorf("node %s failed to become ready: %w", id, err)
		}
	}
	return c, nil
}

func closeAll(listeners map[string]net.Listener) {
	for _, lis := range listeners {
		lis.Close()
	}
}

// waitForReady polls the node's health service until it reports SERVING.
func (c *Cluster) waitForReady(ctx context.Context, n *Node) error {
	conn, err := grpc.NewClient(n.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for node %s: %w", n.ID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	for _, id := range c.ids {
		if n := c.nodes[id]; n.node != nil {
			n.node.Stop()
		} else {
			n.Store().Close()
		}
	}
	c.serve.Wait()
	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			c.logger.Warn("closing client pool", zap.Error(err))
		}
	}
}

// IDs returns the node IDs in order.
func (c *Cluster) IDs() []string {
	return append([]string(nil), c.ids...)
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(nodeID string) *Node {
	return c.nodes[nodeID]
}

// SetDown makes an in-process node unreachable, or reachable again.
func (c *Cluster) SetDown(nodeID string, down bool) error {
	if c.inproc == nil {
		return errors.New("SetDown requires an in-process cluster")
	}
	if _, ok := c.nodes[nodeID]; !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	c.inproc.SetDown(nodeID, down)
	return nil
}

// Put writes a value through the first node, which coordinates replication.
func (c *Cluster) Put(ctx context.Context, cache, key string, value []byte) (*rpc.PutResponse, error) {
	client, err := c.Dialer.Client(c.ids[0])
	if err != nil {
		return nil, err
	}
	return client.Put(ctx, &rpc.PutRequest{Cache: cache, Key: key, Value: value})
}

// Owners returns the partition of key and its owners, primary first.
func (c *Cluster) Owners(cache, key string) (int, []string, error) {
	p, err := c.Affinity.Partition(cache, key)
	if err != nil {
		return 0, nil, err
	}
	owners, err := c.Affinity.Owners(cache, p)
	if err != nil {
		return 0, nil, err
	}
	return p, owners, nil
}

// Overwrite stores an entry on one node only, leaving the other owners
// unchanged.
func (c *Cluster) Overwrite(nodeID, cache, key string, entry storage.VersionedValue) error {
	p, err := c.Affinity.Partition(cache, key)
	if err != nil {
		return err
	}
	store := c.nodes[nodeID].Store()
	current, err := store.Get(cache, p, key)
	if err != nil {
		return err
	}
	var expected clock.Version
	if current != nil {
		expected = current.Version
	}
	applied, err := store.PutRepair(cache, p, key, &entry, expected)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("overwrite of %s on %s not applied", key, nodeID)
	}
	return nil
}

// Drop removes a key from one node only.
func (c *Cluster) Drop(nodeID, cache, key string) error {
	p, err := c.Affinity.Partition(cache, key)
	if err != nil {
		return err
	}
	store := c.nodes[nodeID].Store()
	current, err := store.Get(cache, p, key)
	if err != nil || current == nil {
		return err
	}
	_, err = store.PutRepair(cache, p, key, nil, current.Version)
	return err
}

// Divergent returns the keys of cache whose owners hold different versions,
// read directly from every owner's store.
func (c *Cluster) Divergent(cache string) ([]string, error) {
	count, err := c.Affinity.PartitionCount(cache)
	if err != nil {
		return nil, err
	}

	var keys []string
	for p := 0; p < count; p++ {
		owners, err := c.Affinity.Owners(cache, p)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]clock.NodeVersions)
		for _, id := range owners {
			recs, err := scanAll(c.nodes[id].Store(), cache, p)
			if err != nil {
				return nil, err
			}
			for _, r := range recs {
				if seen[r.Key] == nil {
					seen[r.Key] = make(clock.NodeVersions, len(owners))
				}
				seen[r.Key][id] = r.Version
			}
		}
		for key, nv := range seen {
			// Fill absent owners so a key held by a subset disagrees.
			for _, id := range owners {
				if _, ok := nv[id]; !ok {
					nv[id] = clock.Version{}
				}
			}
			if !nv.Agree() {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func scanAll(s storage.Store, cache string, partition int) ([]storage.Record, error) {
	const page = 256
	var all []storage.Record
	after := ""
	for {
		recs, err := s.Scan(cache, partition, after, page)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
		if len(recs) < page {
			return all, nil
		}
		after = recs[len(recs)-1].Key
	}
}

// Checker wires a reconciliation processor to the cluster.
func (c *Cluster) Checker(opts checker.Options) *checker.Processor {
	var repairer checker.Repairer
	if opts.FixMode {
		repairer = repair.NewExecutor(c.Dialer, 0, c.logger)
	}
	return checker.NewProcessor(c.Affinity, collect.NewRemote(c.Dialer, c.logger), repairer, opts, c.logger)
}
