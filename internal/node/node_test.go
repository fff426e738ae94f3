package node

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"partrecon/internal/affinity"
	"partrecon/internal/clock"
	"partrecon/internal/ring"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

type testCluster struct {
	aff     *affinity.Function
	dialer  *rpc.InProcess
	servers map[string]*Server
}

func newTestCluster(t *testing.T, size, backups, w int) *testCluster {
	t.Helper()

	nodes := make([]ring.Node, 0, size)
	for i := 1; i <= size; i++ {
		nodes = append(nodes, ring.Node{ID: fmt.Sprintf("n%d", i), Addr: fmt.Sprintf("127.0.0.1:%d", 7000+i)})
	}
	c := &testCluster{
		aff:     affinity.New(16, nodes, []affinity.Cache{{Name: "c", Partitions: 8, Backups: backups}}),
		dialer:  rpc.NewInProcess(),
		servers: make(map[string]*Server),
	}
	for _, n := range nodes {
		s := NewServer(n.ID, storage.NewMemStore(), c.aff, c.dialer, w, zaptest.NewLogger(t))
		c.dialer.Register(n.ID, s)
		c.servers[n.ID] = s
	}
	return c
}

func (c *testCluster) owners(t *testing.T, key string) (int, []string) {
	t.Helper()
	p, err := c.aff.Partition("c", key)
	require.NoError(t, err)
	owners, err := c.aff.Owners("c", p)
	require.NoError(t, err)
	return p, owners
}

func TestServer_PutReplicatesToAllOwners(t *testing.T) {
	c := newTestCluster(t, 3, 2, 0)
	ctx := context.Background()

	resp, err := c.servers["n1"].Put(ctx, &rpc.PutRequest{Cache: "c", Key: "k1", Value: []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Acks)
	assert.Empty(t, resp.Failed)
	assert.False(t, resp.Version.IsZero())

	p, owners := c.owners(t, "k1")
	for _, id := range owners {
		vv, err := c.servers[id].Store().Get("c", p, "k1")
		require.NoError(t, err)
		require.NotNil(t, vv, "owner %s missing key", id)
		assert.Equal(t, resp.Version, vv.Version)
	}

	got, err := c.servers["n2"].Get(ctx, &rpc.GetRequest{Cache: "c", Key: "k1"})
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "v1", string(got.Value))
}

func TestServer_LaterWriteWins(t *testing.T) {
	c := newTestCluster(t, 3, 2, 0)
	ctx := context.Background()

	first, err := c.servers["n1"].Put(ctx, &rpc.PutRequest{Cache: "c", Key: "k", Value: []byte("a")})
	require.NoError(t, err)
	second, err := c.servers["n3"].Put(ctx, &rpc.PutRequest{Cache: "c", Key: "k", Value: []byte("b")})
	require.NoError(t, err)
	assert.True(t, second.Version.After(first.Version), "%s should be after %s", second.Version, first.Version)

	got, err := c.servers["n2"].Get(ctx, &rpc.GetRequest{Cache: "c", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "b", string(got.Value))
}

func TestServer_DeleteWritesTombstone(t *testing.T) {
	c := newTestCluster(t, 3, 2, 0)
	ctx := context.Background()

	_, err := c.servers["n1"].Put(ctx, &rpc.PutRequest{Cache: "c", Key: "k", Value: []byte("x")})
	require.NoError(t, err)
	del, err := c.servers["n2"].Delete(ctx, &rpc.DeleteRequest{Cache: "c", Key: "k"})
	require.NoError(t, err)

	got, err := c.servers["n3"].Get(ctx, &rpc.GetRequest{Cache: "c", Key: "k"})
	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.True(t, got.Deleted)
	assert.Equal(t, del.Version, got.Version)
}

func TestServer_PutToleratesDownReplica(t *testing.T) {
	c := newTestCluster(t, 3, 2, 2)
	p, owners := c.owners(t, "k")
	down := owners[2]
	c.dialer.SetDown(down, true)

	resp, err := c.servers[owners[0]].Put(context.Background(), &rpc.PutRequest{Cache: "c", Key: "k", Value: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Acks)
	assert.Equal(t, []string{down}, resp.Failed)

	vv, err := c.servers[down].Store().Get("c", p, "k")
	require.NoError(t, err)
	assert.Nil(t, vv, "down replica should have missed the write")
}

func TestServer_PutFailsWithoutQuorum(t *testing.T) {
	c := newTestCluster(t, 3, 2, 3)
	_, owners := c.owners(t, "k")
	c.dialer.SetDown(owners[1], true)

	_, err := c.servers[owners[0]].Put(context.Background(), &rpc.PutRequest{Cache: "c", Key: "k", Value: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestServer_InvalidRequests(t *testing.T) {
	c := newTestCluster(t, 1, 0, 0)
	s := c.servers["n1"]
	ctx := context.Background()

	_, err := s.Put(ctx, &rpc.PutRequest{Cache: "c", Key: ""})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Put(ctx, &rpc.PutRequest{Cache: "nope", Key: "k"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = s.ScanPartition(ctx, &rpc.ScanRequest{Cache: "c", Partition: 0, Limit: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.ReadVersions(ctx, &rpc.VersionsRequest{Cache: "c", Partition: 99})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_NonOwnerRejectsReconciliationCalls(t *testing.T) {
	c := newTestCluster(t, 3, 0, 0)
	owners, err := c.aff.Owners("c", 0)
	require.NoError(t, err)

	var outsider *Server
	for id, s := range c.servers {
		if id != owners[0] {
			outsider = s
			break
		}
	}
	ctx := context.Background()

	_, err = outsider.ScanPartition(ctx, &rpc.ScanRequest{Cache: "c", Partition: 0, Limit: 10})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = outsider.ReadVersions(ctx, &rpc.VersionsRequest{Cache: "c", Partition: 0, Keys: []string{"a"}})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = outsider.RepairEntry(ctx, &rpc.RepairRequest{Cache: "c", Partition: 0, Key: "a"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServer_ScanAndVersions(t *testing.T) {
	c := newTestCluster(t, 1, 0, 0)
	s := c.servers["n1"]
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Store().Put("c", 2, key, storage.VersionedValue{Version: clock.Version{Topology: 1, Order: uint64(i + 1), NodeOrder: 1}})
		require.NoError(t, err)
	}

	page, err := s.ScanPartition(ctx, &rpc.ScanRequest{Cache: "c", Partition: 2, After: "b", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "c", page.Records[0].Key)
	assert.Equal(t, "d", page.Records[1].Key)

	versions, err := s.ReadVersions(ctx, &rpc.VersionsRequest{Cache: "c", Partition: 2, Keys: []string{"a", "zz"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), versions.Versions["a"].Order)
	assert.True(t, versions.Versions["zz"].IsZero())
}

func TestServer_RepairEntry(t *testing.T) {
	c := newTestCluster(t, 1, 0, 0)
	s := c.servers["n1"]
	ctx := context.Background()

	stale := clock.Version{Topology: 1, Order: 5, NodeOrder: 1}
	fixed := clock.Version{Topology: 1, Order: 3, NodeOrder: 1}
	_, err := s.Store().Put("c", 1, "k", storage.VersionedValue{Value: []byte("stale"), Version: stale})
	require.NoError(t, err)

	resp, err := s.RepairEntry(ctx, &rpc.RepairRequest{
		Cache: "c", Partition: 1, Key: "k",
		Entry:    &storage.VersionedValue{Value: []byte("fixed"), Version: fixed},
		Expected: stale,
	})
	require.NoError(t, err)
	assert.True(t, resp.Applied)

	entry, err := s.ReadEntry(ctx, &rpc.ReadEntryRequest{Cache: "c", Partition: 1, Key: "k"})
	require.NoError(t, err)
	assert.True(t, entry.Found)
	assert.Equal(t, fixed, entry.Entry.Version)
	assert.Equal(t, "fixed", string(entry.Entry.Value))

	// A second repair against the old version no longer matches.
	resp, err = s.RepairEntry(ctx, &rpc.RepairRequest{Cache: "c", Partition: 1, Key: "k", Expected: stale})
	require.NoError(t, err)
	assert.False(t, resp.Applied)
}

func TestNode_ServesOverGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	aff := affinity.New(16, []ring.Node{{ID: "n1", Addr: addr}}, []affinity.Cache{{Name: "c", Partitions: 4}})
	pool := rpc.NewPool(func(id string) (string, bool) {
		n, ok := aff.Node(id)
		return n.Addr, ok
	})
	defer pool.Close()

	n := NewNode(Options{ID: "n1", ListenAddr: addr}, storage.NewMemStore(), aff, pool, zaptest.NewLogger(t))
	go n.Serve(lis)
	defer n.Stop()

	client, err := pool.Client("n1")
	require.NoError(t, err)

	ctx := context.Background()
	put, err := client.Put(ctx, &rpc.PutRequest{Cache: "c", Key: "hello", Value: []byte("world")})
	require.NoError(t, err)
	assert.Equal(t, 1, put.Acks)

	got, err := client.Get(ctx, &rpc.GetRequest{Cache: "c", Key: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "world", string(got.Value))
	assert.Equal(t, put.Version, got.Version)

	_, err = client.Get(ctx, &rpc.GetRequest{Cache: "c", Key: ""})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)
}
