package repair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"partrecon/internal/affinity"
	"partrecon/internal/clock"
	"partrecon/internal/node"
	"partrecon/internal/ring"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

type cluster struct {
	dialer  *rpc.InProcess
	servers map[string]*node.Server
	owners  []string
}

func newCluster(t *testing.T) *cluster {
	t.Helper()

	nodes := []ring.Node{{ID: "n1", Addr: "n1:1"}, {ID: "n2", Addr: "n2:1"}, {ID: "n3", Addr: "n3:1"}}
	aff := affinity.New(16, nodes, []affinity.Cache{{Name: "c", Partitions: 1, Backups: 2}})
	c := &cluster{dialer: rpc.NewInProcess(), servers: make(map[string]*node.Server)}
	for _, n := range nodes {
		s := node.NewServer(n.ID, storage.NewMemStore(), aff, c.dialer, 0, zaptest.NewLogger(t))
		c.dialer.Register(n.ID, s)
		c.servers[n.ID] = s
	}
	owners, err := aff.Owners("c", 0)
	require.NoError(t, err)
	c.owners = owners
	return c
}

func (c *cluster) put(t *testing.T, id, key string, vv storage.VersionedValue) {
	t.Helper()
	_, err := c.servers[id].Store().Put("c", 0, key, vv)
	require.NoError(t, err)
}

func (c *cluster) get(t *testing.T, id, key string) *storage.VersionedValue {
	t.Helper()
	vv, err := c.servers[id].Store().Get("c", 0, key)
	require.NoError(t, err)
	return vv
}

func ver(order uint64) clock.Version {
	return clock.Version{Topology: 1, Order: order, NodeOrder: 1}
}

func TestExecutor_CopiesPrimaryToStaleBackup(t *testing.T) {
	c := newCluster(t)
	p, b1, b2 := c.owners[0], c.owners[1], c.owners[2]
	c.put(t, p, "k", storage.VersionedValue{Value: []byte("new"), Version: ver(5)})
	c.put(t, b1, "k", storage.VersionedValue{Value: []byte("new"), Version: ver(5)})
	c.put(t, b2, "k", storage.VersionedValue{Value: []byte("old"), Version: ver(3)})

	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	res, err := e.Repair(context.Background(), Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: ver(5), b1: ver(5), b2: ver(3)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, res.Repaired)
	assert.Empty(t, res.Failed)

	got := c.get(t, b2, "k")
	require.NotNil(t, got)
	assert.Equal(t, "new", string(got.Value))
	assert.Equal(t, ver(5), got.Version)
}

func TestExecutor_PrimaryWinsEvenWhenOlder(t *testing.T) {
	c := newCluster(t)
	p, b1 := c.owners[0], c.owners[1]
	c.put(t, p, "k", storage.VersionedValue{Value: []byte("primary"), Version: ver(2)})
	c.put(t, b1, "k", storage.VersionedValue{Value: []byte("backup"), Version: ver(9)})

	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	res, err := e.Repair(context.Background(), Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: ver(2), b1: ver(9), c.owners[2]: {}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, res.Repaired)

	for _, id := range c.owners {
		got := c.get(t, id, "k")
		require.NotNil(t, got, "owner %s", id)
		assert.Equal(t, ver(2), got.Version, "owner %s", id)
	}
}

func TestExecutor_RemovesKeyMissingOnPrimary(t *testing.T) {
	c := newCluster(t)
	p, b1 := c.owners[0], c.owners[1]
	c.put(t, b1, "k", storage.VersionedValue{Value: []byte("orphan"), Version: ver(4)})

	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	res, err := e.Repair(context.Background(), Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: {}, b1: ver(4), c.owners[2]: {}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, res.Repaired)
	assert.Nil(t, c.get(t, b1, "k"))
}

func TestExecutor_CopiesTombstone(t *testing.T) {
	c := newCluster(t)
	p, b1 := c.owners[0], c.owners[1]
	c.put(t, p, "k", storage.VersionedValue{Version: ver(6), Deleted: true})
	c.put(t, b1, "k", storage.VersionedValue{Value: []byte("alive"), Version: ver(5)})

	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	_, err := e.Repair(context.Background(), Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: ver(6), b1: ver(5), c.owners[2]: ver(6)}},
	})
	require.NoError(t, err)

	got := c.get(t, b1, "k")
	require.NotNil(t, got)
	assert.True(t, got.Deleted)
	assert.Equal(t, ver(6), got.Version)
}

func TestExecutor_SkipsWhenSupersededByLiveWrite(t *testing.T) {
	c := newCluster(t)
	p, b1 := c.owners[0], c.owners[1]
	c.put(t, p, "k", storage.VersionedValue{Value: []byte("a"), Version: ver(5)})
	// The backup moved on since the versions were observed.
	c.put(t, b1, "k", storage.VersionedValue{Value: []byte("live"), Version: ver(8)})

	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	res, err := e.Repair(context.Background(), Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: ver(5), b1: ver(3)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, res.Skipped)

	got := c.get(t, b1, "k")
	assert.Equal(t, "live", string(got.Value))
}

func TestExecutor_RepeatIsNoop(t *testing.T) {
	c := newCluster(t)
	p, b1 := c.owners[0], c.owners[1]
	c.put(t, p, "k", storage.VersionedValue{Value: []byte("a"), Version: ver(5)})
	c.put(t, b1, "k", storage.VersionedValue{Value: []byte("b"), Version: ver(3)})

	req := Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: ver(5), b1: ver(3)}},
	}
	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	first, err := e.Repair(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Repair(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"k"}, first.Repaired)
	assert.Equal(t, []string{"k"}, second.Skipped)
}

func TestExecutor_UnreachableBackupFailsKey(t *testing.T) {
	c := newCluster(t)
	p, b1 := c.owners[0], c.owners[1]
	c.put(t, p, "k", storage.VersionedValue{Value: []byte("a"), Version: ver(5)})
	c.dialer.SetDown(b1, true)

	e := NewExecutor(c.dialer, 0, zaptest.NewLogger(t))
	res, err := e.Repair(context.Background(), Request{
		Cache: "c", Partition: 0, Owners: c.owners,
		Conflicts: clock.VersionMap{"k": {p: ver(5), b1: {}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, res.FailedKeys())
	assert.Error(t, res.Failed["k"])
}

func TestExecutor_RequiresOwners(t *testing.T) {
	e := NewExecutor(rpc.NewInProcess(), 0, nil)
	_, err := e.Repair(context.Background(), Request{Cache: "c"})
	assert.ErrorIs(t, err, ErrNoOwners)
}
