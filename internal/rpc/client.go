package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client is a NodeService backed by a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Put(ctx context.Context, req *PutRequest) (*PutResponse, error) {
	return invoke[PutResponse](ctx, c, "Put", req)
}

func (c *Client) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	return invoke[GetResponse](ctx, c, "Get", req)
}

func (c *Client) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c, "Delete", req)
}

func (c *Client) ReplicaPut(ctx context.Context, req *ReplicaPutRequest) (*ReplicaPutResponse, error) {
	return invoke[ReplicaPutResponse](ctx, c, "ReplicaPut", req)
}

func (c *Client) ScanPartition(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	return invoke[ScanResponse](ctx, c, "ScanPartition", req)
}

func (c *Client) ReadVersions(ctx context.Context, req *VersionsRequest) (*VersionsResponse, error) {
	return invoke[VersionsResponse](ctx, c, "ReadVersions", req)
}

func (c *Client) ReadEntry(ctx context.Context, req *ReadEntryRequest) (*ReadEntryResponse, error) {
	return invoke[ReadEntryResponse](ctx, c, "ReadEntry", req)
}

func (c *Client) RepairEntry(ctx context.Context, req *RepairRequest) (*RepairResponse, error) {
	return invoke[RepairResponse](ctx, c, "RepairEntry", req)
}

// Resolver maps a node ID to its dial address.
type Resolver func(nodeID string) (addr string, ok bool)

// Pool manages gRPC clients to peer nodes, one connection per address.
type Pool struct {
	resolve Resolver

	mu     sync.RWMutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

// NewPool creates a pool that resolves node IDs with resolve.
func NewPool(resolve Resolver) *Pool {
	return &Pool{
		resolve: resolve,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

// Client returns a client for nodeID, creating the connection on first use.
// Connections are established lazily, so an unreachable peer surfaces as an
// Unavailable error on the first call rather than here.
func (p *Pool) Client(nodeID string) (NodeService, error) {
	addr, ok := p.resolve(nodeID)
	if !ok {
		return nil, status.Errorf(codes.Unavailable, "unknown node %q", nodeID)
	}

	p.mu.RLock()
	conn, exists := p.conns[addr]
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, status.Error(codes.Unavailable, "client pool closed")
	}
	if exists {
		return NewClient(conn), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := p.conns[addr]; exists {
		return NewClient(conn), nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return NewClient(conn), nil
}

// Close closes all client connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for addr, conn := range p.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
	p.closed = true
	return errors.Join(errs...)
}
