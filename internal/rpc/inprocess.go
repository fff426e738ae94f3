package rpc

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InProcess dials nodes registered in the same process. Calls go straight to
// the node's handlers without serialization.
type InProcess struct {
	mu    sync.RWMutex
	nodes map[string]NodeService
	down  map[string]bool
}

// NewInProcess returns an empty in-process dialer.
func NewInProcess() *InProcess {
	return &InProcess{
		nodes: make(map[string]NodeService),
		down:  make(map[string]bool),
	}
}

// Register makes svc reachable as nodeID.
func (d *InProcess) Register(nodeID string, svc NodeService) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[nodeID] = svc
}

// SetDown marks a node unreachable (or reachable again).
func (d *InProcess) SetDown(nodeID string, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if down {
		d.down[nodeID] = true
	} else {
		delete(d.down, nodeID)
	}
}

// Client implements Dialer.
func (d *InProcess) Client(nodeID string) (NodeService, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.down[nodeID] {
		return nil, status.Errorf(codes.Unavailable, "node %s is down", nodeID)
	}
	svc, ok := d.nodes[nodeID]
	if !ok {
		return nil, status.Errorf(codes.Unavailable, "unknown node %q", nodeID)
	}
	return svc, nil
}
