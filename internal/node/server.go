package node

import (
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"partrecon/internal/affinity"
	"partrecon/internal/clock"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

// Server implements rpc.NodeService on top of a local store. Coordinated
// writes fan out to the partition's owners; replica and reconciliation calls
// act on the local store only.
type Server struct {
	nodeID    string
	store     storage.Store
	affinity  *affinity.Function
	generator *clock.Generator
	dialer    rpc.Dialer
	w         int // write quorum, 0 means majority of owners
	logger    *zap.Logger
}

var _ rpc.NodeService = (*Server)(nil)

// NewServer creates a node service instance.
func NewServer(nodeID string, store storage.Store, aff *affinity.Function, dialer rpc.Dialer, w int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		nodeID:    nodeID,
		store:     store,
		affinity:  aff,
		generator: clock.NewGenerator(aff.NodeOrder(nodeID)),
		dialer:    dialer,
		w:         w,
		logger:    logger.With(zap.String("node", nodeID)),
	}
}

// Store returns the node's local store.
func (s *Server) Store() storage.Store {
	return s.store
}

// checkOwner rejects calls for partitions this node does not own.
func (s *Server) checkOwner(cache string, partition int) error {
	owner, err := s.affinity.IsOwner(s.nodeID, cache, partition)
	if err != nil {
		return toStatus(err)
	}
	if !owner {
		return status.Errorf(codes.FailedPrecondition, "node %s does not own %s/%d", s.nodeID, cache, partition)
	}
	return nil
}
