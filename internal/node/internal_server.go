package node

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"partrecon/internal/rpc"
)

// ReplicaPut applies a coordinator's write to the local store.
func (s *Server) ReplicaPut(ctx context.Context, req *rpc.ReplicaPutRequest) (*rpc.ReplicaPutResponse, error) {
	s.logger.Debug("replica put",
		zap.String("cache", req.Cache), zap.String("key", req.Key),
		zap.String("coordinator", req.CoordinatorID), zap.String("request_id", req.RequestID))

	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	applied, err := s.store.Put(req.Cache, req.Partition, req.Key, req.Entry)
	if err != nil {
		return nil, toStatus(err)
	}
	s.generator.Observe(req.Entry.Version)
	return &rpc.ReplicaPutResponse{Applied: applied}, nil
}

// ScanPartition returns one page of the partition's keys with their versions.
func (s *Server) ScanPartition(ctx context.Context, req *rpc.ScanRequest) (*rpc.ScanResponse, error) {
	if req.Limit <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "limit must be positive, got %d", req.Limit)
	}
	if err := s.checkOwner(req.Cache, req.Partition); err != nil {
		return nil, err
	}

	records, err := s.store.Scan(req.Cache, req.Partition, req.After, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.ScanResponse{Records: records}, nil
}

// ReadVersions returns the local version of every requested key.
func (s *Server) ReadVersions(ctx context.Context, req *rpc.VersionsRequest) (*rpc.VersionsResponse, error) {
	if err := s.checkOwner(req.Cache, req.Partition); err != nil {
		return nil, err
	}

	versions, err := s.store.Versions(req.Cache, req.Partition, req.Keys)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.VersionsResponse{Versions: versions}, nil
}

// ReadEntry returns the local entry of a key, tombstones included.
func (s *Server) ReadEntry(ctx context.Context, req *rpc.ReadEntryRequest) (*rpc.ReadEntryResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	if err := s.checkOwner(req.Cache, req.Partition); err != nil {
		return nil, err
	}

	entry, err := s.store.Get(req.Cache, req.Partition, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	if entry == nil {
		return &rpc.ReadEntryResponse{}, nil
	}
	return &rpc.ReadEntryResponse{Found: true, Entry: *entry}, nil
}

// RepairEntry overwrites the local entry if it still holds the expected
// version. The stored version is the repair source's, not a new one.
func (s *Server) RepairEntry(ctx context.Context, req *rpc.RepairRequest) (*rpc.RepairResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	if err := s.checkOwner(req.Cache, req.Partition); err != nil {
		return nil, err
	}

	applied, err := s.store.PutRepair(req.Cache, req.Partition, req.Key, req.Entry, req.Expected)
	if err != nil {
		return nil, toStatus(err)
	}
	if req.Entry != nil {
		s.generator.Observe(req.Entry.Version)
	}

	s.logger.Debug("repair entry",
		zap.String("cache", req.Cache), zap.Int("partition", req.Partition), zap.String("key", req.Key),
		zap.Stringer("expected", req.Expected), zap.Bool("removal", req.Entry == nil), zap.Bool("applied", applied))
	return &rpc.RepairResponse{Applied: applied}, nil
}
