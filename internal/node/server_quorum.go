package node

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"partrecon/internal/clock"
	"partrecon/internal/quorum"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

// Put handles Put requests with quorum coordination.
func (s *Server) Put(ctx context.Context, req *rpc.PutRequest) (*rpc.PutResponse, error) {
	s.logger.Debug("put request",
		zap.String("cache", req.Cache), zap.String("key", req.Key), zap.String("request_id", req.RequestID))

	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	version, result, err := s.replicate(ctx, req.Cache, req.Key, storage.VersionedValue{Value: req.Value}, req.RequestID)
	if err != nil {
		return nil, err
	}
	return &rpc.PutResponse{Version: version, Acks: result.Acks, Failed: result.Failed}, nil
}

// Delete writes a tombstone with quorum coordination.
func (s *Server) Delete(ctx context.Context, req *rpc.DeleteRequest) (*rpc.DeleteResponse, error) {
	s.logger.Debug("delete request",
		zap.String("cache", req.Cache), zap.String("key", req.Key), zap.String("request_id", req.RequestID))

	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	version, result, err := s.replicate(ctx, req.Cache, req.Key, storage.VersionedValue{Deleted: true}, req.RequestID)
	if err != nil {
		return nil, err
	}
	return &rpc.DeleteResponse{Version: version, Acks: result.Acks, Failed: result.Failed}, nil
}

// Get reads a key from the partition's primary.
func (s *Server) Get(ctx context.Context, req *rpc.GetRequest) (*rpc.GetResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	partition, err := s.affinity.Partition(req.Cache, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	owners, err := s.affinity.Owners(req.Cache, partition)
	if err != nil {
		return nil, toStatus(err)
	}

	var entry *storage.VersionedValue
	if owners[0] == s.nodeID {
		if entry, err = s.store.Get(req.Cache, partition, req.Key); err != nil {
			return nil, toStatus(err)
		}
	} else {
		client, err := s.dialer.Client(owners[0])
		if err != nil {
			return nil, err
		}
		resp, err := client.ReadEntry(ctx, &rpc.ReadEntryRequest{Cache: req.Cache, Partition: partition, Key: req.Key})
		if err != nil {
			return nil, err
		}
		if resp.Found {
			entry = &resp.Entry
		}
	}

	if entry == nil {
		return &rpc.GetResponse{}, nil
	}
	if entry.Deleted {
		return &rpc.GetResponse{Version: entry.Version, Deleted: true}, nil
	}
	return &rpc.GetResponse{Found: true, Value: entry.Value, Version: entry.Version}, nil
}

// replicate assigns a new version to entry and writes it to every owner of
// the key's partition, succeeding once the write quorum acknowledged.
func (s *Server) replicate(ctx context.Context, cache, key string, entry storage.VersionedValue, requestID string) (clock.Version, quorum.WriteResult, error) {
	partition, err := s.affinity.Partition(cache, key)
	if err != nil {
		return clock.Version{}, quorum.WriteResult{}, toStatus(err)
	}
	owners, err := s.affinity.Owners(cache, partition)
	if err != nil {
		return clock.Version{}, quorum.WriteResult{}, toStatus(err)
	}

	entry.Version = s.generator.Next(s.affinity.Topology())

	writeFn := func(ctx context.Context, owner string) (bool, error) {
		// If replica is self, write locally
		if owner == s.nodeID {
			return s.store.Put(cache, partition, key, entry)
		}

		client, err := s.dialer.Client(owner)
		if err != nil {
			return false, err
		}
		resp, err := client.ReplicaPut(ctx, &rpc.ReplicaPutRequest{
			Cache:         cache,
			Partition:     partition,
			Key:           key,
			Entry:         entry,
			CoordinatorID: s.nodeID,
			RequestID:     requestID,
		})
		if err != nil {
			return false, err
		}
		return resp.Applied, nil
	}

	result := quorum.DoWrite(ctx, owners, s.w, writeFn)
	if !result.Success {
		s.logger.Warn("write quorum not met",
			zap.String("cache", cache), zap.String("key", key), zap.String("error", result.ErrorMessage))
		return entry.Version, result, status.Error(codes.Unavailable, result.ErrorMessage)
	}
	if len(result.Failed) > 0 {
		s.logger.Info("write missed replicas",
			zap.String("cache", cache), zap.String("key", key), zap.Strings("failed", result.Failed))
	}
	return entry.Version, result, nil
}
