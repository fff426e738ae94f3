package node

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"partrecon/internal/affinity"
	"partrecon/internal/storage"
)

// toStatus converts affinity and storage errors to gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, affinity.ErrUnknownCache):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, affinity.ErrNoPartition),
		errors.Is(err, storage.ErrEmptyKey),
		errors.Is(err, storage.ErrNoVersion):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, affinity.ErrNoOwners),
		errors.Is(err, storage.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
