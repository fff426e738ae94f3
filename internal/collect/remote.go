package collect

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"partrecon/internal/clock"
	"partrecon/internal/quorum"
	"partrecon/internal/rpc"
)

// ErrInvalidRequest is returned for malformed collection requests.
var ErrInvalidRequest = errors.New("invalid collection request")

// Remote runs collections against owners reached through a dialer.
type Remote struct {
	dialer rpc.Dialer
	tracer trace.Tracer
	logger *zap.Logger
}

// NewRemote creates a collector over dialer.
func NewRemote(dialer rpc.Dialer, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		dialer: dialer,
		tracer: otel.Tracer("partrecon/collect"),
		logger: logger,
	}
}

// CollectBatch scans one page on every owner and reduces the pages.
func (r *Remote) CollectBatch(ctx context.Context, owners []string, req BatchRequest) (BatchResult, error) {
	if req.BatchSize <= 0 {
		return BatchResult{}, fmt.Errorf("%w: batch size %d", ErrInvalidRequest, req.BatchSize)
	}

	ctx, span := r.tracer.Start(ctx, "collect.batch", trace.WithAttributes(
		attribute.String("cache", req.Cache),
		attribute.Int("partition", req.Partition),
		attribute.String("lower_bound", req.LowerBound),
		attribute.StringSlice("owners", owners),
	))
	defer span.End()

	pages := make([]Page, len(owners))
	err := quorum.All(ctx, owners, func(ctx context.Context, idx int, owner string) error {
		client, err := r.dialer.Client(owner)
		if err != nil {
			return err
		}
		resp, err := client.ScanPartition(ctx, &rpc.ScanRequest{
			Cache:     req.Cache,
			Partition: req.Partition,
			After:     req.LowerBound,
			Limit:     req.BatchSize,
		})
		if err != nil {
			return err
		}
		pages[idx] = Page{Owner: owner, Records: resp.Records}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, fmt.Errorf("collect batch %s/%d: %w", req.Cache, req.Partition, err)
	}

	res := ReduceBatch(req, pages)
	span.SetAttributes(
		attribute.Int("scanned", res.Scanned),
		attribute.Int("suspects", len(res.Suspects)),
	)
	r.logger.Debug("batch collected",
		zap.String("cache", req.Cache), zap.Int("partition", req.Partition),
		zap.String("lower_bound", req.LowerBound), zap.String("next", res.NextLowerBound),
		zap.Int("scanned", res.Scanned), zap.Int("suspects", len(res.Suspects)))
	return res, nil
}

// CollectRecheck reads the current version of every requested key on every
// owner.
func (r *Remote) CollectRecheck(ctx context.Context, owners []string, req RecheckRequest) (clock.VersionMap, error) {
	ctx, span := r.tracer.Start(ctx, "collect.recheck", trace.WithAttributes(
		attribute.String("cache", req.Cache),
		attribute.Int("partition", req.Partition),
		attribute.Int("keys", len(req.Keys)),
		attribute.StringSlice("owners", owners),
	))
	defer span.End()

	answers := make([]Versions, len(owners))
	err := quorum.All(ctx, owners, func(ctx context.Context, idx int, owner string) error {
		client, err := r.dialer.Client(owner)
		if err != nil {
			return err
		}
		resp, err := client.ReadVersions(ctx, &rpc.VersionsRequest{
			Cache:     req.Cache,
			Partition: req.Partition,
			Keys:      req.Keys,
		})
		if err != nil {
			return err
		}
		answers[idx] = Versions{Owner: owner, Versions: resp.Versions}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("collect recheck %s/%d: %w", req.Cache, req.Partition, err)
	}
	return ReduceRecheck(req, answers), nil
}
