package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"partrecon/internal/clock"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

// DefaultKeyTimeout bounds the calls made to repair one key.
const DefaultKeyTimeout = 2 * time.Second

// ErrNoOwners is returned for requests without a primary.
var ErrNoOwners = errors.New("repair request has no owners")

// Request asks for the conflicting keys of one partition to be repaired.
type Request struct {
	Cache     string
	Partition int
	// Owners lists the partition's current owners, primary first.
	Owners []string
	// Conflicts holds the versions each owner reported for every key.
	Conflicts clock.VersionMap
}

// Executor copies the primary's entry to divergent backups.
type Executor struct {
	dialer  rpc.Dialer
	timeout time.Duration
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewExecutor creates a repair executor. A non-positive timeout uses
// DefaultKeyTimeout.
func NewExecutor(dialer rpc.Dialer, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultKeyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		dialer:  dialer,
		timeout: timeout,
		tracer:  otel.Tracer("partrecon/repair"),
		logger:  logger,
	}
}

// Repair repairs every key in req.Conflicts and reports per-key outcomes.
// The returned error is reserved for malformed requests and internal
// failures; unreachable nodes show up as failed keys.
func (e *Executor) Repair(ctx context.Context, req Request) (res Result, err error) {
	if len(req.Owners) == 0 {
		return Result{}, fmt.Errorf("%w: %s/%d", ErrNoOwners, req.Cache, req.Partition)
	}

	ctx, span := e.tracer.Start(ctx, "repair.partition", trace.WithAttributes(
		attribute.String("cache", req.Cache),
		attribute.Int("partition", req.Partition),
		attribute.Int("keys", len(req.Conflicts)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("repair panic", zap.String("cache", req.Cache), zap.Int("partition", req.Partition), zap.Any("panic", r))
			err = fmt.Errorf("repair %s/%d: panic: %v", req.Cache, req.Partition, r)
		}
	}()

	owners := make(map[string]bool, len(req.Owners))
	for _, id := range req.Owners {
		owners[id] = true
	}

	for _, key := range req.Conflicts.Keys() {
		outcome, keyErr := e.repairKey(ctx, req, owners, key, req.Conflicts[key])
		res.add(key, outcome, keyErr)
		if keyErr != nil {
			e.logger.Warn("repair failed",
				zap.String("cache", req.Cache), zap.Int("partition", req.Partition),
				zap.String("key", key), zap.Error(keyErr))
		}
	}

	span.SetAttributes(
		attribute.Int("repaired", len(res.Repaired)),
		attribute.Int("skipped", len(res.Skipped)),
		attribute.Int("failed", len(res.Failed)),
	)
	e.logger.Info("repair completed",
		zap.String("cache", req.Cache), zap.Int("partition", req.Partition),
		zap.Int("repaired", len(res.Repaired)), zap.Int("skipped", len(res.Skipped)), zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (e *Executor) repairKey(ctx context.Context, req Request, owners map[string]bool, key string, observed clock.NodeVersions) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	primary := req.Owners[0]
	client, err := e.dialer.Client(primary)
	if err != nil {
		return Failed, fmt.Errorf("primary %s: %w", primary, err)
	}
	resp, err := client.ReadEntry(ctx, &rpc.ReadEntryRequest{Cache: req.Cache, Partition: req.Partition, Key: key})
	if err != nil {
		return Failed, fmt.Errorf("read primary %s: %w", primary, err)
	}

	var (
		entry  *storage.VersionedValue
		source clock.Version
	)
	if resp.Found {
		entry = &resp.Entry
		source = entry.Version
	}

	applied := false
	for _, backup := range Divergent(primary, source, observed) {
		if !owners[backup] {
			// No longer an owner; the new owner receives data through rebalancing.
			continue
		}
		client, err := e.dialer.Client(backup)
		if err != nil {
			return Failed, fmt.Errorf("backup %s: %w", backup, err)
		}
		out, err := client.RepairEntry(ctx, &rpc.RepairRequest{
			Cache:     req.Cache,
			Partition: req.Partition,
			Key:       key,
			Entry:     entry,
			Expected:  observed[backup],
		})
		if err != nil {
			return Failed, fmt.Errorf("repair backup %s: %w", backup, err)
		}
		if out.Applied {
			applied = true
		} else {
			e.logger.Debug("repair superseded",
				zap.String("key", key), zap.String("backup", backup), zap.Stringer("expected", observed[backup]))
		}
	}

	if applied {
		return Repaired, nil
	}
	return Skipped, nil
}
