package quorum

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPerReplicaTimeout is the default timeout for each replica RPC.
	DefaultPerReplicaTimeout = 2 * time.Second
)

// WriteResult represents the result of a quorum write operation.
type WriteResult struct {
	Success      bool
	Acks         int
	Required     int
	Replicas     int
	Failed       []string // replicas that did not acknowledge, sorted
	ErrorMessage string
}

// ReplicaWriteFunc performs a write on a single replica.
// Returns true if the replica acknowledged the write.
type ReplicaWriteFunc func(ctx context.Context, replicaID string) (bool, error)

// DoWrite replicates a write to all replicas in parallel and succeeds when at
// least requiredW of them acknowledge. It waits for every replica (or the
// context) so the caller learns exactly which replicas missed the write.
func DoWrite(ctx context.Context, replicas []string, requiredW int, writeFn ReplicaWriteFunc) WriteResult {
	if len(replicas) == 0 {
		return WriteResult{
			Success:      false,
			ErrorMessage: "no replicas provided",
		}
	}

	if requiredW <= 0 {
		requiredW = (len(replicas) / 2) + 1 // majority
	}
	if requiredW > len(replicas) {
		return WriteResult{
			Success:      false,
			Required:     requiredW,
			Replicas:     len(replicas),
			ErrorMessage: fmt.Sprintf("required W=%d exceeds replica count=%d", requiredW, len(replicas)),
		}
	}

	var (
		mu     sync.Mutex
		acked  = make(map[string]bool, len(replicas))
		errs   []error
		wg     sync.WaitGroup
		cancel context.CancelFunc
	)
	ctx, cancel = context.WithTimeout(ctx, DefaultPerReplicaTimeout)
	defer cancel()

	for _, replicaID := range replicas {
		wg.Add(1)
		go func(rid string) {
			defer wg.Done()

			ok, err := writeFn(ctx, rid)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				acked[rid] = true
			} else if err != nil {
				errs = append(errs, fmt.Errorf("replica %s: %w", rid, err))
			}
		}(replicaID)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	result := WriteResult{
		Acks:     len(acked),
		Required: requiredW,
		Replicas: len(replicas),
	}
	for _, rid := range replicas {
		if !acked[rid] {
			result.Failed = append(result.Failed, rid)
		}
	}
	sort.Strings(result.Failed)

	if result.Acks >= requiredW {
		result.Success = true
		return result
	}

	result.ErrorMessage = fmt.Sprintf("quorum not met: acks=%d required=%d replicas=%d", result.Acks, requiredW, len(replicas))
	if len(errs) > 0 {
		result.ErrorMessage += fmt.Sprintf(" errors=%v", errs[:min(3, len(errs))])
	}
	return result
}

// OwnerFunc runs one call against the owner at position idx.
type OwnerFunc func(ctx context.Context, idx int, ownerID string) error

// All runs fn on every owner in parallel and returns the first error. The
// context passed to fn is cancelled as soon as one owner fails.
func All(ctx context.Context, owners []string, fn OwnerFunc) error {
	if len(owners) == 0 {
		return fmt.Errorf("no owners provided")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, owner := range owners {
		i, owner := i, owner
		g.Go(func() error {
			if err := fn(gctx, i, owner); err != nil {
				return fmt.Errorf("owner %s: %w", owner, err)
			}
			return nil
		})
	}
	return g.Wait()
}
