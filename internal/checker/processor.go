package checker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"partrecon/internal/clock"
	"partrecon/internal/collect"
	"partrecon/internal/delayqueue"
	"partrecon/internal/repair"
)

// Affinity answers partition layout questions.
type Affinity interface {
	PartitionCount(cache string) (int, error)
	// Owners returns the current owners of a partition, primary first.
	Owners(cache string, partition int) ([]string, error)
}

// Collector gathers versions from the owners of a partition.
type Collector interface {
	CollectBatch(ctx context.Context, owners []string, req collect.BatchRequest) (collect.BatchResult, error)
	CollectRecheck(ctx context.Context, owners []string, req collect.RecheckRequest) (clock.VersionMap, error)
}

// Repairer converges conflicting keys onto the primary.
type Repairer interface {
	Repair(ctx context.Context, req repair.Request) (repair.Result, error)
}

// Processor runs reconciliation sessions.
type Processor struct {
	affinity  Affinity
	collector Collector
	repairer  Repairer
	opts      Options
	logger    *zap.Logger
}

// NewProcessor creates a processor. The repairer is only used in fix mode
// and may be nil otherwise.
func NewProcessor(aff Affinity, collector Collector, repairer Repairer, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		affinity:  aff,
		collector: collector,
		repairer:  repairer,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// session is the state of one Execute call.
type session struct {
	*Processor

	id       string
	queue    *delayqueue.Queue[Workload]
	inFlight atomic.Int64
	limiter  *rate.Limiter
	slots    *semaphore.Weighted
	tasks    sync.WaitGroup
	report   reportBuilder
	logger   *zap.Logger
}

func (p *Processor) newSession() *session {
	s := &session{
		Processor: p,
		id:        uuid.NewString(),
		queue:     delayqueue.New[Workload](),
		slots:     semaphore.NewWeighted(int64(p.opts.Parallelism)),
	}
	if p.opts.Throttle > 0 {
		s.limiter = rate.NewLimiter(rate.Every(p.opts.Throttle), 1)
	}
	s.logger = p.logger.With(zap.String("session", s.id))

	caches := append([]string(nil), p.opts.Caches...)
	sort.Strings(caches)
	s.report.report = Report{
		SessionID: s.id,
		Caches:    caches,
		FixMode:   p.opts.FixMode,
		StartedAt: time.Now(),
	}
	return s
}

// Execute runs one reconciliation session over the configured caches and
// returns its report. The report is returned together with any error: a
// cancelled session reports StatusCancelled and an error wrapping
// ErrCancelled, a session with unrepaired keys reports StatusFailed and an
// error wrapping ErrRepairFailed.
func (p *Processor) Execute(ctx context.Context) (*Report, error) {
	s := p.newSession()
	s.logger.Info("reconciliation started",
		zap.Strings("caches", s.report.report.Caches),
		zap.Bool("fix_mode", p.opts.FixMode),
		zap.Int("batch_size", p.opts.BatchSize),
		zap.Int("recheck_attempts", p.opts.RecheckAttempts))

	ctx, cancel := context.WithCancel(ctx)
	err := s.run(ctx)
	cancel()
	s.tasks.Wait()
	queueDepth.Set(0)

	return s.finish(err)
}

// run seeds the queue and drains it until no work is left.
func (s *session) run(ctx context.Context) error {
	if s.opts.FixMode && s.repairer == nil {
		return errors.New("fix mode requires a repairer")
	}
	if err := s.seed(ctx); err != nil {
		return err
	}

	for {
		// Read the counter before looking at the queue: a task enqueues its
		// follow-up work before it leaves the in-flight count.
		inFlight := s.inFlight.Load()
		depth := s.queue.Len()
		queueDepth.Set(float64(depth))

		if depth == 0 {
			if inFlight == 0 {
				return nil
			}
			if err := s.wait(ctx, s.opts.PollInterval); err != nil {
				return cancelled(err)
			}
			continue
		}

		w, err := s.queue.Take(ctx)
		if err != nil {
			return cancelled(err)
		}
		if err := s.dispatch(ctx, w); err != nil {
			if errors.Is(err, ErrUnsupportedWorkload) {
				return err
			}
			return cancelled(err)
		}
	}
}

func (s *session) seed(ctx context.Context) error {
	for _, cache := range s.report.report.Caches {
		n, err := s.affinity.PartitionCount(cache)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnknownCache, cache, err)
		}
		for p := 0; p < n; p++ {
			if err := s.queue.Put(ctx, Batch{Cache: cache, Partition: p}, 0); err != nil {
				return cancelled(err)
			}
		}
		s.logger.Debug("seeded cache", zap.String("cache", cache), zap.Int("partitions", n))
	}
	return nil
}

func (s *session) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *session) dispatch(ctx context.Context, w Workload) error {
	switch w := w.(type) {
	case Batch:
		return s.compute(ctx, taskBatch, w.Cache, w.Partition, func(ctx context.Context, owners []string) error {
			return s.runBatch(ctx, owners, w)
		}, s.drop(taskBatch, w.Cache, w.Partition))
	case Recheck:
		return s.compute(ctx, taskRecheck, w.Cache, w.Partition, func(ctx context.Context, owners []string) error {
			return s.runRecheck(ctx, owners, w)
		}, s.drop(taskRecheck, w.Cache, w.Partition))
	case Repair:
		return s.compute(ctx, taskRepair, w.Cache, w.Partition, func(ctx context.Context, owners []string) error {
			return s.runRepair(ctx, owners, w)
		}, func(ctx context.Context, err error) {
			s.repairAborted(ctx, w, err)
		})
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedWorkload, w)
	}
}

// compute runs fn against the partition's current owners on its own
// goroutine. The task counts as in flight until fn has returned, so any work
// fn enqueues is visible to the driver before the count drops. Owner lookup
// errors, errors returned by fn and panics go to fail.
func (s *session) compute(ctx context.Context, task, cache string, partition int, fn func(ctx context.Context, owners []string) error, fail func(ctx context.Context, err error)) error {
	owners, err := s.affinity.Owners(cache, partition)
	if err != nil {
		fail(ctx, err)
		return nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return context.DeadlineExceeded
		}
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	s.inFlight.Add(1)
	inflightTasks.Inc()
	dispatchesTotal.WithLabelValues(task).Inc()
	s.report.dispatched(task)
	s.tasks.Add(1)

	go func() {
		defer s.tasks.Done()
		defer s.slots.Release(1)
		defer func() {
			s.inFlight.Add(-1)
			inflightTasks.Dec()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panic", zap.String("task", task), zap.String("cache", cache),
					zap.Int("partition", partition), zap.Any("panic", r))
				fail(ctx, fmt.Errorf("panic: %v", r))
			}
		}()

		if err := fn(ctx, owners); err != nil {
			fail(ctx, err)
		}
	}()
	return nil
}

func (s *session) drop(task, cache string, partition int) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		s.taskFailed(ctx, task, cache, partition, err)
	}
}

// taskFailed drops a failed task. Failures caused by the session ending are
// not counted.
func (s *session) taskFailed(ctx context.Context, task, cache string, partition int, err error) {
	if ctx.Err() != nil {
		s.logger.Debug("task abandoned", zap.String("task", task), zap.String("cache", cache),
			zap.Int("partition", partition), zap.Error(err))
		return
	}
	err = fmt.Errorf("%w: %w", ErrTaskFailed, err)
	taskFailuresTotal.WithLabelValues(task).Inc()
	s.report.taskFailed(task, cache, partition, err)
	s.logger.Warn("task failed", zap.String("task", task), zap.String("cache", cache),
		zap.Int("partition", partition), zap.Error(err))
}

func (s *session) runBatch(ctx context.Context, owners []string, w Batch) error {
	res, err := s.collector.CollectBatch(ctx, owners, collect.BatchRequest{
		Cache:      w.Cache,
		Partition:  w.Partition,
		BatchSize:  s.opts.BatchSize,
		LowerBound: w.LowerBound,
	})
	if err != nil {
		return err
	}
	s.report.scanned(res.Scanned, len(res.Suspects))

	if len(res.Suspects) > 0 {
		next := Recheck{Cache: w.Cache, Partition: w.Partition, Versions: res.Suspects}
		if err := s.queue.Put(ctx, next, s.opts.Backoff(0)); err != nil {
			return err
		}
	}
	if res.NextLowerBound == "" {
		return nil
	}
	if res.NextLowerBound <= w.LowerBound {
		return fmt.Errorf("%w: %q after %q", ErrCursorStalled, res.NextLowerBound, w.LowerBound)
	}
	return s.queue.Put(ctx, Batch{Cache: w.Cache, Partition: w.Partition, LowerBound: res.NextLowerBound}, 0)
}

func (s *session) runRecheck(ctx context.Context, owners []string, w Recheck) error {
	current, err := s.collector.CollectRecheck(ctx, owners, collect.RecheckRequest{
		Cache:     w.Cache,
		Partition: w.Partition,
		Keys:      w.Versions.Keys(),
	})
	if err != nil {
		return err
	}

	unresolved := CheckConflicts(w.Versions, current)
	if len(unresolved) == 0 {
		return nil
	}

	if w.Attempt < s.opts.RecheckAttempts {
		next := Recheck{Cache: w.Cache, Partition: w.Partition, Versions: unresolved, Attempt: w.Attempt + 1}
		return s.queue.Put(ctx, next, s.opts.Backoff(w.Attempt+1))
	}

	// Repairs compare against what the owners hold now, not the first snapshot.
	// Keys the owners did not answer for keep their last known versions.
	observed := pick(current, unresolved.Keys())
	for key, nv := range unresolved {
		if _, ok := observed[key]; !ok {
			observed[key] = nv
		}
	}
	if !s.opts.FixMode {
		s.report.inconsistent(w.Cache, w.Partition, observed, Detected)
		s.logger.Info("inconsistent keys",
			zap.String("cache", w.Cache), zap.Int("partition", w.Partition), zap.Int("keys", len(observed)))
		return nil
	}
	return s.queue.Put(ctx, Repair{Cache: w.Cache, Partition: w.Partition, Conflicts: observed}, 0)
}

func (s *session) runRepair(ctx context.Context, owners []string, w Repair) error {
	res, err := s.repairer.Repair(ctx, repair.Request{
		Cache:     w.Cache,
		Partition: w.Partition,
		Owners:    owners,
		Conflicts: w.Conflicts,
	})
	if err != nil {
		return err
	}

	s.report.inconsistent(w.Cache, w.Partition, pick(w.Conflicts, res.Repaired), Repaired)
	s.report.inconsistent(w.Cache, w.Partition, pick(w.Conflicts, res.Skipped), Superseded)
	return s.retryRepair(ctx, w, res.Failed)
}

// repairAborted handles a repair task that produced no per-key result: every
// key of the task counts as failed.
func (s *session) repairAborted(ctx context.Context, w Repair, err error) {
	if ctx.Err() != nil {
		s.logger.Debug("repair abandoned", zap.String("cache", w.Cache),
			zap.Int("partition", w.Partition), zap.Error(err))
		return
	}
	failed := make(map[string]error, len(w.Conflicts))
	for key := range w.Conflicts {
		failed[key] = err
	}
	if err := s.retryRepair(ctx, w, failed); err != nil {
		s.taskFailed(ctx, taskRepair, w.Cache, w.Partition, err)
	}
}

// retryRepair re-enqueues failed keys until RepairAttempts is spent, then
// records them as repair failures.
func (s *session) retryRepair(ctx context.Context, w Repair, failed map[string]error) error {
	if len(failed) == 0 {
		return nil
	}

	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	if w.Attempt+1 < s.opts.RepairAttempts {
		next := Repair{Cache: w.Cache, Partition: w.Partition, Conflicts: pick(w.Conflicts, keys), Attempt: w.Attempt + 1}
		s.logger.Info("retrying repair",
			zap.String("cache", w.Cache), zap.Int("partition", w.Partition),
			zap.Int("keys", len(keys)), zap.Int("attempt", next.Attempt))
		return s.queue.Put(ctx, next, s.opts.Backoff(next.Attempt))
	}

	s.report.repairFailed(w.Cache, w.Partition, failed)
	s.logger.Error("repair attempts exhausted",
		zap.String("cache", w.Cache), zap.Int("partition", w.Partition), zap.Int("keys", len(keys)))
	return nil
}

// finish builds the report and decides the session's status.
func (s *session) finish(err error) (*Report, error) {
	r := s.report.build()
	r.FinishedAt = time.Now()

	switch {
	case err == nil && len(r.RepairFailures) > 0:
		err = fmt.Errorf("%w: %d keys", ErrRepairFailed, len(r.RepairFailures))
		r.Status = StatusFailed
	case err == nil:
		r.Status = StatusCompleted
	case errors.Is(err, ErrCancelled):
		r.Status = StatusCancelled
	default:
		r.Status = StatusFailed
	}
	if err != nil {
		r.Error = err.Error()
	}

	fields := []zap.Field{
		zap.String("status", string(r.Status)),
		zap.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
		zap.Int("batches", r.Stats.Batches),
		zap.Int("rechecks", r.Stats.Rechecks),
		zap.Int("repairs", r.Stats.Repairs),
		zap.Int("inconsistencies", len(r.Inconsistencies)),
		zap.Int("task_failures", len(r.TaskFailures)),
	}
	if err != nil {
		s.logger.Warn("reconciliation finished", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("reconciliation finished", fields...)
	}
	return r, err
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
