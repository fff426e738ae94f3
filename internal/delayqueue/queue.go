// Package delayqueue provides an unbounded queue whose items become
// available only after their scheduled time.
package delayqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	readyAt time.Time
	item    T
}

// entries is a min-heap on readyAt. Items with equal readyAt come out in no
// particular order.
type entries[T any] []entry[T]

func (h entries[T]) Len() int           { return len(h) }
func (h entries[T]) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }
func (h entries[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entries[T]) Push(x any)        { *h = append(*h, x.(entry[T])) }
func (h *entries[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	*h = old[:n-1]
	return e
}

// Queue is a delayed work queue. It is safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	heap  entries[T]
	wake  chan struct{} // closed and replaced on every Put
	clock func() time.Time
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		wake:  make(chan struct{}),
		clock: time.Now,
	}
}

// Put schedules item to become available after delay. Put never blocks, but
// it reports a cancelled context instead of enqueueing.
func (q *Queue[T]) Put(ctx context.Context, item T, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	heap.Push(&q.heap, entry[T]{readyAt: q.clock().Add(delay), item: item})
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
	return nil
}

// Take removes and returns the earliest item whose time has come, blocking
// until one is ready or ctx is done.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		wake := q.wake
		var wait time.Duration = -1
		if len(q.heap) > 0 {
			wait = q.heap[0].readyAt.Sub(q.clock())
			if wait <= 0 {
				e := heap.Pop(&q.heap).(entry[T])
				q.mu.Unlock()
				return e.item, nil
			}
		}
		q.mu.Unlock()

		var fire <-chan time.Time
		if wait > 0 {
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// IsEmpty reports whether the queue holds no items, ready or not.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of items in the queue, ready or not.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
