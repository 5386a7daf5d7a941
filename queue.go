package goIdentity

import (
	"context"
	"sync"
	"sync/atomic"
)

// queue is a bounded work queue drained by a fixed worker pool. Items still buffered
// at close are handled before close returns.
type queue[T any] struct {
	items     chan T
	done      chan struct{}
	handle    func(T)
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newQueue[T any](size, workers int, handle func(T)) *queue[T] {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	q := &queue[T]{
		items:  make(chan T, size),
		done:   make(chan struct{}),
		handle: handle,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

func (q *queue[T]) work() {
	defer q.wg.Done()
	for {
		select {
		case item := <-q.items:
			q.handle(item)
		case <-q.done:
			for {
				select {
				case item := <-q.items:
					q.handle(item)
				default:
					return
				}
			}
		}
	}
}

// offer enqueues without waiting. A full buffer drops the item and counts it.
func (q *queue[T]) offer(item T) bool {
	if q.closed.Load() {
		return false
	}
	select {
	case q.items <- item:
		return true
	case <-q.done:
		return false
	default:
		q.dropped.Add(1)
		return false
	}
}

// put waits for room until ctx ends, which counts as a drop.
func (q *queue[T]) put(ctx context.Context, item T) bool {
	if q.closed.Load() {
		return false
	}
	select {
	case q.items <- item:
		return true
	case <-ctx.Done():
		q.dropped.Add(1)
		return false
	case <-q.done:
		return false
	}
}

func (q *queue[T]) close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}
