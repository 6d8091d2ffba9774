package queue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ghalamif/MetricFlow/internal/ports"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("queue closed")

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
// Send blocks while the queue holds capacity items, which is the only
// backpressure mechanism between a loop and its drainers.
type MemQueue[T any] struct {
	ch     chan T
	closed atomic.Bool
}

func NewMemQueue[T any](capacity int) *MemQueue[T] {
	if capacity <= 0 {
		capacity = ports.DefaultQueueCapacity
	}
	return &MemQueue[T]{ch: make(chan T, capacity)}
}

func (q *MemQueue[T]) Send(ctx context.Context, item T) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemQueue[T]) Receive() <-chan T { return q.ch }

// Close stops further sends. Buffered items remain readable from Receive.
// Only the sender may call Close, after its last Send has returned.
func (q *MemQueue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

func (q *MemQueue[T]) Len() int { return len(q.ch) }

func (q *MemQueue[T]) Cap() int { return cap(q.ch) }

var _ ports.Queue[[]byte] = (*MemQueue[[]byte])(nil)
