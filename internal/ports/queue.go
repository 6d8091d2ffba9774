package ports

import "context"

// Queue is a bounded FIFO handoff between a single sender and any number of
// receivers. Send blocks while the queue is full.
type Queue[T any] interface {
	Send(ctx context.Context, item T) error
	// Receive yields items until the queue is closed and drained.
	Receive() <-chan T
	// Close is called by the sender once it will send no more.
	Close()
	Len() int
	Cap() int
}
