package ports

import "context"

// Message is one record read from a broker subscription.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	// Handle is adapter-specific state needed to commit the message.
	Handle any
}

type Producer interface {
	Publish(ctx context.Context, topic string, value []byte) error
	Close() error
}

type Consumer interface {
	// Subscribe joins group on topic. Members of the same group share the
	// topic's messages and resume from the group's committed position.
	Subscribe(ctx context.Context, topic, group string) (Subscription, error)
	Close() error
}

type Subscription interface {
	// Next blocks until a message is available or ctx is done.
	Next(ctx context.Context) (Message, error)
	// Commit marks msg as consumed for the group. It may complete asynchronously.
	Commit(ctx context.Context, msg Message) error
	Close() error
}
