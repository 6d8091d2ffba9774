package ports

import (
	"context"

	"github.com/ghalamif/MetricFlow/internal/domain"
)

// Agent is a pluggable message handler bound to a topic and consumer group.
// One Agent value is shared by all of its workers.
type Agent interface {
	// Validate turns raw bytes into a typed payload without side effects.
	Validate(raw []byte) (domain.Payload, error)
	// Run validates and processes one message.
	Run(ctx context.Context, raw []byte) error

	Topic() string
	Name() string
	ConsumerGroup() string
	// Concurrency is the number of workers draining the agent's queue.
	Concurrency() int
}
