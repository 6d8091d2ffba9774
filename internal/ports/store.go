package ports

import (
	"context"

	"github.com/ghalamif/MetricFlow/internal/domain"
)

// Store persists envelopes. Implementations must be safe for concurrent use.
type Store interface {
	// Insert writes one row per sample. An empty envelope is a no-op.
	Insert(ctx context.Context, env domain.Envelope) error
	// Count returns the total number of persisted samples.
	Count(ctx context.Context) (int64, error)
}
