package ports

import (
	"context"

	"github.com/ghalamif/MetricFlow/internal/domain"
)

// MetricsSource produces a fresh snapshot of samples on every call.
// Implementations may return partial results together with an error.
type MetricsSource interface {
	Collect(ctx context.Context) ([]domain.Sample, error)
	Name() string
}
