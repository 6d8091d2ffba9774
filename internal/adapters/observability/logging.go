package observability

import (
	"log/slog"

	"github.com/ghalamif/MetricFlow/internal/ports"
)

// slogSink implements the logging half of ports.Observability.
type slogSink struct {
	logger *slog.Logger
}

func newSlogSink(logger *slog.Logger) slogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return slogSink{logger: logger}
}

func (s slogSink) LogInfo(msg string, fields ...ports.Field) {
	s.logger.Info(msg, attrs(nil, fields)...)
}

func (s slogSink) LogError(msg string, err error, fields ...ports.Field) {
	s.logger.Error(msg, attrs(err, fields)...)
}

func (s slogSink) LogCritical(msg string, err error, fields ...ports.Field) {
	s.logger.Error(msg, append(attrs(err, fields), slog.String("severity", "critical"))...)
}

func attrs(err error, fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	if err != nil {
		out = append(out, slog.String("error", err.Error()))
	}
	return out
}

// LogObs only logs; metrics calls are discarded.
type LogObs struct {
	slogSink
}

func NewLogObs(logger *slog.Logger) *LogObs {
	return &LogObs{slogSink: newSlogSink(logger)}
}

func (*LogObs) IncCounter(string, float64, ...ports.Field)     {}
func (*LogObs) ObserveLatency(string, float64, ...ports.Field) {}
func (*LogObs) SetGauge(string, float64, ...ports.Field)       {}

var _ ports.Observability = (*LogObs)(nil)
