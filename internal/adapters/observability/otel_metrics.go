package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ghalamif/MetricFlow/internal/ports"
)

type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

type OTelConfig struct {
	ServiceName  string
	Exporter     ExporterType
	OTLPEndpoint string
	OTLPInsecure bool
}

// OTelObs reports pipeline metrics through an OpenTelemetry MeterProvider.
// Instruments are created on first use.
type OTelObs struct {
	slogSink

	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	gauges   map[string]metric.Float64Gauge
	histos   map[string]metric.Float64Histogram
}

func NewOTelObs(ctx context.Context, cfg OTelConfig, logger *slog.Logger) (*OTelObs, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "metricflow"
	}

	var opts []sdkmetric.Option
	if cfg.Exporter != "" && cfg.Exporter != ExporterNone {
		exp, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("otel exporter: %w", err)
		}
		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", semconv.ServiceName(cfg.ServiceName)))
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)), sdkmetric.WithResource(res))
	}

	return NewOTelObsWithProvider(sdkmetric.NewMeterProvider(opts...), cfg.ServiceName, logger), nil
}

// NewOTelObsWithProvider wraps an existing provider, e.g. one built on a manual reader.
func NewOTelObsWithProvider(mp *sdkmetric.MeterProvider, scope string, logger *slog.Logger) *OTelObs {
	return &OTelObs{
		slogSink: newSlogSink(logger),
		provider: mp,
		meter:    mp.Meter(scope),
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
		histos:   make(map[string]metric.Float64Histogram),
	}
}

func newExporter(ctx context.Context, cfg OTelConfig) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		var opts []otlpmetricgrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlpmetrichttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.Exporter)
	}
}

func (o *OTelObs) IncCounter(name string, v float64, fields ...ports.Field) {
	o.mu.Lock()
	c, ok := o.counters[name]
	if !ok {
		var err error
		if c, err = o.meter.Float64Counter(name); err != nil {
			o.mu.Unlock()
			o.LogError("otel_instrument_failed", err, ports.F("metric", name))
			return
		}
		o.counters[name] = c
	}
	o.mu.Unlock()
	c.Add(context.Background(), v, metric.WithAttributes(labelAttrs(fields)...))
}

func (o *OTelObs) ObserveLatency(name string, seconds float64, fields ...ports.Field) {
	o.mu.Lock()
	h, ok := o.histos[name]
	if !ok {
		var err error
		if h, err = o.meter.Float64Histogram(name, metric.WithUnit("s")); err != nil {
			o.mu.Unlock()
			o.LogError("otel_instrument_failed", err, ports.F("metric", name))
			return
		}
		o.histos[name] = h
	}
	o.mu.Unlock()
	h.Record(context.Background(), seconds, metric.WithAttributes(labelAttrs(fields)...))
}

func (o *OTelObs) SetGauge(name string, v float64, fields ...ports.Field) {
	o.mu.Lock()
	g, ok := o.gauges[name]
	if !ok {
		var err error
		if g, err = o.meter.Float64Gauge(name); err != nil {
			o.mu.Unlock()
			o.LogError("otel_instrument_failed", err, ports.F("metric", name))
			return
		}
		o.gauges[name] = g
	}
	o.mu.Unlock()
	g.Record(context.Background(), v, metric.WithAttributes(labelAttrs(fields)...))
}

// Shutdown flushes pending exports.
func (o *OTelObs) Shutdown(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

// labelAttrs keeps only low-cardinality fields as metric attributes.
func labelAttrs(fields []ports.Field) []attribute.KeyValue {
	var out []attribute.KeyValue
	for _, f := range fields {
		switch f.Key {
		case ports.LabelAgent, ports.LabelKind:
			out = append(out, attribute.String(f.Key, fmt.Sprint(f.Value)))
		}
	}
	return out
}

var _ ports.Observability = (*OTelObs)(nil)
