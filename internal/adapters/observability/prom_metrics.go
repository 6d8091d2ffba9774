package observability

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/MetricFlow/internal/ports"
)

type PromObs struct {
	slogSink

	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	histos   map[string]*prometheus.HistogramVec
	labels   map[string][]string
}

// NewPromObs registers the pipeline metrics on reg, or on the default
// registerer when reg is nil.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromObs{
		slogSink: newSlogSink(logger),
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
		histos:   make(map[string]*prometheus.HistogramVec),
		labels:   make(map[string][]string),
	}

	agent := []string{ports.LabelAgent}

	p.counter(ports.MetricTicks, "Publisher ticks started.", nil)
	p.counter(ports.MetricSamplesCollected, "Samples collected from the metrics source.", nil)
	p.counter(ports.MetricCollectFailures, "Ticks whose collection returned an error.", nil)
	p.counter(ports.MetricEnvelopesPublished, "Envelopes accepted by the broker.", nil)
	p.counter(ports.MetricPublishFailures, "Envelopes dropped after a failed publish.", nil)
	p.gauge(ports.MetricPublisherQueueLen, "Encoded envelopes waiting to be published.", nil)

	p.counter(ports.MetricMessagesConsumed, "Messages handed from the broker to an agent queue.", agent)
	p.counter(ports.MetricMessagesProcessed, "Messages processed by an agent without error.", agent)
	p.counter(ports.MetricMessagesFailed, "Messages whose agent run returned an error.", []string{ports.LabelAgent, ports.LabelKind})
	p.counter(ports.MetricCommitFailures, "Offset commits that failed.", agent)
	p.counter(ports.MetricStoreRetries, "Store inserts retried after a failure.", agent)
	p.counter(ports.MetricEnvelopesDropped, "Envelopes dropped after exhausting store retries.", agent)
	p.counter(ports.MetricDiagnosticMessages, "Messages echoed by diagnostic agents.", agent)
	p.gauge(ports.MetricSubscriberQueueLen, "Payloads waiting for an agent worker.", agent)
	p.histogram(ports.MetricAgentRunSeconds, "Duration of a single agent run.", agent)

	for _, c := range p.counters {
		reg.MustRegister(c)
	}
	for _, g := range p.gauges {
		reg.MustRegister(g)
	}
	for _, h := range p.histos {
		reg.MustRegister(h)
	}
	return p
}

func (p *PromObs) counter(name, help string, labels []string) {
	p.counters[name] = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	p.labels[name] = labels
}

func (p *PromObs) gauge(name, help string, labels []string) {
	p.gauges[name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	p.labels[name] = labels
}

func (p *PromObs) histogram(name, help string, labels []string) {
	p.histos[name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, labels)
	p.labels[name] = labels
}

// labelValues picks the values for name's labels out of fields; missing labels are empty.
func (p *PromObs) labelValues(name string, fields []ports.Field) []string {
	names := p.labels[name]
	if len(names) == 0 {
		return nil
	}
	values := make([]string, len(names))
	for i, label := range names {
		for _, f := range fields {
			if f.Key == label {
				values[i] = fmt.Sprint(f.Value)
				break
			}
		}
	}
	return values
}

func (p *PromObs) IncCounter(name string, v float64, fields ...ports.Field) {
	if c, ok := p.counters[name]; ok {
		c.WithLabelValues(p.labelValues(name, fields)...).Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64, fields ...ports.Field) {
	if h, ok := p.histos[name]; ok {
		h.WithLabelValues(p.labelValues(name, fields)...).Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64, fields ...ports.Field) {
	if g, ok := p.gauges[name]; ok {
		g.WithLabelValues(p.labelValues(name, fields)...).Set(v)
	}
}

var _ ports.Observability = (*PromObs)(nil)
