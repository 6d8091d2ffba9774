package metricflow

import (
	"time"

	"github.com/ghalamif/MetricFlow/internal/agents"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// Sample is one named observation. Timestamps are milliseconds since the epoch.
type Sample = domain.Sample

// Envelope is the batch of samples collected in one tick and moved as one message.
type Envelope = domain.Envelope

// Payload is what an Agent's Validate returns.
type Payload = domain.Payload

type (
	EnvelopePayload   = domain.EnvelopePayload
	DiagnosticPayload = domain.DiagnosticPayload
)

// MetricsSource produces a snapshot of samples on each publisher tick.
type MetricsSource = ports.MetricsSource

// Producer publishes encoded envelopes to a topic.
type Producer = ports.Producer

// Consumer opens group subscriptions on a topic.
type Consumer = ports.Consumer

type (
	Subscription = ports.Subscription
	Message      = ports.Message
)

// Store persists envelopes.
type Store = ports.Store

// Agent handles the messages of one topic for one consumer group.
type Agent = ports.Agent

// AgentDescriptor carries an agent's name, topic, group and concurrency.
type AgentDescriptor = agents.Descriptor

// ByteQueue is the bounded handoff between the publisher tick and the broker.
type ByteQueue = ports.Queue[[]byte]

// Observability receives structured logs and metrics from the pipeline.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// NewSample builds a sample; a zero at is replaced by the current time.
func NewSample(name string, value float32, at time.Time) (Sample, error) {
	return domain.NewSample(name, value, at)
}

// NewAgentDescriptor validates and returns an agent identity. Zero
// concurrency selects the default of three workers.
func NewAgentDescriptor(name, topic, group string, concurrency int) (AgentDescriptor, error) {
	return agents.NewDescriptor(name, topic, group, concurrency)
}
