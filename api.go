// Package metricflow re-exports pkg/metricflow so consumers can import
// github.com/ghalamif/MetricFlow directly.
package metricflow

import (
	"context"
	"log/slog"
	"time"

	base "github.com/ghalamif/MetricFlow/pkg/metricflow"
)

// Re-exported errors for convenience.
var (
	ErrAgentChannelClosed = base.ErrAgentChannelClosed
	ErrPublisherClosed    = base.ErrPublisherClosed
)

// Type aliases so consumers can import github.com/ghalamif/MetricFlow directly.
type (
	Config                  = base.Config
	Policy                  = base.Policy
	SourceConfig            = base.SourceConfig
	HostOptions             = base.HostOptions
	OPCUAConfig             = base.OPCUAConfig
	OPCUANodeConfig         = base.OPCUANodeConfig
	KafkaConfig             = base.KafkaConfig
	NATSConfig              = base.NATSConfig
	PostgresConfig          = base.PostgresConfig
	MetricsConfig           = base.MetricsConfig
	AgentConfig             = base.AgentConfig
	Flow                    = base.Flow
	FlowOption              = base.FlowOption
	StreamInOption          = base.StreamInOption
	StreamOutOption         = base.StreamOutOption
	Runtime                 = base.Runtime
	RuntimeOption           = base.RuntimeOption
	Sample                  = base.Sample
	Envelope                = base.Envelope
	Payload                 = base.Payload
	EnvelopePayload         = base.EnvelopePayload
	DiagnosticPayload       = base.DiagnosticPayload
	MetricsSource           = base.MetricsSource
	Producer                = base.Producer
	Consumer                = base.Consumer
	Subscription            = base.Subscription
	Message                 = base.Message
	Store                   = base.Store
	Agent                   = base.Agent
	AgentDescriptor         = base.AgentDescriptor
	ByteQueue               = base.ByteQueue
	Observability           = base.Observability
	Field                   = base.Field
	EnvelopeHandler         = base.EnvelopeHandler
	ExternalPublisher       = base.ExternalPublisher
	ExternalPublisherConfig = base.ExternalPublisherConfig
)

const (
	BrokerKafka       = base.BrokerKafka
	BrokerNATS        = base.BrokerNATS
	BrokerMemory      = base.BrokerMemory
	SourceHost        = base.SourceHost
	SourceOPCUA       = base.SourceOPCUA
	AgentStoreWriter  = base.AgentStoreWriter
	AgentDiagnostic   = base.AgentDiagnostic
	MetricsPrometheus = base.MetricsPrometheus
	MetricsOTel       = base.MetricsOTel
	MetricsNone       = base.MetricsNone
)

// Config helpers.
func DefaultConfig() Config {
	return base.DefaultConfig()
}

func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func LoadDotEnv(files ...string) error {
	return base.LoadDotEnv(files...)
}

// Domain helpers.
func NewSample(name string, value float32, at time.Time) (Sample, error) {
	return base.NewSample(name, value, at)
}

func NewAgentDescriptor(name, topic, group string, concurrency int) (AgentDescriptor, error) {
	return base.NewAgentDescriptor(name, topic, group, concurrency)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(src MetricsSource) StreamInOption {
	return base.StreamInSource(src)
}

func StreamInProducer(p Producer) StreamInOption {
	return base.StreamInProducer(p)
}

func StreamInQueue(q ByteQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutConsumer(c Consumer) StreamOutOption {
	return base.StreamOutConsumer(c)
}

func StreamOutStore(s Store) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutAgent(a Agent) StreamOutOption {
	return base.StreamOutAgent(a)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn EnvelopeHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSource(src MetricsSource) RuntimeOption {
	return base.WithSource(src)
}

func WithProducer(p Producer) RuntimeOption {
	return base.WithProducer(p)
}

func WithConsumer(c Consumer) RuntimeOption {
	return base.WithConsumer(c)
}

func WithStore(s Store) RuntimeOption {
	return base.WithStore(s)
}

func WithAgents(agents ...Agent) RuntimeOption {
	return base.WithAgents(agents...)
}

func WithQueue(q ByteQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}

// Agent adapters.
func NewCallbackAgent(d AgentDescriptor, fn EnvelopeHandler) Agent {
	return base.NewCallbackAgent(d, fn)
}

func NewChannelAgent(d AgentDescriptor, buffer int) (Agent, <-chan Envelope, func()) {
	return base.NewChannelAgent(d, buffer)
}

// External publisher.
func NewExternalPublisher(cfg *ExternalPublisherConfig, prod Producer) (*ExternalPublisher, error) {
	return base.NewExternalPublisher(cfg, prod)
}

// Run loads configuration from path and runs publisher and subscribers until ctx is done.
func Run(ctx context.Context, path string) error {
	flow, err := base.Conf(path)
	if err != nil {
		return err
	}
	return flow.Run(ctx)
}
