package metricflow

import (
	"github.com/ghalamif/MetricFlow/internal/adapters/source/host"
	"github.com/ghalamif/MetricFlow/internal/adapters/source/opcua"
	"github.com/ghalamif/MetricFlow/internal/app/config"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy holds the loop timings and queue sizes.
	Policy = ports.Policy
	// SourceConfig selects and configures the metrics source.
	SourceConfig = config.SourceConfig
	// HostOptions toggles the optional host metrics.
	HostOptions = host.Options
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a node to a sample name.
	OPCUANodeConfig = opcua.NodeConfig
	KafkaConfig     = config.KafkaConfig
	NATSConfig      = config.NATSConfig
	PostgresConfig  = config.PostgresConfig
	// MetricsConfig configures the metrics HTTP server and backend.
	MetricsConfig = config.MetricsConfig
	AgentConfig   = config.AgentConfig
)

const (
	BrokerKafka  = config.BrokerKafka
	BrokerNATS   = config.BrokerNATS
	BrokerMemory = config.BrokerMemory

	SourceHost  = config.SourceHost
	SourceOPCUA = config.SourceOPCUA

	AgentStoreWriter = config.AgentStoreWriter
	AgentDiagnostic  = config.AgentDiagnostic

	MetricsPrometheus = config.MetricsPrometheus
	MetricsOTel       = config.MetricsOTel
	MetricsNone       = config.MetricsNone
)

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig loads YAML from disk and applies APPLICATION_* environment
// overrides. An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// LoadDotEnv loads .env files into the environment; missing files are skipped.
func LoadDotEnv(files ...string) error {
	return config.LoadDotEnv(files...)
}
