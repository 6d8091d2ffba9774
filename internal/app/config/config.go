package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/MetricFlow/internal/adapters/broker/kafka"
	"github.com/ghalamif/MetricFlow/internal/adapters/broker/nats"
	"github.com/ghalamif/MetricFlow/internal/adapters/observability"
	"github.com/ghalamif/MetricFlow/internal/adapters/source/host"
	"github.com/ghalamif/MetricFlow/internal/adapters/source/opcua"
	"github.com/ghalamif/MetricFlow/internal/adapters/store"
	"github.com/ghalamif/MetricFlow/internal/agents"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// EnvPrefix prefixes every environment override, e.g. APPLICATION_KAFKA_BROKERS.
const EnvPrefix = "APPLICATION"

// ConfigPathEnv names the variable the CLI reads the config file path from.
const ConfigPathEnv = EnvPrefix + "_CONFIG_PATH"

// KafkaTopicEnv sets the topic under its historical name. It wins over
// APPLICATION_TOPIC when both are set.
const KafkaTopicEnv = EnvPrefix + "_KAFKA_TOPIC"

type BrokerKind string

const (
	BrokerKafka  BrokerKind = "kafka"
	BrokerNATS   BrokerKind = "nats"
	BrokerMemory BrokerKind = "memory"
)

type SourceKind string

const (
	SourceHost  SourceKind = "host"
	SourceOPCUA SourceKind = "opcua"
)

type AgentKind string

const (
	AgentStoreWriter AgentKind = "store_writer"
	AgentDiagnostic  AgentKind = "diagnostic"
)

const (
	MetricsPrometheus = "prometheus"
	MetricsOTel       = "otel"
	MetricsNone       = "none"
)

const DefaultAgentName = "MetricsWriter"

type Config struct {
	Debug    bool           `yaml:"debug" split_words:"true"`
	LogLevel string         `yaml:"log_level" split_words:"true"`
	Broker   BrokerKind     `yaml:"broker" split_words:"true"`
	Topic    string         `yaml:"topic" split_words:"true"`
	Policy   ports.Policy   `yaml:"policy" split_words:"true"`
	Source   SourceConfig   `yaml:"source" split_words:"true"`
	Kafka    KafkaConfig    `yaml:"kafka" split_words:"true"`
	NATS     NATSConfig     `yaml:"nats" split_words:"true"`
	Postgres PostgresConfig `yaml:"postgres" split_words:"true"`
	Metrics  MetricsConfig  `yaml:"metrics" split_words:"true"`
	Agents   []AgentConfig  `yaml:"agents" ignored:"true"`
}

type SourceConfig struct {
	Kind  SourceKind   `yaml:"kind" split_words:"true"`
	Host  host.Options `yaml:"host" split_words:"true"`
	OPCUA opcua.Config `yaml:"opcua" ignored:"true"`
}

type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers" split_words:"true"`
	Username       string        `yaml:"username" split_words:"true"`
	Password       string        `yaml:"password" split_words:"true"`
	CACertPath     string        `yaml:"ca_cert_path" split_words:"true"`
	ClientID       string        `yaml:"client_id" split_words:"true"`
	WriteTimeout   time.Duration `yaml:"write_timeout" split_words:"true"`
	SessionTimeout time.Duration `yaml:"session_timeout" split_words:"true"`
	CommitInterval time.Duration `yaml:"commit_interval" split_words:"true"`
}

func (k KafkaConfig) Adapter(logger *slog.Logger) kafka.Config {
	return kafka.Config{
		Brokers:        k.Brokers,
		Username:       k.Username,
		Password:       k.Password,
		CACertPath:     k.CACertPath,
		ClientID:       k.ClientID,
		WriteTimeout:   k.WriteTimeout,
		SessionTimeout: k.SessionTimeout,
		CommitInterval: k.CommitInterval,
		Logger:         logger,
	}
}

type NATSConfig struct {
	URL          string `yaml:"url" split_words:"true"`
	StreamPrefix string `yaml:"stream_prefix" split_words:"true"`
	Username     string `yaml:"username" split_words:"true"`
	Password     string `yaml:"password" split_words:"true"`
	CACertPath   string `yaml:"ca_cert_path" split_words:"true"`
	ClientName   string `yaml:"client_name" split_words:"true"`
}

func (n NATSConfig) Adapter(logger *slog.Logger) nats.Config {
	return nats.Config{
		URL:          n.URL,
		StreamPrefix: n.StreamPrefix,
		Username:     n.Username,
		Password:     n.Password,
		CACertPath:   n.CACertPath,
		ClientName:   n.ClientName,
		Logger:       logger,
	}
}

type PostgresConfig struct {
	DatabaseURL string `yaml:"database_url" split_words:"true"`
	CertPath    string `yaml:"cert_path" split_words:"true"`
	Table       string `yaml:"table" split_words:"true"`
	Timescale   bool   `yaml:"timescale" split_words:"true"`
	AutoMigrate bool   `yaml:"auto_migrate" split_words:"true"`
}

func (p PostgresConfig) Adapter() store.Config {
	return store.Config{DatabaseURL: p.DatabaseURL, CertPath: p.CertPath}
}

type MetricsConfig struct {
	Addr         string                     `yaml:"addr" split_words:"true"`
	Backend      string                     `yaml:"backend" split_words:"true"`
	ServiceName  string                     `yaml:"service_name" split_words:"true"`
	Exporter     observability.ExporterType `yaml:"exporter" split_words:"true"`
	OTLPEndpoint string                     `yaml:"otlp_endpoint" split_words:"true"`
	OTLPInsecure bool                       `yaml:"otlp_insecure" split_words:"true"`
}

func (m MetricsConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		ServiceName:  m.ServiceName,
		Exporter:     m.Exporter,
		OTLPEndpoint: m.OTLPEndpoint,
		OTLPInsecure: m.OTLPInsecure,
	}
}

type AgentConfig struct {
	Name          string    `yaml:"name"`
	Kind          AgentKind `yaml:"kind"`
	Topic         string    `yaml:"topic"`
	ConsumerGroup string    `yaml:"consumer_group"`
	Concurrency   int       `yaml:"concurrency"`
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() Config {
	return Config{
		LogLevel: "info",
		Broker:   BrokerKafka,
		Topic:    "metrics",
		Policy:   ports.Policy{}.WithDefaults(),
		Source: SourceConfig{
			Kind: SourceHost,
			Host: host.DefaultOptions(),
		},
		Postgres: PostgresConfig{Table: store.DefaultTable},
		Metrics: MetricsConfig{
			Addr:        ":9100",
			Backend:     MetricsPrometheus,
			ServiceName: "metricflow",
			Exporter:    observability.ExporterNone,
		},
	}
}

// Load reads the YAML file at path, applies APPLICATION_* environment
// overrides, fills defaults and validates. An empty path configures from the
// environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.Configuration("read config", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, domain.Configuration("parse config", err)
		}
	}
	// only prefixed names are read: no field carries an envconfig tag, so
	// there is no bare fallback such as USERNAME or URL
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, domain.Configuration("environment overrides", err)
	}
	if topic := os.Getenv(KafkaTopicEnv); topic != "" {
		cfg.Topic = topic
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files without overriding
// ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return domain.Configuration("load "+f, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Policy = c.Policy.WithDefaults()
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Broker == "" {
		c.Broker = BrokerKafka
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceHost
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = store.DefaultTable
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = MetricsPrometheus
	}
	if c.Metrics.Exporter == "" {
		c.Metrics.Exporter = observability.ExporterNone
	}
	if c.Source.Kind == SourceOPCUA {
		c.Source.OPCUA.ApplyDefaults()
	}

	if len(c.Agents) == 0 {
		c.Agents = []AgentConfig{{Name: DefaultAgentName, Kind: AgentStoreWriter}}
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Kind == "" {
			a.Kind = AgentStoreWriter
		}
		if a.Topic == "" {
			a.Topic = c.Topic
		}
		if a.ConsumerGroup == "" {
			a.ConsumerGroup = a.Name
		}
		if a.Concurrency == 0 {
			a.Concurrency = agents.DefaultConcurrency
		}
	}
}

func (c *Config) validate() error {
	invalid := func(op, format string, args ...any) error {
		return domain.Configuration(op, fmt.Errorf(format, args...))
	}

	if c.Topic == "" {
		return invalid("topic", "topic is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", "%v", err)
	}

	switch c.Broker {
	case BrokerKafka:
		if len(c.Kafka.Brokers) == 0 {
			return invalid("kafka", "kafka.brokers is required")
		}
		if _, err := c.Kafka.Adapter(nil).Secure(); err != nil {
			return err
		}
		if err := fileExists("kafka.ca_cert_path", c.Kafka.CACertPath); err != nil {
			return err
		}
	case BrokerNATS:
		if (c.NATS.Username == "") != (c.NATS.Password == "") {
			return invalid("nats", "nats.username and nats.password must be set together")
		}
		if err := fileExists("nats.ca_cert_path", c.NATS.CACertPath); err != nil {
			return err
		}
	case BrokerMemory:
	default:
		return invalid("broker", "unknown broker %q", c.Broker)
	}

	switch c.Source.Kind {
	case SourceHost:
	case SourceOPCUA:
		if err := c.Source.OPCUA.Validate(); err != nil {
			return domain.Configuration("source.opcua", err)
		}
	default:
		return invalid("source", "unknown source kind %q", c.Source.Kind)
	}

	if !store.ValidTable(c.Postgres.Table) {
		return invalid("postgres", "invalid table name %q", c.Postgres.Table)
	}
	if err := fileExists("postgres.cert_path", c.Postgres.CertPath); err != nil {
		return err
	}

	switch c.Metrics.Backend {
	case MetricsPrometheus, MetricsNone:
	case MetricsOTel:
		switch c.Metrics.Exporter {
		case observability.ExporterNone, observability.ExporterStdout,
			observability.ExporterOTLPGRPC, observability.ExporterOTLPHTTP:
		default:
			return invalid("metrics", "unknown otel exporter %q", c.Metrics.Exporter)
		}
	default:
		return invalid("metrics", "unknown metrics backend %q", c.Metrics.Backend)
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return invalid("agents", "agent name is required")
		}
		if seen[a.Name] {
			return invalid("agents", "duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if a.Kind != AgentStoreWriter && a.Kind != AgentDiagnostic {
			return invalid("agents", "agent %q has unknown kind %q", a.Name, a.Kind)
		}
		if a.Concurrency < 0 {
			return invalid("agents", "agent %q concurrency must be positive", a.Name)
		}
	}
	return nil
}

// RequirePostgres checks the settings the store-backed commands need.
func (c *Config) RequirePostgres() error {
	if c.Postgres.DatabaseURL == "" {
		return domain.Configuration("postgres", errors.New("postgres.database_url is required"))
	}
	return nil
}

// SlogLevel returns the configured log level; Debug forces debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

func fileExists(field, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return domain.Configuration(field, err)
	}
	return nil
}
