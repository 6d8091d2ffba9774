package ports

import "time"

type Policy struct {
	TickInterval    time.Duration `yaml:"tick_interval" split_words:"true"`
	QueueCapacity   int           `yaml:"queue_capacity" split_words:"true"`
	IdleSleep       time.Duration `yaml:"idle_sleep" split_words:"true"`
	StoreRetryDelay time.Duration `yaml:"store_retry_delay" split_words:"true"`
	MaxMessageBytes int           `yaml:"max_message_bytes" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

const (
	DefaultTickInterval    = time.Second
	DefaultQueueCapacity   = 100
	DefaultIdleSleep       = 500 * time.Millisecond
	DefaultMaxMessageBytes = 1 << 20
	DefaultShutdownTimeout = 5 * time.Second
)

// WithDefaults fills unset thresholds.
func (p Policy) WithDefaults() Policy {
	if p.TickInterval <= 0 {
		p.TickInterval = DefaultTickInterval
	}
	if p.QueueCapacity <= 0 {
		p.QueueCapacity = DefaultQueueCapacity
	}
	if p.IdleSleep <= 0 {
		p.IdleSleep = DefaultIdleSleep
	}
	if p.StoreRetryDelay < 0 {
		p.StoreRetryDelay = 0
	}
	if p.MaxMessageBytes == 0 {
		p.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if p.ShutdownTimeout <= 0 {
		p.ShutdownTimeout = DefaultShutdownTimeout
	}
	return p
}
