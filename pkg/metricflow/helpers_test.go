package metricflow

import (
	"context"
	"sync"
	"time"
)

type stubSource struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSource) Collect(context.Context) ([]Sample, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	sample, err := NewSample("used-memory", 4096, time.Now())
	if err != nil {
		return nil, err
	}
	return []Sample{sample}, nil
}

func (s *stubSource) Name() string { return "stub" }

type memStore struct {
	mu   sync.Mutex
	rows []Sample
}

func (m *memStore) Insert(_ context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, env.Samples...)
	return nil
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

type stubProducer struct{}

func (stubProducer) Publish(context.Context, string, []byte) error { return nil }
func (stubProducer) Close() error                                  { return nil }

type stubObservability struct{}

func (stubObservability) LogInfo(string, ...Field)                 {}
func (stubObservability) LogError(string, error, ...Field)         {}
func (stubObservability) LogCritical(string, error, ...Field)      {}
func (stubObservability) IncCounter(string, float64, ...Field)     {}
func (stubObservability) ObserveLatency(string, float64, ...Field) {}
func (stubObservability) SetGauge(string, float64, ...Field)       {}

func memoryConfig() *Config {
	cfg := DefaultConfig()
	cfg.Broker = BrokerMemory
	cfg.Metrics.Addr = ""
	cfg.Policy.TickInterval = 5 * time.Millisecond
	cfg.Policy.IdleSleep = time.Millisecond
	cfg.Agents = []AgentConfig{{
		Name:          "MetricsWriter",
		Kind:          AgentStoreWriter,
		Topic:         cfg.Topic,
		ConsumerGroup: "MetricsWriter",
		Concurrency:   2,
	}}
	return &cfg
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
