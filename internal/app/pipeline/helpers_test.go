package pipeline

import (
	"context"
	"sync"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

type mockObs struct {
	mu       sync.Mutex
	errors   []string
	infos    []string
	counters map[string]float64
	kinds    map[string]int
}

func (m *mockObs) LogInfo(msg string, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockObs) LogError(msg string, _ error, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
	for _, f := range fields {
		if f.Key == ports.LabelKind {
			if m.kinds == nil {
				m.kinds = make(map[string]int)
			}
			m.kinds[f.Value.(string)]++
		}
	}
}

func (m *mockObs) LogCritical(msg string, err error, fields ...ports.Field) {
	m.LogError(msg, err, fields...)
}

func (m *mockObs) IncCounter(name string, v float64, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += v
}

func (m *mockObs) ObserveLatency(string, float64, ...ports.Field) {}
func (m *mockObs) SetGauge(string, float64, ...ports.Field)       {}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockObs) kind(k string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kinds[k]
}

func (m *mockObs) loggedError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.errors {
		if e == msg {
			return true
		}
	}
	return false
}

// funcSource returns whatever fn returns for the n-th collection (1-based).
type funcSource struct {
	mu    sync.Mutex
	calls int
	fn    func(n int) ([]domain.Sample, error)
}

func (s *funcSource) Collect(context.Context) ([]domain.Sample, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return s.fn(n)
}

func (s *funcSource) Name() string { return "func" }

func (s *funcSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingProducer stores published buffers. When gate is non-nil every
// Publish waits on it first; failFirst makes the first N calls fail.
type recordingProducer struct {
	mu        sync.Mutex
	gate      chan struct{}
	failFirst int
	attempts  int
	published [][]byte
}

func (p *recordingProducer) Publish(_ context.Context, _ string, value []byte) error {
	p.mu.Lock()
	p.attempts++
	gate := p.gate
	fail := p.attempts <= p.failFirst
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return domain.Transport("publish", context.DeadlineExceeded)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, value)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *recordingProducer) publishedCopy() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.published...)
}

type memStore struct {
	mu   sync.Mutex
	rows []domain.Sample
}

func (s *memStore) Insert(_ context.Context, env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, env.Samples...)
	return nil
}

func (s *memStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}
