package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/MetricFlow/internal/adapters/broker/memory"
	"github.com/ghalamif/MetricFlow/internal/agents"
	"github.com/ghalamif/MetricFlow/internal/codec"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// countingAgent records concurrency; runs wait for up to barrier peers.
type countingAgent struct {
	agents.Descriptor

	barrier   int32
	active    atomic.Int32
	maxActive atomic.Int32
	runs      atomic.Int32
	release   chan struct{}
	panicOn   string
}

func (a *countingAgent) Validate(raw []byte) (domain.Payload, error) {
	return agents.DecodeEnvelope(raw)
}

func (a *countingAgent) Run(ctx context.Context, raw []byte) error {
	if a.panicOn != "" && string(raw) == a.panicOn {
		panic("bad message")
	}
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		cur := a.maxActive.Load()
		if n <= cur || a.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if a.release != nil {
		<-a.release
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for a.active.Load() < a.barrier && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	a.runs.Add(1)
	_, err := a.Validate(raw)
	return err
}

func newCountingAgent(t *testing.T, concurrency int) *countingAgent {
	t.Helper()
	d, err := agents.NewDescriptor("counter", "metrics", "counter-group", concurrency)
	require.NoError(t, err)
	return &countingAgent{Descriptor: d}
}

func encoded(name string, v float32) []byte {
	return codec.Encode(domain.Envelope{Samples: []domain.Sample{{Timestamp: 1, Name: name, Value: v}}})
}

func startSubscriber(t *testing.T, agent ports.Agent, cons ports.Consumer, obs ports.Observability) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSubscriber(ctx, agent, cons, fastPolicy(), obs) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriberDrainsNineMessagesWithThreeWorkers(t *testing.T) {
	broker := memory.NewBroker()
	for i := 0; i < 9; i++ {
		require.NoError(t, broker.Publish(context.Background(), "metrics", encoded("m", float32(i))))
	}

	agent := newCountingAgent(t, 0)
	agent.barrier = 3
	obs := &mockObs{}

	cancel, done := startSubscriber(t, agent, broker, obs)
	require.Eventually(t, func() bool { return agent.runs.Load() == 9 }, 5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, int32(3), agent.maxActive.Load(), "default concurrency is three workers")
	assert.Equal(t, 9.0, obs.counter(ports.MetricMessagesProcessed))
	assert.Equal(t, int64(9), broker.Committed("metrics", "counter-group"))
}

func TestSubscriberCommitsOnHandoff(t *testing.T) {
	broker := memory.NewBroker()
	agent := newCountingAgent(t, 1)
	agent.release = make(chan struct{})

	cancel, done := startSubscriber(t, agent, broker, &mockObs{})
	for i := 0; i < 3; i++ {
		require.NoError(t, broker.Publish(context.Background(), "metrics", encoded("m", 1)))
	}

	// offsets advance although no run has completed yet
	require.Eventually(t, func() bool { return broker.Committed("metrics", "counter-group") == 3 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, agent.runs.Load())

	close(agent.release)
	require.Eventually(t, func() bool { return agent.runs.Load() == 3 }, 5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)
}

func TestSubscriberSurvivesBadMessages(t *testing.T) {
	broker := memory.NewBroker()
	store := &memStore{}
	obs := &mockObs{}
	d, err := agents.NewDescriptor("MetricsWriter", "metrics", "MetricsWriter", 2)
	require.NoError(t, err)
	writer := agents.NewStoreWriter(d, store, obs)

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "metrics", []byte{0x1a, 0x09, 0x01}))
	require.NoError(t, broker.Publish(ctx, "metrics", nil))
	require.NoError(t, broker.Publish(ctx, "metrics", encoded("used-memory", 4096)))

	cancel, done := startSubscriber(t, writer, broker, obs)
	require.Eventually(t, func() bool {
		n, _ := store.Count(ctx)
		return n == 1
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return broker.Committed("metrics", "MetricsWriter") == 3
	}, 5*time.Second, time.Millisecond, "payload-less messages are committed too")
	cancel()
	waitDone(t, done)

	assert.Equal(t, 1, obs.kind(domain.KindMalformedPayload.String()))
	assert.Equal(t, 1.0, obs.counter(ports.MetricMessagesFailed))
}

func TestSubscriberContainsAgentPanics(t *testing.T) {
	broker := memory.NewBroker()
	agent := newCountingAgent(t, 1)
	agent.panicOn = "boom"
	obs := &mockObs{}

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "metrics", []byte("boom")))
	require.NoError(t, broker.Publish(ctx, "metrics", encoded("ok", 1)))

	cancel, done := startSubscriber(t, agent, broker, obs)
	require.Eventually(t, func() bool { return agent.runs.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)
	assert.True(t, obs.loggedError("agent_run_failed"))
}

func TestSubscriberRetriesAfterTransportError(t *testing.T) {
	sub := &flakySubscription{failures: 2, msgs: [][]byte{encoded("a", 1)}}
	agent := newCountingAgent(t, 1)
	obs := &mockObs{}

	cancel, done := startSubscriber(t, agent, &flakyConsumer{sub: sub}, obs)
	require.Eventually(t, func() bool { return agent.runs.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, 2, obs.kind(domain.KindTransport.String()))
	assert.True(t, sub.closed.Load())
}

func TestSubscriberDrainsQueueOnShutdown(t *testing.T) {
	broker := memory.NewBroker()
	agent := newCountingAgent(t, 1)
	agent.release = make(chan struct{})
	for i := 0; i < 5; i++ {
		require.NoError(t, broker.Publish(context.Background(), "metrics", encoded("m", 1)))
	}

	cancel, done := startSubscriber(t, agent, broker, &mockObs{})
	require.Eventually(t, func() bool { return broker.Committed("metrics", "counter-group") == 5 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("subscriber returned while work was still queued")
	case <-time.After(20 * time.Millisecond):
	}

	close(agent.release)
	waitDone(t, done)
	assert.Equal(t, int32(5), agent.runs.Load())
}

func TestSubscribeFailureIsReturned(t *testing.T) {
	agent := newCountingAgent(t, 1)
	err := RunSubscriber(context.Background(), agent, &flakyConsumer{err: errors.New("no route to broker")}, fastPolicy(), &mockObs{})
	require.Error(t, err)
}

func TestRunSubscribersRunsEveryAgent(t *testing.T) {
	broker := memory.NewBroker()
	require.NoError(t, broker.Publish(context.Background(), "metrics", encoded("m", 1)))

	a := newCountingAgent(t, 1)
	dd, err := agents.NewDescriptor("StdOutWriter", "metrics", "StdOutWriter", 1)
	require.NoError(t, err)
	obs := &mockObs{}
	diag := agents.NewDiagnostic(dd, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSubscribers(ctx, []ports.Agent{a, diag}, broker, fastPolicy(), obs) }()

	require.Eventually(t, func() bool {
		return a.runs.Load() == 1 && obs.counter(ports.MetricDiagnosticMessages) == 1
	}, 5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	require.Error(t, RunSubscribers(context.Background(), nil, broker, fastPolicy(), obs))
}

type flakyConsumer struct {
	sub *flakySubscription
	err error
}

func (c *flakyConsumer) Subscribe(context.Context, string, string) (ports.Subscription, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.sub, nil
}

func (c *flakyConsumer) Close() error { return nil }

type flakySubscription struct {
	mu       sync.Mutex
	failures int
	msgs     [][]byte
	offset   int64
	closed   atomic.Bool
}

func (s *flakySubscription) Next(ctx context.Context) (ports.Message, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return ports.Message{}, errors.New("broker connection reset")
	}
	if len(s.msgs) > 0 {
		v := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.offset++
		off := s.offset
		s.mu.Unlock()
		return ports.Message{Offset: off, Value: v}, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return ports.Message{}, ctx.Err()
}

func (s *flakySubscription) Commit(context.Context, ports.Message) error { return nil }

func (s *flakySubscription) Close() error {
	s.closed.Store(true)
	return nil
}
