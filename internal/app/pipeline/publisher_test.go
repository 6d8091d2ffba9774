package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/MetricFlow/internal/adapters/queue"
	"github.com/ghalamif/MetricFlow/internal/codec"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

func fastPolicy() ports.Policy {
	return ports.Policy{TickInterval: time.Millisecond, QueueCapacity: 100, IdleSleep: time.Millisecond}
}

func oneSample(n int) ([]domain.Sample, error) {
	return []domain.Sample{{Timestamp: int64(n), Name: fmt.Sprintf("tick-%d", n), Value: float32(n)}}, nil
}

func TestPublisherBackpressureWithStalledProducer(t *testing.T) {
	src := &funcSource{fn: oneSample}
	prod := &recordingProducer{gate: make(chan struct{})}
	q := queue.NewMemQueue[[]byte](100)
	obs := &mockObs{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunPublisher(ctx, src, q, prod, "metrics", fastPolicy(), obs) }()

	// one envelope held by the stalled publish, 100 queued, one collected tick blocked on send
	require.Eventually(t, func() bool {
		return q.Len() == 100 && prod.attemptCount() == 1 && src.count() == 102
	}, 5*time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 102, src.count(), "collection must stall while the queue is full")
	assert.Equal(t, 100, q.Len())

	close(prod.gate)
	require.Eventually(t, func() bool { return len(prod.publishedCopy()) > 102 }, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}

	assert.Zero(t, obs.counter(ports.MetricPublishFailures), "nothing may be dropped under backpressure")
	published := prod.publishedCopy()
	assert.GreaterOrEqual(t, len(published), src.count()-1)
	for i, buf := range published {
		env, err := codec.Decode(buf)
		require.NoError(t, err)
		require.Len(t, env.Samples, 1)
		assert.Equal(t, fmt.Sprintf("tick-%d", i+1), env.Samples[0].Name, "envelopes are published in tick order")
	}
}

func TestPublisherDropsFailedPublishAndContinues(t *testing.T) {
	src := &funcSource{fn: oneSample}
	prod := &recordingProducer{failFirst: 1}
	q := queue.NewMemQueue[[]byte](10)
	obs := &mockObs{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunPublisher(ctx, src, q, prod, "metrics", fastPolicy(), obs) }()

	require.Eventually(t, func() bool { return len(prod.publishedCopy()) >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1.0, obs.counter(ports.MetricPublishFailures))
	assert.True(t, obs.loggedError("publish_failed"))

	first, err := codec.Decode(prod.publishedCopy()[0])
	require.NoError(t, err)
	assert.Equal(t, "tick-2", first.Samples[0].Name, "the failed envelope is not retried")
}

func TestPublisherSkipsEmptyFailedCollection(t *testing.T) {
	src := &funcSource{fn: func(n int) ([]domain.Sample, error) {
		switch n {
		case 1:
			return nil, errors.New("sensor offline")
		case 2:
			return []domain.Sample{{Timestamp: 2, Name: "partial", Value: 1}}, errors.New("one disk unreadable")
		default:
			return oneSample(n)
		}
	}}
	prod := &recordingProducer{}
	obs := &mockObs{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- RunPublisher(ctx, src, queue.NewMemQueue[[]byte](10), prod, "metrics", fastPolicy(), obs)
	}()

	require.Eventually(t, func() bool { return len(prod.publishedCopy()) >= 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	first, err := codec.Decode(prod.publishedCopy()[0])
	require.NoError(t, err)
	assert.Equal(t, "partial", first.Samples[0].Name)
	assert.Equal(t, 2.0, obs.counter(ports.MetricCollectFailures))
}

func TestPublisherDetectsOversizedEnvelope(t *testing.T) {
	src := &funcSource{fn: oneSample}
	prod := &recordingProducer{}
	obs := &mockObs{}
	pol := fastPolicy()
	pol.MaxMessageBytes = 4

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunPublisher(ctx, src, queue.NewMemQueue[[]byte](10), prod, "metrics", pol, obs) }()

	require.Eventually(t, func() bool { return obs.loggedError("envelope_exceeds_message_limit") }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPublisherDrainsQueueOnShutdown(t *testing.T) {
	src := &funcSource{fn: oneSample}
	prod := &recordingProducer{gate: make(chan struct{})}
	q := queue.NewMemQueue[[]byte](5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunPublisher(ctx, src, q, prod, "metrics", fastPolicy(), &mockObs{}) }()

	require.Eventually(t, func() bool {
		return q.Len() == 5 && prod.attemptCount() == 1 && src.count() == 7
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("publisher returned before draining its queue")
	case <-time.After(20 * time.Millisecond):
	}

	close(prod.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
	assert.Equal(t, 6, len(prod.publishedCopy()), "in-flight envelope plus the five queued ones")
}
