package metricflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/MetricFlow/internal/codec"
	"github.com/ghalamif/MetricFlow/internal/domain"
)

func testDescriptor(t *testing.T) AgentDescriptor {
	t.Helper()
	d, err := NewAgentDescriptor("embedded", "metrics", "embedded", 1)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return d
}

func encodedSample(t *testing.T) []byte {
	t.Helper()
	s, err := NewSample("used-memory", 4096, time.UnixMilli(1000))
	if err != nil {
		t.Fatal(err)
	}
	return codec.Encode(Envelope{Samples: []Sample{s}})
}

func TestNewCallbackAgent(t *testing.T) {
	var received []Envelope
	agent := NewCallbackAgent(testDescriptor(t), func(_ context.Context, env Envelope) error {
		received = append(received, env)
		return nil
	})

	if err := agent.Run(context.Background(), encodedSample(t)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(received))
	}
	got := received[0].Samples[0]
	if got.Name != "used-memory" || got.Value != 4096 || got.Timestamp != 1000 {
		t.Fatalf("mismatched sample payload: %+v", got)
	}
	if agent.Name() != "embedded" || agent.Topic() != "metrics" {
		t.Fatalf("descriptor not carried: %s %s", agent.Name(), agent.Topic())
	}
}

func TestNewCallbackAgentNilHandler(t *testing.T) {
	agent := NewCallbackAgent(testDescriptor(t), nil)
	if err := agent.Run(context.Background(), encodedSample(t)); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestCallbackAgentRejectsMalformed(t *testing.T) {
	called := false
	agent := NewCallbackAgent(testDescriptor(t), func(context.Context, Envelope) error {
		called = true
		return nil
	})
	err := agent.Run(context.Background(), []byte{0x1a, 0x05, 0x01})
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
	if called {
		t.Fatal("callback must not run for malformed input")
	}
}

func TestNewChannelAgent(t *testing.T) {
	agent, ch, closeFn := NewChannelAgent(testDescriptor(t), 1)
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- agent.Run(context.Background(), encodedSample(t))
	}()

	var env Envelope
	select {
	case env = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel envelope")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if env.Len() != 1 || env.Samples[0].Name != "used-memory" {
		t.Fatalf("unexpected envelope data: %+v", env)
	}

	closeFn()
	if err := agent.Run(context.Background(), encodedSample(t)); !errors.Is(err, ErrAgentChannelClosed) {
		t.Fatalf("expected ErrAgentChannelClosed, got %v", err)
	}
	if _, open := <-ch; open {
		t.Fatal("expected channel to be closed")
	}
}

func TestChannelAgentHonoursContext(t *testing.T) {
	agent, _, closeFn := NewChannelAgent(testDescriptor(t), 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := agent.Run(ctx, encodedSample(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
