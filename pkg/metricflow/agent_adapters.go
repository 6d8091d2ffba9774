package metricflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/MetricFlow/internal/agents"
	"github.com/ghalamif/MetricFlow/internal/domain"
)

// ErrAgentChannelClosed is returned when a channel agent receives a message after being closed.
var ErrAgentChannelClosed = errors.New("metricflow: agent channel closed")

// EnvelopeHandler is invoked with every decoded envelope an agent receives.
type EnvelopeHandler func(ctx context.Context, env Envelope) error

// NewCallbackAgent adapts an EnvelopeHandler into a full Agent so callers can
// plug arbitrary functions without defining structs.
func NewCallbackAgent(d AgentDescriptor, fn EnvelopeHandler) Agent {
	return &callbackAgent{Descriptor: d, fn: fn}
}

// NewChannelAgent exposes decoded envelopes via a channel; it returns the
// agent, the read-only channel and a close function that the caller should
// invoke during shutdown. Workers block while the channel is full.
func NewChannelAgent(d AgentDescriptor, buffer int) (Agent, <-chan Envelope, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Envelope, buffer)
	a := &channelAgent{
		Descriptor: d,
		ch:         ch,
		closed:     make(chan struct{}),
	}
	return a, ch, a.close
}

// envelopeOf validates raw as an envelope, rejecting every other payload kind.
func envelopeOf(name string, raw []byte) (Envelope, error) {
	payload, err := agents.DecodeEnvelope(raw)
	if err != nil {
		return Envelope{}, err
	}
	p, ok := payload.(domain.EnvelopePayload)
	if !ok {
		return Envelope{}, domain.Unsupported(name, fmt.Errorf("%s payload", domain.PayloadKind(payload)))
	}
	return p.Envelope, nil
}

type callbackAgent struct {
	agents.Descriptor
	fn EnvelopeHandler
}

func (a *callbackAgent) Validate(raw []byte) (Payload, error) {
	return agents.DecodeEnvelope(raw)
}

func (a *callbackAgent) Run(ctx context.Context, raw []byte) error {
	if a.fn == nil {
		return fmt.Errorf("callback agent %q: nil handler", a.Name())
	}
	env, err := envelopeOf(a.Name(), raw)
	if err != nil {
		return err
	}
	return a.fn(ctx, env)
}

type channelAgent struct {
	agents.Descriptor
	ch     chan Envelope
	closed chan struct{}
	once   sync.Once
	// wg tracks Run calls blocked on ch so close never races a send.
	wg sync.WaitGroup
	mu sync.Mutex
}

func (a *channelAgent) Validate(raw []byte) (Payload, error) {
	return agents.DecodeEnvelope(raw)
}

func (a *channelAgent) Run(ctx context.Context, raw []byte) error {
	env, err := envelopeOf(a.Name(), raw)
	if err != nil {
		return err
	}

	a.mu.Lock()
	select {
	case <-a.closed:
		a.mu.Unlock()
		return ErrAgentChannelClosed
	default:
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	select {
	case <-a.closed:
		return ErrAgentChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case a.ch <- env:
		return nil
	}
}

func (a *channelAgent) close() {
	a.once.Do(func() {
		a.mu.Lock()
		close(a.closed)
		a.mu.Unlock()
		a.wg.Wait()
		close(a.ch)
	})
}
