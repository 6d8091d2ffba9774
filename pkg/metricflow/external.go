package metricflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ghalamif/MetricFlow/internal/adapters/observability"
	"github.com/ghalamif/MetricFlow/internal/adapters/queue"
	"github.com/ghalamif/MetricFlow/internal/app/pipeline"
	"github.com/ghalamif/MetricFlow/internal/codec"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("metricflow: publisher closed")

// ExternalPublisherConfig configures the queue-backed publisher used by callers.
type ExternalPublisherConfig struct {
	Topic         string
	Policy        Policy
	Observability Observability
}

func (c *ExternalPublisherConfig) applyDefaults() {
	c.Policy = c.Policy.WithDefaults()
	if c.Observability == nil {
		c.Observability = observability.NewLogObs(slog.Default())
	}
}

func (c *ExternalPublisherConfig) validate() error {
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

// ExternalPublisher lets callers push their own samples through the same
// bounded queue and broker forwarding the publisher loop uses.
type ExternalPublisher struct {
	topic  string
	policy Policy
	queue  ports.Queue[[]byte]
	obs    ports.Observability

	// mu guards closed and the inflight count; it is never held across a Send.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	// stopCtx is cancelled by Close to release Sends blocked on a full queue.
	stopCtx context.Context
	stop    context.CancelFunc
	doneCh  chan struct{}
}

// NewExternalPublisher starts the forwarder that drains the queue into prod.
func NewExternalPublisher(cfg *ExternalPublisherConfig, prod Producer) (*ExternalPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if prod == nil {
		return nil, fmt.Errorf("producer is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &ExternalPublisher{
		topic:  cfg.Topic,
		policy: cfg.Policy,
		queue:  queue.NewMemQueue[[]byte](cfg.Policy.QueueCapacity),
		obs:    cfg.Observability,
		doneCh: make(chan struct{}),
	}
	p.stopCtx, p.stop = context.WithCancel(context.Background())
	go func() {
		defer close(p.doneCh)
		pipeline.Forward(context.Background(), p.queue, prod, p.topic, p.obs)
	}()
	return p, nil
}

// Publish encodes samples as one envelope and queues it. It blocks while the
// queue is full, until ctx is done or the publisher is closed.
func (p *ExternalPublisher) Publish(ctx context.Context, samples ...Sample) error {
	buf := codec.Encode(domain.Envelope{Samples: samples})
	if p.policy.MaxMessageBytes > 0 && len(buf) > p.policy.MaxMessageBytes {
		return fmt.Errorf("envelope of %d bytes: %w", len(buf), domain.ErrMessageTooLarge)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(p.stopCtx, cancel)
	defer unlink()

	if err := p.queue.Send(sendCtx, buf); err != nil {
		if ctx.Err() == nil && p.stopCtx.Err() != nil {
			return ErrPublisherClosed
		}
		return err
	}
	return nil
}

// Close stops accepting samples, fails Publish calls still waiting for queue
// space with ErrPublisherClosed and waits for queued envelopes to be
// forwarded until ctx is done.
func (p *ExternalPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	first := !p.closed
	p.closed = true
	p.mu.Unlock()

	if first {
		p.stop()
		go func() {
			// the queue may only be closed once no Send is running
			p.inflight.Wait()
			p.queue.Close()
		}()
	}

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
