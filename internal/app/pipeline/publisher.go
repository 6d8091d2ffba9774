package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/MetricFlow/internal/codec"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// RunPublisher collects a snapshot from src on every tick, encodes it and
// hands the bytes to q. A forwarder drains q into prod. Sending on a full
// queue blocks the tick loop, so a slow broker stalls collection instead of
// growing memory. Publish failures are logged and the envelope is dropped.
//
// RunPublisher returns when ctx is cancelled, after the forwarder has
// drained what was already queued.
func RunPublisher(ctx context.Context, src ports.MetricsSource, q ports.Queue[[]byte], prod ports.Producer, topic string, pol ports.Policy, obs ports.Observability) error {
	pol = pol.WithDefaults()

	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		Forward(context.WithoutCancel(ctx), q, prod, topic, obs)
	}()

	obs.LogInfo("publisher_started",
		ports.F(ports.FieldTopic, topic),
		ports.F("source", src.Name()),
		ports.F("interval", pol.TickInterval.String()),
		ports.F("queue_capacity", q.Cap()))

	ticker := time.NewTicker(pol.TickInterval)
	defer ticker.Stop()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err = tick(ctx, src, q, pol, obs); err != nil {
				break loop
			}
		}
	}

	q.Close()
	<-forwarderDone
	obs.LogInfo("publisher_stopped", ports.F(ports.FieldTopic, topic))

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// tick runs one Collecting → Encoding → handoff cycle. It only returns an
// error when the handoff itself is impossible.
func tick(ctx context.Context, src ports.MetricsSource, q ports.Queue[[]byte], pol ports.Policy, obs ports.Observability) error {
	obs.IncCounter(ports.MetricTicks, 1)

	samples, err := src.Collect(ctx)
	if err != nil {
		obs.IncCounter(ports.MetricCollectFailures, 1)
		obs.LogError("collect_failed", err,
			ports.F("source", src.Name()),
			ports.F("samples", len(samples)))
		if len(samples) == 0 {
			return nil
		}
	}
	obs.IncCounter(ports.MetricSamplesCollected, float64(len(samples)))

	// every tick ships its own snapshot, nothing carries over
	buf := codec.Encode(domain.Envelope{Samples: samples})
	if pol.MaxMessageBytes > 0 && len(buf) > pol.MaxMessageBytes {
		obs.LogError("envelope_exceeds_message_limit", domain.ErrMessageTooLarge,
			ports.F("bytes", len(buf)),
			ports.F("limit", pol.MaxMessageBytes))
	}

	if err := q.Send(ctx, buf); err != nil {
		return err
	}
	obs.SetGauge(ports.MetricPublisherQueueLen, float64(q.Len()))
	return nil
}

// Forward publishes every buffer received from q until q is closed and
// drained. Failed buffers are logged and dropped.
func Forward(ctx context.Context, q ports.Queue[[]byte], prod ports.Producer, topic string, obs ports.Observability) {
	for buf := range q.Receive() {
		if err := prod.Publish(ctx, topic, buf); err != nil {
			obs.IncCounter(ports.MetricPublishFailures, 1)
			msg := "publish_failed"
			if errors.Is(err, domain.ErrMessageTooLarge) {
				msg = "publish_rejected_message_too_large"
			}
			obs.LogError(msg, err,
				ports.F(ports.FieldTopic, topic),
				ports.F("bytes", len(buf)))
			continue
		}
		obs.IncCounter(ports.MetricEnvelopesPublished, 1)
		obs.SetGauge(ports.MetricPublisherQueueLen, float64(q.Len()))
	}
}
