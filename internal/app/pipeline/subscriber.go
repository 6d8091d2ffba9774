package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/MetricFlow/internal/adapters/queue"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// RunSubscriber consumes agent.Topic() as agent.ConsumerGroup() and fans the
// payloads out to agent.Concurrency() workers through a bounded queue.
//
// The offset of a message is committed as soon as its payload is queued,
// before any worker has run the agent. A crash between the two loses the
// message: delivery is at-most-once end to end.
//
// Per-message failures are logged and never stop the loop. RunSubscriber
// returns nil when ctx is cancelled, after the workers have drained the queue.
func RunSubscriber(ctx context.Context, agent ports.Agent, cons ports.Consumer, pol ports.Policy, obs ports.Observability) error {
	pol = pol.WithDefaults()
	fields := agentFields(agent)

	sub, err := cons.Subscribe(ctx, agent.Topic(), agent.ConsumerGroup())
	if err != nil {
		obs.LogCritical("subscribe_failed", err, fields...)
		return fmt.Errorf("subscribe %s/%s: %w", agent.Topic(), agent.ConsumerGroup(), err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			obs.LogError("subscription_close_failed", err, fields...)
		}
	}()

	q := queue.NewMemQueue[[]byte](pol.QueueCapacity)

	// workers finish buffered items after intake stops, so they never see ctx cancellation
	workCtx := context.WithoutCancel(ctx)
	var workers errgroup.Group
	for i := 0; i < agent.Concurrency(); i++ {
		workers.Go(func() error {
			for raw := range q.Receive() {
				obs.SetGauge(ports.MetricSubscriberQueueLen, float64(q.Len()), fields...)
				runAgent(workCtx, agent, raw, obs)
			}
			return nil
		})
	}

	obs.LogInfo("subscriber_started", append(fields,
		ports.F("group", agent.ConsumerGroup()),
		ports.F("concurrency", agent.Concurrency()))...)

	intake(ctx, agent, sub, q, pol, obs)

	q.Close()
	_ = workers.Wait()
	obs.LogInfo("subscriber_stopped", fields...)
	return nil
}

// RunSubscribers runs one subscriber loop per agent and returns the first
// bootstrap error, cancelling the others.
func RunSubscribers(ctx context.Context, agents []ports.Agent, cons ports.Consumer, pol ports.Policy, obs ports.Observability) error {
	if len(agents) == 0 {
		return errors.New("no agents configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error {
			return RunSubscriber(gctx, a, cons, pol, obs)
		})
	}
	return g.Wait()
}

func intake(ctx context.Context, agent ports.Agent, sub ports.Subscription, q ports.Queue[[]byte], pol ports.Policy, obs ports.Observability) {
	fields := agentFields(agent)
	for {
		msg, err := sub.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			obs.LogError("consume_failed", domain.Transport("next message", err), append(fields,
				ports.F(ports.LabelKind, domain.KindTransport.String()))...)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pol.IdleSleep):
			}
			continue
		}

		if msg.Value == nil {
			obs.LogInfo("message_without_payload", append(fields, ports.F("offset", msg.Offset))...)
		} else {
			if err := q.Send(ctx, msg.Value); err != nil {
				// cancelled while the queue was full; the message stays uncommitted
				return
			}
			obs.IncCounter(ports.MetricMessagesConsumed, 1, fields...)
		}

		if err := sub.Commit(ctx, msg); err != nil {
			obs.IncCounter(ports.MetricCommitFailures, 1, fields...)
			obs.LogError("commit_failed", err, append(fields,
				ports.F("partition", msg.Partition),
				ports.F("offset", msg.Offset))...)
		}
	}
}

func runAgent(ctx context.Context, agent ports.Agent, raw []byte, obs ports.Observability) {
	fields := agentFields(agent)
	start := time.Now()

	err := safeRun(ctx, agent, raw)
	obs.ObserveLatency(ports.MetricAgentRunSeconds, time.Since(start).Seconds(), fields...)
	if err == nil {
		obs.IncCounter(ports.MetricMessagesProcessed, 1, fields...)
		return
	}

	kind := domain.KindOf(err).String()
	fields = append(fields, ports.F(ports.LabelKind, kind), ports.F("bytes", len(raw)))
	obs.IncCounter(ports.MetricMessagesFailed, 1, fields...)
	obs.LogError("agent_run_failed", err, fields...)
}

func safeRun(ctx context.Context, agent ports.Agent, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", agent.Name(), r)
		}
	}()
	return agent.Run(ctx, raw)
}

func agentFields(agent ports.Agent) []ports.Field {
	return []ports.Field{
		ports.F(ports.LabelAgent, agent.Name()),
		ports.F(ports.FieldTopic, agent.Topic()),
	}
}
