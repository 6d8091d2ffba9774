package metricflow

import (
	"context"
	"fmt"
)

// Flow builds a Runtime in three steps: Conf, StreamIN, StreamOUT.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
	// err is the first option error, reported by StreamOUT.
	err error
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the collecting and publishing side.
type StreamInOption func(*Flow)

// StreamOutOption configures the subscribing and persisting side.
type StreamOutOption func(*Flow)

// Conf loads configuration, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the loaded configuration. Changes made before StreamOUT take effect.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends RuntimeOption values directly.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// StreamIN records publishing-side overrides (source, producer, queue, observability).
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records subscribing-side overrides and builds a Runtime ready to run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for StreamOUT + Runtime.Run: publisher and subscribers
// in one process.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// Publish runs only the collecting side, like the metrics-publisher command.
func (f *Flow) Publish(ctx context.Context) error {
	rt, err := f.StreamOUT()
	if err != nil {
		return err
	}
	return rt.RunPublisher(ctx)
}

// Subscribe runs only the agents, like the metrics-subscriber command.
func (f *Flow) Subscribe(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.RunSubscriber(ctx)
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// StreamInSource injects a custom metrics source.
func StreamInSource(src MetricsSource) StreamInOption {
	return func(f *Flow) { f.addIf(src != nil, WithSource(src)) }
}

// StreamInProducer publishes through a caller-provided broker client.
func StreamInProducer(p Producer) StreamInOption {
	return func(f *Flow) { f.addIf(p != nil, WithProducer(p)) }
}

// StreamInQueue swaps the publisher's queue.
func StreamInQueue(q ByteQueue) StreamInOption {
	return func(f *Flow) { f.addIf(q != nil, WithQueue(q)) }
}

func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) { f.addIf(obs != nil, WithObservability(obs)) }
}

// StreamOutConsumer subscribes through a caller-provided broker client.
func StreamOutConsumer(c Consumer) StreamOutOption {
	return func(f *Flow) { f.addIf(c != nil, WithConsumer(c)) }
}

// StreamOutStore injects the store used by configured store-writer agents.
func StreamOutStore(s Store) StreamOutOption {
	return func(f *Flow) { f.addIf(s != nil, WithStore(s)) }
}

// StreamOutAgent adds an agent. Agents added this way replace the configured ones.
func StreamOutAgent(a Agent) StreamOutOption {
	return func(f *Flow) { f.addIf(a != nil, WithAgents(a)) }
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) { f.addIf(obs != nil, WithObservability(obs)) }
}

// StreamOutCallback installs an agent built from a simple callback on the
// configured topic, consuming as group name.
func StreamOutCallback(name string, fn EnvelopeHandler) StreamOutOption {
	return func(f *Flow) {
		if f == nil {
			return
		}
		d, err := NewAgentDescriptor(name, f.cfg.Topic, name, 0)
		if err != nil {
			if f.err == nil {
				f.err = fmt.Errorf("callback agent: %w", err)
			}
			return
		}
		f.appendOptions(WithAgents(NewCallbackAgent(d, fn)))
	}
}

func (f *Flow) addIf(ok bool, opt RuntimeOption) {
	if f != nil && ok {
		f.opts = append(f.opts, opt)
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
