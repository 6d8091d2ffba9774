package metricflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/MetricFlow/internal/adapters/broker/kafka"
	"github.com/ghalamif/MetricFlow/internal/adapters/broker/memory"
	"github.com/ghalamif/MetricFlow/internal/adapters/broker/nats"
	"github.com/ghalamif/MetricFlow/internal/adapters/observability"
	"github.com/ghalamif/MetricFlow/internal/adapters/queue"
	"github.com/ghalamif/MetricFlow/internal/adapters/source/host"
	"github.com/ghalamif/MetricFlow/internal/adapters/source/opcua"
	"github.com/ghalamif/MetricFlow/internal/adapters/store"
	"github.com/ghalamif/MetricFlow/internal/agents"
	"github.com/ghalamif/MetricFlow/internal/app/config"
	"github.com/ghalamif/MetricFlow/internal/app/pipeline"
	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source   MetricsSource
	producer Producer
	consumer Consumer
	store    Store
	agents   []Agent
	queue    ByteQueue
	obs      Observability
	logger   *slog.Logger
}

// WithSource injects a custom metrics source (simulators, exporters, other protocols).
func WithSource(src MetricsSource) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.source = src
	}
}

// WithProducer replaces the configured broker on the publishing side.
func WithProducer(p Producer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.producer = p
	}
}

// WithConsumer replaces the configured broker on the subscribing side.
func WithConsumer(c Consumer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.consumer = c
	}
}

// WithStore injects the store used by store-writer agents built from config.
func WithStore(s Store) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithAgents replaces the agents listed in the configuration.
func WithAgents(agents ...Agent) RuntimeOption {
	return func(o *runtimeOverrides) {
		for _, a := range agents {
			if a != nil {
				o.agents = append(o.agents, a)
			}
		}
	}
}

// WithQueue swaps the publisher's bounded queue.
func WithQueue(q ByteQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.obs = obs
	}
}

// WithLogger sets the logger used by the built-in observability backends and broker clients.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Runtime wires the configured source, broker, store and agents into the
// publisher and subscriber loops. Adapters are built on first use, so a
// publisher-only process never opens the store.
type Runtime struct {
	cfg      *Config
	policy   ports.Policy
	logger   *slog.Logger
	obs      ports.Observability
	registry *prometheus.Registry
	o        runtimeOverrides

	mu       sync.Mutex
	source   ports.MetricsSource
	producer ports.Producer
	consumer ports.Consumer
	store    ports.Store
	memory   *memory.Broker
	nats     *nats.Broker
	closers  []closer

	metricsOnce sync.Once
	metricsErr  error
	metricsSrv  *http.Server
	metricsAddr string
}

// NewRuntime prepares a runtime for cfg. Options override any adapter the
// configuration would otherwise build.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := overrides.logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		cfg:    cfg,
		policy: cfg.Policy.WithDefaults(),
		logger: logger,
		o:      overrides,
	}

	if overrides.obs != nil {
		r.obs = overrides.obs
	} else if err := r.buildObservability(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) buildObservability() error {
	switch r.cfg.Metrics.Backend {
	case config.MetricsOTel:
		o, err := observability.NewOTelObs(context.Background(), r.cfg.Metrics.OTel(), r.logger)
		if err != nil {
			return err
		}
		r.obs = o
		r.addCloser("otel", o.Shutdown)
	case config.MetricsNone:
		r.obs = observability.NewLogObs(r.logger)
	default:
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		r.registry = reg
		r.obs = observability.NewPromObs(reg, r.logger)
	}
	return nil
}

// Observability returns the backend the loops report to.
func (r *Runtime) Observability() Observability { return r.obs }

// RunPublisher runs the collect → encode → publish loop until ctx is
// cancelled, then shuts the runtime down.
func (r *Runtime) RunPublisher(ctx context.Context) error {
	return errors.Join(r.runPublisher(ctx), r.shutdownAfterRun())
}

// RunSubscriber runs every configured agent until ctx is cancelled, then
// shuts the runtime down.
func (r *Runtime) RunSubscriber(ctx context.Context) error {
	return errors.Join(r.runSubscriber(ctx), r.shutdownAfterRun())
}

// Run runs publisher and subscribers in one process. With the memory broker
// this is a complete pipeline without external services besides the store.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runPublisher(gctx) })
	g.Go(func() error { return r.runSubscriber(gctx) })
	return errors.Join(g.Wait(), r.shutdownAfterRun())
}

// RowCount reports how many samples the store holds.
func (r *Runtime) RowCount(ctx context.Context) (int64, error) {
	st, err := r.storeFor(ctx)
	if err != nil {
		return 0, err
	}
	return st.Count(ctx)
}

func (r *Runtime) runPublisher(ctx context.Context) error {
	if err := r.startMetrics(); err != nil {
		return err
	}
	src, err := r.metricsSource(ctx)
	if err != nil {
		return err
	}
	prod, err := r.producerFor(ctx)
	if err != nil {
		return err
	}
	q := r.o.queue
	if q == nil {
		q = queue.NewMemQueue[[]byte](r.policy.QueueCapacity)
	}
	return pipeline.RunPublisher(ctx, src, q, prod, r.cfg.Topic, r.policy, r.obs)
}

func (r *Runtime) runSubscriber(ctx context.Context) error {
	if err := r.startMetrics(); err != nil {
		return err
	}
	cons, err := r.consumerFor(ctx)
	if err != nil {
		return err
	}
	list, err := r.agents(ctx)
	if err != nil {
		return err
	}
	return pipeline.RunSubscribers(ctx, list, cons, r.policy, r.obs)
}

func (r *Runtime) agents(ctx context.Context) ([]ports.Agent, error) {
	if len(r.o.agents) > 0 {
		return r.o.agents, nil
	}
	out := make([]ports.Agent, 0, len(r.cfg.Agents))
	for _, ac := range r.cfg.Agents {
		d, err := agents.NewDescriptor(ac.Name, ac.Topic, ac.ConsumerGroup, ac.Concurrency)
		if err != nil {
			return nil, domain.Configuration("agents", err)
		}
		switch ac.Kind {
		case config.AgentDiagnostic:
			out = append(out, agents.NewDiagnostic(d, r.obs))
		default:
			st, err := r.storeFor(ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, agents.NewStoreWriter(d, st, r.obs, agents.WithRetryDelay(r.policy.StoreRetryDelay)))
		}
	}
	return out, nil
}

func (r *Runtime) metricsSource(ctx context.Context) (ports.MetricsSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source != nil {
		return r.source, nil
	}
	if r.o.source != nil {
		r.source = r.o.source
		return r.source, nil
	}

	switch r.cfg.Source.Kind {
	case config.SourceOPCUA:
		src, err := opcua.New(r.cfg.Source.OPCUA)
		if err != nil {
			return nil, err
		}
		if err := src.Open(ctx); err != nil {
			return nil, err
		}
		r.closers = append(r.closers, closer{"opcua", func(context.Context) error { return src.Close() }})
		r.source = src
	default:
		r.source = host.New(r.cfg.Source.Host)
	}
	return r.source, nil
}

func (r *Runtime) producerFor(ctx context.Context) (ports.Producer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producer != nil {
		return r.producer, nil
	}
	if r.o.producer != nil {
		r.producer = r.o.producer
		return r.producer, nil
	}

	switch r.cfg.Broker {
	case config.BrokerMemory:
		r.producer = r.memoryBrokerLocked()
	case config.BrokerNATS:
		b, err := r.natsBrokerLocked(ctx)
		if err != nil {
			return nil, err
		}
		r.producer = b
	default:
		p, err := kafka.NewProducer(r.cfg.Kafka.Adapter(r.logger))
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, closer{"kafka producer", func(context.Context) error { return p.Close() }})
		r.producer = p
	}
	return r.producer, nil
}

func (r *Runtime) consumerFor(ctx context.Context) (ports.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumer != nil {
		return r.consumer, nil
	}
	if r.o.consumer != nil {
		r.consumer = r.o.consumer
		return r.consumer, nil
	}

	switch r.cfg.Broker {
	case config.BrokerMemory:
		r.consumer = r.memoryBrokerLocked()
	case config.BrokerNATS:
		b, err := r.natsBrokerLocked(ctx)
		if err != nil {
			return nil, err
		}
		r.consumer = b
	default:
		c, err := kafka.NewConsumer(r.cfg.Kafka.Adapter(r.logger))
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, closer{"kafka consumer", func(context.Context) error { return c.Close() }})
		r.consumer = c
	}
	return r.consumer, nil
}

// memoryBrokerLocked returns the broker shared by both sides; callers hold r.mu.
func (r *Runtime) memoryBrokerLocked() *memory.Broker {
	if r.memory == nil {
		b := memory.NewBroker()
		r.closers = append(r.closers, closer{"memory broker", func(context.Context) error { return b.Close() }})
		r.memory = b
	}
	return r.memory
}

func (r *Runtime) natsBrokerLocked(ctx context.Context) (*nats.Broker, error) {
	if r.nats == nil {
		b, err := nats.Connect(ctx, r.cfg.NATS.Adapter(r.logger))
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, closer{"nats", func(context.Context) error { return b.Close() }})
		r.nats = b
	}
	return r.nats, nil
}

func (r *Runtime) storeFor(ctx context.Context) (ports.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}
	if r.o.store != nil {
		r.store = r.o.store
		return r.store, nil
	}

	if err := r.cfg.RequirePostgres(); err != nil {
		return nil, err
	}
	db, err := store.Open(r.cfg.Postgres.Adapter())
	if err != nil {
		return nil, err
	}
	ps := store.NewPostgresStore(db, r.cfg.Postgres.Table)
	if r.cfg.Postgres.AutoMigrate {
		if err := ps.EnsureSchema(ctx, r.cfg.Postgres.Timescale); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	r.closers = append(r.closers, closer{"postgres", func(context.Context) error { return db.Close() }})
	r.store = ps
	return r.store, nil
}

func (r *Runtime) addCloser(name string, fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, closer{name, fn})
}

// MetricsAddr returns the address the metrics server listens on, or "" when
// it has not been started.
func (r *Runtime) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metricsAddr
}

func (r *Runtime) startMetrics() error {
	r.metricsOnce.Do(func() { r.metricsErr = r.serveMetrics() })
	return r.metricsErr
}

func (r *Runtime) serveMetrics() error {
	if r.cfg.Metrics.Addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	if r.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return domain.Configuration("metrics listen", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	r.mu.Lock()
	r.metricsSrv = srv
	r.metricsAddr = ln.Addr().String()
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
	r.obs.LogInfo("metrics_server_started", ports.F("addr", ln.Addr().String()))
	return nil
}

func (r *Runtime) shutdownAfterRun() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.policy.ShutdownTimeout)
	defer cancel()
	return r.Shutdown(ctx)
}

// Shutdown stops the metrics server and closes every adapter the runtime
// opened, newest first. It is safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv := r.metricsSrv
	r.metricsSrv = nil
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
		}
	}
	return errors.Join(errs...)
}
