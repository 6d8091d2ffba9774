package metricflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/MetricFlow/internal/adapters/observability"
	"github.com/ghalamif/MetricFlow/internal/domain"
)

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	src := &stubSource{}
	prod := stubProducer{}
	st := &memStore{}
	obs := stubObservability{}

	rt, err := NewRuntime(memoryConfig(),
		WithSource(src),
		WithProducer(prod),
		WithStore(st),
		WithObservability(obs),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	ctx := context.Background()

	if got, _ := rt.metricsSource(ctx); got != src {
		t.Fatalf("expected custom source to be used")
	}
	if got, _ := rt.producerFor(ctx); got != prod {
		t.Fatalf("expected custom producer to be used")
	}
	if got, _ := rt.storeFor(ctx); got != st {
		t.Fatalf("expected custom store to be used")
	}
	if rt.Observability() != obs {
		t.Fatalf("expected custom observability to be used")
	}
	if got, _ := rt.consumerFor(ctx); got == nil || rt.memory == nil {
		t.Fatalf("expected memory broker as consumer")
	}
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestRuntimeObservabilityBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Backend = "none"
	rt, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if _, ok := rt.Observability().(*observability.LogObs); !ok {
		t.Fatalf("expected log-only observability, got %T", rt.Observability())
	}

	cfg = memoryConfig()
	cfg.Metrics.Backend = "otel"
	cfg.Metrics.Exporter = observability.ExporterNone
	rt, err = NewRuntime(cfg)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if _, ok := rt.Observability().(*observability.OTelObs); !ok {
		t.Fatalf("expected otel observability, got %T", rt.Observability())
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRuntimeAgentsFromConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Agents = append(cfg.Agents, AgentConfig{
		Name: "echo", Kind: AgentDiagnostic, Topic: cfg.Topic, ConsumerGroup: "echo",
	})
	rt, err := NewRuntime(cfg, WithStore(&memStore{}), WithObservability(stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	list, err := rt.agents(context.Background())
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(list))
	}
	if list[0].Name() != "MetricsWriter" || list[0].Concurrency() != 2 {
		t.Fatalf("unexpected writer %s/%d", list[0].Name(), list[0].Concurrency())
	}
	if list[1].Name() != "echo" || list[1].Concurrency() != 3 {
		t.Fatalf("unexpected diagnostic %s/%d", list[1].Name(), list[1].Concurrency())
	}
}

func TestRowCountWithoutDatabase(t *testing.T) {
	rt, err := NewRuntime(memoryConfig(), WithObservability(stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if _, err := rt.RowCount(context.Background()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRuntimeRunMemoryPipeline(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	st := &memStore{}

	rt, err := NewRuntime(cfg, WithSource(&stubSource{}), WithStore(st))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	if !waitFor(5*time.Second, func() bool {
		n, _ := rt.RowCount(ctx)
		return n >= 3
	}) {
		t.Fatal("samples never reached the store")
	}

	addr := rt.MetricsAddr()
	if addr == "" {
		t.Fatal("metrics server not started")
	}
	if body := get(t, "http://"+addr+"/healthz"); body != "ok" {
		t.Fatalf("unexpected healthz body %q", body)
	}
	if body := get(t, "http://"+addr+"/metrics"); !strings.Contains(body, "metricflow_envelopes_published_total") {
		t.Fatalf("metrics endpoint is missing pipeline counters")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, row := range st.rows {
		if row.Name != "used-memory" || row.Value != 4096 {
			t.Fatalf("unexpected row %+v", row)
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	rt, err := NewRuntime(memoryConfig(), WithObservability(stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if _, err := rt.producerFor(context.Background()); err != nil {
		t.Fatalf("producer: %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	return string(body)
}
