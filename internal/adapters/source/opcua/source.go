// Package opcua polls OPC UA node values as metric samples.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	MaxAge          time.Duration `yaml:"max_age"`
	Nodes           []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps a node to the sample name it is published under.
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
	Name   string `yaml:"name"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "MetricFlow Publisher"
	}
	if c.MaxAge < 0 {
		c.MaxAge = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Name == "" {
			c.Nodes[i].Name = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	if (c.Username == "") != (c.Password == "") {
		return errors.New("username and password must be set together")
	}
	return nil
}

type reader interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
}

// Source reads every configured node on each Collect call.
type Source struct {
	cfg   Config
	nodes []*ua.ReadValueID
	now   func() time.Time

	mu     sync.Mutex
	client *opcua.Client
	reader reader
}

func New(cfg Config) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, domain.Configuration("opcua config", err)
	}
	nodes := make([]*ua.ReadValueID, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		id, err := ua.ParseNodeID(n.NodeID)
		if err != nil {
			return nil, domain.Configuration("opcua config", fmt.Errorf("parse node id %q: %w", n.NodeID, err))
		}
		nodes = append(nodes, &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue})
	}
	return &Source{cfg: cfg, nodes: nodes, now: time.Now}, nil
}

func (s *Source) Name() string { return "opcua" }

// Open connects the session. The client reconnects on its own afterwards.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return fmt.Errorf("opcua source already open")
	}

	client, err := opcua.NewClient(s.cfg.Endpoint, s.clientOptions()...)
	if err != nil {
		return domain.Transport("opcua new client", err)
	}
	if err := client.Connect(ctx); err != nil {
		return domain.Transport("opcua connect", err)
	}
	s.client = client
	s.reader = client
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.reader = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Source) Collect(ctx context.Context) ([]domain.Sample, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return nil, domain.Transport("opcua read", errors.New("source is not open"))
	}

	resp, err := r.Read(ctx, &ua.ReadRequest{
		MaxAge:             float64(s.cfg.MaxAge / time.Millisecond),
		NodesToRead:        s.nodes,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, domain.Transport("opcua read", err)
	}
	return s.toSamples(resp.Results)
}

func (s *Source) toSamples(results []*ua.DataValue) ([]domain.Sample, error) {
	var (
		out  []domain.Sample
		errs []error
	)
	for i, dv := range results {
		if i >= len(s.cfg.Nodes) {
			break
		}
		node := s.cfg.Nodes[i]
		if dv == nil {
			errs = append(errs, fmt.Errorf("node %s: empty result", node.NodeID))
			continue
		}
		if dv.Status != ua.StatusOK {
			errs = append(errs, fmt.Errorf("node %s: %s", node.NodeID, dv.Status))
			continue
		}
		fv, ok := variantToFloat(dv.Value)
		if !ok {
			errs = append(errs, fmt.Errorf("node %s: unsupported value %s", node.NodeID, describe(dv.Value)))
			continue
		}

		ts := dv.ServerTimestamp
		if ts.IsZero() {
			ts = dv.SourceTimestamp
		}
		if ts.IsZero() {
			ts = s.now()
		}
		sample, err := domain.NewSample(node.Name, float32(fv), ts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, sample)
	}
	return out, errors.Join(errs...)
}

func (s *Source) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func describe(v *ua.Variant) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v.Value())
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.MetricsSource = (*Source)(nil)
