// Package nats adapts NATS JetStream to the broker ports. Each topic is a
// subject backed by its own stream; each consumer group is a durable
// pull consumer with explicit acks.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

type Config struct {
	URL          string
	StreamPrefix string
	// Username and Password must be set together.
	Username   string
	Password   string
	CACertPath string
	ClientName string

	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = gonats.DefaultURL
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = "METRICFLOW"
	}
	if c.ClientName == "" {
		c.ClientName = "metricflow"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c Config) validate() error {
	if (c.Username == "") != (c.Password == "") {
		return domain.Configuration("nats credentials", errors.New("username and password must be set together"))
	}
	return nil
}

func (c Config) options() []gonats.Option {
	logger := c.Logger
	opts := []gonats.Option{
		gonats.Name(c.ClientName),
		gonats.MaxReconnects(c.MaxReconnects),
		gonats.ReconnectWait(c.ReconnectWait),
		gonats.DisconnectErrHandler(func(_ *gonats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		gonats.ReconnectHandler(func(nc *gonats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if c.Username != "" {
		opts = append(opts, gonats.UserInfo(c.Username, c.Password))
	}
	if c.CACertPath != "" {
		opts = append(opts, gonats.RootCAs(c.CACertPath))
	}
	return opts
}

// Broker implements both ports.Producer and ports.Consumer over one connection.
type Broker struct {
	cfg  Config
	conn *gonats.Conn
	js   jetstream.JetStream

	mu      sync.Mutex
	streams map[string]string
}

func Connect(ctx context.Context, cfg Config) (*Broker, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn, err := gonats.Connect(cfg.URL, cfg.options()...)
	if err != nil {
		return nil, domain.Transport("nats connect", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, domain.Transport("jetstream", err)
	}
	if _, err := js.AccountInfo(ctx); err != nil {
		conn.Close()
		return nil, domain.Transport("jetstream account", err)
	}
	return &Broker{cfg: cfg, conn: conn, js: js, streams: make(map[string]string)}, nil
}

// StreamName maps a topic to the name of its backing stream.
func StreamName(prefix, topic string) string {
	return prefix + "_" + sanitize(topic)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, strings.ToUpper(s))
}

func (b *Broker) ensureStream(ctx context.Context, topic string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name, ok := b.streams[topic]; ok {
		return name, nil
	}

	name := StreamName(b.cfg.StreamPrefix, topic)
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return "", domain.Transport("ensure stream "+name, err)
	}
	b.streams[topic] = name
	return name, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, value []byte) error {
	if _, err := b.ensureStream(ctx, topic); err != nil {
		return err
	}
	if _, err := b.js.Publish(ctx, topic, value); err != nil {
		if errors.Is(err, gonats.ErrMaxPayload) {
			return domain.Transport("nats publish", errors.Join(domain.ErrMessageTooLarge, err))
		}
		return domain.Transport("nats publish", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic, group string) (ports.Subscription, error) {
	stream, err := b.ensureStream(ctx, topic)
	if err != nil {
		return nil, err
	}
	cons, err := b.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       sanitize(group),
		FilterSubject: topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, domain.Transport("create consumer "+group, err)
	}
	iter, err := cons.Messages()
	if err != nil {
		return nil, domain.Transport("consumer messages", err)
	}

	s := &subscription{topic: topic, iter: iter, msgs: make(chan fetched), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

func (b *Broker) Close() error {
	if err := b.conn.Drain(); err != nil && !errors.Is(err, gonats.ErrConnectionClosed) {
		return err
	}
	return nil
}

type fetched struct {
	msg jetstream.Msg
	err error
}

type subscription struct {
	topic string
	iter  jetstream.MessagesContext
	msgs  chan fetched
	done  chan struct{}
	once  sync.Once
}

// pump moves messages from the blocking iterator onto msgs so Next can honour its context.
func (s *subscription) pump() {
	for {
		m, err := s.iter.Next()
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return
		}
		select {
		case s.msgs <- fetched{msg: m, err: err}:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Next(ctx context.Context) (ports.Message, error) {
	select {
	case <-ctx.Done():
		return ports.Message{}, ctx.Err()
	case <-s.done:
		return ports.Message{}, domain.Transport("nats next", jetstream.ErrMsgIteratorClosed)
	case f := <-s.msgs:
		if f.err != nil {
			return ports.Message{}, domain.Transport("nats next", f.err)
		}
		msg := ports.Message{Topic: f.msg.Subject(), Value: f.msg.Data(), Handle: f.msg}
		if md, err := f.msg.Metadata(); err == nil {
			msg.Offset = int64(md.Sequence.Stream)
		}
		return msg, nil
	}
}

func (s *subscription) Commit(_ context.Context, msg ports.Message) error {
	m, ok := msg.Handle.(jetstream.Msg)
	if !ok {
		return fmt.Errorf("nats commit: message %d has no jetstream handle", msg.Offset)
	}
	if err := m.Ack(); err != nil {
		return domain.Transport("nats ack", err)
	}
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.iter.Stop()
	})
	return nil
}

var (
	_ ports.Producer = (*Broker)(nil)
	_ ports.Consumer = (*Broker)(nil)
)
