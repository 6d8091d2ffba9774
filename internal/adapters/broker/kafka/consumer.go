package kafka

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// Consumer opens one consumer-group Reader per subscription.
type Consumer struct {
	cfg Config
}

func NewConsumer(cfg Config) (*Consumer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.security(); err != nil {
		return nil, err
	}
	return &Consumer{cfg: cfg}, nil
}

func (c *Consumer) readerConfig(topic, group string) (kafkago.ReaderConfig, error) {
	d, err := c.cfg.dialer()
	if err != nil {
		return kafkago.ReaderConfig{}, err
	}
	info, errs := loggers(c.cfg.Logger)
	return kafkago.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		GroupID:        group,
		Topic:          topic,
		Dialer:         d,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		SessionTimeout: c.cfg.SessionTimeout,
		// a non-zero interval makes CommitMessages asynchronous
		CommitInterval: c.cfg.CommitInterval,
		StartOffset:    kafkago.FirstOffset,
		Logger:         info,
		ErrorLogger:    errs,
	}, nil
}

func (c *Consumer) Subscribe(_ context.Context, topic, group string) (ports.Subscription, error) {
	rc, err := c.readerConfig(topic, group)
	if err != nil {
		return nil, err
	}
	if err := rc.Validate(); err != nil {
		return nil, domain.Configuration("kafka reader", err)
	}
	return &subscription{reader: kafkago.NewReader(rc)}, nil
}

func (c *Consumer) Close() error { return nil }

type subscription struct {
	reader *kafkago.Reader
}

func (s *subscription) Next(ctx context.Context) (ports.Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return ports.Message{}, domain.Transport("kafka fetch", err)
	}
	return toMessage(m), nil
}

func (s *subscription) Commit(ctx context.Context, msg ports.Message) error {
	m, ok := msg.Handle.(kafkago.Message)
	if !ok {
		return fmt.Errorf("kafka commit: message %d has no kafka handle", msg.Offset)
	}
	if err := s.reader.CommitMessages(ctx, m); err != nil {
		return domain.Transport("kafka commit", err)
	}
	return nil
}

func (s *subscription) Close() error {
	return s.reader.Close()
}

func toMessage(m kafkago.Message) ports.Message {
	return ports.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Handle:    m,
	}
}

var _ ports.Consumer = (*Consumer)(nil)
