package kafka

import (
	"context"
	"errors"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// Producer publishes to any topic through one kafka-go Writer. Every message
// carries the same per-process key so one publisher's envelopes stay ordered
// on a single partition.
type Producer struct {
	writer *kafkago.Writer
	key    []byte
}

func NewProducer(cfg Config) (*Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tlsCfg, mech, err := cfg.security()
	if err != nil {
		return nil, err
	}

	info, errs := loggers(cfg.Logger)
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
		Transport: &kafkago.Transport{
			ClientID: cfg.ClientID,
			TLS:      tlsCfg,
			SASL:     mech,
		},
		Logger:      info,
		ErrorLogger: errs,
	}
	return &Producer{writer: w, key: []byte(uuid.NewString())}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafkago.Message{Topic: topic, Key: p.key, Value: value})
	if err == nil {
		return nil
	}
	if tooLarge(err) {
		return domain.Transport("kafka publish", errors.Join(domain.ErrMessageTooLarge, err))
	}
	return domain.Transport("kafka publish", err)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func tooLarge(err error) bool {
	if errors.Is(err, kafkago.MessageSizeTooLarge) {
		return true
	}
	var werrs kafkago.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil && errors.Is(e, kafkago.MessageSizeTooLarge) {
				return true
			}
		}
	}
	return false
}

var _ ports.Producer = (*Producer)(nil)
