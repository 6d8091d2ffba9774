package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// StoreRetries is how many extra insert attempts follow a failed one.
const StoreRetries = 1

// StoreWriter persists every received envelope. A failed insert is retried
// once; if that also fails the envelope is logged and dropped.
type StoreWriter struct {
	Descriptor

	store      ports.Store
	obs        ports.Observability
	decode     Decoder
	retryDelay time.Duration
}

type StoreWriterOption func(*StoreWriter)

// WithDecoder replaces the envelope decoder used by Validate.
func WithDecoder(d Decoder) StoreWriterOption {
	return func(w *StoreWriter) {
		if d != nil {
			w.decode = d
		}
	}
}

// WithRetryDelay sets the pause before the retry.
func WithRetryDelay(d time.Duration) StoreWriterOption {
	return func(w *StoreWriter) {
		if d > 0 {
			w.retryDelay = d
		}
	}
}

func NewStoreWriter(d Descriptor, store ports.Store, obs ports.Observability, opts ...StoreWriterOption) *StoreWriter {
	w := &StoreWriter{
		Descriptor: d,
		store:      store,
		obs:        obs,
		decode:     DecodeEnvelope,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *StoreWriter) Validate(raw []byte) (domain.Payload, error) {
	return w.decode(raw)
}

func (w *StoreWriter) Run(ctx context.Context, raw []byte) error {
	payload, err := w.Validate(raw)
	if err != nil {
		return err
	}

	p, ok := payload.(domain.EnvelopePayload)
	if !ok {
		return domain.Unsupported(w.Name(), fmt.Errorf("%s payload", domain.PayloadKind(payload)))
	}

	w.persist(ctx, p.Envelope)
	return nil
}

func (w *StoreWriter) persist(ctx context.Context, env domain.Envelope) {
	fields := []ports.Field{
		ports.F(ports.LabelAgent, w.Name()),
		ports.F(ports.FieldTopic, w.Topic()),
		ports.F("samples", env.Len()),
	}

	insert := func() error { return w.store.Insert(ctx, env) }
	notify := func(err error, _ time.Duration) {
		w.obs.IncCounter(ports.MetricStoreRetries, 1, fields...)
		w.obs.LogError("store_insert_retry", err, fields...)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryDelay), StoreRetries), ctx)
	if err := backoff.RetryNotify(insert, b, notify); err != nil {
		w.obs.IncCounter(ports.MetricEnvelopesDropped, 1, fields...)
		w.obs.LogError("store_insert_dropped", err, fields...)
	}
}

var _ ports.Agent = (*StoreWriter)(nil)
