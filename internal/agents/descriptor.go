// Package agents holds the message handlers the subscriber loop dispatches to.
package agents

import (
	"errors"
	"fmt"

	"github.com/ghalamif/MetricFlow/internal/codec"
	"github.com/ghalamif/MetricFlow/internal/domain"
)

// DefaultConcurrency is the worker count used when a descriptor leaves it unset.
const DefaultConcurrency = 3

// Descriptor is the immutable identity of an agent. Embed it to get the
// Topic, Name, ConsumerGroup and Concurrency methods of ports.Agent.
type Descriptor struct {
	name        string
	topic       string
	group       string
	concurrency int
}

// NewDescriptor returns a descriptor. A concurrency of zero selects DefaultConcurrency.
func NewDescriptor(name, topic, group string, concurrency int) (Descriptor, error) {
	switch {
	case name == "":
		return Descriptor{}, errors.New("agent name is required")
	case topic == "":
		return Descriptor{}, fmt.Errorf("agent %s: topic is required", name)
	case group == "":
		return Descriptor{}, fmt.Errorf("agent %s: consumer group is required", name)
	case concurrency < 0:
		return Descriptor{}, fmt.Errorf("agent %s: concurrency must be >= 0", name)
	}
	return Descriptor{name: name, topic: topic, group: group, concurrency: concurrency}, nil
}

func (d Descriptor) Name() string          { return d.name }
func (d Descriptor) Topic() string         { return d.topic }
func (d Descriptor) ConsumerGroup() string { return d.group }

func (d Descriptor) Concurrency() int {
	if d.concurrency <= 0 {
		return DefaultConcurrency
	}
	return d.concurrency
}

// Decoder turns raw message bytes into a payload.
type Decoder func(raw []byte) (domain.Payload, error)

// DecodeEnvelope is the default Decoder: the wire envelope format.
func DecodeEnvelope(raw []byte) (domain.Payload, error) {
	env, err := codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return domain.EnvelopePayload{Envelope: env}, nil
}
