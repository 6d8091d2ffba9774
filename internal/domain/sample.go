package domain

import (
	"errors"
	"math"
	"time"
)

// Sample is one named measurement taken from a host at a point in time.
// Timestamp is expressed in milliseconds since the Unix epoch.
type Sample struct {
	Timestamp int64
	Name      string
	Value     float32
}

// NewSample builds a Sample, stamping it with the current time when at is zero.
func NewSample(name string, value float32, at time.Time) (Sample, error) {
	if name == "" {
		return Sample{}, errors.New("sample name is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	return Sample{Timestamp: at.UnixMilli(), Name: name, Value: value}, nil
}

// Time returns the sample timestamp as a UTC time.Time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// Envelope is the batch unit moved through the broker.
type Envelope struct {
	Samples []Sample
}

func (e Envelope) Len() int { return len(e.Samples) }

// Equal reports whether both envelopes carry the same samples in the same order.
// Values are compared bit for bit, so NaN equals itself and -0 differs from +0,
// matching what the wire format preserves. A nil and an empty sample list
// compare equal.
func (e Envelope) Equal(other Envelope) bool {
	if len(e.Samples) != len(other.Samples) {
		return false
	}
	for i := range e.Samples {
		a, b := e.Samples[i], other.Samples[i]
		if a.Timestamp != b.Timestamp || a.Name != b.Name ||
			math.Float32bits(a.Value) != math.Float32bits(b.Value) {
			return false
		}
	}
	return true
}
