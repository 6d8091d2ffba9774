// Package codec implements the binary wire format of an Envelope.
//
// The format is protocol-buffers compatible:
//
//	message BatchMessage { repeated Message multiple_points = 3; }
//	message Message { int64 timestamp = 1; string name = 2; float value = 3; }
package codec

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ghalamif/MetricFlow/internal/domain"
)

const (
	fieldSamples protowire.Number = 3

	fieldTimestamp protowire.Number = 1
	fieldName      protowire.Number = 2
	fieldValue     protowire.Number = 3
)

// Encode serializes env. It never fails and is deterministic: equal envelopes
// always produce identical bytes. Default values are omitted, except that a
// negative zero value is written so it survives the round trip.
func Encode(env domain.Envelope) []byte {
	var out []byte
	for _, s := range env.Samples {
		msg := appendSample(nil, s)
		out = protowire.AppendTag(out, fieldSamples, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out
}

func appendSample(b []byte, s domain.Sample) []byte {
	if s.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Timestamp))
	}
	if s.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, s.Name)
	}
	if bits := math.Float32bits(s.Value); bits != 0 {
		b = protowire.AppendTag(b, fieldValue, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, bits)
	}
	return b
}

// Decode parses b into an Envelope. Unknown fields are skipped; truncated
// input, wire-type mismatches on known fields and invalid UTF-8 names yield a
// domain.ErrMalformedPayload error.
func Decode(b []byte) (domain.Envelope, error) {
	var env domain.Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Envelope{}, malformed("envelope tag", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldSamples {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Envelope{}, malformed(fmt.Sprintf("skip field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if typ != protowire.BytesType {
			return domain.Envelope{}, malformed("multiple_points", fmt.Errorf("unexpected wire type %d", typ))
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return domain.Envelope{}, malformed("multiple_points", protowire.ParseError(n))
		}
		b = b[n:]

		s, err := decodeSample(raw)
		if err != nil {
			return domain.Envelope{}, err
		}
		env.Samples = append(env.Samples, s)
	}
	return env, nil
}

func decodeSample(b []byte) (domain.Sample, error) {
	var s domain.Sample
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, malformed("sample tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldTimestamp:
			if typ != protowire.VarintType {
				return s, malformed("timestamp", fmt.Errorf("unexpected wire type %d", typ))
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, malformed("timestamp", protowire.ParseError(n))
			}
			s.Timestamp = int64(v)
			b = b[n:]
		case fieldName:
			if typ != protowire.BytesType {
				return s, malformed("name", fmt.Errorf("unexpected wire type %d", typ))
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, malformed("name", protowire.ParseError(n))
			}
			if !utf8.Valid(v) {
				return s, malformed("name", errors.New("invalid UTF-8"))
			}
			s.Name = string(v)
			b = b[n:]
		case fieldValue:
			if typ != protowire.Fixed32Type {
				return s, malformed("value", fmt.Errorf("unexpected wire type %d", typ))
			}
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return s, malformed("value", protowire.ParseError(n))
			}
			s.Value = math.Float32frombits(v)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, malformed(fmt.Sprintf("skip field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}

func malformed(what string, err error) error {
	return domain.Malformed("decode "+what, err)
}
