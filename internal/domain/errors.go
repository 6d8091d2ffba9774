package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide between dropping, retrying
// and aborting.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMalformedPayload
	KindUnsupportedPayload
	KindTransientPersistence
	KindTransport
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindMalformedPayload:
		return "malformed_payload"
	case KindUnsupportedPayload:
		return "unsupported_payload"
	case KindTransientPersistence:
		return "transient_persistence"
	case KindTransport:
		return "transport"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMalformedPayload     = &Error{Kind: KindMalformedPayload}
	ErrUnsupportedPayload   = &Error{Kind: KindUnsupportedPayload}
	ErrTransientPersistence = &Error{Kind: KindTransientPersistence}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrConfiguration        = &Error{Kind: KindConfiguration}

	// ErrMessageTooLarge is wrapped by broker adapters when the broker rejects a
	// message because of its size.
	ErrMessageTooLarge = errors.New("message exceeds broker size limit")
)

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Malformed(op string, err error) error   { return newError(KindMalformedPayload, op, err) }
func Unsupported(op string, err error) error { return newError(KindUnsupportedPayload, op, err) }
func Persistence(op string, err error) error { return newError(KindTransientPersistence, op, err) }
func Transport(op string, err error) error   { return newError(KindTransport, op, err) }

// Configuration wraps a bootstrap failure. Configuration errors are fatal.
func Configuration(op string, err error) error { return newError(KindConfiguration, op, err) }

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
