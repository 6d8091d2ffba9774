package domain

// Payload is the validated form of a raw broker message.
// The set of variants is closed: EnvelopePayload and DiagnosticPayload.
type Payload interface {
	payload()
}

// EnvelopePayload carries a decoded Envelope.
type EnvelopePayload struct {
	Envelope Envelope
}

// DiagnosticPayload carries a free-form diagnostic string.
type DiagnosticPayload struct {
	Message string
}

func (EnvelopePayload) payload()   {}
func (DiagnosticPayload) payload() {}

// PayloadKind names the variant for logs and error messages.
func PayloadKind(p Payload) string {
	switch p.(type) {
	case EnvelopePayload:
		return "envelope"
	case DiagnosticPayload:
		return "diagnostic"
	case nil:
		return "none"
	default:
		return "unknown"
	}
}
