package agents

import (
	"context"
	"fmt"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

// DiagnosticMessage is the fixed payload reported by Diagnostic.
const DiagnosticMessage = "some string"

// Diagnostic ignores message contents and reports a fixed diagnostic string
// for every message it sees. It is useful to check that a topic is flowing.
type Diagnostic struct {
	Descriptor
	obs ports.Observability
}

func NewDiagnostic(d Descriptor, obs ports.Observability) *Diagnostic {
	return &Diagnostic{Descriptor: d, obs: obs}
}

func (a *Diagnostic) Validate([]byte) (domain.Payload, error) {
	return domain.DiagnosticPayload{Message: DiagnosticMessage}, nil
}

func (a *Diagnostic) Run(_ context.Context, raw []byte) error {
	payload, err := a.Validate(raw)
	if err != nil {
		return err
	}
	p, ok := payload.(domain.DiagnosticPayload)
	if !ok {
		return domain.Unsupported(a.Name(), fmt.Errorf("%s payload", domain.PayloadKind(payload)))
	}

	a.obs.IncCounter(ports.MetricDiagnosticMessages, 1, ports.F(ports.LabelAgent, a.Name()))
	a.obs.LogInfo(p.Message,
		ports.F(ports.LabelAgent, a.Name()),
		ports.F(ports.FieldTopic, a.Topic()),
		ports.F("bytes", len(raw)))
	return nil
}

var _ ports.Agent = (*Diagnostic)(nil)
