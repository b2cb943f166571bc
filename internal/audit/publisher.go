package audit

import (
	"context"
	"fmt"

	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/pkg/messaging"
	"github.com/terminal-bench/poolledger/pkg/units"
	"github.com/terminal-bench/poolledger/shared/events"
)

// Bus publishes JSON messages
type Bus interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Publisher wraps records in event envelopes and publishes them to NATS
type Publisher struct {
	bus       Bus
	aggregate string
	source    string
	units     units.Converter
}

// NewPublisher creates a publisher. aggregate identifies the pool in the
// envelope; conv renders the display amount.
func NewPublisher(bus Bus, aggregate, source string, conv units.Converter) *Publisher {
	return &Publisher{
		bus:       bus,
		aggregate: aggregate,
		source:    source,
		units:     conv,
	}
}

// Record implements ledger.Recorder
func (p *Publisher) Record(ctx context.Context, event ledger.Event) error {
	subject, eventType, err := route(event.Kind)
	if err != nil {
		return err
	}

	envelope, err := events.NewEvent(eventType, p.aggregate, event.Sequence, event.At,
		events.FundsData{
			Account: string(event.Account),
			Amount:  event.Amount,
			Display: p.units.Format(event.Amount),
		},
		events.Metadata{
			CorrelationID: events.CorrelationID(ctx),
			Source:        p.source,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build envelope: %w", err)
	}

	return p.bus.Publish(ctx, subject, envelope)
}

func route(kind ledger.EventKind) (subject, eventType string, err error) {
	switch kind {
	case ledger.KindDeposit:
		return messaging.SubjectDeposit, events.FundsDeposited, nil
	case ledger.KindWithdrawal:
		return messaging.SubjectWithdrawal, events.FundsWithdrawn, nil
	default:
		return "", "", fmt.Errorf("unknown record kind %q", kind)
	}
}
