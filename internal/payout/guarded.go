package payout

import (
	"context"

	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/pkg/circuit"
)

// Guarded wraps a transferer with a circuit breaker. While the breaker is
// open every payout fails fast, so withdrawals roll back instead of waiting
// on a dead payout service.
type Guarded struct {
	next    ledger.Transferer
	breaker *circuit.Breaker
}

// NewGuarded creates a guarded transferer
func NewGuarded(next ledger.Transferer, breaker *circuit.Breaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

// Transfer implements ledger.Transferer
func (g *Guarded) Transfer(ctx context.Context, to ledger.Account, amount uint64) error {
	return g.breaker.Execute(ctx, func() error {
		return g.next.Transfer(ctx, to, amount)
	})
}

// Breaker exposes the breaker for health reporting
func (g *Guarded) Breaker() *circuit.Breaker {
	return g.breaker
}
