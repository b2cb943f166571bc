package ledger

import (
	"context"
	"time"
)

// Account is an opaque, externally controlled identity holding a balance.
type Account string

// EventKind distinguishes the two records a ledger emits.
type EventKind string

const (
	KindDeposit    EventKind = "deposit"
	KindWithdrawal EventKind = "withdrawal"
)

// Event is an emitted Deposit or Withdrawal record.
type Event struct {
	Sequence uint64    `json:"sequence"`
	Kind     EventKind `json:"kind"`
	Account  Account   `json:"account"`
	Amount   uint64    `json:"amount"`
	At       time.Time `json:"at"`
}

// Transferer moves value out of the pool to an external recipient.
// A non-nil error means nothing was moved.
//
// Transfer may call back into the ledger using the ctx it was given; those
// calls run inside the withdrawal's critical section and must be made from
// the goroutine that is executing Transfer.
type Transferer interface {
	Transfer(ctx context.Context, to Account, amount uint64) error
}

// TransferFunc adapts a function to the Transferer interface.
type TransferFunc func(ctx context.Context, to Account, amount uint64) error

func (f TransferFunc) Transfer(ctx context.Context, to Account, amount uint64) error {
	return f(ctx, to, amount)
}

// Recorder receives records once the outermost call that produced them has
// committed. Recorders must not mutate the ledger.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, event Event) error

func (f RecorderFunc) Record(ctx context.Context, event Event) error {
	return f(ctx, event)
}
