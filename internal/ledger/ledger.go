// Package ledger implements the custodial pool ledger: per-account balances
// of a single native unit, a per-call withdrawal ceiling, a global pool cap,
// and the Deposit/Withdrawal record trail.
//
// Withdrawals follow checks, then effects, then the external transfer. The
// debit is committed before the Transferer runs, so a reentrant call made
// from inside the transfer observes the reduced balance. A failed transfer
// reverts everything the withdrawal changed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ledger owns the balance mapping, the pool total, the counters and the
// immutable limits. All methods are safe for concurrent use.
type Ledger struct {
	withdrawalThreshold uint64
	bankCap             uint64

	transferer Transferer
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time

	mu              sync.Mutex
	balances        map[Account]uint64
	totalHeld       uint64
	depositCount    uint64
	withdrawalCount uint64
	emitted         uint64

	journal []undo
	pending []Event
}

// Option configures a Ledger
type Option func(*Ledger)

// WithTransferer sets the capability used to pay out withdrawals.
func WithTransferer(t Transferer) Option {
	return func(l *Ledger) { l.transferer = t }
}

// WithRecorder sets the sink for emitted records.
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) { l.recorder = r }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger with the given limits. Both limits are fixed for the
// ledger's lifetime and must be non-zero.
func New(withdrawalThreshold, bankCap uint64, opts ...Option) (*Ledger, error) {
	if withdrawalThreshold == 0 || bankCap == 0 {
		return nil, ErrInvalidLimits
	}

	l := &Ledger{
		withdrawalThreshold: withdrawalThreshold,
		bankCap:             bankCap,
		logger:              zap.NewNop(),
		now:                 time.Now,
		balances:            make(map[Account]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// WithdrawalThreshold returns the maximum amount a single withdrawal may move.
func (l *Ledger) WithdrawalThreshold() uint64 {
	return l.withdrawalThreshold
}

// BankCap returns the maximum total the pool may hold.
func (l *Ledger) BankCap() uint64 {
	return l.bankCap
}

// Deposit credits caller with value, which has already arrived with the call.
func (l *Ledger) Deposit(ctx context.Context, caller Account, value uint64) error {
	_, exit := l.enter(ctx)
	defer exit()

	if caller == "" {
		return l.reject("deposit", caller, value, ErrInvalidAccount)
	}
	if value == 0 {
		return l.reject("deposit", caller, value, ErrZeroDeposit)
	}

	// totalHeld never includes the incoming value, so the cap check cannot
	// count it twice.
	poolBefore := l.totalHeld
	available, err := subUint64(l.bankCap, poolBefore)
	if err != nil {
		return fmt.Errorf("pool above cap: %w", err)
	}
	if value > available {
		return l.reject("deposit", caller, value, &BankCapExceededError{Available: available})
	}

	balance, err := addUint64(l.balances[caller], value)
	if err != nil {
		return fmt.Errorf("credit %s: %w", caller, err)
	}
	total, err := addUint64(poolBefore, value)
	if err != nil {
		return fmt.Errorf("pool total: %w", err)
	}
	deposits, err := addUint64(l.depositCount, 1)
	if err != nil {
		return fmt.Errorf("deposit count: %w", err)
	}

	l.apply(caller, balance, total, deposits, l.withdrawalCount)
	l.buffer(KindDeposit, caller, value)
	return nil
}

// Withdraw debits caller by amount and pays it out through the Transferer.
// Balance is checked before the threshold. The debit is committed before
// the transfer; if the transfer fails the whole call is reverted.
func (l *Ledger) Withdraw(ctx context.Context, caller Account, amount uint64) error {
	ctx, exit := l.enter(ctx)
	defer exit()

	if caller == "" {
		return l.reject("withdraw", caller, amount, ErrInvalidAccount)
	}
	if amount == 0 {
		return l.reject("withdraw", caller, amount, ErrZeroWithdrawal)
	}
	current := l.balances[caller]
	if amount > current {
		return l.reject("withdraw", caller, amount, &InsufficientFundsError{Balance: current})
	}
	if amount > l.withdrawalThreshold {
		return l.reject("withdraw", caller, amount, &ThresholdExceededError{Threshold: l.withdrawalThreshold})
	}

	balance, err := subUint64(current, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", caller, err)
	}
	total, err := subUint64(l.totalHeld, amount)
	if err != nil {
		return fmt.Errorf("pool total: %w", err)
	}
	withdrawals, err := addUint64(l.withdrawalCount, 1)
	if err != nil {
		return fmt.Errorf("withdrawal count: %w", err)
	}

	cp := l.mark()
	l.apply(caller, balance, total, l.depositCount, withdrawals)

	if err := l.transfer(ctx, caller, amount); err != nil {
		l.revert(cp)
		l.logger.Warn("withdrawal reverted",
			zap.String("account", string(caller)),
			zap.Uint64("amount", amount),
			zap.Error(err),
		)
		return &TransferFailedError{Reason: err.Error(), Err: err}
	}

	l.buffer(KindWithdrawal, caller, amount)
	return nil
}

// BalanceOf returns the current balance of account.
func (l *Ledger) BalanceOf(ctx context.Context, account Account) uint64 {
	_, exit := l.enter(ctx)
	defer exit()
	return l.balances[account]
}

// TotalHeld returns the value currently custodied by the pool.
func (l *Ledger) TotalHeld(ctx context.Context) uint64 {
	_, exit := l.enter(ctx)
	defer exit()
	return l.totalHeld
}

// DepositCount returns the number of successful deposits.
func (l *Ledger) DepositCount(ctx context.Context) uint64 {
	_, exit := l.enter(ctx)
	defer exit()
	return l.depositCount
}

// WithdrawalCount returns the number of successful withdrawals.
func (l *Ledger) WithdrawalCount(ctx context.Context) uint64 {
	_, exit := l.enter(ctx)
	defer exit()
	return l.withdrawalCount
}

func (l *Ledger) transfer(ctx context.Context, to Account, amount uint64) (err error) {
	if l.transferer == nil {
		return errors.New("no transferer configured")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transferer panicked: %v", r)
		}
	}()

	return l.transferer.Transfer(ctx, to, amount)
}

func (l *Ledger) reject(op string, caller Account, amount uint64, err error) error {
	l.logger.Debug("call rejected",
		zap.String("op", op),
		zap.String("account", string(caller)),
		zap.Uint64("amount", amount),
		zap.Error(err),
	)
	return err
}

func (l *Ledger) buffer(kind EventKind, account Account, amount uint64) {
	l.pending = append(l.pending, Event{
		Kind:    kind,
		Account: account,
		Amount:  amount,
		At:      l.now(),
	})
}

// emit numbers committed records and hands them to the recorder. Called with
// l.mu held so record order matches commit order.
func (l *Ledger) emit(ctx context.Context, events []Event) {
	for _, event := range events {
		l.emitted++
		event.Sequence = l.emitted
		if l.recorder == nil {
			continue
		}
		if err := l.record(ctx, event); err != nil {
			l.logger.Error("failed to record event",
				zap.Uint64("sequence", event.Sequence),
				zap.String("kind", string(event.Kind)),
				zap.String("account", string(event.Account)),
				zap.Error(err),
			)
		}
	}
}

func (l *Ledger) record(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recorder panicked: %v", r)
		}
	}()

	return l.recorder.Record(ctx, event)
}
