// Package payout provides implementations of the ledger's value-transfer
// capability.
package payout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

// ErrWalletOverflow is returned when a credit would exceed the wallet's range
var ErrWalletOverflow = errors.New("external holdings overflow")

// Wallet is an in-memory stand-in for external accounts. It backs local runs
// and the payout simulator.
type Wallet struct {
	mu       sync.Mutex
	holdings map[ledger.Account]uint64
	failWith func(to ledger.Account, amount uint64) error
	onCredit ledger.TransferFunc
}

// WalletOption configures a Wallet
type WalletOption func(*Wallet)

// WithFailure makes Transfer fail whenever fn returns an error.
func WithFailure(fn func(to ledger.Account, amount uint64) error) WalletOption {
	return func(w *Wallet) { w.failWith = fn }
}

// WithReceiveHook runs fn before the recipient is credited, the way a
// recipient contract runs code when it receives value. fn receives the
// ledger call context and may call back into the ledger with it.
func WithReceiveHook(fn ledger.TransferFunc) WalletOption {
	return func(w *Wallet) { w.onCredit = fn }
}

// NewWallet creates an empty wallet
func NewWallet(opts ...WalletOption) *Wallet {
	w := &Wallet{holdings: make(map[ledger.Account]uint64)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Transfer credits amount to the external account to.
func (w *Wallet) Transfer(ctx context.Context, to ledger.Account, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.failWith != nil {
		if err := w.failWith(to, amount); err != nil {
			return err
		}
	}
	if w.onCredit != nil {
		if err := w.onCredit(ctx, to, amount); err != nil {
			return fmt.Errorf("recipient %s rejected value: %w", to, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.holdings[to]
	if amount > math.MaxUint64-current {
		return ErrWalletOverflow
	}
	w.holdings[to] = current + amount
	return nil
}

// Holdings returns the external balance of account
func (w *Wallet) Holdings(account ledger.Account) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holdings[account]
}
