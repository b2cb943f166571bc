package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// AccountBalance is one entry of the balance mapping.
type AccountBalance struct {
	Account Account `json:"account"`
	Balance uint64  `json:"balance"`
}

// State is a point-in-time copy of everything the ledger owns.
type State struct {
	WithdrawalThreshold uint64           `json:"withdrawal_threshold"`
	BankCap             uint64           `json:"bank_cap"`
	TotalHeld           uint64           `json:"total_held"`
	DepositCount        uint64           `json:"deposit_count"`
	WithdrawalCount     uint64           `json:"withdrawal_count"`
	Balances            []AccountBalance `json:"balances"`
	// Sequence is the last record sequence handed out. Restore never
	// numbers new records at or below it.
	Sequence uint64 `json:"sequence"`
}

// Snapshot returns a copy of the ledger state with balances sorted by account.
func (l *Ledger) Snapshot(ctx context.Context) State {
	_, exit := l.enter(ctx)
	defer exit()

	s := State{
		WithdrawalThreshold: l.withdrawalThreshold,
		BankCap:             l.bankCap,
		TotalHeld:           l.totalHeld,
		DepositCount:        l.depositCount,
		WithdrawalCount:     l.withdrawalCount,
		Sequence:            l.emitted,
		Balances:            make([]AccountBalance, 0, len(l.balances)),
	}
	for account, balance := range l.balances {
		s.Balances = append(s.Balances, AccountBalance{Account: account, Balance: balance})
	}
	sort.Slice(s.Balances, func(i, j int) bool {
		return s.Balances[i].Account < s.Balances[j].Account
	})
	return s
}

// Restore replaces balances and counters with s. The limits in s must match
// the ledger's, and the balances must sum to TotalHeld without exceeding the
// cap. Restore cannot run from inside a transfer.
func (l *Ledger) Restore(ctx context.Context, s State) error {
	if l.inFrame(ctx) {
		return errors.New("restore called during an active ledger call")
	}
	if s.WithdrawalThreshold != l.withdrawalThreshold || s.BankCap != l.bankCap {
		return fmt.Errorf("%w: limits %d/%d do not match %d/%d", ErrInvalidState,
			s.WithdrawalThreshold, s.BankCap, l.withdrawalThreshold, l.bankCap)
	}

	balances := make(map[Account]uint64, len(s.Balances))
	var total uint64
	for _, ab := range s.Balances {
		if ab.Account == "" {
			return fmt.Errorf("%w: empty account", ErrInvalidState)
		}
		if _, dup := balances[ab.Account]; dup {
			return fmt.Errorf("%w: duplicate account %s", ErrInvalidState, ab.Account)
		}
		sum, err := addUint64(total, ab.Balance)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		total = sum
		balances[ab.Account] = ab.Balance
	}
	if total != s.TotalHeld {
		return fmt.Errorf("%w: balances sum to %d, total held is %d", ErrInvalidState, total, s.TotalHeld)
	}
	if total > l.bankCap {
		return fmt.Errorf("%w: total %d exceeds bank cap %d", ErrInvalidState, total, l.bankCap)
	}
	// every committed call emitted exactly one record
	emitted, err := addUint64(s.DepositCount, s.WithdrawalCount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if s.Sequence > emitted {
		emitted = s.Sequence
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = balances
	l.totalHeld = total
	l.depositCount = s.DepositCount
	l.withdrawalCount = s.WithdrawalCount
	l.emitted = emitted
	return nil
}
