package ledger

import (
	"context"
	"sync/atomic"
)

// frameKey scopes a call frame to a single ledger so that ledgers calling
// into each other through their transferers do not shadow one another.
type frameKey struct {
	l *Ledger
}

// frame marks a context as executing inside the ledger's critical section.
type frame struct {
	active atomic.Bool
}

// undo holds the values a single mutation overwrote.
type undo struct {
	account         Account
	balance         uint64
	existed         bool
	totalHeld       uint64
	depositCount    uint64
	withdrawalCount uint64
}

// checkpoint marks the journal and record buffer positions to revert to.
type checkpoint struct {
	journal int
	pending int
}

// inFrame reports whether ctx belongs to a call that already holds l.mu.
func (l *Ledger) inFrame(ctx context.Context) bool {
	f, ok := ctx.Value(frameKey{l: l}).(*frame)
	return ok && f.active.Load()
}

// enter acquires the serialization boundary unless ctx is a reentrant call
// from inside a transfer. The returned context must be passed to the
// transferer. exit releases the boundary and hands buffered records to the
// recorder once the outermost call finishes.
func (l *Ledger) enter(ctx context.Context) (context.Context, func()) {
	if l.inFrame(ctx) {
		return ctx, func() {}
	}

	l.mu.Lock()
	f := &frame{}
	f.active.Store(true)
	inner := context.WithValue(ctx, frameKey{l: l}, f)

	return inner, func() {
		defer l.mu.Unlock()
		defer f.active.Store(false)

		events := l.pending
		l.pending = nil
		l.journal = l.journal[:0]
		l.emit(inner, events)
	}
}

func (l *Ledger) mark() checkpoint {
	return checkpoint{journal: len(l.journal), pending: len(l.pending)}
}

// revert undoes every mutation journaled after cp, newest first, and drops
// the records buffered after it.
func (l *Ledger) revert(cp checkpoint) {
	for i := len(l.journal) - 1; i >= cp.journal; i-- {
		u := l.journal[i]
		if u.existed {
			l.balances[u.account] = u.balance
		} else {
			delete(l.balances, u.account)
		}
		l.totalHeld = u.totalHeld
		l.depositCount = u.depositCount
		l.withdrawalCount = u.withdrawalCount
	}
	l.journal = l.journal[:cp.journal]
	l.pending = l.pending[:cp.pending]
}

// apply commits a balance change together with the pool total and counters,
// journaling the previous values.
func (l *Ledger) apply(account Account, balance, totalHeld, deposits, withdrawals uint64) {
	prev, existed := l.balances[account]
	l.journal = append(l.journal, undo{
		account:         account,
		balance:         prev,
		existed:         existed,
		totalHeld:       l.totalHeld,
		depositCount:    l.depositCount,
		withdrawalCount: l.withdrawalCount,
	})

	l.balances[account] = balance
	l.totalHeld = totalHeld
	l.depositCount = deposits
	l.withdrawalCount = withdrawals
}
