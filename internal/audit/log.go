// Package audit holds the recorders that receive the ledger's committed
// Deposit and Withdrawal records.
package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

// Log is an in-memory append-only record log
type Log struct {
	mu     sync.RWMutex
	events []ledger.Event
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{}
}

// Record implements ledger.Recorder
func (l *Log) Record(_ context.Context, event ledger.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// All returns a copy of the log
func (l *Log) All() []ledger.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ledger.Event(nil), l.events...)
}

// Events returns up to limit records, newest first. An empty account
// matches every record.
func (l *Log) Events(_ context.Context, account ledger.Account, limit int) ([]ledger.Event, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []ledger.Event
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if account == "" || l.events[i].Account == account {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

// Len returns the number of records
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Fanout hands each record to every recorder in order. A failing recorder
// does not stop the others.
type Fanout []ledger.Recorder

// Record implements ledger.Recorder
func (f Fanout) Record(ctx context.Context, event ledger.Event) error {
	var errs []error
	for _, r := range f {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventAppender persists records
type EventAppender interface {
	AppendEvent(ctx context.Context, event ledger.Event) error
}

// Store adapts a persistent event store into a recorder
func Store(s EventAppender) ledger.Recorder {
	return ledger.RecorderFunc(s.AppendEvent)
}
