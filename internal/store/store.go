// Package store persists ledger snapshots and the committed record history
// to Postgres or SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

// ErrSequenceConflict reports a record whose sequence is already stored for
// a different mutation.
var ErrSequenceConflict = errors.New("record sequence already used by another record")

// Store is a SQL-backed snapshot and record store
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to DATABASE_URL and pings it
func Open(ctx context.Context, url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("database url is required")
	}
	dialect, dsn := ParseDSN(url)
	if dialect == SQLite {
		dsn = withPragmas(dsn)
	}

	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	return New(db, dialect), nil
}

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// withPragmas appends the SQLite pragmas, keeping any query already present.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// New wraps an open database
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close releases the connection pool
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the ledger tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	amount := s.dialect.amountType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_state (
			id INTEGER PRIMARY KEY,
			withdrawal_threshold ` + amount + ` NOT NULL,
			bank_cap ` + amount + ` NOT NULL,
			total_held ` + amount + ` NOT NULL,
			deposit_count ` + amount + ` NOT NULL,
			withdrawal_count ` + amount + ` NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_balances (
			account TEXT PRIMARY KEY,
			balance ` + amount + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			sequence BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			account TEXT NOT NULL,
			amount ` + amount + ` NOT NULL,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_events_account_idx ON ledger_events (account, sequence)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveState replaces the stored snapshot in one transaction
func (s *Store) SaveState(ctx context.Context, state ledger.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO ledger_state (id, withdrawal_threshold, bank_cap, total_held, deposit_count, withdrawal_count, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			withdrawal_threshold = excluded.withdrawal_threshold,
			bank_cap = excluded.bank_cap,
			total_held = excluded.total_held,
			deposit_count = excluded.deposit_count,
			withdrawal_count = excluded.withdrawal_count,
			updated_at = excluded.updated_at`),
		amountValue(state.WithdrawalThreshold),
		amountValue(state.BankCap),
		amountValue(state.TotalHeld),
		amountValue(state.DepositCount),
		amountValue(state.WithdrawalCount),
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_balances`); err != nil {
		return fmt.Errorf("failed to clear balances: %w", err)
	}
	insert := s.dialect.rebind(`INSERT INTO ledger_balances (account, balance) VALUES (?, ?)`)
	for _, ab := range state.Balances {
		if _, err := tx.ExecContext(ctx, insert, string(ab.Account), amountValue(ab.Balance)); err != nil {
			return fmt.Errorf("failed to save balance of %s: %w", ab.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadState reads the stored snapshot. ok is false when nothing was saved.
func (s *Store) LoadState(ctx context.Context) (state ledger.State, ok bool, err error) {
	var threshold, bankCap, total, deposits, withdrawals decimal.Decimal
	err = s.db.QueryRowContext(ctx,
		`SELECT withdrawal_threshold, bank_cap, total_held, deposit_count, withdrawal_count
		 FROM ledger_state WHERE id = 1`,
	).Scan(&threshold, &bankCap, &total, &deposits, &withdrawals)
	if err == sql.ErrNoRows {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("failed to load state: %w", err)
	}

	fields := []struct {
		name string
		src  decimal.Decimal
		dst  *uint64
	}{
		{"withdrawal_threshold", threshold, &state.WithdrawalThreshold},
		{"bank_cap", bankCap, &state.BankCap},
		{"total_held", total, &state.TotalHeld},
		{"deposit_count", deposits, &state.DepositCount},
		{"withdrawal_count", withdrawals, &state.WithdrawalCount},
	}
	for _, f := range fields {
		if *f.dst, err = toUint64(f.src); err != nil {
			return ledger.State{}, false, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT account, balance FROM ledger_balances ORDER BY account`)
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("failed to load balances: %w", err)
	}
	defer rows.Close()

	state.Balances = []ledger.AccountBalance{}
	for rows.Next() {
		var account string
		var balance decimal.Decimal
		if err := rows.Scan(&account, &balance); err != nil {
			return ledger.State{}, false, fmt.Errorf("failed to scan balance: %w", err)
		}
		b, err := toUint64(balance)
		if err != nil {
			return ledger.State{}, false, fmt.Errorf("balance of %s: %w", account, err)
		}
		state.Balances = append(state.Balances, ledger.AccountBalance{Account: ledger.Account(account), Balance: b})
	}
	if err := rows.Err(); err != nil {
		return ledger.State{}, false, err
	}

	if state.Sequence, err = s.LastSequence(ctx); err != nil {
		return ledger.State{}, false, err
	}
	return state, true, nil
}

// LastSequence returns the highest stored record sequence, or zero. Records
// can be appended after the last snapshot was saved, so this is the floor a
// restored ledger numbers new records from.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM ledger_events`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to load last sequence: %w", err)
	}
	if last < 0 {
		return 0, fmt.Errorf("stored sequence %d out of range", last)
	}
	return uint64(last), nil
}

// AppendEvent stores a committed record. Re-appending the same record is a
// no-op; reusing its sequence for a different record is ErrSequenceConflict.
func (s *Store) AppendEvent(ctx context.Context, event ledger.Event) error {
	if event.Sequence == 0 || event.Sequence > math.MaxInt64 {
		return fmt.Errorf("sequence %d out of range", event.Sequence)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO ledger_events (sequence, kind, account, amount, recorded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (sequence) DO NOTHING`),
		int64(event.Sequence),
		string(event.Kind),
		string(event.Account),
		amountValue(event.Amount),
		event.At.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event %d: %w", event.Sequence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to append event %d: %w", event.Sequence, err)
	}
	if n == 1 {
		return nil
	}

	var (
		kind    string
		account string
		amount  decimal.Decimal
	)
	err = s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT kind, account, amount FROM ledger_events WHERE sequence = ?`),
		int64(event.Sequence),
	).Scan(&kind, &account, &amount)
	if err != nil {
		return fmt.Errorf("failed to read event %d: %w", event.Sequence, err)
	}
	stored, err := toUint64(amount)
	if err != nil {
		return fmt.Errorf("event %d: %w", event.Sequence, err)
	}
	if ledger.EventKind(kind) != event.Kind || ledger.Account(account) != event.Account || stored != event.Amount {
		return fmt.Errorf("%w: sequence %d holds %s %s %d", ErrSequenceConflict, event.Sequence, kind, account, stored)
	}
	return nil
}

// Events lists the newest records first. An empty account lists all.
func (s *Store) Events(ctx context.Context, account ledger.Account, limit int) ([]ledger.Event, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	query := `SELECT sequence, kind, account, amount, recorded_at FROM ledger_events`
	args := []interface{}{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, string(account))
	}
	query += ` ORDER BY sequence DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []ledger.Event
	for rows.Next() {
		var (
			seq    int64
			kind   string
			acct   string
			amount decimal.Decimal
			at     int64
		)
		if err := rows.Scan(&seq, &kind, &acct, &amount, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		n, err := toUint64(amount)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", seq, err)
		}
		out = append(out, ledger.Event{
			Sequence: uint64(seq),
			Kind:     ledger.EventKind(kind),
			Account:  ledger.Account(acct),
			Amount:   n,
			At:       time.Unix(0, at).UTC(),
		})
	}
	return out, rows.Err()
}

func amountValue(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}

func toUint64(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("invalid stored amount %s", d)
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("stored amount %s out of range", d)
	}
	return n.Uint64(), nil
}
