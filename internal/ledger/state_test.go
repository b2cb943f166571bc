package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	t.Run("should copy balances sorted by account", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		ctx := context.Background()
		require.NoError(t, l.Deposit(ctx, "carol", 300))
		require.NoError(t, l.Deposit(ctx, "alice", 500))
		require.NoError(t, l.Withdraw(ctx, "alice", 100))

		s := l.Snapshot(ctx)

		assert.Equal(t, uint64(testThreshold), s.WithdrawalThreshold)
		assert.Equal(t, uint64(testCap), s.BankCap)
		assert.Equal(t, uint64(700), s.TotalHeld)
		assert.Equal(t, uint64(2), s.DepositCount)
		assert.Equal(t, uint64(1), s.WithdrawalCount)
		assert.Equal(t, []AccountBalance{
			{Account: "alice", Balance: 400},
			{Account: "carol", Balance: 300},
		}, s.Balances)
	})

	t.Run("should not alias ledger state", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		ctx := context.Background()
		require.NoError(t, l.Deposit(ctx, "alice", 500))

		s := l.Snapshot(ctx)
		s.Balances[0].Balance = 1

		assert.Equal(t, uint64(500), l.BalanceOf(ctx, "alice"))
	})
}

func TestRestore(t *testing.T) {
	t.Run("should round trip through a fresh ledger", func(t *testing.T) {
		src, _ := newTestLedger(t, nil)
		ctx := context.Background()
		require.NoError(t, src.Deposit(ctx, "alice", 500))
		require.NoError(t, src.Deposit(ctx, "bob", 250))
		require.NoError(t, src.Withdraw(ctx, "bob", 50))

		dst, events := newTestLedger(t, nil)
		require.NoError(t, dst.Restore(ctx, src.Snapshot(ctx)))

		assert.Equal(t, src.Snapshot(ctx), dst.Snapshot(ctx))
		assert.Equal(t, uint64(200), dst.BalanceOf(ctx, "bob"))

		require.NoError(t, dst.Deposit(ctx, "carol", 1))
		all := events.all()
		require.Len(t, all, 1)
		assert.Equal(t, uint64(4), all[0].Sequence, "sequence continues after restore")
	})

	t.Run("should continue after a recorded sequence ahead of the counters", func(t *testing.T) {
		l, events := newTestLedger(t, nil)
		ctx := context.Background()
		require.NoError(t, l.Restore(ctx, State{
			WithdrawalThreshold: testThreshold,
			BankCap:             testCap,
			TotalHeld:           500,
			DepositCount:        1,
			Balances:            []AccountBalance{{Account: "alice", Balance: 500}},
			Sequence:            7,
		}))

		require.NoError(t, l.Deposit(ctx, "bob", 1))
		all := events.all()
		require.Len(t, all, 1)
		assert.Equal(t, uint64(8), all[0].Sequence)
		assert.Equal(t, uint64(8), l.Snapshot(ctx).Sequence)
	})

	t.Run("should reject mismatched limits", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		err := l.Restore(context.Background(), State{WithdrawalThreshold: 1, BankCap: testCap})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("should reject inconsistent totals", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		err := l.Restore(context.Background(), State{
			WithdrawalThreshold: testThreshold,
			BankCap:             testCap,
			TotalHeld:           10,
			Balances:            []AccountBalance{{Account: "alice", Balance: 9}},
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("should reject duplicate and empty accounts", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		ctx := context.Background()

		err := l.Restore(ctx, State{
			WithdrawalThreshold: testThreshold,
			BankCap:             testCap,
			TotalHeld:           2,
			Balances:            []AccountBalance{{Account: "a", Balance: 1}, {Account: "a", Balance: 1}},
		})
		assert.ErrorIs(t, err, ErrInvalidState)

		err = l.Restore(ctx, State{
			WithdrawalThreshold: testThreshold,
			BankCap:             testCap,
			TotalHeld:           1,
			Balances:            []AccountBalance{{Account: "", Balance: 1}},
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("should reject totals above the cap", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		err := l.Restore(context.Background(), State{
			WithdrawalThreshold: testThreshold,
			BankCap:             testCap,
			TotalHeld:           testCap + 1,
			Balances:            []AccountBalance{{Account: "a", Balance: testCap + 1}},
		})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("should reject overflowing balances", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		err := l.Restore(context.Background(), State{
			WithdrawalThreshold: testThreshold,
			BankCap:             testCap,
			Balances: []AccountBalance{
				{Account: "a", Balance: ^uint64(0)},
				{Account: "b", Balance: 1},
			},
		})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("should refuse to run inside a transfer", func(t *testing.T) {
		var l *Ledger
		var nested error
		l, _ = newTestLedger(t, func(ctx context.Context, _ Account, _ uint64) error {
			nested = l.Restore(ctx, State{WithdrawalThreshold: testThreshold, BankCap: testCap})
			return nil
		})
		ctx := context.Background()
		require.NoError(t, l.Deposit(ctx, "alice", 500))
		require.NoError(t, l.Withdraw(ctx, "alice", 100))

		assert.Error(t, nested)
		assert.Equal(t, uint64(400), l.TotalHeld(ctx))
	})
}
