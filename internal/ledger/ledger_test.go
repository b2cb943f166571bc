package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testThreshold = 1000
	testCap       = 10000
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) Record(_ context.Context, event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *eventLog) all() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

func okTransfer(context.Context, Account, uint64) error { return nil }

func newTestLedger(t *testing.T, transfer TransferFunc) (*Ledger, *eventLog) {
	t.Helper()
	if transfer == nil {
		transfer = okTransfer
	}
	events := &eventLog{}
	l, err := New(testThreshold, testCap, WithTransferer(transfer), WithRecorder(events))
	require.NoError(t, err)
	return l, events
}

func TestNew(t *testing.T) {
	t.Run("should expose immutable limits", func(t *testing.T) {
		l, err := New(testThreshold, testCap)
		require.NoError(t, err)

		assert.Equal(t, uint64(testThreshold), l.WithdrawalThreshold())
		assert.Equal(t, uint64(testCap), l.BankCap())
	})

	t.Run("should reject zero limits", func(t *testing.T) {
		_, err := New(0, testCap)
		assert.ErrorIs(t, err, ErrInvalidLimits)

		_, err = New(testThreshold, 0)
		assert.ErrorIs(t, err, ErrInvalidLimits)
	})
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("should credit caller and emit record", func(t *testing.T) {
		l, events := newTestLedger(t, nil)

		require.NoError(t, l.Deposit(ctx, "A", 500))

		assert.Equal(t, uint64(500), l.BalanceOf(ctx, "A"))
		assert.Equal(t, uint64(500), l.TotalHeld(ctx))
		assert.Equal(t, uint64(1), l.DepositCount(ctx))
		require.Len(t, events.all(), 1)
		got := events.all()[0]
		assert.Equal(t, KindDeposit, got.Kind)
		assert.Equal(t, Account("A"), got.Account)
		assert.Equal(t, uint64(500), got.Amount)
		assert.Equal(t, uint64(1), got.Sequence)
	})

	t.Run("should reject zero value", func(t *testing.T) {
		l, events := newTestLedger(t, nil)

		err := l.Deposit(ctx, "A", 0)

		assert.ErrorIs(t, err, ErrZeroDeposit)
		assert.Equal(t, uint64(0), l.BalanceOf(ctx, "A"))
		assert.Equal(t, uint64(0), l.DepositCount(ctx))
		assert.Empty(t, events.all())
	})

	t.Run("should reject empty account", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)

		assert.ErrorIs(t, l.Deposit(ctx, "", 10), ErrInvalidAccount)
		assert.Equal(t, uint64(0), l.TotalHeld(ctx))
	})

	t.Run("should report available capacity when cap exceeded", func(t *testing.T) {
		l, events := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 500))

		err := l.Deposit(ctx, "B", 9600)

		var capErr *BankCapExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, uint64(9500), capErr.Available)
		assert.ErrorIs(t, err, ErrBankCapExceeded)
		assert.Equal(t, uint64(0), l.BalanceOf(ctx, "B"))
		assert.Equal(t, uint64(500), l.TotalHeld(ctx))
		assert.Equal(t, uint64(1), l.DepositCount(ctx))
		assert.Len(t, events.all(), 1)
	})

	t.Run("should accept deposit that fills the cap exactly", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 500))

		require.NoError(t, l.Deposit(ctx, "B", 9500))

		assert.Equal(t, uint64(testCap), l.TotalHeld(ctx))

		var capErr *BankCapExceededError
		require.ErrorAs(t, l.Deposit(ctx, "C", 1), &capErr)
		assert.Equal(t, uint64(0), capErr.Available)
	})

	t.Run("should not wrap around on huge values", func(t *testing.T) {
		l, err := New(1, ^uint64(0), WithTransferer(TransferFunc(okTransfer)))
		require.NoError(t, err)
		require.NoError(t, l.Deposit(ctx, "A", ^uint64(0)-1))

		var capErr *BankCapExceededError
		require.ErrorAs(t, l.Deposit(ctx, "A", 2), &capErr)
		assert.Equal(t, uint64(1), capErr.Available)
		assert.Equal(t, ^uint64(0)-1, l.BalanceOf(ctx, "A"))
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("should debit caller and pay out", func(t *testing.T) {
		var paid []uint64
		l, events := newTestLedger(t, func(_ context.Context, to Account, amount uint64) error {
			assert.Equal(t, Account("A"), to)
			paid = append(paid, amount)
			return nil
		})
		require.NoError(t, l.Deposit(ctx, "A", 600))

		require.NoError(t, l.Withdraw(ctx, "A", 600))

		assert.Equal(t, uint64(0), l.BalanceOf(ctx, "A"))
		assert.Equal(t, uint64(0), l.TotalHeld(ctx))
		assert.Equal(t, uint64(1), l.WithdrawalCount(ctx))
		assert.Equal(t, []uint64{600}, paid)
		all := events.all()
		require.Len(t, all, 2)
		assert.Equal(t, KindWithdrawal, all[1].Kind)
		assert.Equal(t, Account("A"), all[1].Account)
		assert.Equal(t, uint64(600), all[1].Amount)
		assert.Equal(t, uint64(2), all[1].Sequence)
	})

	t.Run("should reject zero amount", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 600))

		assert.ErrorIs(t, l.Withdraw(ctx, "A", 0), ErrZeroWithdrawal)
		assert.Equal(t, uint64(0), l.WithdrawalCount(ctx))
	})

	t.Run("should check balance before threshold", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 500))

		err := l.Withdraw(ctx, "A", 1200)

		var fundsErr *InsufficientFundsError
		require.ErrorAs(t, err, &fundsErr)
		assert.Equal(t, uint64(500), fundsErr.Balance)
		assert.NotErrorIs(t, err, ErrThresholdExceeded)
	})

	t.Run("should reject amount above threshold with sufficient balance", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 1000))
		require.NoError(t, l.Deposit(ctx, "A", 500))

		err := l.Withdraw(ctx, "A", 1200)

		var thresholdErr *ThresholdExceededError
		require.ErrorAs(t, err, &thresholdErr)
		assert.Equal(t, uint64(testThreshold), thresholdErr.Threshold)
		assert.Equal(t, uint64(1500), l.BalanceOf(ctx, "A"))
	})

	t.Run("should reject withdrawal from unknown account", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)

		var fundsErr *InsufficientFundsError
		require.ErrorAs(t, l.Withdraw(ctx, "ghost", 1), &fundsErr)
		assert.Equal(t, uint64(0), fundsErr.Balance)
	})

	t.Run("should roll back when transfer fails", func(t *testing.T) {
		l, events := newTestLedger(t, func(context.Context, Account, uint64) error {
			return errors.New("recipient rejected value")
		})
		require.NoError(t, l.Deposit(ctx, "A", 600))

		err := l.Withdraw(ctx, "A", 300)

		var transferErr *TransferFailedError
		require.ErrorAs(t, err, &transferErr)
		assert.Equal(t, "recipient rejected value", transferErr.Reason)
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.Equal(t, uint64(600), l.BalanceOf(ctx, "A"))
		assert.Equal(t, uint64(600), l.TotalHeld(ctx))
		assert.Equal(t, uint64(0), l.WithdrawalCount(ctx))
		assert.Len(t, events.all(), 1)
	})

	t.Run("should roll back when transferer panics", func(t *testing.T) {
		l, _ := newTestLedger(t, func(context.Context, Account, uint64) error {
			panic("boom")
		})
		require.NoError(t, l.Deposit(ctx, "A", 600))

		assert.ErrorIs(t, l.Withdraw(ctx, "A", 300), ErrTransferFailed)
		assert.Equal(t, uint64(600), l.BalanceOf(ctx, "A"))
	})

	t.Run("should fail without a transferer", func(t *testing.T) {
		l, err := New(testThreshold, testCap)
		require.NoError(t, err)
		require.NoError(t, l.Deposit(ctx, "A", 600))

		assert.ErrorIs(t, l.Withdraw(ctx, "A", 300), ErrTransferFailed)
		assert.Equal(t, uint64(600), l.BalanceOf(ctx, "A"))
	})

	t.Run("should only touch the caller's balance", func(t *testing.T) {
		l, _ := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 600))
		require.NoError(t, l.Deposit(ctx, "B", 400))

		require.NoError(t, l.Withdraw(ctx, "A", 100))

		assert.Equal(t, uint64(500), l.BalanceOf(ctx, "A"))
		assert.Equal(t, uint64(400), l.BalanceOf(ctx, "B"))
		assert.Equal(t, uint64(900), l.TotalHeld(ctx))
	})
}

func TestReads(t *testing.T) {
	t.Run("should return identical values without intervening mutation", func(t *testing.T) {
		ctx := context.Background()
		l, _ := newTestLedger(t, nil)
		require.NoError(t, l.Deposit(ctx, "A", 700))

		assert.Equal(t, l.BalanceOf(ctx, "A"), l.BalanceOf(ctx, "A"))
		assert.Equal(t, l.TotalHeld(ctx), l.TotalHeld(ctx))
		assert.Equal(t, uint64(0), l.BalanceOf(ctx, "nobody"))
	})
}

func TestRecorderFailure(t *testing.T) {
	t.Run("should keep committed state when recorder fails", func(t *testing.T) {
		ctx := context.Background()
		l, err := New(testThreshold, testCap,
			WithTransferer(TransferFunc(okTransfer)),
			WithRecorder(RecorderFunc(func(context.Context, Event) error {
				return errors.New("sink down")
			})),
		)
		require.NoError(t, err)

		require.NoError(t, l.Deposit(ctx, "A", 100))
		assert.Equal(t, uint64(100), l.BalanceOf(ctx, "A"))
	})

	t.Run("should release the lock when recorder panics", func(t *testing.T) {
		ctx := context.Background()
		calls := 0
		l, err := New(testThreshold, testCap,
			WithTransferer(TransferFunc(okTransfer)),
			WithRecorder(RecorderFunc(func(context.Context, Event) error {
				calls++
				panic("sink bug")
			})),
		)
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			require.NoError(t, l.Deposit(ctx, "A", 100))
		})

		done := make(chan uint64)
		go func() { done <- l.BalanceOf(context.Background(), "A") }()
		select {
		case got := <-done:
			assert.Equal(t, uint64(100), got)
		case <-time.After(time.Second):
			t.Fatal("ledger still locked after recorder panic")
		}

		require.NoError(t, l.Deposit(ctx, "A", 50))
		assert.Equal(t, 2, calls)
		assert.Equal(t, uint64(2), l.DepositCount(ctx))
	})
}

func TestConservation(t *testing.T) {
	t.Run("should conserve pool total across mixed operations", func(t *testing.T) {
		ctx := context.Background()
		fail := false
		l, _ := newTestLedger(t, func(context.Context, Account, uint64) error {
			if fail {
				return errors.New("flaky")
			}
			return nil
		})

		accounts := []Account{"A", "B", "C"}
		var deposited, withdrawn uint64
		for i := 0; i < 300; i++ {
			acct := accounts[i%len(accounts)]
			amount := uint64((i*37)%1300 + 1)
			fail = i%7 == 0
			if i%3 == 0 {
				if err := l.Withdraw(ctx, acct, amount); err == nil {
					withdrawn += amount
					assert.LessOrEqual(t, amount, uint64(testThreshold))
				}
				continue
			}
			if err := l.Deposit(ctx, acct, amount); err == nil {
				deposited += amount
			}
			assert.LessOrEqual(t, l.TotalHeld(ctx), uint64(testCap))
		}

		var sum uint64
		for _, acct := range accounts {
			sum += l.BalanceOf(ctx, acct)
		}
		assert.Equal(t, deposited-withdrawn, l.TotalHeld(ctx))
		assert.Equal(t, sum, l.TotalHeld(ctx))
	})
}

func TestConcurrentOperations(t *testing.T) {
	t.Run("should serialize concurrent deposits and withdrawals", func(t *testing.T) {
		ctx := context.Background()
		l, err := New(testThreshold, 1_000_000, WithTransferer(TransferFunc(okTransfer)))
		require.NoError(t, err)

		const workers = 100
		var wg sync.WaitGroup
		wg.Add(2 * workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				assert.NoError(t, l.Deposit(ctx, "A", 10))
			}()
			go func() {
				defer wg.Done()
				_ = l.Withdraw(ctx, "A", 5)
			}()
		}
		wg.Wait()

		withdrawals := l.WithdrawalCount(ctx)
		assert.Equal(t, uint64(workers), l.DepositCount(ctx))
		assert.Equal(t, uint64(workers*10)-withdrawals*5, l.BalanceOf(ctx, "A"))
		assert.Equal(t, l.BalanceOf(ctx, "A"), l.TotalHeld(ctx))
	})
}
