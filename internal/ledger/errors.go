package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrZeroDeposit       = errors.New("deposit value must be greater than zero")
	ErrZeroWithdrawal    = errors.New("withdrawal amount must be greater than zero")
	ErrBankCapExceeded   = errors.New("bank cap exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrThresholdExceeded = errors.New("withdrawal threshold exceeded")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrInvalidLimits     = errors.New("withdrawal threshold and bank cap must be greater than zero")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrInvalidState      = errors.New("invalid ledger state")
)

// BankCapExceededError reports the largest deposit that would currently succeed.
type BankCapExceededError struct {
	Available uint64
}

func (e *BankCapExceededError) Error() string {
	return fmt.Sprintf("bank cap exceeded: %d available", e.Available)
}

func (e *BankCapExceededError) Is(target error) bool {
	return target == ErrBankCapExceeded
}

// InsufficientFundsError carries the caller's balance at the time of the call.
type InsufficientFundsError struct {
	Balance uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d", e.Balance)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// ThresholdExceededError carries the per-call withdrawal ceiling.
type ThresholdExceededError struct {
	Threshold uint64
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("withdrawal threshold exceeded: threshold %d", e.Threshold)
}

func (e *ThresholdExceededError) Is(target error) bool {
	return target == ErrThresholdExceeded
}

// TransferFailedError wraps the error returned by the Transferer.
type TransferFailedError struct {
	Reason string
	Err    error
}

func (e *TransferFailedError) Error() string {
	return "transfer failed: " + e.Reason
}

func (e *TransferFailedError) Is(target error) bool {
	return target == ErrTransferFailed
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}
