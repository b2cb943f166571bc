package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

// Error codes returned in the "error" field
const (
	codeZeroDeposit       = "zero_deposit"
	codeZeroWithdrawal    = "zero_withdrawal"
	codeInvalidAccount    = "invalid_account"
	codeInvalidAmount     = "invalid_amount"
	codeBankCapExceeded   = "bank_cap_exceeded"
	codeInsufficientFunds = "insufficient_funds"
	codeThresholdExceeded = "withdrawal_threshold_exceeded"
	codeTransferFailed    = "transfer_failed"
	codeInternal          = "internal_error"
)

// writeLedgerError maps a ledger rejection onto a status and body. The
// numeric payload of each capacity error is carried in base units.
func (g *Gateway) writeLedgerError(c *gin.Context, err error) {
	var (
		capErr       *ledger.BankCapExceededError
		fundsErr     *ledger.InsufficientFundsError
		thresholdErr *ledger.ThresholdExceededError
		transferErr  *ledger.TransferFailedError
	)

	switch {
	case errors.Is(err, ledger.ErrZeroDeposit):
		c.JSON(http.StatusBadRequest, gin.H{"error": codeZeroDeposit})
	case errors.Is(err, ledger.ErrZeroWithdrawal):
		c.JSON(http.StatusBadRequest, gin.H{"error": codeZeroWithdrawal})
	case errors.Is(err, ledger.ErrInvalidAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidAccount})
	case errors.As(err, &capErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     codeBankCapExceeded,
			"available": capErr.Available,
			"display":   g.units.Format(capErr.Available),
		})
	case errors.As(err, &fundsErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   codeInsufficientFunds,
			"balance": fundsErr.Balance,
			"display": g.units.Format(fundsErr.Balance),
		})
	case errors.As(err, &thresholdErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     codeThresholdExceeded,
			"threshold": thresholdErr.Threshold,
			"display":   g.units.Format(thresholdErr.Threshold),
		})
	case errors.As(err, &transferErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  codeTransferFailed,
			"reason": transferErr.Reason,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": codeInternal})
	}
}
