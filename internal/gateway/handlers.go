package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// AmountRequest carries either base units or a display decimal, not both
type AmountRequest struct {
	Amount *uint64 `json:"amount"`
	Value  string  `json:"value"`
}

type TokenRequest struct {
	Account string `json:"account" binding:"required"`
}

type MutationResponse struct {
	Account        string `json:"account"`
	Amount         uint64 `json:"amount"`
	Balance        uint64 `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

type PoolResponse struct {
	TotalHeld           uint64 `json:"total_held"`
	TotalHeldDisplay    string `json:"total_held_display"`
	DepositCount        uint64 `json:"deposit_count"`
	WithdrawalCount     uint64 `json:"withdrawal_count"`
	WithdrawalThreshold uint64 `json:"withdrawal_threshold"`
	BankCap             uint64 `json:"bank_cap"`
	Decimals            int32  `json:"decimals"`
}

func (g *Gateway) healthCheck(c *gin.Context) {
	body := gin.H{
		"status": "healthy",
		"leader": g.leader.IsLeader(),
	}
	if g.breaker != nil {
		body["payout_breaker"] = g.breaker.State().String()
	}
	c.JSON(http.StatusOK, body)
}

func (g *Gateway) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := g.auth.Issue(req.Account)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (g *Gateway) deposit(c *gin.Context) {
	g.mutate(c, ledger.KindDeposit)
}

func (g *Gateway) withdraw(c *gin.Context) {
	g.mutate(c, ledger.KindWithdrawal)
}

func (g *Gateway) mutate(c *gin.Context, kind ledger.EventKind) {
	amount, ok := g.bindAmount(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	caller := ledger.Account(c.GetString(ctxAccount))

	var err error
	if kind == ledger.KindDeposit {
		err = g.ledger.Deposit(ctx, caller, amount)
	} else {
		err = g.ledger.Withdraw(ctx, caller, amount)
	}
	if err != nil {
		g.writeLedgerError(c, err)
		return
	}

	if g.persist != nil {
		if err := g.persist(ctx); err != nil {
			g.logger.Error("failed to persist ledger state",
				zap.String("op", string(kind)),
				zap.String("account", string(caller)),
				zap.String("correlation_id", c.GetString(ctxCorrelationID)),
				zap.Error(err),
			)
		}
	}

	balance := g.ledger.BalanceOf(ctx, caller)
	c.JSON(http.StatusOK, MutationResponse{
		Account:        string(caller),
		Amount:         amount,
		Balance:        balance,
		BalanceDisplay: g.units.Format(balance),
	})
}

// bindAmount decodes an AmountRequest. A zero amount is passed on so the
// ledger reports it.
func (g *Gateway) bindAmount(c *gin.Context) (uint64, bool) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidAmount, "reason": err.Error()})
		return 0, false
	}

	switch {
	case req.Amount != nil && req.Value != "":
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidAmount, "reason": "send amount or value, not both"})
		return 0, false
	case req.Amount != nil:
		return *req.Amount, true
	case req.Value != "":
		amount, err := g.units.Parse(req.Value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidAmount, "reason": err.Error()})
			return 0, false
		}
		return amount, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidAmount, "reason": "amount is required"})
		return 0, false
	}
}

func (g *Gateway) getBalance(c *gin.Context) {
	account := c.Param("account")
	balance := g.ledger.BalanceOf(c.Request.Context(), ledger.Account(account))
	c.JSON(http.StatusOK, gin.H{
		"account":         account,
		"balance":         balance,
		"balance_display": g.units.Format(balance),
	})
}

func (g *Gateway) getPool(c *gin.Context) {
	s := g.ledger.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, PoolResponse{
		TotalHeld:           s.TotalHeld,
		TotalHeldDisplay:    g.units.Format(s.TotalHeld),
		DepositCount:        s.DepositCount,
		WithdrawalCount:     s.WithdrawalCount,
		WithdrawalThreshold: s.WithdrawalThreshold,
		BankCap:             s.BankCap,
		Decimals:            g.units.Decimals(),
	})
}

func (g *Gateway) listEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxEventLimit)})
			return
		}
		limit = n
	}

	list, err := g.events.Events(c.Request.Context(), ledger.Account(c.Query("account")), limit)
	if err != nil {
		g.logger.Error("failed to list events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": codeInternal})
		return
	}
	if list == nil {
		list = []ledger.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": list})
}
