package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/shared/events"
)

var (
	ErrPayoutRejected = errors.New("payout rejected")
	ErrReplyMismatch  = errors.New("payout reply does not match request")
)

// Requester sends a request and waits for the reply
type Requester interface {
	Request(ctx context.Context, subject string, data interface{}) (*nats.Msg, error)
}

// Remote asks an external payout service over NATS request/reply to move
// value. A timeout is reported as a failure.
type Remote struct {
	requester Requester
	subject   string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRemote creates a remote transferer
func NewRemote(requester Requester, subject string, timeout time.Duration, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		requester: requester,
		subject:   subject,
		timeout:   timeout,
		logger:    logger,
	}
}

// Transfer implements ledger.Transferer
func (r *Remote) Transfer(ctx context.Context, to ledger.Account, amount uint64) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req := events.PayoutRequest{
		ID:      uuid.New(),
		Account: string(to),
		Amount:  amount,
	}

	msg, err := r.requester.Request(ctx, r.subject, req)
	if err != nil {
		r.logger.Warn("payout request failed",
			zap.String("payout_id", req.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("payout %s: %w", req.ID, err)
	}

	var reply events.PayoutReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to decode payout reply: %w", err)
	}
	if reply.ID != req.ID {
		return fmt.Errorf("%w: sent %s, got %s", ErrReplyMismatch, req.ID, reply.ID)
	}
	if !reply.OK {
		if reply.Reason == "" {
			return ErrPayoutRejected
		}
		return fmt.Errorf("%w: %s", ErrPayoutRejected, reply.Reason)
	}
	return nil
}
