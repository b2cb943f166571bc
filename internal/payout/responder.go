package payout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/terminal-bench/poolledger/internal/ledger"
	"github.com/terminal-bench/poolledger/shared/events"
)

// Responder serves payout requests by delegating to a transferer, usually a
// Wallet. It is the simulator side of Remote.
type Responder struct {
	transferer ledger.Transferer
	timeout    time.Duration
	logger     *zap.Logger
}

// NewResponder creates a responder
func NewResponder(transferer ledger.Transferer, timeout time.Duration, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{transferer: transferer, timeout: timeout, logger: logger}
}

// Handle decodes a PayoutRequest and performs it.
func (r *Responder) Handle(ctx context.Context, data []byte) events.PayoutReply {
	var req events.PayoutRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return events.PayoutReply{Reason: "malformed request"}
	}
	if req.Account == "" || req.Amount == 0 {
		return events.PayoutReply{ID: req.ID, Reason: "account and amount are required"}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.transferer.Transfer(ctx, ledger.Account(req.Account), req.Amount); err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "payout timed out"
		}
		return events.PayoutReply{ID: req.ID, Reason: reason}
	}
	return events.PayoutReply{ID: req.ID, OK: true}
}

// ServeMsg is a nats.MsgHandler
func (r *Responder) ServeMsg(msg *nats.Msg) {
	reply := r.Handle(context.Background(), msg.Data)
	payload, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error("failed to encode payout reply", zap.Error(err))
		return
	}
	if err := msg.Respond(payload); err != nil {
		r.logger.Warn("failed to respond to payout request",
			zap.String("payout_id", reply.ID.String()),
			zap.Error(err),
		)
	}
}
