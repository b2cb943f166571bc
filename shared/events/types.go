package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	FundsDeposited = "ledger.deposit"
	FundsWithdrawn = "ledger.withdrawal"
)

// AggregateType names the pool aggregate on the wire
const AggregateType = "pool"

// BaseEvent contains common event fields
type BaseEvent struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Sequence      uint64          `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Metadata contains event metadata
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Source        string `json:"source"`
}

// FundsData is the payload of deposit and withdrawal events. Amount is in
// base units; Display is the same amount in display units.
type FundsData struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Display string `json:"display,omitempty"`
}

// PayoutRequest asks a payout service to move value to an external account
type PayoutRequest struct {
	ID      uuid.UUID `json:"id"`
	Account string    `json:"account"`
	Amount  uint64    `json:"amount"`
}

// PayoutReply reports whether the payout happened
type PayoutReply struct {
	ID     uuid.UUID `json:"id"`
	OK     bool      `json:"ok"`
	Reason string    `json:"reason,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateID string, sequence uint64, at time.Time, data interface{}, metadata Metadata) (*BaseEvent, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &BaseEvent{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		Sequence:      sequence,
		Timestamp:     at,
		Version:       1,
		Data:          dataBytes,
		Metadata:      metadata,
	}, nil
}

// ParseData parses event data into the given type
func (e *BaseEvent) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
