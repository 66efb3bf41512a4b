// Package events defines the domain events emitted after committed ledger
// mutations and the publisher port they travel through. Publishing is a
// post-commit side effect: it must never block or fail a mutation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Event is the envelope every domain event is wrapped in.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// New creates an event with a fresh ULID.
func New(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          payload,
	}, nil
}

// DecodeData decodes the event payload into v.
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to notification/audit collaborators.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	TypeWalletCreated   = "wallet.created"
	TypeWalletCredited  = "wallet.credited"
	TypeWalletDebited   = "wallet.debited"
	TypeWalletSuspended = "wallet.suspended"
	TypeWalletActivated = "wallet.activated"

	TypeHoldCreated  = "wallet.hold.created"
	TypeHoldReleased = "wallet.hold.released"
	TypeHoldCaptured = "wallet.hold.captured"

	TypeDepositInitiated = "deposit.initiated"
	TypeDepositCredited  = "deposit.credited"
	TypeDepositFailed    = "deposit.failed"

	TypeWithdrawalRequested = "withdrawal.requested"
	TypeWithdrawalSettled   = "withdrawal.settled"
	TypeWithdrawalCancelled = "withdrawal.cancelled"
	TypeWithdrawalFailed    = "withdrawal.failed"

	TypeTransferCompleted = "transfer.completed"
)

// WalletEventData is the payload for balance-affecting wallet events.
type WalletEventData struct {
	WalletID      uint            `json:"wallet_id"`
	OwnerID       uint            `json:"owner_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Category      string          `json:"category,omitempty"`
	Delta         decimal.Decimal `json:"delta"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	HeldBalance   decimal.Decimal `json:"held_balance"`
}

// TransferEventData is the payload for transfer.completed events.
type TransferEventData struct {
	TransferID    string          `json:"transfer_id"`
	FromWalletID  uint            `json:"from_wallet_id"`
	ToWalletID    uint            `json:"to_wallet_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	SourceBalance decimal.Decimal `json:"source_balance"`
	DestBalance   decimal.Decimal `json:"dest_balance"`
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }
