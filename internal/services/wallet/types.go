package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationContext carries the caller-supplied identity of a mutation.
// TransactionID is the idempotency key; a fresh one is generated when the
// caller does not supply it.
type OperationContext struct {
	TransactionID string
	Category      string
	ReferenceType string
	ReferenceID   string
	Metadata      map[string]interface{}
}

// Config holds configuration for wallet operations.
type Config struct {
	DefaultCurrency   string
	ConflictRetries   int
	ProcessingTimeout time.Duration
}

// Balance is the read-model returned by GetBalance.
type Balance struct {
	WalletID  uint            `json:"wallet_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Held      decimal.Decimal `json:"held_balance"`
	Available decimal.Decimal `json:"available_balance"`
}

// MetricsCollector receives operational metrics from the service.
type MetricsCollector interface {
	RecordOperation(operation, result string)
	RecordOperationDuration(operation string, duration time.Duration)
	RecordTransaction(category string, amount decimal.Decimal)
	RecordError(operation, code string)
}
