package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TypeCredit = "CREDIT"
	TypeDebit  = "DEBIT"
)

// Transaction categories
const (
	CategoryDeposit    = "DEPOSIT"
	CategoryWithdrawal = "WITHDRAWAL"
	CategoryPayment    = "PAYMENT"
	CategoryRefund     = "REFUND"
	CategoryTransfer   = "TRANSFER"
	CategoryCashback   = "CASHBACK"
	CategoryFee        = "FEE"
)

// TransactionStatus is the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "PENDING"
	StatusProcessing    TransactionStatus = "PROCESSING"
	StatusCompleted     TransactionStatus = "COMPLETED"
	StatusFailed        TransactionStatus = "FAILED"
	StatusCancelled     TransactionStatus = "CANCELLED"
	StatusPartiallyPaid TransactionStatus = "PARTIALLY_PAID"
)

var statusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:       {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusPartiallyPaid},
	StatusProcessing:    {StatusCompleted, StatusFailed},
	StatusPartiallyPaid: {StatusCompleted, StatusFailed},
}

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// CanTransitionTo reports whether the s -> next transition is legal.
// Every status write in the engine goes through this check.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WalletTransaction is one immutable ledger entry. Amount is signed: CREDIT
// entries are positive, DEBIT entries negative, so the sum of COMPLETED
// amounts for a wallet equals its balance. Amount and WalletID are never
// updated after creation; corrections are made with an opposing entry.
type WalletTransaction struct {
	ID            uint              `gorm:"primarykey"`
	WalletID      uint              `gorm:"index;not null"`
	TransactionID string            `gorm:"uniqueIndex;not null"` // caller-supplied idempotency key
	Type          string            `gorm:"not null"`
	Amount        decimal.Decimal   `gorm:"type:numeric(20,4);not null"`
	Category      string            `gorm:"not null;default:'PAYMENT'"`
	Status        TransactionStatus `gorm:"not null;default:'PENDING'"`
	ReferenceType string            // link to the triggering order/claim/etc., opaque here
	ReferenceID   string
	Metadata      JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}
