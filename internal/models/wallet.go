package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet statuses
const (
	WalletStatusActive    = "ACTIVE"
	WalletStatusFrozen    = "FROZEN"
	WalletStatusSuspended = "SUSPENDED"
)

// Wallet is the per-owner monetary account. HeldBalance reserves funds for
// pending withdrawals and never exceeds Balance.
type Wallet struct {
	ID           uint            `gorm:"primarykey"`
	OwnerID      uint            `gorm:"uniqueIndex;not null"`
	Currency     string          `gorm:"size:3;default:'USD'"`
	Balance      decimal.Decimal `gorm:"type:numeric(20,4);default:0"`
	HeldBalance  decimal.Decimal `gorm:"type:numeric(20,4);default:0"`
	Status       string          `gorm:"default:'ACTIVE'"`
	StatusReason string          `gorm:"default:''"`
	PINHash      string          `gorm:"column:pin_hash;default:''"`
	DailyLimit   decimal.Decimal `gorm:"type:numeric(20,4);default:0"`
	MonthlyLimit decimal.Decimal `gorm:"type:numeric(20,4);default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	// Wallets always start empty
	w.Balance = decimal.Zero
	w.HeldBalance = decimal.Zero
	return nil
}

// AvailableBalance is the amount actually spendable.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.HeldBalance)
}

func (w *Wallet) Active() bool {
	return w.Status == WalletStatusActive
}
