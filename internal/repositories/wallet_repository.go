package repositories

import (
	"context"
	"time"

	"payvault/internal/models"

	"github.com/shopspring/decimal"
)

// EntryFilter narrows ledger entry listings. Zero values match everything.
type EntryFilter struct {
	Type     string
	Category string
	Status   models.TransactionStatus
	From     *time.Time
	To       *time.Time
}

// WalletRepository is the persistence port for wallets and their append-only
// ledger. Implementations must guarantee that ExecuteInTransaction composes
// the enclosed reads and writes into one atomic, linearizable unit per
// wallet: GetByIDForUpdate and GetEntryByTransactionIDForUpdate acquired
// inside a transaction block concurrent writers until commit.
type WalletRepository interface {
	// Wallets. GetOrCreate reports whether it inserted the row; losing
	// the first-access race returns the winner's row with created=false.
	GetOrCreate(ownerID uint, currency string) (*models.Wallet, bool, error)
	GetByID(id uint) (*models.Wallet, error)
	GetByOwnerID(ownerID uint) (*models.Wallet, error)
	GetByIDForUpdate(id uint) (*models.Wallet, error)
	Update(wallet *models.Wallet) error
	ListSuspendedWithBalance() ([]models.Wallet, error)

	// Ledger entries
	CreateEntry(entry *models.WalletTransaction) error
	UpdateEntryStatus(entry *models.WalletTransaction, status models.TransactionStatus, completedAt *time.Time) error
	SetEntryMetadata(entry *models.WalletTransaction, metadata models.JSON) error
	GetEntryByTransactionID(transactionID string) (*models.WalletTransaction, error)
	GetEntryByTransactionIDForUpdate(transactionID string) (*models.WalletTransaction, error)
	ListEntries(ctx context.Context, walletID uint, filter EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error)
	SumCompleted(walletID uint) (decimal.Decimal, error)
	ListStuckPending(cutoff time.Time) ([]models.WalletTransaction, error)
	DebitTotal(ctx context.Context, walletID uint, start, end time.Time) (decimal.Decimal, error)

	// ExecuteInTransaction runs fn against a transactional view of the
	// repository; any error rolls the whole unit back.
	ExecuteInTransaction(fn func(tx WalletRepository) error) error
}
