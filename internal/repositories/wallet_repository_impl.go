package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository returns the Postgres-backed repository.
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) GetOrCreate(ownerID uint, currency string) (*models.Wallet, bool, error) {
	wallet := &models.Wallet{
		OwnerID:  ownerID,
		Currency: currency,
		Status:   models.WalletStatusActive,
	}
	err := r.db.Create(wallet).Error
	if err == nil {
		return wallet, true, nil
	}
	if IsDuplicateKey(err) {
		// Lost the first-access race; the winner's row is authoritative.
		existing, err := r.GetByOwnerID(ownerID)
		return existing, false, err
	}
	return nil, false, fmt.Errorf("failed to create wallet: %w", err)
}

func (r *walletRepository) GetByID(id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByOwnerID(ownerID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.Where("owner_id = ?", ownerID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByIDForUpdate(id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&wallet, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) Update(wallet *models.Wallet) error {
	if err := r.db.Save(wallet).Error; err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

func (r *walletRepository) ListSuspendedWithBalance() ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.
		Where("status = ? AND balance > 0", models.WalletStatusSuspended).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list suspended wallets: %w", err)
	}
	return wallets, nil
}

func (r *walletRepository) CreateEntry(entry *models.WalletTransaction) error {
	if err := r.db.Create(entry).Error; err != nil {
		if IsDuplicateKey(err) {
			return domain.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (r *walletRepository) UpdateEntryStatus(entry *models.WalletTransaction, status models.TransactionStatus, completedAt *time.Time) error {
	if !entry.Status.CanTransitionTo(status) {
		return domain.ErrInvalidTransition
	}
	updates := map[string]interface{}{"status": status}
	if completedAt != nil {
		updates["completed_at"] = completedAt
	}
	if err := r.db.Model(entry).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}
	entry.Status = status
	entry.CompletedAt = completedAt
	return nil
}

func (r *walletRepository) SetEntryMetadata(entry *models.WalletTransaction, metadata models.JSON) error {
	if err := r.db.Model(entry).Update("metadata", metadata).Error; err != nil {
		return fmt.Errorf("failed to update entry metadata: %w", err)
	}
	entry.Metadata = metadata
	return nil
}

func (r *walletRepository) GetEntryByTransactionID(transactionID string) (*models.WalletTransaction, error) {
	return r.getEntry(transactionID, false)
}

func (r *walletRepository) GetEntryByTransactionIDForUpdate(transactionID string) (*models.WalletTransaction, error) {
	return r.getEntry(transactionID, true)
}

func (r *walletRepository) getEntry(transactionID string, forUpdate bool) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	q := r.db
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("transaction_id = ?", transactionID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

func (r *walletRepository) ListEntries(ctx context.Context, walletID uint, filter EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("wallet_id = ?", walletID)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	var entries []models.WalletTransaction
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, total, nil
}

func (r *walletRepository) SumCompleted(walletID uint) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND status = ?", walletID, models.StatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum completed entries: %w", err)
	}
	return total, nil
}

func (r *walletRepository) ListStuckPending(cutoff time.Time) ([]models.WalletTransaction, error) {
	var entries []models.WalletTransaction
	err := r.db.
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck entries: %w", err)
	}
	return entries, nil
}

func (r *walletRepository) DebitTotal(ctx context.Context, walletID uint, start, end time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND type = ? AND status = ? AND created_at >= ? AND created_at < ?",
			walletID, models.TypeDebit, models.StatusCompleted, start, end).
		Select("COALESCE(SUM(-amount), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get debit total: %w", err)
	}
	return total, nil
}

func (r *walletRepository) ExecuteInTransaction(fn func(tx WalletRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&walletRepository{db: tx})
	})
}
