// Package transfer composes a debit and a credit into one all-or-nothing
// movement between two wallets.
package transfer

import (
	"context"
	"errors"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/events"
	"payvault/internal/models"
	"payvault/internal/repositories"
	"payvault/internal/repositories/cache"
	"payvault/internal/services/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result describes a committed transfer.
type Result struct {
	TransferID    string                    `json:"transfer_id"`
	DebitEntry    *models.WalletTransaction `json:"debit_entry"`
	CreditEntry   *models.WalletTransaction `json:"credit_entry"`
	SourceBalance decimal.Decimal           `json:"source_balance"`
	DestBalance   decimal.Decimal           `json:"dest_balance"`
}

// Service moves funds between wallets of the same currency.
type Service interface {
	Transfer(ctx context.Context, fromWalletID, toWalletID uint, amount decimal.Decimal, op wallet.OperationContext) (*Result, error)
}

type service struct {
	repo      repositories.WalletRepository
	cache     cache.WalletCache
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService creates a new transfer service instance.
func NewService(repo repositories.WalletRepository, walletCache cache.WalletCache, publisher events.Publisher, logger *zap.Logger) Service {
	if repo == nil {
		panic("repo is required")
	}
	if walletCache == nil {
		walletCache = cache.Noop{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repo, cache: walletCache, publisher: publisher, logger: logger}
}

func (s *service) Transfer(ctx context.Context, fromWalletID, toWalletID uint, amount decimal.Decimal, op wallet.OperationContext) (*Result, error) {
	if amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if fromWalletID == toWalletID {
		return nil, domain.ErrSelfTransfer
	}

	transferID := op.TransactionID
	if transferID == "" {
		transferID = uuid.NewString()
	}

	var (
		source, dest *models.Wallet
		debitEntry   *models.WalletTransaction
		creditEntry  *models.WalletTransaction
	)
	err := repositories.WithConflictRetry(wallet.DefaultConflictRetries, func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			// Lock in ascending wallet-id order regardless of direction so
			// opposite transfers between the same pair cannot deadlock.
			firstID, secondID := fromWalletID, toWalletID
			if secondID < firstID {
				firstID, secondID = secondID, firstID
			}
			first, err := tx.GetByIDForUpdate(firstID)
			if err != nil {
				return err
			}
			second, err := tx.GetByIDForUpdate(secondID)
			if err != nil {
				return err
			}
			src, dst := first, second
			if src.ID != fromWalletID {
				src, dst = second, first
			}

			if !src.Active() {
				return &domain.ForbiddenStateError{Status: src.Status}
			}
			if !dst.Active() {
				return &domain.ForbiddenStateError{Status: dst.Status}
			}
			if src.Currency != dst.Currency {
				return domain.ErrCurrencyMismatch
			}
			if src.AvailableBalance().LessThan(amount) {
				return &domain.InsufficientFundsError{Available: src.AvailableBalance()}
			}

			if _, err := tx.GetEntryByTransactionID(transferID + ":out"); err == nil {
				return domain.ErrDuplicateTransaction
			} else if !errors.Is(err, domain.ErrTransactionNotFound) {
				return err
			}

			src.Balance = src.Balance.Sub(amount)
			dst.Balance = dst.Balance.Add(amount)
			if err := tx.Update(src); err != nil {
				return err
			}
			if err := tx.Update(dst); err != nil {
				return err
			}

			now := time.Now().UTC()
			out := &models.WalletTransaction{
				WalletID:      src.ID,
				TransactionID: transferID + ":out",
				Type:          models.TypeDebit,
				Amount:        amount.Neg(),
				Category:      models.CategoryTransfer,
				Status:        models.StatusCompleted,
				ReferenceType: models.CategoryTransfer,
				ReferenceID:   transferID,
				Metadata:      models.NewJSON(op.Metadata),
				CompletedAt:   &now,
			}
			in := &models.WalletTransaction{
				WalletID:      dst.ID,
				TransactionID: transferID + ":in",
				Type:          models.TypeCredit,
				Amount:        amount,
				Category:      models.CategoryTransfer,
				Status:        models.StatusCompleted,
				ReferenceType: models.CategoryTransfer,
				ReferenceID:   transferID,
				Metadata:      models.NewJSON(op.Metadata),
				CompletedAt:   &now,
			}
			if err := tx.CreateEntry(out); err != nil {
				return err
			}
			if err := tx.CreateEntry(in); err != nil {
				return err
			}

			source, dest = src, dst
			debitEntry, creditEntry = out, in
			return nil
		})
	})
	if err != nil {
		if repositories.IsRetryableConflict(err) {
			return nil, domain.ErrTooManyConflicts
		}
		return nil, err
	}

	for _, ownerID := range []uint{source.OwnerID, dest.OwnerID} {
		if cerr := s.cache.InvalidateWallet(ctx, ownerID); cerr != nil {
			s.logger.Warn("cache invalidation failed", zap.Uint("owner_id", ownerID), zap.Error(cerr))
		}
	}
	s.publishCompleted(transferID, source, dest, amount)

	return &Result{
		TransferID:    transferID,
		DebitEntry:    debitEntry,
		CreditEntry:   creditEntry,
		SourceBalance: source.Balance,
		DestBalance:   dest.Balance,
	}, nil
}

func (s *service) publishCompleted(transferID string, source, dest *models.Wallet, amount decimal.Decimal) {
	data := events.TransferEventData{
		TransferID:    transferID,
		FromWalletID:  source.ID,
		ToWalletID:    dest.ID,
		Amount:        amount,
		Currency:      source.Currency,
		SourceBalance: source.Balance,
		DestBalance:   dest.Balance,
	}
	go func() {
		evt, err := events.New(events.TypeTransferCompleted, "transfer", transferID, data)
		if err != nil {
			s.logger.Error("failed to build event", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("event publish failed", zap.String("transfer_id", transferID), zap.Error(err))
		}
	}()
}
