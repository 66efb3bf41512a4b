// Package withdrawal implements the hold-based withdrawal protocol: a
// request reserves funds (held balance up, balance untouched), settlement
// converts the hold into a final debit, cancellation releases it.
package withdrawal

import (
	"context"
	"fmt"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/events"
	"payvault/internal/idempotency"
	"payvault/internal/models"
	"payvault/internal/repositories"
	"payvault/internal/repositories/cache"
	"payvault/internal/services/gateway"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultStuckAfter is how long a withdrawal may stay PENDING before the
// sweep fails it and releases its hold.
const DefaultStuckAfter = 48 * time.Hour

// Result describes a settled withdrawal.
type Result struct {
	Entry      *models.WalletTransaction `json:"entry"`
	NewBalance decimal.Decimal           `json:"new_balance"`
	Replayed   bool                      `json:"replayed"`
}

// Service is the withdrawal flow. Settle and Cancel are scoped to the owner
// of the withdrawal's wallet; ownerID 0 is the unscoped form for admins and
// internal callers.
type Service interface {
	Request(ctx context.Context, ownerID uint, amount decimal.Decimal, destination string) (*models.WalletTransaction, error)
	Settle(ctx context.Context, ownerID uint, transactionID string, proof gateway.Proof) (*Result, error)
	Cancel(ctx context.Context, ownerID uint, transactionID, reason string) error
	SweepStuck(ctx context.Context, now time.Time) (int, error)
}

// Config holds withdrawal flow configuration.
type Config struct {
	MinAmount  decimal.Decimal
	StuckAfter time.Duration
}

type service struct {
	repo      repositories.WalletRepository
	cache     cache.WalletCache
	publisher events.Publisher
	gateway   gateway.PaymentGateway
	guard     idempotency.Guard
	config    Config
	logger    *zap.Logger
}

// NewService creates a new withdrawal service.
func NewService(
	repo repositories.WalletRepository,
	walletCache cache.WalletCache,
	publisher events.Publisher,
	gw gateway.PaymentGateway,
	guard idempotency.Guard,
	config Config,
	logger *zap.Logger,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if gw == nil {
		panic("gateway is required")
	}
	if guard == nil {
		panic("idempotency guard is required")
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
	if config.StuckAfter == 0 {
		config.StuckAfter = DefaultStuckAfter
	}
	return &service{
		repo:      repo,
		cache:     walletCache,
		publisher: publisher,
		gateway:   gw,
		guard:     guard,
		config:    config,
		logger:    logger,
	}
}

func (s *service) Request(ctx context.Context, ownerID uint, amount decimal.Decimal, destination string) (*models.WalletTransaction, error) {
	if amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if s.config.MinAmount.Sign() > 0 && amount.LessThan(s.config.MinAmount) {
		return nil, domain.ErrBelowMinimum
	}

	var (
		wallet *models.Wallet
		entry  *models.WalletTransaction
	)
	err := repositories.WithConflictRetry(3, func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			w, err := tx.GetByOwnerID(ownerID)
			if err != nil {
				return err
			}
			w, err = tx.GetByIDForUpdate(w.ID)
			if err != nil {
				return err
			}
			if !w.Active() {
				return &domain.ForbiddenStateError{Status: w.Status}
			}
			if w.AvailableBalance().LessThan(amount) {
				return &domain.InsufficientFundsError{Available: w.AvailableBalance()}
			}

			// Reserve the funds; the balance itself moves only at settlement.
			w.HeldBalance = w.HeldBalance.Add(amount)
			if err := tx.Update(w); err != nil {
				return err
			}

			e := &models.WalletTransaction{
				WalletID:      w.ID,
				TransactionID: uuid.NewString(),
				Type:          models.TypeDebit,
				Amount:        amount.Neg(),
				Category:      models.CategoryWithdrawal,
				Status:        models.StatusPending,
				Metadata:      models.NewJSON(map[string]interface{}{"destination": destination}),
			}
			if err := tx.CreateEntry(e); err != nil {
				return err
			}

			wallet, entry = w, e
			return nil
		})
	})
	if err != nil {
		if repositories.IsRetryableConflict(err) {
			return nil, domain.ErrTooManyConflicts
		}
		return nil, err
	}

	s.invalidate(ctx, wallet.OwnerID)
	s.publish(events.TypeWithdrawalRequested, wallet, entry, amount.Neg())
	s.publish(events.TypeHoldCreated, wallet, entry, amount)
	return entry, nil
}

// authorize hides entries that belong to another owner's wallet. A wrong
// owner gets the same error as a missing transaction.
func authorize(repo repositories.WalletRepository, entry *models.WalletTransaction, ownerID uint) error {
	if ownerID == 0 {
		return nil
	}
	w, err := repo.GetByID(entry.WalletID)
	if err != nil {
		return err
	}
	if w.OwnerID != ownerID {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (s *service) Settle(ctx context.Context, ownerID uint, transactionID string, proof gateway.Proof) (*Result, error) {
	acquired, err := s.guard.Acquire(ctx, transactionID)
	if err != nil {
		s.logger.Warn("idempotency guard unavailable", zap.String("transaction_id", transactionID), zap.Error(err))
	} else if !acquired {
		return nil, domain.ErrInProgress
	} else {
		defer func() {
			if rerr := s.guard.Release(context.Background(), transactionID); rerr != nil {
				s.logger.Warn("idempotency guard release failed", zap.Error(rerr))
			}
		}()
	}

	entry, err := s.repo.GetEntryByTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	if entry.Category != models.CategoryWithdrawal {
		return nil, domain.ErrTransactionNotFound
	}
	if err := authorize(s.repo, entry, ownerID); err != nil {
		return nil, err
	}
	if entry.Status == models.StatusCompleted {
		return s.replayResult(entry)
	}
	if entry.Status != models.StatusPending {
		return nil, domain.ErrInvalidTransition
	}

	// Payout confirmation runs before the locked mutation; failure leaves
	// the hold in place and the entry PENDING.
	if err := s.gateway.ConfirmPayout(ctx, transactionID, proof); err != nil {
		return nil, err
	}

	var (
		wallet *models.Wallet
		result *Result
	)
	err = repositories.WithConflictRetry(3, func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			locked, err := tx.GetEntryByTransactionIDForUpdate(transactionID)
			if err != nil {
				return err
			}
			if locked.Status == models.StatusCompleted {
				w, err := tx.GetByID(locked.WalletID)
				if err != nil {
					return err
				}
				result = &Result{Entry: locked, NewBalance: w.Balance, Replayed: true}
				return nil
			}
			if locked.Status != models.StatusPending {
				return domain.ErrInvalidTransition
			}

			w, err := tx.GetByIDForUpdate(locked.WalletID)
			if err != nil {
				return err
			}

			// Convert the hold into the final debit: both balances move
			// together so available balance is unchanged by settlement.
			amount := locked.Amount.Neg()
			w.Balance = w.Balance.Sub(amount)
			w.HeldBalance = w.HeldBalance.Sub(amount)
			if w.HeldBalance.Sign() < 0 {
				w.HeldBalance = decimal.Zero
			}
			if err := tx.Update(w); err != nil {
				return err
			}
			now := time.Now().UTC()
			if err := tx.UpdateEntryStatus(locked, models.StatusCompleted, &now); err != nil {
				return err
			}
			if proof.ProviderRef != "" {
				meta := models.NewJSON(locked.Metadata)
				meta["provider_ref"] = proof.ProviderRef
				if err := tx.SetEntryMetadata(locked, meta); err != nil {
					return err
				}
			}

			wallet = w
			result = &Result{Entry: locked, NewBalance: w.Balance}
			return nil
		})
	})
	if err != nil {
		if repositories.IsRetryableConflict(err) {
			return nil, domain.ErrTooManyConflicts
		}
		return nil, err
	}

	if !result.Replayed {
		s.invalidate(ctx, wallet.OwnerID)
		s.publish(events.TypeWithdrawalSettled, wallet, result.Entry, result.Entry.Amount)
		s.publish(events.TypeHoldCaptured, wallet, result.Entry, result.Entry.Amount.Neg())
	}
	return result, nil
}

func (s *service) Cancel(ctx context.Context, ownerID uint, transactionID, reason string) error {
	var (
		wallet *models.Wallet
		entry  *models.WalletTransaction
	)
	err := repositories.WithConflictRetry(3, func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			locked, err := tx.GetEntryByTransactionIDForUpdate(transactionID)
			if err != nil {
				return err
			}
			if locked.Category != models.CategoryWithdrawal {
				return domain.ErrTransactionNotFound
			}
			if err := authorize(tx, locked, ownerID); err != nil {
				return err
			}
			if locked.Status != models.StatusPending {
				return domain.ErrInvalidTransition
			}

			w, err := tx.GetByIDForUpdate(locked.WalletID)
			if err != nil {
				return err
			}

			amount := locked.Amount.Neg()
			w.HeldBalance = w.HeldBalance.Sub(amount)
			if w.HeldBalance.Sign() < 0 {
				w.HeldBalance = decimal.Zero
			}
			if err := tx.Update(w); err != nil {
				return err
			}
			if err := tx.UpdateEntryStatus(locked, models.StatusCancelled, nil); err != nil {
				return err
			}
			meta := models.NewJSON(locked.Metadata)
			meta["cancel_reason"] = reason
			if err := tx.SetEntryMetadata(locked, meta); err != nil {
				return err
			}

			wallet, entry = w, locked
			return nil
		})
	})
	if err != nil {
		if repositories.IsRetryableConflict(err) {
			return domain.ErrTooManyConflicts
		}
		return err
	}

	s.invalidate(ctx, wallet.OwnerID)
	s.publish(events.TypeWithdrawalCancelled, wallet, entry, decimal.Zero)
	s.publish(events.TypeHoldReleased, wallet, entry, entry.Amount)
	return nil
}

// IsStuck reports whether a PENDING withdrawal has outlived its settlement
// window.
func IsStuck(entry *models.WalletTransaction, now time.Time, window time.Duration) bool {
	return entry.Status == models.StatusPending &&
		entry.Category == models.CategoryWithdrawal &&
		now.Sub(entry.CreatedAt) > window
}

// SweepStuck fails every withdrawal stuck past the configured window and
// releases its hold. Invoked periodically by the external scheduler.
func (s *service) SweepStuck(ctx context.Context, now time.Time) (int, error) {
	entries, err := s.repo.ListStuckPending(now.Add(-s.config.StuckAfter))
	if err != nil {
		return 0, err
	}
	failed := 0
	for i := range entries {
		stuck := &entries[i]
		if !IsStuck(stuck, now, s.config.StuckAfter) {
			continue
		}
		err := s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			locked, err := tx.GetEntryByTransactionIDForUpdate(stuck.TransactionID)
			if err != nil {
				return err
			}
			if locked.Status != models.StatusPending {
				return nil
			}
			w, err := tx.GetByIDForUpdate(locked.WalletID)
			if err != nil {
				return err
			}
			amount := locked.Amount.Neg()
			w.HeldBalance = w.HeldBalance.Sub(amount)
			if w.HeldBalance.Sign() < 0 {
				w.HeldBalance = decimal.Zero
			}
			if err := tx.Update(w); err != nil {
				return err
			}
			return tx.UpdateEntryStatus(locked, models.StatusFailed, nil)
		})
		if err != nil {
			s.logger.Error("sweep failed to resolve withdrawal",
				zap.String("transaction_id", stuck.TransactionID), zap.Error(err))
			continue
		}
		failed++
	}
	if failed > 0 {
		s.logger.Info("swept stuck withdrawals", zap.Int("count", failed))
	}
	return failed, nil
}

func (s *service) replayResult(entry *models.WalletTransaction) (*Result, error) {
	wallet, err := s.repo.GetByID(entry.WalletID)
	if err != nil {
		return nil, err
	}
	return &Result{Entry: entry, NewBalance: wallet.Balance, Replayed: true}, nil
}

func (s *service) invalidate(ctx context.Context, ownerID uint) {
	if err := s.cache.InvalidateWallet(ctx, ownerID); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Uint("owner_id", ownerID), zap.Error(err))
	}
}

func (s *service) publish(eventType string, wallet *models.Wallet, entry *models.WalletTransaction, delta decimal.Decimal) {
	data := events.WalletEventData{
		WalletID:      wallet.ID,
		OwnerID:       wallet.OwnerID,
		TransactionID: entry.TransactionID,
		Category:      entry.Category,
		Delta:         delta,
		NewBalance:    wallet.Balance,
		HeldBalance:   wallet.HeldBalance,
	}
	go func() {
		evt, err := events.New(eventType, "wallet", fmt.Sprint(wallet.ID), data)
		if err != nil {
			s.logger.Error("failed to build event", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
		}
	}()
}
