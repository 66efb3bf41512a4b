// Package deposit implements the two-phase deposit protocol: an initiated
// deposit records a PENDING CREDIT entry without touching the balance;
// only a verified completion credits the wallet, exactly once.
package deposit

import (
	"context"
	"errors"
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

// DefaultStuckAfter is how long a deposit may stay PENDING before the
// sweep fails it.
const DefaultStuckAfter = 24 * time.Hour

// Result describes the final state of a completed deposit. Replay of an
// already-completed transaction id returns the original result unchanged.
type Result struct {
	Entry      *models.WalletTransaction `json:"entry"`
	NewBalance decimal.Decimal           `json:"new_balance"`
	Replayed   bool                      `json:"replayed"`
}

// Service is the deposit flow. Complete and Fail are scoped to the owner of
// the deposit's wallet; ownerID 0 is the unscoped form for admins and
// internal callers.
type Service interface {
	Initiate(ctx context.Context, ownerID uint, amount decimal.Decimal, method string) (*models.WalletTransaction, error)
	Complete(ctx context.Context, ownerID uint, transactionID string, proof gateway.Proof) (*Result, error)
	Fail(ctx context.Context, ownerID uint, transactionID, reason string) error
	SweepStuck(ctx context.Context, now time.Time) (int, error)
}

// Config holds deposit flow configuration.
type Config struct {
	DefaultCurrency string
	StuckAfter      time.Duration
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

// NewService creates a new deposit service.
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
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "USD"
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

func (s *service) Initiate(ctx context.Context, ownerID uint, amount decimal.Decimal, method string) (*models.WalletTransaction, error) {
	if amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	wallet, _, err := s.repo.GetOrCreate(ownerID, s.config.DefaultCurrency)
	if err != nil {
		return nil, err
	}
	if !wallet.Active() {
		return nil, &domain.ForbiddenStateError{Status: wallet.Status}
	}

	entry := &models.WalletTransaction{
		WalletID:      wallet.ID,
		TransactionID: uuid.NewString(),
		Type:          models.TypeCredit,
		Amount:        amount,
		Category:      models.CategoryDeposit,
		Status:        models.StatusPending,
		Metadata:      models.NewJSON(map[string]interface{}{"method": method}),
	}
	if err := s.repo.CreateEntry(entry); err != nil {
		return nil, err
	}

	s.publish(events.TypeDepositInitiated, wallet, entry, amount)
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

func (s *service) Complete(ctx context.Context, ownerID uint, transactionID string, proof gateway.Proof) (*Result, error) {
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
	if entry.Category != models.CategoryDeposit {
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

	// Gateway verification happens before the locked mutation; a timeout
	// here leaves the entry PENDING for the sweep to resolve.
	if err := s.gateway.VerifyDeposit(ctx, transactionID, proof); err != nil {
		if errors.Is(err, domain.ErrProofRejected) {
			if ferr := s.Fail(ctx, ownerID, transactionID, "proof rejected"); ferr != nil {
				s.logger.Error("failed to fail deposit", zap.String("transaction_id", transactionID), zap.Error(ferr))
			}
		}
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
				// A concurrent retry won the race; reuse its outcome.
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
			if !w.Active() {
				return &domain.ForbiddenStateError{Status: w.Status}
			}

			w.Balance = w.Balance.Add(locked.Amount)
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
		if cerr := s.cache.InvalidateWallet(ctx, wallet.OwnerID); cerr != nil {
			s.logger.Warn("cache invalidation failed", zap.Uint("owner_id", wallet.OwnerID), zap.Error(cerr))
		}
		s.publish(events.TypeDepositCredited, wallet, result.Entry, result.Entry.Amount)
	}
	return result, nil
}

func (s *service) Fail(ctx context.Context, ownerID uint, transactionID, reason string) error {
	var entry *models.WalletTransaction
	err := s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
		locked, err := tx.GetEntryByTransactionIDForUpdate(transactionID)
		if err != nil {
			return err
		}
		if err := authorize(tx, locked, ownerID); err != nil {
			return err
		}
		if locked.Status != models.StatusPending {
			return domain.ErrInvalidTransition
		}
		if err := tx.UpdateEntryStatus(locked, models.StatusFailed, nil); err != nil {
			return err
		}
		meta := models.NewJSON(locked.Metadata)
		meta["failure_reason"] = reason
		if err := tx.SetEntryMetadata(locked, meta); err != nil {
			return err
		}
		entry = locked
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(events.TypeDepositFailed, nil, entry, entry.Amount)
	return nil
}

// IsStuck reports whether a PENDING deposit has outlived its completion
// window. Pure so the sweep policy is testable without a clock.
func IsStuck(entry *models.WalletTransaction, now time.Time, window time.Duration) bool {
	return entry.Status == models.StatusPending &&
		entry.Category == models.CategoryDeposit &&
		now.Sub(entry.CreatedAt) > window
}

// SweepStuck fails every deposit stuck past the configured window. Invoked
// periodically by the external scheduler.
func (s *service) SweepStuck(ctx context.Context, now time.Time) (int, error) {
	entries, err := s.repo.ListStuckPending(now.Add(-s.config.StuckAfter))
	if err != nil {
		return 0, err
	}
	failed := 0
	for i := range entries {
		entry := &entries[i]
		if !IsStuck(entry, now, s.config.StuckAfter) {
			continue
		}
		if err := s.Fail(ctx, 0, entry.TransactionID, "stuck pending past deadline"); err != nil {
			s.logger.Error("sweep failed to resolve deposit",
				zap.String("transaction_id", entry.TransactionID), zap.Error(err))
			continue
		}
		failed++
	}
	if failed > 0 {
		s.logger.Info("swept stuck deposits", zap.Int("count", failed))
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

func (s *service) publish(eventType string, wallet *models.Wallet, entry *models.WalletTransaction, amount decimal.Decimal) {
	data := events.WalletEventData{
		WalletID:      entry.WalletID,
		TransactionID: entry.TransactionID,
		Category:      entry.Category,
		Delta:         amount,
	}
	if wallet != nil {
		data.OwnerID = wallet.OwnerID
		data.NewBalance = wallet.Balance
		data.HeldBalance = wallet.HeldBalance
	}
	go func() {
		evt, err := events.New(eventType, "wallet", fmt.Sprint(entry.WalletID), data)
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
