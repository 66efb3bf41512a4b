package wallet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/events"
	"payvault/internal/models"
	"payvault/internal/repositories"
	"payvault/internal/repositories/cache"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service is the balance-mutation core of the ledger engine.
type Service interface {
	// Wallet lookup and lifecycle
	GetOrCreateWallet(ctx context.Context, ownerID uint, currency string) (*models.Wallet, error)
	GetWallet(ctx context.Context, ownerID uint) (*models.Wallet, error)
	GetBalance(ctx context.Context, ownerID uint) (*Balance, error)
	Suspend(ctx context.Context, walletID uint, reason, actor string) error
	Activate(ctx context.Context, walletID uint, actor string) error

	// Atomic balance mutations
	Credit(ctx context.Context, walletID uint, amount decimal.Decimal, op OperationContext) (decimal.Decimal, error)
	Debit(ctx context.Context, walletID uint, amount decimal.Decimal, op OperationContext) (decimal.Decimal, error)
	Hold(ctx context.Context, walletID uint, amount decimal.Decimal) error
	Release(ctx context.Context, walletID uint, amount decimal.Decimal) error

	// PIN
	SetPIN(ctx context.Context, ownerID uint, pin string) error
	VerifyPIN(ctx context.Context, ownerID uint, pin string) error

	// Ledger reads
	GetTransactions(ctx context.Context, ownerID uint, filter repositories.EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error)

	// SuspendedWithBalance is the alert decision the external scheduler
	// polls: suspended wallets still holding funds.
	SuspendedWithBalance(ctx context.Context) ([]models.Wallet, error)
}

type service struct {
	repo      repositories.WalletRepository
	cache     cache.WalletCache
	publisher events.Publisher
	config    Config
	metrics   MetricsCollector
	logger    *zap.Logger
}

// NewService creates a new wallet service.
func NewService(
	repo repositories.WalletRepository,
	walletCache cache.WalletCache,
	publisher events.Publisher,
	config Config,
	metrics MetricsCollector,
	logger *zap.Logger,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if walletCache == nil {
		walletCache = cache.Noop{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = DefaultCurrency
	}
	if config.ConflictRetries <= 0 {
		config.ConflictRetries = DefaultConflictRetries
	}
	if config.ProcessingTimeout == 0 {
		config.ProcessingTimeout = DefaultTimeout
	}

	return &service{
		repo:      repo,
		cache:     walletCache,
		publisher: publisher,
		config:    config,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *service) GetOrCreateWallet(ctx context.Context, ownerID uint, currency string) (*models.Wallet, error) {
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	if wallet, err := s.repo.GetByOwnerID(ownerID); err == nil {
		return wallet, nil
	} else if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	wallet, created, err := s.repo.GetOrCreate(ownerID, currency)
	if err != nil {
		return nil, err
	}
	// Losing the insert race returns the winner's row; only an actual
	// insert announces itself.
	if created {
		s.publishEvent(events.TypeWalletCreated, wallet, "", "", decimal.Zero)
	}
	return wallet, nil
}

func (s *service) GetWallet(ctx context.Context, ownerID uint) (*models.Wallet, error) {
	// Snapshot cache first; the authoritative store on a miss.
	if wallet, err := s.cache.GetWallet(ctx, ownerID); err == nil {
		return wallet, nil
	}

	wallet, err := s.repo.GetByOwnerID(ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetWallet(ctx, wallet); err != nil {
		s.logger.Warn("failed to cache wallet", zap.Uint("owner_id", ownerID), zap.Error(err))
	}
	return wallet, nil
}

// GetBalance always reads the authoritative store; balances drive caller
// decisions and must not see cache staleness.
func (s *service) GetBalance(ctx context.Context, ownerID uint) (*Balance, error) {
	wallet, err := s.repo.GetByOwnerID(ownerID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		WalletID:  wallet.ID,
		Currency:  wallet.Currency,
		Balance:   wallet.Balance,
		Held:      wallet.HeldBalance,
		Available: wallet.AvailableBalance(),
	}, nil
}

func (s *service) Credit(ctx context.Context, walletID uint, amount decimal.Decimal, op OperationContext) (decimal.Decimal, error) {
	start := time.Now()
	wallet, entry, err := s.applyEntry(ctx, walletID, models.TypeCredit, amount, op)
	s.metrics.RecordOperationDuration(opCredit, time.Since(start))
	if err != nil {
		s.recordFailure(opCredit, err)
		return decimal.Zero, err
	}
	s.metrics.RecordOperation(opCredit, "success")
	s.metrics.RecordTransaction(entry.Category, amount)
	s.afterCommit(ctx, wallet, events.TypeWalletCredited, entry.TransactionID, entry.Category, amount)
	return wallet.Balance, nil
}

func (s *service) Debit(ctx context.Context, walletID uint, amount decimal.Decimal, op OperationContext) (decimal.Decimal, error) {
	start := time.Now()
	wallet, entry, err := s.applyEntry(ctx, walletID, models.TypeDebit, amount, op)
	s.metrics.RecordOperationDuration(opDebit, time.Since(start))
	if err != nil {
		s.recordFailure(opDebit, err)
		return decimal.Zero, err
	}
	s.metrics.RecordOperation(opDebit, "success")
	s.metrics.RecordTransaction(entry.Category, amount)
	s.afterCommit(ctx, wallet, events.TypeWalletDebited, entry.TransactionID, entry.Category, amount.Neg())
	return wallet.Balance, nil
}

// applyEntry is the single atomic unit behind Credit and Debit: wallet row
// locked, status and funds checked, balance moved and the COMPLETED ledger
// entry written, all in one transaction. Any rejection rolls back whole.
func (s *service) applyEntry(ctx context.Context, walletID uint, entryType string, amount decimal.Decimal, op OperationContext) (*models.Wallet, *models.WalletTransaction, error) {
	if amount.Sign() <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}
	txID := op.TransactionID
	if txID == "" {
		txID = uuid.NewString()
	}
	category := op.Category
	if category == "" {
		category = models.CategoryPayment
	}

	var (
		wallet *models.Wallet
		entry  *models.WalletTransaction
	)
	err := s.inTx(func(tx repositories.WalletRepository) error {
		w, err := tx.GetByIDForUpdate(walletID)
		if err != nil {
			return err
		}
		if !w.Active() {
			return &domain.ForbiddenStateError{Status: w.Status}
		}

		if _, err := tx.GetEntryByTransactionID(txID); err == nil {
			return domain.ErrDuplicateTransaction
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}

		signed := amount
		if entryType == models.TypeDebit {
			if w.AvailableBalance().LessThan(amount) {
				return &domain.InsufficientFundsError{Available: w.AvailableBalance()}
			}
			if err := s.checkLimits(ctx, tx, w, amount); err != nil {
				return err
			}
			signed = amount.Neg()
			w.Balance = w.Balance.Sub(amount)
		} else {
			w.Balance = w.Balance.Add(amount)
		}

		if err := tx.Update(w); err != nil {
			return err
		}

		now := time.Now().UTC()
		e := &models.WalletTransaction{
			WalletID:      w.ID,
			TransactionID: txID,
			Type:          entryType,
			Amount:        signed,
			Category:      category,
			Status:        models.StatusCompleted,
			ReferenceType: op.ReferenceType,
			ReferenceID:   op.ReferenceID,
			Metadata:      models.NewJSON(op.Metadata),
			CompletedAt:   &now,
		}
		if err := tx.CreateEntry(e); err != nil {
			return err
		}

		wallet, entry = w, e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return wallet, entry, nil
}

func (s *service) Hold(ctx context.Context, walletID uint, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	var wallet *models.Wallet
	err := s.inTx(func(tx repositories.WalletRepository) error {
		w, err := tx.GetByIDForUpdate(walletID)
		if err != nil {
			return err
		}
		if !w.Active() {
			return &domain.ForbiddenStateError{Status: w.Status}
		}
		if w.AvailableBalance().LessThan(amount) {
			return &domain.InsufficientFundsError{Available: w.AvailableBalance()}
		}
		w.HeldBalance = w.HeldBalance.Add(amount)
		if err := tx.Update(w); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		s.recordFailure(opHold, err)
		return err
	}
	s.metrics.RecordOperation(opHold, "success")
	s.afterCommit(ctx, wallet, events.TypeHoldCreated, "", "", amount)
	return nil
}

func (s *service) Release(ctx context.Context, walletID uint, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	var wallet *models.Wallet
	err := s.inTx(func(tx repositories.WalletRepository) error {
		w, err := tx.GetByIDForUpdate(walletID)
		if err != nil {
			return err
		}
		if !w.Active() {
			return &domain.ForbiddenStateError{Status: w.Status}
		}
		// Held balance never goes below zero.
		w.HeldBalance = w.HeldBalance.Sub(amount)
		if w.HeldBalance.Sign() < 0 {
			w.HeldBalance = decimal.Zero
		}
		if err := tx.Update(w); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		s.recordFailure(opRelease, err)
		return err
	}
	s.metrics.RecordOperation(opRelease, "success")
	s.afterCommit(ctx, wallet, events.TypeHoldReleased, "", "", amount.Neg())
	return nil
}

func (s *service) Suspend(ctx context.Context, walletID uint, reason, actor string) error {
	return s.setStatus(ctx, walletID, models.WalletStatusSuspended, reason, actor, events.TypeWalletSuspended, opSuspend)
}

func (s *service) Activate(ctx context.Context, walletID uint, actor string) error {
	return s.setStatus(ctx, walletID, models.WalletStatusActive, "", actor, events.TypeWalletActivated, opActivate)
}

func (s *service) setStatus(ctx context.Context, walletID uint, status, reason, actor, eventType, op string) error {
	var wallet *models.Wallet
	err := s.inTx(func(tx repositories.WalletRepository) error {
		w, err := tx.GetByIDForUpdate(walletID)
		if err != nil {
			return err
		}
		w.Status = status
		w.StatusReason = reason
		if err := tx.Update(w); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		s.recordFailure(op, err)
		return err
	}
	s.logger.Info("wallet status changed",
		zap.Uint("wallet_id", walletID),
		zap.String("status", status),
		zap.String("reason", reason),
		zap.String("actor", actor),
	)
	s.metrics.RecordOperation(op, "success")
	s.afterCommit(ctx, wallet, eventType, "", "", decimal.Zero)
	return nil
}

var pinPattern = regexp.MustCompile(`^[0-9]+$`)

func (s *service) SetPIN(ctx context.Context, ownerID uint, pin string) error {
	if len(pin) < minPINLength || len(pin) > maxPINLength || !pinPattern.MatchString(pin) {
		return domain.ErrInvalidPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash PIN: %w", err)
	}

	// The write goes through the row lock like every other mutation;
	// Update persists the full row, so an unlocked read-modify-write
	// would revert balances committed in between.
	err = s.inTx(func(tx repositories.WalletRepository) error {
		w, err := tx.GetByOwnerID(ownerID)
		if err != nil {
			return err
		}
		w, err = tx.GetByIDForUpdate(w.ID)
		if err != nil {
			return err
		}
		w.PINHash = string(hash)
		return tx.Update(w)
	})
	if err != nil {
		return err
	}
	if err := s.cache.InvalidateWallet(ctx, ownerID); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Uint("owner_id", ownerID), zap.Error(err))
	}
	return nil
}

func (s *service) VerifyPIN(ctx context.Context, ownerID uint, pin string) error {
	wallet, err := s.repo.GetByOwnerID(ownerID)
	if err != nil {
		return err
	}
	if wallet.PINHash == "" {
		return domain.ErrPINNotSet
	}
	if bcrypt.CompareHashAndPassword([]byte(wallet.PINHash), []byte(pin)) != nil {
		return domain.ErrInvalidPIN
	}
	return nil
}

func (s *service) GetTransactions(ctx context.Context, ownerID uint, filter repositories.EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error) {
	wallet, err := s.repo.GetByOwnerID(ownerID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListEntries(ctx, wallet.ID, filter, limit, offset)
}

func (s *service) SuspendedWithBalance(ctx context.Context) ([]models.Wallet, error) {
	return s.repo.ListSuspendedWithBalance()
}

// Helper methods

func (s *service) checkLimits(ctx context.Context, tx repositories.WalletRepository, w *models.Wallet, amount decimal.Decimal) error {
	now := time.Now().UTC()

	if w.DailyLimit.Sign() > 0 {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		spent, err := tx.DebitTotal(ctx, w.ID, startOfDay, startOfDay.Add(24*time.Hour))
		if err != nil {
			return fmt.Errorf("failed to check daily limit: %w", err)
		}
		if spent.Add(amount).GreaterThan(w.DailyLimit) {
			return domain.ErrDailyLimitExceeded
		}
	}

	if w.MonthlyLimit.Sign() > 0 {
		startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spent, err := tx.DebitTotal(ctx, w.ID, startOfMonth, startOfMonth.AddDate(0, 1, 0))
		if err != nil {
			return fmt.Errorf("failed to check monthly limit: %w", err)
		}
		if spent.Add(amount).GreaterThan(w.MonthlyLimit) {
			return domain.ErrMonthlyLimitExceeded
		}
	}

	return nil
}

// inTx runs fn transactionally with bounded retry on transient conflicts.
func (s *service) inTx(fn func(tx repositories.WalletRepository) error) error {
	err := repositories.WithConflictRetry(s.config.ConflictRetries, func() error {
		return s.repo.ExecuteInTransaction(fn)
	})
	if err != nil && repositories.IsRetryableConflict(err) {
		return domain.ErrTooManyConflicts
	}
	return err
}

// afterCommit runs the post-commit side effects. None of them can fail the
// already-committed mutation.
func (s *service) afterCommit(ctx context.Context, w *models.Wallet, eventType, txID, category string, delta decimal.Decimal) {
	if err := s.cache.InvalidateWallet(ctx, w.OwnerID); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Uint("owner_id", w.OwnerID), zap.Error(err))
	}
	s.publishEvent(eventType, w, txID, category, delta)
}

func (s *service) publishEvent(eventType string, w *models.Wallet, txID, category string, delta decimal.Decimal) {
	snapshot := *w
	go func() {
		evt, err := events.New(eventType, "wallet", fmt.Sprint(snapshot.ID), events.WalletEventData{
			WalletID:      snapshot.ID,
			OwnerID:       snapshot.OwnerID,
			TransactionID: txID,
			Category:      category,
			Delta:         delta,
			NewBalance:    snapshot.Balance,
			HeldBalance:   snapshot.HeldBalance,
		})
		if err != nil {
			s.logger.Error("failed to build event", zap.String("type", eventType), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
		}
	}()
}

func (s *service) recordFailure(op string, err error) {
	code := "internal"
	var de *domain.DomainError
	var insufficient *domain.InsufficientFundsError
	var forbidden *domain.ForbiddenStateError
	switch {
	case errors.As(err, &de):
		code = de.Code
	case errors.As(err, &insufficient):
		code = "INSUFFICIENT_FUNDS"
	case errors.As(err, &forbidden):
		code = "WALLET_NOT_ACTIVE"
	}
	s.metrics.RecordOperation(op, "failure")
	s.metrics.RecordError(op, code)
}
