package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/events"
	"payvault/internal/models"
	"payvault/internal/repositories"
	"payvault/internal/repositories/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	svc := NewService(repo, nil, nil, Config{}, nil, nil)
	return svc, repo
}

func mustCreateWallet(t *testing.T, svc Service, ownerID uint) *models.Wallet {
	t.Helper()
	w, err := svc.GetOrCreateWallet(context.Background(), ownerID, "USD")
	require.NoError(t, err)
	return w
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestGetOrCreateWallet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w1, err := svc.GetOrCreateWallet(ctx, 1, "USD")
	require.NoError(t, err)
	assert.Equal(t, uint(1), w1.OwnerID)
	assert.True(t, w1.Balance.IsZero())
	assert.True(t, w1.HeldBalance.IsZero())
	assert.Equal(t, models.WalletStatusActive, w1.Status)

	w2, err := svc.GetOrCreateWallet(ctx, 1, "USD")
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID, "same owner resolves to the same wallet")
}

func TestCreditAndDebit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	balance, err := svc.Credit(ctx, w.ID, d("100.50"), OperationContext{Category: models.CategoryDeposit})
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("100.50")))

	balance, err = svc.Debit(ctx, w.ID, d("40.25"), OperationContext{Category: models.CategoryPayment})
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("60.25")))

	// Ledger invariant: completed entries sum to the balance.
	sum, err := repo.SumCompleted(w.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(d("60.25")))

	entries, total, err := svc.GetTransactions(ctx, 1, repositories.EntryFilter{}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, entries, 2)
	// Newest first; debit amounts are negative, credits positive.
	assert.True(t, entries[0].Amount.Equal(d("-40.25")))
	assert.True(t, entries[1].Amount.Equal(d("100.50")))
}

func TestDebitInsufficientFunds(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	_, err := svc.Credit(ctx, w.ID, d("50"), OperationContext{})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, w.ID, d("80"), OperationContext{})
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(d("50")))

	// A rejected debit leaves no trace: balance unchanged, no ledger entry.
	got, err := repo.GetByID(w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("50")))
	_, total, err := svc.GetTransactions(ctx, 1, repositories.EntryFilter{}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestInvalidAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	_, err := svc.Credit(ctx, w.ID, decimal.Zero, OperationContext{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Debit(ctx, w.ID, d("-5"), OperationContext{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.ErrorIs(t, svc.Hold(ctx, w.ID, decimal.Zero), domain.ErrInvalidAmount)
}

func TestDuplicateTransactionID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	op := OperationContext{TransactionID: "tx-1", Category: models.CategoryDeposit}
	_, err := svc.Credit(ctx, w.ID, d("10"), op)
	require.NoError(t, err)

	_, err = svc.Credit(ctx, w.ID, d("10"), op)
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	balance, err := svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(d("10")), "replay must not double-credit")
}

func TestSuspendedWalletRejectsMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	_, err := svc.Credit(ctx, w.ID, d("100"), OperationContext{})
	require.NoError(t, err)
	require.NoError(t, svc.Suspend(ctx, w.ID, "fraud review", "admin"))

	var forbidden *domain.ForbiddenStateError
	_, err = svc.Credit(ctx, w.ID, d("10"), OperationContext{})
	assert.ErrorAs(t, err, &forbidden)
	_, err = svc.Debit(ctx, w.ID, d("10"), OperationContext{})
	assert.ErrorAs(t, err, &forbidden)
	assert.ErrorAs(t, svc.Hold(ctx, w.ID, d("10")), &forbidden)
	assert.ErrorAs(t, svc.Release(ctx, w.ID, d("10")), &forbidden)

	// Reads still work while suspended.
	balance, err := svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(d("100")))

	// Suspended wallets holding funds show up in the review queue.
	flagged, err := svc.SuspendedWithBalance(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, w.ID, flagged[0].ID)

	require.NoError(t, svc.Activate(ctx, w.ID, "admin"))
	_, err = svc.Debit(ctx, w.ID, d("10"), OperationContext{})
	assert.NoError(t, err)
}

func TestHoldAndRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	_, err := svc.Credit(ctx, w.ID, d("100"), OperationContext{})
	require.NoError(t, err)

	require.NoError(t, svc.Hold(ctx, w.ID, d("60")))
	balance, err := svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(d("100")), "hold does not move the balance")
	assert.True(t, balance.Held.Equal(d("60")))
	assert.True(t, balance.Available.Equal(d("40")))

	// Only available funds are spendable.
	_, err = svc.Debit(ctx, w.ID, d("50"), OperationContext{})
	var insufficient *domain.InsufficientFundsError
	assert.ErrorAs(t, err, &insufficient)

	// A hold exceeding available funds is rejected.
	assert.ErrorAs(t, svc.Hold(ctx, w.ID, d("41")), &insufficient)

	require.NoError(t, svc.Release(ctx, w.ID, d("60")))
	balance, err = svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Held.IsZero())
	assert.True(t, balance.Available.Equal(d("100")))

	// Releasing more than held clamps at zero instead of going negative.
	require.NoError(t, svc.Hold(ctx, w.ID, d("10")))
	require.NoError(t, svc.Release(ctx, w.ID, d("25")))
	balance, err = svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Held.IsZero())
}

func TestDailyLimit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	_, err := svc.Credit(ctx, w.ID, d("1000"), OperationContext{})
	require.NoError(t, err)

	got, err := repo.GetByID(w.ID)
	require.NoError(t, err)
	got.DailyLimit = d("100")
	require.NoError(t, repo.Update(got))

	_, err = svc.Debit(ctx, w.ID, d("70"), OperationContext{})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, w.ID, d("40"), OperationContext{})
	assert.ErrorIs(t, err, domain.ErrDailyLimitExceeded)
	_, err = svc.Debit(ctx, w.ID, d("30"), OperationContext{})
	assert.NoError(t, err, "spending up to the limit is allowed")
}

func TestPIN(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreateWallet(t, svc, 1)

	assert.ErrorIs(t, svc.VerifyPIN(ctx, 1, "1234"), domain.ErrPINNotSet)

	assert.ErrorIs(t, svc.SetPIN(ctx, 1, "12"), domain.ErrInvalidPIN)
	assert.ErrorIs(t, svc.SetPIN(ctx, 1, "1234567"), domain.ErrInvalidPIN)
	assert.ErrorIs(t, svc.SetPIN(ctx, 1, "12ab"), domain.ErrInvalidPIN)

	require.NoError(t, svc.SetPIN(ctx, 1, "4321"))
	assert.NoError(t, svc.VerifyPIN(ctx, 1, "4321"))
	assert.ErrorIs(t, svc.VerifyPIN(ctx, 1, "0000"), domain.ErrInvalidPIN)
}

func TestSetPINPreservesConcurrentCredits(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	// A PIN change persists the whole wallet row, so it must not revert
	// balance movements committed while it ran.
	const credits = 40
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			assert.NoError(t, svc.SetPIN(ctx, 1, "4321"))
		}
	}()
	for i := 0; i < credits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, w.ID, d("1"), OperationContext{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("40")), "no credit may be lost to the PIN write")
	sum, err := repo.SumCompleted(w.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(got.Balance))
	assert.NoError(t, svc.VerifyPIN(ctx, 1, "4321"))
}

// recordingPublisher captures event types for assertions.
type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, evt *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, evt.Type)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.types {
		if s == eventType {
			n++
		}
	}
	return n
}

// missOnceRepo makes the first owner lookup miss, as when another request
// inserts the wallet between the optimistic read and the insert attempt.
type missOnceRepo struct {
	*memory.Repository
	missed bool
}

func (r *missOnceRepo) GetByOwnerID(ownerID uint) (*models.Wallet, error) {
	if !r.missed {
		r.missed = true
		return nil, domain.ErrWalletNotFound
	}
	return r.Repository.GetByOwnerID(ownerID)
}

func TestWalletCreatedEventOnlyOnInsert(t *testing.T) {
	repo := memory.New()
	pub := &recordingPublisher{}
	svc := NewService(&missOnceRepo{Repository: repo}, nil, pub, Config{}, nil, nil)
	ctx := context.Background()

	// The wallet already exists when the optimistic read misses; resolving
	// to the existing row must not announce a creation.
	_, _, err := repo.GetOrCreate(1, "USD")
	require.NoError(t, err)
	_, err = svc.GetOrCreateWallet(ctx, 1, "USD")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, pub.count(events.TypeWalletCreated))

	// A genuinely new wallet does announce itself.
	_, err = svc.GetOrCreateWallet(ctx, 2, "USD")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return pub.count(events.TypeWalletCreated) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	_, err := svc.Credit(ctx, w.ID, d("100"), OperationContext{})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, w.ID, d("10"), OperationContext{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded, "exactly the covered debits succeed")

	got, err := repo.GetByID(w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())

	sum, err := repo.SumCompleted(w.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(got.Balance), "ledger sum tracks the balance")
}

func TestConcurrentMixedOperations(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	w := mustCreateWallet(t, svc, 1)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Credit(ctx, w.ID, d("5"), OperationContext{})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Debit(ctx, w.ID, d("3"), OperationContext{})
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(w.ID)
	require.NoError(t, err)
	sum, err := repo.SumCompleted(w.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(got.Balance))
	assert.False(t, got.Balance.IsNegative())
}
