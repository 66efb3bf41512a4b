package withdrawal

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/idempotency"
	"payvault/internal/models"
	"payvault/internal/repositories/memory"
	"payvault/internal/services/gateway"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu      sync.Mutex
	err     error
	confirm int
}

func (g *stubGateway) VerifyDeposit(ctx context.Context, transactionID string, proof gateway.Proof) error {
	return g.ConfirmPayout(ctx, transactionID, proof)
}

func (g *stubGateway) ConfirmPayout(ctx context.Context, transactionID string, proof gateway.Proof) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirm++
	return g.err
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func setup(t *testing.T, gw *stubGateway, cfg Config) (Service, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	guard := idempotency.NewMemoryGuard(time.Minute)
	svc := NewService(repo, nil, nil, gw, guard, cfg, nil)

	w, _, err := repo.GetOrCreate(1, "USD")
	require.NoError(t, err)
	w.Balance = d("1000")
	require.NoError(t, repo.Update(w))
	return svc, repo
}

func TestRequest(t *testing.T) {
	svc, repo := setup(t, &stubGateway{}, Config{})
	ctx := context.Background()

	entry, err := svc.Request(ctx, 1, d("600"), "bank:DE89")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.Status)
	assert.Equal(t, models.CategoryWithdrawal, entry.Category)
	assert.True(t, entry.Amount.Equal(d("-600")))
	assert.Equal(t, "bank:DE89", entry.Metadata["destination"])

	// Funds are reserved, not moved.
	w, err := repo.GetByOwnerID(1)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("1000")))
	assert.True(t, w.HeldBalance.Equal(d("600")))
	assert.True(t, w.AvailableBalance().Equal(d("400")))
}

func TestRequestValidation(t *testing.T) {
	svc, repo := setup(t, &stubGateway{}, Config{MinAmount: d("10")})
	ctx := context.Background()

	_, err := svc.Request(ctx, 1, decimal.Zero, "dest")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Request(ctx, 1, d("5"), "dest")
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = svc.Request(ctx, 1, d("1500"), "dest")
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(d("1000")))

	w, _ := repo.GetByOwnerID(1)
	w.Status = models.WalletStatusSuspended
	require.NoError(t, repo.Update(w))
	var forbidden *domain.ForbiddenStateError
	_, err = svc.Request(ctx, 1, d("100"), "dest")
	assert.ErrorAs(t, err, &forbidden)
}

func TestRequestsRespectAvailableBalance(t *testing.T) {
	svc, repo := setup(t, &stubGateway{}, Config{})
	ctx := context.Background()

	_, err := svc.Request(ctx, 1, d("600"), "a")
	require.NoError(t, err)

	// Only the unheld remainder is available to a second request.
	_, err = svc.Request(ctx, 1, d("500"), "b")
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(d("400")))

	_, err = svc.Request(ctx, 1, d("400"), "b")
	require.NoError(t, err)

	w, _ := repo.GetByOwnerID(1)
	assert.True(t, w.HeldBalance.Equal(d("1000")))
	assert.True(t, w.AvailableBalance().IsZero())
}

func TestSettle(t *testing.T) {
	gw := &stubGateway{}
	svc, repo := setup(t, gw, Config{})
	ctx := context.Background()

	entry, err := svc.Request(ctx, 1, d("600"), "bank:DE89")
	require.NoError(t, err)

	result, err := svc.Settle(ctx, 1, entry.TransactionID, gateway.Proof{ProviderRef: "po_1"})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, models.StatusCompleted, result.Entry.Status)
	assert.True(t, result.NewBalance.Equal(d("400")))

	// Settlement converts the hold into the debit.
	w, err := repo.GetByOwnerID(1)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("400")))
	assert.True(t, w.HeldBalance.IsZero())

	sum, err := repo.SumCompleted(w.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(d("-600")))

	// Replay returns the committed result without another payout.
	replay, err := svc.Settle(ctx, 1, entry.TransactionID, gateway.Proof{})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.True(t, replay.NewBalance.Equal(d("400")))
	assert.Equal(t, 1, gw.confirm)
}

func TestSettlePayoutFailure(t *testing.T) {
	gw := &stubGateway{err: domain.ErrGatewayUnavailable}
	svc, repo := setup(t, gw, Config{})
	ctx := context.Background()

	entry, err := svc.Request(ctx, 1, d("600"), "dest")
	require.NoError(t, err)

	_, err = svc.Settle(ctx, 1, entry.TransactionID, gateway.Proof{})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	// Failed confirmation keeps the hold and the PENDING entry.
	w, _ := repo.GetByOwnerID(1)
	assert.True(t, w.Balance.Equal(d("1000")))
	assert.True(t, w.HeldBalance.Equal(d("600")))
	got, err := repo.GetEntryByTransactionID(entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestCancel(t *testing.T) {
	svc, repo := setup(t, &stubGateway{}, Config{})
	ctx := context.Background()

	entry, err := svc.Request(ctx, 1, d("600"), "dest")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, 1, entry.TransactionID, "user abort"))

	// Cancellation releases the hold in the same atomic unit.
	w, err := repo.GetByOwnerID(1)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("1000")))
	assert.True(t, w.HeldBalance.IsZero())
	assert.True(t, w.AvailableBalance().Equal(d("1000")))

	got, err := repo.GetEntryByTransactionID(entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "user abort", got.Metadata["cancel_reason"])

	// Terminal: neither settle nor a second cancel may proceed.
	_, err = svc.Settle(ctx, 1, entry.TransactionID, gateway.Proof{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, svc.Cancel(ctx, 1, entry.TransactionID, "again"), domain.ErrInvalidTransition)
}

func TestSweepStuck(t *testing.T) {
	svc, repo := setup(t, &stubGateway{}, Config{})
	ctx := context.Background()

	entry, err := svc.Request(ctx, 1, d("300"), "dest")
	require.NoError(t, err)

	future := time.Now().UTC().Add(DefaultStuckAfter + time.Hour)
	failed, err := svc.SweepStuck(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// The sweep releases the hold and fails the entry.
	w, _ := repo.GetByOwnerID(1)
	assert.True(t, w.Balance.Equal(d("1000")))
	assert.True(t, w.HeldBalance.IsZero())
	got, err := repo.GetEntryByTransactionID(entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestSettleAndCancelScopedToOwner(t *testing.T) {
	gw := &stubGateway{}
	svc, repo := setup(t, gw, Config{})
	ctx := context.Background()

	entry, err := svc.Request(ctx, 1, d("300"), "dest")
	require.NoError(t, err)

	// Another owner knowing the transaction id gets not-found; the hold
	// stays in place and the payout is never confirmed.
	_, err = svc.Settle(ctx, 2, entry.TransactionID, gateway.Proof{})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.Equal(t, 0, gw.confirm)
	assert.ErrorIs(t, svc.Cancel(ctx, 2, entry.TransactionID, "not yours"), domain.ErrTransactionNotFound)

	w, _ := repo.GetByOwnerID(1)
	assert.True(t, w.HeldBalance.Equal(d("300")))
	got, err := repo.GetEntryByTransactionID(entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	// The unscoped form is for admins and internal callers.
	require.NoError(t, svc.Cancel(ctx, 0, entry.TransactionID, "ops abort"))
	w, _ = repo.GetByOwnerID(1)
	assert.True(t, w.HeldBalance.IsZero())
}
