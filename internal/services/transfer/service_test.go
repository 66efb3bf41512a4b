package transfer

import (
	"context"
	"sync"
	"testing"

	domain "payvault/internal/errors"
	"payvault/internal/models"
	"payvault/internal/repositories/memory"
	"payvault/internal/services/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func setup(t *testing.T) (Service, *memory.Repository, *models.Wallet, *models.Wallet) {
	t.Helper()
	repo := memory.New()
	svc := NewService(repo, nil, nil, nil)

	a, _, err := repo.GetOrCreate(1, "USD")
	require.NoError(t, err)
	b, _, err := repo.GetOrCreate(2, "USD")
	require.NoError(t, err)

	a.Balance = d("1000")
	require.NoError(t, repo.Update(a))
	b.Balance = d("200")
	require.NoError(t, repo.Update(b))
	return svc, repo, a, b
}

func TestTransfer(t *testing.T) {
	svc, repo, a, b := setup(t)

	result, err := svc.Transfer(context.Background(), a.ID, b.ID, d("300"), wallet.OperationContext{})
	require.NoError(t, err)
	assert.True(t, result.SourceBalance.Equal(d("700")))
	assert.True(t, result.DestBalance.Equal(d("500")))

	// Both legs share the transfer reference and are COMPLETED.
	assert.Equal(t, result.TransferID, result.DebitEntry.ReferenceID)
	assert.Equal(t, result.TransferID, result.CreditEntry.ReferenceID)
	assert.Equal(t, models.StatusCompleted, result.DebitEntry.Status)
	assert.Equal(t, models.StatusCompleted, result.CreditEntry.Status)
	assert.True(t, result.DebitEntry.Amount.Equal(d("-300")))
	assert.True(t, result.CreditEntry.Amount.Equal(d("300")))

	sumA, err := repo.SumCompleted(a.ID)
	require.NoError(t, err)
	sumB, err := repo.SumCompleted(b.ID)
	require.NoError(t, err)
	assert.True(t, sumA.Add(d("1000")).Equal(result.SourceBalance))
	assert.True(t, sumB.Add(d("200")).Equal(result.DestBalance))
}

func TestTransferInsufficientFunds(t *testing.T) {
	svc, repo, a, b := setup(t)

	_, err := svc.Transfer(context.Background(), a.ID, b.ID, d("1500"), wallet.OperationContext{})
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)

	// Neither wallet moved.
	gotA, _ := repo.GetByID(a.ID)
	gotB, _ := repo.GetByID(b.ID)
	assert.True(t, gotA.Balance.Equal(d("1000")))
	assert.True(t, gotB.Balance.Equal(d("200")))
}

func TestTransferValidation(t *testing.T) {
	svc, repo, a, b := setup(t)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, a.ID, a.ID, d("10"), wallet.OperationContext{})
	assert.ErrorIs(t, err, domain.ErrSelfTransfer)

	_, err = svc.Transfer(ctx, a.ID, b.ID, decimal.Zero, wallet.OperationContext{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// Currency mismatch
	c, _, err := repo.GetOrCreate(3, "EUR")
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, a.ID, c.ID, d("10"), wallet.OperationContext{})
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	// Suspended destination blocks the transfer.
	gotB, _ := repo.GetByID(b.ID)
	gotB.Status = models.WalletStatusSuspended
	require.NoError(t, repo.Update(gotB))
	var forbidden *domain.ForbiddenStateError
	_, err = svc.Transfer(ctx, a.ID, b.ID, d("10"), wallet.OperationContext{})
	assert.ErrorAs(t, err, &forbidden)
}

func TestTransferIdempotency(t *testing.T) {
	svc, repo, a, b := setup(t)
	ctx := context.Background()

	op := wallet.OperationContext{TransactionID: "transfer-1"}
	_, err := svc.Transfer(ctx, a.ID, b.ID, d("100"), op)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, a.ID, b.ID, d("100"), op)
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	gotA, _ := repo.GetByID(a.ID)
	assert.True(t, gotA.Balance.Equal(d("900")), "replay must not move funds twice")
}

func TestTransferRespectsHeldFunds(t *testing.T) {
	svc, repo, a, b := setup(t)

	gotA, _ := repo.GetByID(a.ID)
	gotA.HeldBalance = d("900")
	require.NoError(t, repo.Update(gotA))

	_, err := svc.Transfer(context.Background(), a.ID, b.ID, d("200"), wallet.OperationContext{})
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(d("100")))
}

func TestConcurrentOpposingTransfers(t *testing.T) {
	svc, repo, a, b := setup(t)
	ctx := context.Background()

	const rounds = 25
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, a.ID, b.ID, d("10"), wallet.OperationContext{})
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, b.ID, a.ID, d("10"), wallet.OperationContext{})
		}()
	}
	wg.Wait()

	gotA, _ := repo.GetByID(a.ID)
	gotB, _ := repo.GetByID(b.ID)
	total := gotA.Balance.Add(gotB.Balance)
	assert.True(t, total.Equal(d("1200")), "transfers conserve total funds, got %s", total)
	assert.False(t, gotA.Balance.IsNegative())
	assert.False(t, gotB.Balance.IsNegative())
}
