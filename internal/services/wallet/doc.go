/*
Package wallet implements the balance-mutation core of the ledger engine.

Every state change to a wallet goes through this package: credits and
debits write a COMPLETED ledger entry and move the balance in one atomic
unit, holds and releases move the held balance, and administrative
transitions gate all of the above. Operations on one wallet linearize:
the wallet row is locked for the duration of the check-and-write, and a
rejected operation leaves no ledger row and no balance change.

Usage:

	svc := wallet.NewService(repo, cache, publisher, wallet.Config{}, metrics, logger)

	w, err := svc.GetOrCreateWallet(ctx, ownerID, "USD")

	balance, err := svc.Credit(ctx, w.ID, amount, wallet.OperationContext{
	    Category: models.CategoryPayment,
	})

	balance, err = svc.Debit(ctx, w.ID, amount, wallet.OperationContext{
	    TransactionID: idempotencyKey,
	})

Failure modes:

  - amounts must be positive (errors.ErrInvalidAmount)
  - the wallet must be ACTIVE (errors.ForbiddenStateError)
  - debits need availableBalance >= amount (errors.InsufficientFundsError,
    carrying the available balance)
  - a reused transaction id is rejected before any write
    (errors.ErrDuplicateTransaction)

Cache invalidation, event publishing and metrics run after commit and can
never fail a mutation.
*/
package wallet
