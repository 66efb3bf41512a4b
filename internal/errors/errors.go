// Package errors defines the domain error taxonomy of the ledger engine.
// Handlers map these onto HTTP statuses; services never return raw storage
// errors to callers.
package errors

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DomainError is a business-rule failure with a stable machine-readable code.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// InsufficientFundsError reports the available balance so the caller can
// correct the request.
type InsufficientFundsError struct {
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s available", e.Available.String())
}

// Is lets errors.Is match any two insufficient-funds errors regardless of
// the reported balance.
func (e *InsufficientFundsError) Is(target error) bool {
	_, ok := target.(*InsufficientFundsError)
	return ok
}

// ForbiddenStateError rejects a mutation against a non-ACTIVE wallet.
type ForbiddenStateError struct {
	Status string
}

func (e *ForbiddenStateError) Error() string {
	return fmt.Sprintf("wallet is %s", e.Status)
}

func (e *ForbiddenStateError) Is(target error) bool {
	_, ok := target.(*ForbiddenStateError)
	return ok
}
