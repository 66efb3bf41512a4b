package handlers

import (
	"errors"

	domain "payvault/internal/errors"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// writeError maps domain errors onto HTTP responses. Unknown errors become
// opaque 500s so internals never leak to clients.
func writeError(c *fiber.Ctx, err error) error {
	var insufficient *domain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return response.UnprocessableEntity(c, "INSUFFICIENT_FUNDS", insufficient.Error())
	}
	var forbidden *domain.ForbiddenStateError
	if errors.As(err, &forbidden) {
		return response.Forbidden(c, "WALLET_NOT_ACTIVE", forbidden.Error())
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr {
		case domain.ErrWalletNotFound, domain.ErrTransactionNotFound:
			return response.NotFound(c, domainErr.Code, domainErr.Message)
		case domain.ErrDuplicateTransaction, domain.ErrInProgress, domain.ErrInvalidTransition:
			return response.Conflict(c, domainErr.Code, domainErr.Message)
		case domain.ErrDailyLimitExceeded, domain.ErrMonthlyLimitExceeded:
			return response.UnprocessableEntity(c, domainErr.Code, domainErr.Message)
		case domain.ErrTooManyConflicts, domain.ErrGatewayUnavailable:
			return response.Error(c, fiber.StatusServiceUnavailable, domainErr.Code, domainErr.Message)
		case domain.ErrInvalidPIN:
			return response.Forbidden(c, domainErr.Code, domainErr.Message)
		default:
			return response.BadRequest(c, domainErr.Code, domainErr.Message)
		}
	}

	return response.ServerError(c, "internal error")
}
