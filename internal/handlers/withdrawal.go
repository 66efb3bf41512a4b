package handlers

import (
	"payvault/internal/services/gateway"
	"payvault/internal/services/withdrawal"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type WithdrawalHandler struct {
	withdrawalService withdrawal.Service
}

func NewWithdrawalHandler(withdrawalService withdrawal.Service) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawalService: withdrawalService,
	}
}

// Request places a hold on the funds and opens a PENDING withdrawal.
func (h *WithdrawalHandler) Request(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Amount      decimal.Decimal `json:"amount"`
		Destination string          `json:"destination"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	entry, err := h.withdrawalService.Request(c.Context(), claims.OwnerID, input.Amount, input.Destination)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "withdrawal requested",
		"data": fiber.Map{
			"transaction_id": entry.TransactionID,
			"status":         entry.Status,
			"amount":         entry.Amount,
		},
	})
}

// Settle confirms the payout with the provider and finalizes the debit.
func (h *WithdrawalHandler) Settle(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	transactionID := c.Params("transactionID")
	if transactionID == "" {
		return response.BadRequest(c, "INVALID_BODY", "transaction id is required")
	}

	var input struct {
		ProviderRef string                 `json:"provider_ref"`
		Fields      map[string]interface{} `json:"fields"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	result, err := h.withdrawalService.Settle(c.Context(), ownerScope(claims), transactionID, gateway.Proof{
		ProviderRef: input.ProviderRef,
		Fields:      input.Fields,
	})
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "withdrawal settled", fiber.Map{
		"transaction_id": result.Entry.TransactionID,
		"status":         result.Entry.Status,
		"new_balance":    result.NewBalance,
		"replayed":       result.Replayed,
	})
}

// Cancel aborts a pending withdrawal and releases its hold.
func (h *WithdrawalHandler) Cancel(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	transactionID := c.Params("transactionID")
	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	if err := h.withdrawalService.Cancel(c.Context(), ownerScope(claims), transactionID, input.Reason); err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "withdrawal cancelled", nil)
}
