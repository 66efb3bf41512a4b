package handlers

import (
	"payvault/internal/services/deposit"
	"payvault/internal/services/gateway"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type DepositHandler struct {
	depositService deposit.Service
}

func NewDepositHandler(depositService deposit.Service) *DepositHandler {
	return &DepositHandler{
		depositService: depositService,
	}
}

// Initiate opens a PENDING deposit. No funds move until completion.
func (h *DepositHandler) Initiate(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Amount decimal.Decimal `json:"amount"`
		Method string          `json:"method"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	entry, err := h.depositService.Initiate(c.Context(), claims.OwnerID, input.Amount, input.Method)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "deposit initiated",
		"data": fiber.Map{
			"transaction_id": entry.TransactionID,
			"status":         entry.Status,
			"amount":         entry.Amount,
		},
	})
}

// Complete verifies the payment with the provider and credits the wallet.
// Safe to retry: a replay returns the original result.
func (h *DepositHandler) Complete(c *fiber.Ctx) error {
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

	result, err := h.depositService.Complete(c.Context(), ownerScope(claims), transactionID, gateway.Proof{
		ProviderRef: input.ProviderRef,
		Fields:      input.Fields,
	})
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "deposit completed", fiber.Map{
		"transaction_id": result.Entry.TransactionID,
		"status":         result.Entry.Status,
		"new_balance":    result.NewBalance,
		"replayed":       result.Replayed,
	})
}

// Fail marks a pending deposit FAILED without moving funds.
func (h *DepositHandler) Fail(c *fiber.Ctx) error {
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

	if err := h.depositService.Fail(c.Context(), ownerScope(claims), transactionID, input.Reason); err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "deposit failed", nil)
}
