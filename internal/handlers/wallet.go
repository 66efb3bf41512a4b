package handlers

import (
	"context"

	"payvault/internal/models"
	"payvault/internal/services/wallet"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	walletService wallet.Service
}

func NewWalletHandler(walletService wallet.Service) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

// extractClaims is a helper to pull the authenticated owner out of the
// request context.
func extractClaims(c *fiber.Ctx) (*models.OwnerClaims, error) {
	claims, ok := c.Locals("claims").(*models.OwnerClaims)
	if !ok || claims == nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

// ownerScope is the owner id handlers pass to owner-scoped service calls.
// Admins operate unscoped.
func ownerScope(claims *models.OwnerClaims) uint {
	if claims.Role == "admin" {
		return 0
	}
	return claims.OwnerID
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.walletService.GetOrCreateWallet(c.Context(), claims.OwnerID, c.Query("currency"))
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "wallet", fiber.Map{
		"wallet": w,
	})
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	balance, err := h.walletService.GetBalance(c.Context(), claims.OwnerID)
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "balance", balance)
}

// directCategories are the ledger categories callers may move money under
// directly. DEPOSIT, WITHDRAWAL and TRANSFER are reserved for their flows.
var directCategories = map[string]bool{
	models.CategoryPayment:  true,
	models.CategoryRefund:   true,
	models.CategoryCashback: true,
	models.CategoryFee:      true,
}

// Credit moves funds into the caller's wallet under a direct category.
func (h *WalletHandler) Credit(c *fiber.Ctx) error {
	return h.mutate(c, h.walletService.Credit, "wallet credited")
}

// Debit moves funds out of the caller's wallet under a direct category.
func (h *WalletHandler) Debit(c *fiber.Ctx) error {
	return h.mutate(c, h.walletService.Debit, "wallet debited")
}

func (h *WalletHandler) mutate(
	c *fiber.Ctx,
	apply func(ctx context.Context, walletID uint, amount decimal.Decimal, op wallet.OperationContext) (decimal.Decimal, error),
	message string,
) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Amount        decimal.Decimal `json:"amount"`
		Category      string          `json:"category"`
		TransactionID string          `json:"transaction_id"`
		ReferenceType string          `json:"reference_type"`
		ReferenceID   string          `json:"reference_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}
	if input.Category == "" {
		input.Category = models.CategoryPayment
	}
	if !directCategories[input.Category] {
		return response.BadRequest(c, "INVALID_CATEGORY", "category not allowed for direct mutations")
	}

	w, err := h.walletService.GetWallet(c.Context(), claims.OwnerID)
	if err != nil {
		return writeError(c, err)
	}
	newBalance, err := apply(c.Context(), w.ID, input.Amount, wallet.OperationContext{
		TransactionID: input.TransactionID,
		Category:      input.Category,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
	})
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, message, fiber.Map{
		"wallet_id":   w.ID,
		"new_balance": newBalance,
	})
}

func (h *WalletHandler) SetPIN(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		PIN string `json:"pin"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	if err := h.walletService.SetPIN(c.Context(), claims.OwnerID, input.PIN); err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "pin set", nil)
}

func (h *WalletHandler) VerifyPIN(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		PIN string `json:"pin"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	if err := h.walletService.VerifyPIN(c.Context(), claims.OwnerID, input.PIN); err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "pin verified", fiber.Map{"valid": true})
}
