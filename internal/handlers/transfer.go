package handlers

import (
	"payvault/internal/models"
	"payvault/internal/services/transfer"
	"payvault/internal/services/wallet"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type TransferHandler struct {
	walletService   wallet.Service
	transferService transfer.Service
}

func NewTransferHandler(walletService wallet.Service, transferService transfer.Service) *TransferHandler {
	return &TransferHandler{
		walletService:   walletService,
		transferService: transferService,
	}
}

// Transfer moves funds from the caller's wallet to another wallet in one
// atomic unit. A client-supplied transfer_id makes the call idempotent.
func (h *TransferHandler) Transfer(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		ToWalletID uint            `json:"to_wallet_id"`
		Amount     decimal.Decimal `json:"amount"`
		TransferID string          `json:"transfer_id"`
		Note       string          `json:"note"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}
	if input.ToWalletID == 0 {
		return response.BadRequest(c, "INVALID_BODY", "to_wallet_id is required")
	}

	source, err := h.walletService.GetWallet(c.Context(), claims.OwnerID)
	if err != nil {
		return writeError(c, err)
	}

	op := wallet.OperationContext{
		TransactionID: input.TransferID,
		Category:      models.CategoryTransfer,
	}
	if input.Note != "" {
		op.Metadata = models.NewJSON(map[string]interface{}{"note": input.Note})
	}

	result, err := h.transferService.Transfer(c.Context(), source.ID, input.ToWalletID, input.Amount, op)
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "transfer completed", fiber.Map{
		"transfer_id": result.TransferID,
		"new_balance": result.SourceBalance,
	})
}
