package handlers

import (
	"time"

	"payvault/internal/models"
	"payvault/internal/repositories"
	"payvault/internal/services/wallet"
	"payvault/internal/utils/pagination"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type TransactionHandler struct {
	walletService wallet.Service
}

func NewTransactionHandler(walletService wallet.Service) *TransactionHandler {
	return &TransactionHandler{
		walletService: walletService,
	}
}

// List returns the caller's ledger entries, newest first, filtered by the
// optional type/category/status/from/to query parameters.
func (h *TransactionHandler) List(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	filter := repositories.EntryFilter{
		Type:     c.Query("type"),
		Category: c.Query("category"),
		Status:   models.TransactionStatus(c.Query("status")),
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &t
		} else {
			return response.BadRequest(c, "INVALID_FILTER", "from must be RFC3339")
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		} else {
			return response.BadRequest(c, "INVALID_FILTER", "to must be RFC3339")
		}
	}

	p := pagination.ParseFromRequest(c)
	entries, total, err := h.walletService.GetTransactions(c.Context(), claims.OwnerID, filter, p.Limit, p.Offset)
	if err != nil {
		return writeError(c, err)
	}
	p.Total = total

	return c.JSON(pagination.Response(p, entries))
}
