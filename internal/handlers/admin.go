package handlers

import (
	"strconv"

	"payvault/internal/services/wallet"
	"payvault/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	walletService wallet.Service
}

func NewAdminHandler(walletService wallet.Service) *AdminHandler {
	return &AdminHandler{
		walletService: walletService,
	}
}

func (h *AdminHandler) SuspendWallet(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	walletID, err := strconv.ParseUint(c.Params("walletID"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid wallet id")
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid request format")
	}

	if err := h.walletService.Suspend(c.Context(), uint(walletID), input.Reason, claims.Subject); err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "wallet suspended", nil)
}

func (h *AdminHandler) ActivateWallet(c *fiber.Ctx) error {
	claims, err := extractClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	walletID, err := strconv.ParseUint(c.Params("walletID"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "INVALID_BODY", "invalid wallet id")
	}

	if err := h.walletService.Activate(c.Context(), uint(walletID), claims.Subject); err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "wallet activated", nil)
}

// SuspendedWithBalance lists suspended wallets still holding funds, the
// review queue for support staff.
func (h *AdminHandler) SuspendedWithBalance(c *fiber.Ctx) error {
	if _, err := extractClaims(c); err != nil {
		return response.Unauthorized(c)
	}

	wallets, err := h.walletService.SuspendedWithBalance(c.Context())
	if err != nil {
		return writeError(c, err)
	}

	return response.Success(c, "suspended wallets", fiber.Map{
		"wallets": wallets,
		"count":   len(wallets),
	})
}
