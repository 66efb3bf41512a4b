// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"payvault/internal/handlers"
	"payvault/internal/middleware"
	"payvault/internal/repositories/cache"
	"payvault/internal/services/deposit"
	"payvault/internal/services/transfer"
	"payvault/internal/services/wallet"
	"payvault/internal/services/withdrawal"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps bundles everything route setup needs.
type Deps struct {
	DB                *gorm.DB
	Cache             *cache.Service
	WalletService     wallet.Service
	TransferService   transfer.Service
	DepositService    deposit.Service
	WithdrawalService withdrawal.Service
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, deps Deps, authMiddleware *middleware.AuthMiddleware) {
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Cache)
	walletHandler := handlers.NewWalletHandler(deps.WalletService)
	transactionHandler := handlers.NewTransactionHandler(deps.WalletService)
	transferHandler := handlers.NewTransferHandler(deps.WalletService, deps.TransferService)
	depositHandler := handlers.NewDepositHandler(deps.DepositService)
	withdrawalHandler := handlers.NewWithdrawalHandler(deps.WithdrawalService)
	adminHandler := handlers.NewAdminHandler(deps.WalletService)

	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	protected := api.Use(authMiddleware.Handler)

	walletGroup := protected.Group("/wallet")
	walletGroup.Get("/", walletHandler.GetWallet)
	walletGroup.Get("/balance", walletHandler.GetBalance)
	walletGroup.Post("/credit", walletHandler.Credit)
	walletGroup.Post("/debit", walletHandler.Debit)
	walletGroup.Post("/pin", walletHandler.SetPIN)
	walletGroup.Post("/pin/verify", walletHandler.VerifyPIN)

	protected.Get("/transactions", transactionHandler.List)
	protected.Post("/transfer", transferHandler.Transfer)

	deposits := protected.Group("/deposits")
	deposits.Post("/", depositHandler.Initiate)
	deposits.Post("/:transactionID/complete", depositHandler.Complete)
	deposits.Post("/:transactionID/fail", depositHandler.Fail)

	withdrawals := protected.Group("/withdrawals")
	withdrawals.Post("/", withdrawalHandler.Request)
	withdrawals.Post("/:transactionID/settle", withdrawalHandler.Settle)
	withdrawals.Post("/:transactionID/cancel", withdrawalHandler.Cancel)

	admin := protected.Group("/admin", middleware.AdminOnly)
	admin.Post("/wallets/:walletID/suspend", adminHandler.SuspendWallet)
	admin.Post("/wallets/:walletID/activate", adminHandler.ActivateWallet)
	admin.Get("/wallets/suspended", adminHandler.SuspendedWithBalance)
}
