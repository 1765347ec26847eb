// Package routes defines the API routing configuration. It wires
// repositories, services and handlers and applies authentication
// middleware.
package routes

import (
	"time"

	"couponbay/internal/config"
	"couponbay/internal/handlers"
	"couponbay/internal/middleware"
	"couponbay/internal/repositories"
	"couponbay/internal/services/escrow"
	"couponbay/internal/services/notification"
	"couponbay/internal/services/payment"
	"couponbay/internal/services/trust"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes and returns the expiry
// sweeper, ready for the caller to run.
func SetupRoutes(app *fiber.App, db *gorm.DB) *escrow.Sweeper {
	// Repositories
	txRepo := repositories.NewTransactionRepository(db)
	couponRepo := repositories.NewCouponRepository(db)
	trustRepo := repositories.NewTrustRepository(db)
	userRepo := repositories.NewUserRepository(db)

	// External collaborators
	gateway := payment.NewStripeGateway(
		config.GetEnv("STRIPE_SECRET_KEY", ""),
		config.GetDurationEnv("STRIPE_TIMEOUT", 15*time.Second),
	)

	var notifier notification.Publisher = notification.NoopPublisher{}
	if url := config.GetEnv("RABBITMQ_URL", ""); url != "" {
		notifier = notification.NewDispatcher(url, config.GetEnv("NOTIFICATION_QUEUE", "notifications"))
	}

	// Services
	trustService := trust.NewService(trustRepo, repositories.CacheService, notifier, trust.Config{
		Deduction:        config.GetIntEnv("TRUST_DEDUCTION", 15),
		WarningThreshold: config.GetIntEnv("WARNING_THRESHOLD", 2),
	})

	escrowService := escrow.NewService(txRepo, couponRepo, gateway, trustService, notifier, escrow.Config{
		HoldDuration: config.GetDurationEnv("HOLD_DURATION", escrow.DefaultHoldDuration),
		Currency:     config.GetEnv("CURRENCY", "inr"),
	})

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(escrowService)
	trustHandler := handlers.NewTrustHandler(trustService)
	adminHandler := handlers.NewAdminHandler(trustService, userRepo)
	webhookHandler := handlers.NewWebhookHandler(escrowService, config.GetEnv("STRIPE_WEBHOOK_SECRET", ""))

	app.Get("/health", handlers.HealthCheck)

	api := app.Group("/api")

	// Processor callbacks are authenticated by signature, not by JWT.
	api.Post("/webhooks/stripe", webhookHandler.HandleStripe)

	protected := api.Use(middleware.Auth)

	// Purchases are the hot path a hostile client would hammer.
	protected.Post("/escrow/initiate", limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}), escrowHandler.Initiate)

	protected.Post("/escrow/:id/confirm", escrowHandler.Confirm)
	protected.Post("/escrow/:id/dispute", escrowHandler.Dispute)
	protected.Get("/escrow/:id", escrowHandler.GetTransaction)
	protected.Get("/escrow", escrowHandler.ListTransactions)

	protected.Get("/trust/:id", trustHandler.GetProfile)

	admin := protected.Group("/admin", middleware.AdminOnly)
	admin.Post("/trust/:id", adminHandler.AdjustTrust)
	admin.Post("/users/:id/ban", adminHandler.Ban)
	admin.Post("/users/:id/unban", adminHandler.Unban)

	return escrow.NewSweeper(escrowService, txRepo,
		config.GetDurationEnv("SWEEP_INTERVAL", escrow.DefaultSweepInterval))
}
