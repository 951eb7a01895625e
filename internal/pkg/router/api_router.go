package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/MindShield/app/controllers"
	"github.com/ManuelReschke/MindShield/internal/pkg/env"
	"github.com/ManuelReschke/MindShield/internal/pkg/middleware"
)

type ApiRouter struct {
	deps    *controllers.Deps
	storage fiber.Storage
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 120),
		Expiration: time.Minute,
		Storage:    h.storage,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many requests, please slow down")
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	authController := controllers.NewAuthController(h.deps)
	auth := api.Group("/auth")
	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)

	protected := api.Group("", middleware.APIKeyAuthMiddleware(h.deps.Repos.User))
	protected.Get("/user", authController.Account)

	privacy := controllers.NewPrivacyController(h.deps)
	protected.Get("/privacy", privacy.Get)
	protected.Put("/privacy", privacy.Update)

	permissions := controllers.NewPermissionController(h.deps)
	protected.Get("/permissions", permissions.List)
	protected.Post("/permissions/grant", permissions.Grant)
	protected.Post("/permissions/approve", permissions.Approve)
	protected.Post("/permissions/revoke", permissions.Revoke)

	earnings := controllers.NewEarningController(h.deps)
	protected.Get("/earnings", earnings.Get)
	protected.Post("/earnings/calc", earnings.Calc)
	protected.Post("/earnings/pay", earnings.Pay)

	dashboard := controllers.NewDashboardController(h.deps)
	protected.Get("/dashboard", dashboard.Get)

	blockchain := controllers.NewBlockchainController(h.deps)
	chain := protected.Group("/blockchain")
	chain.Post("/register", blockchain.Register)
	chain.Post("/grant-access", blockchain.GrantAccess)
	chain.Post("/revoke-access", blockchain.RevokeAccess)
	chain.Post("/pay", blockchain.Pay)
	chain.Get("/earnings/:walletAddress", blockchain.Earnings)
	chain.Get("/licenses/:walletAddress", blockchain.Licenses)
	chain.Get("/access-status/:walletAddress/:companyAddress", blockchain.AccessStatus)
	chain.Get("/status", blockchain.Status)

	admin := protected.Group("/admin", middleware.RequireAdmin)
	admin.Post("/reconciler/retry", blockchain.RetryOrphans)
}

func NewApiRouter(deps *controllers.Deps, storage fiber.Storage) *ApiRouter {
	return &ApiRouter{deps: deps, storage: storage}
}
