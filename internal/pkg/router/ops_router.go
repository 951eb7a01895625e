package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/MindShield/internal/pkg/env"
	"github.com/ManuelReschke/MindShield/internal/pkg/metrics"
)

// OpsRouter serves health and metrics endpoints for operators.
type OpsRouter struct {
}

func (h OpsRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	})
	app.Get("/metrics", auth, monitor.New())
	app.Get("/metrics/prometheus", auth, adaptor.HTTPHandler(metrics.Handler()))
}

func NewOpsRouter() *OpsRouter {
	return &OpsRouter{}
}
