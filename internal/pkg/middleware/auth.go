package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MindShield/internal/pkg/usercontext"
)

// RequireAdmin must run after APIKeyAuthMiddleware and rejects non-admin callers with JSON 403.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
