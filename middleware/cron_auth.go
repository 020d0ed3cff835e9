package middleware

import (
	"strings"

	"reachly/config"

	"github.com/gofiber/fiber/v2"
)

// CronProtected guards the cron endpoints. They accept either the shared
// CRON_SECRET as a bearer token or a request from the platform scheduler
// (identified by user agent), so both self-hosted and serverless deployments
// can trigger them.
func CronProtected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := config.AppConfig.CronSecret
		if secret == "" && config.AppConfig.Environment != "production" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "Bearer "+secret && secret != "" {
			return c.Next()
		}

		if strings.Contains(strings.ToLower(c.Get("User-Agent")), "vercel-cron") {
			return c.Next()
		}

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
}
