package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jsha/blocktogether/internal/config"
	"github.com/jsha/blocktogether/internal/dto"
)

// AdminRequired guards the action API with the shared admin token. The
// engine's API is consumed by the trusted front end only; end-user
// authentication lives there, not here. An unset token leaves the API open
// for local development.
func AdminRequired(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.AdminToken == "" || c.Get("X-Admin-Token") == cfg.AdminToken {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}
}
