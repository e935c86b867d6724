package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/jsha/blocktogether/internal/config"
	"github.com/jsha/blocktogether/internal/handlers"
	"github.com/jsha/blocktogether/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	actionHandler *handlers.ActionHandler,
) {
	app.Get("/health", healthHandler.Check)

	api := app.Group("/api", middleware.AdminRequired(cfg))

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Post("/users/:uid/actions", actionHandler.Enqueue)
	api.Get("/users/:uid/actions/pending-count", actionHandler.PendingCount)
	api.Get("/users/:uid/actions", actionHandler.History)
}
