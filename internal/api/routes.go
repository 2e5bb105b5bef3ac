package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vieroc/vieroc-backend/internal/memory"
	"github.com/vieroc/vieroc-backend/internal/pipeline"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

// Deps are the wired services the HTTP surface exposes.
type Deps struct {
	Managers     *memory.ManagerCache
	Orchestrator *pipeline.Orchestrator
	Sessions     repository.SessionRepository
	Turns        repository.TurnRepository
	Logger       *logrus.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, deps *Deps) {
	api := app.Group("/api/v1")

	api.Post("/chat", Chat(deps))

	api.Get("/sessions/:id", GetSession(deps))
	api.Get("/sessions/:id/messages", GetSessionMessages(deps))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "vieroc-backend",
		})
	})
}
