package conflict

import (
	"go-crmsync/internal/common/api"
	"go-crmsync/internal/config"
	"go-crmsync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type ConflictApi struct {
	controller *ConflictController
	config     *config.Config
}

func NewConflictApi(controller *ConflictController, config *config.Config) api.Route {
	return &ConflictApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all conflict routes
func (h *ConflictApi) Setup(app *fiber.App) {
	group := app.Group("/api/conflicts", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Get("/", h.controller.ListConflicts)
	group.Post("/:id/resolve", h.controller.ResolveConflict)
}
