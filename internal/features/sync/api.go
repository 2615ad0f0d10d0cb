package sync

import (
	"go-crmsync/internal/common/api"
	"go-crmsync/internal/config"
	"go-crmsync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type SyncApi struct {
	controller *SyncController
	config     *config.Config
}

func NewSyncApi(controller *SyncController, config *config.Config) api.Route {
	return &SyncApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all sync routes
func (h *SyncApi) Setup(app *fiber.App) {
	group := app.Group("/api/sync", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/trigger", h.controller.TriggerSync)
	group.Get("/passes", h.controller.ListPasses)
	group.Get("/passes/:id", h.controller.GetPass)
	group.Get("/cursors", h.controller.ListCursors)
	group.Put("/schemas/:module", h.controller.SaveSchema)
}
