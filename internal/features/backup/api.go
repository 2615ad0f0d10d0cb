package backup

import (
	"go-crmsync/internal/common/api"
	"go-crmsync/internal/config"
	"go-crmsync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type BackupApi struct {
	controller *BackupController
	config     *config.Config
}

func NewBackupApi(controller *BackupController, config *config.Config) api.Route {
	return &BackupApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all backup routes
func (h *BackupApi) Setup(app *fiber.App) {
	group := app.Group("/api/backups", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Get("/", h.controller.ListBackups)
	group.Post("/cleanup", h.controller.Cleanup)
	group.Post("/:module/full", h.controller.CreateFull)
	group.Post("/:module/incremental", h.controller.CreateIncremental)
	group.Get("/:id", h.controller.GetBackup)
	group.Post("/:id/restore", h.controller.Restore)

	points := app.Group("/api/recovery-points", middleware.AuthMiddleware(h.config.SkipAuth))
	points.Get("/", h.controller.ListRecoveryPoints)
}
