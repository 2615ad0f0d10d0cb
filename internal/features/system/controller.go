package system

import (
	"context"
	"time"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/database"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/backup"
	"go-crmsync/internal/features/sync"
	"go-crmsync/internal/features/webhook"

	"github.com/gofiber/fiber/v2"
)

type SystemController struct {
	DB         *database.MongodbDB
	Webhooks   webhook.WebhookService
	Sync       sync.SyncService
	Backups    backup.BackupService
	Dispatcher *events.Dispatcher
}

func NewSystemController(db *database.MongodbDB, webhooks webhook.WebhookService, syncService sync.SyncService, backups backup.BackupService, dispatcher *events.Dispatcher) *SystemController {
	return &SystemController{
		DB:         db,
		Webhooks:   webhooks,
		Sync:       syncService,
		Backups:    backups,
		Dispatcher: dispatcher,
	}
}

// Health godoc
// @Summary Liveness and store connectivity check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (ctrl *SystemController) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := fiber.StatusOK
	if err := ctrl.DB.DB.Client().Ping(ctx, nil); err != nil {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"metrics":   ctrl.Webhooks.Metrics(),
		"timestamp": time.Now(),
	})
}

// Metrics godoc
// @Summary Operational counters for ingestion, sync and backups
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /metrics [get]
func (ctrl *SystemController) Metrics(c *fiber.Ctx) error {
	ctx := c.Context()

	passes, err := ctrl.Sync.ListPasses(ctx, "", 0)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	cursors, err := ctrl.Sync.ListCursors(ctx)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	backups, err := ctrl.Backups.ListBackups(ctx, "", 0)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ingest := ctrl.Webhooks.Metrics()

	return c.JSON(fiber.Map{
		"ingest":        ingest,
		"eventsDropped": ctrl.Dispatcher.Dropped(),
		"syncPasses":    len(passes),
		"syncCursors":   len(cursors),
		"backups":       len(backups),
		"timestamp":     time.Now(),
	})
}
