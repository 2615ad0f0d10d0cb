package backup

import (
	"go-crmsync/internal/apperrors"

	"github.com/gofiber/fiber/v2"
)

type BackupController struct {
	Service BackupService
}

func NewBackupController(service BackupService) *BackupController {
	return &BackupController{
		Service: service,
	}
}

// CreateFull godoc
// @Summary Take a full backup of a module
// @Tags backups
// @Produce json
// @Param module path string true "Module name"
// @Success 201 {object} map[string]interface{}
// @Router /api/backups/{module}/full [post]
func (ctrl *BackupController) CreateFull(c *fiber.Ctx) error {
	meta, err := ctrl.Service.CreateFullBackup(c.Context(), c.Params("module"))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Backup created",
		"data":    meta,
	})
}

// CreateIncremental godoc
// @Summary Take an incremental backup against a base backup
// @Tags backups
// @Accept json
// @Produce json
// @Param module path string true "Module name"
// @Success 201 {object} map[string]interface{}
// @Router /api/backups/{module}/incremental [post]
func (ctrl *BackupController) CreateIncremental(c *fiber.Ctx) error {
	var body struct {
		BaseBackupID string `json:"baseBackupId"`
	}
	if err := c.BodyParser(&body); err != nil || body.BaseBackupID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "baseBackupId is required",
		})
	}

	meta, err := ctrl.Service.CreateIncrementalBackup(c.Context(), c.Params("module"), body.BaseBackupID)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Backup created",
		"data":    meta,
	})
}

// ListBackups godoc
// @Summary List backups
// @Tags backups
// @Produce json
// @Param module query string false "Module name"
// @Success 200 {object} map[string]interface{}
// @Router /api/backups [get]
func (ctrl *BackupController) ListBackups(c *fiber.Ctx) error {
	backups, err := ctrl.Service.ListBackups(c.Context(), c.Query("module"), int64(c.QueryInt("limit", 100)))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": backups,
	})
}

// GetBackup godoc
// @Summary Get one backup
// @Tags backups
// @Produce json
// @Param id path string true "Backup ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/backups/{id} [get]
func (ctrl *BackupController) GetBackup(c *fiber.Ctx) error {
	meta, err := ctrl.Service.GetBackup(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": meta,
	})
}

// Restore godoc
// @Summary Restore records from a backup
// @Tags backups
// @Accept json
// @Produce json
// @Param id path string true "Backup ID"
// @Success 200 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/backups/{id}/restore [post]
func (ctrl *BackupController) Restore(c *fiber.Ctx) error {
	var opts RestoreOptions
	if err := c.BodyParser(&opts); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	opts.BackupID = c.Params("id")

	result, err := ctrl.Service.Restore(c.Context(), opts)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Restore finished",
		"data":    result,
	})
}

// ListRecoveryPoints godoc
// @Summary List recovery points
// @Tags backups
// @Produce json
// @Param module query string false "Module name"
// @Success 200 {object} map[string]interface{}
// @Router /api/recovery-points [get]
func (ctrl *BackupController) ListRecoveryPoints(c *fiber.Ctx) error {
	points, err := ctrl.Service.ListRecoveryPoints(c.Context(), c.Query("module"))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": points,
	})
}

// Cleanup godoc
// @Summary Delete backups past retention
// @Tags backups
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/backups/cleanup [post]
func (ctrl *BackupController) Cleanup(c *fiber.Ctx) error {
	deleted, err := ctrl.Service.CleanupExpired(c.Context())
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Cleanup finished",
		"deleted": deleted,
	})
}
