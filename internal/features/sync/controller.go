package sync

import (
	"go-crmsync/internal/apperrors"
	common_models "go-crmsync/internal/common/models"

	"github.com/gofiber/fiber/v2"
)

type SyncController struct {
	Service SyncService
}

func NewSyncController(service SyncService) *SyncController {
	return &SyncController{
		Service: service,
	}
}

type triggerRequest struct {
	Modules   []string `json:"modules"`
	Direction string   `json:"direction"`
	Validate  bool     `json:"validate"`
}

// TriggerSync godoc
// @Summary Trigger a sync pass
// @Tags sync
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sync/trigger [post]
func (ctrl *SyncController) TriggerSync(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Direction == "" {
		req.Direction = string(common_models.DirectionBidirectional)
	}

	passes, err := ctrl.Service.TriggerSync(
		c.Context(),
		req.Modules,
		common_models.SyncDirection(req.Direction),
		req.Validate,
		TriggerManual,
	)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
			"data":  passes,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Sync completed",
		"data":    passes,
	})
}

// ListPasses godoc
// @Summary List sync passes
// @Tags sync
// @Produce json
// @Param module query string false "Module name"
// @Success 200 {object} map[string]interface{}
// @Router /api/sync/passes [get]
func (ctrl *SyncController) ListPasses(c *fiber.Ctx) error {
	passes, err := ctrl.Service.ListPasses(c.Context(), c.Query("module"), int64(c.QueryInt("limit", 50)))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": passes,
	})
}

// GetPass godoc
// @Summary Get one sync pass
// @Tags sync
// @Produce json
// @Param id path string true "Pass ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/sync/passes/{id} [get]
func (ctrl *SyncController) GetPass(c *fiber.Ctx) error {
	pass, err := ctrl.Service.GetPass(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": pass,
	})
}

// ListCursors godoc
// @Summary List per-module sync cursors
// @Tags sync
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/sync/cursors [get]
func (ctrl *SyncController) ListCursors(c *fiber.Ctx) error {
	cursors, err := ctrl.Service.ListCursors(c.Context())
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": cursors,
	})
}

// SaveSchema godoc
// @Summary Set a module's validation schema
// @Tags sync
// @Accept json
// @Produce json
// @Param module path string true "Module name"
// @Success 200 {object} map[string]interface{}
// @Router /api/sync/schemas/{module} [put]
func (ctrl *SyncController) SaveSchema(c *fiber.Ctx) error {
	var body struct {
		Schema string `json:"schema"`
	}
	if err := c.BodyParser(&body); err != nil || body.Schema == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Schema is required",
		})
	}

	if err := ctrl.Service.SaveSchema(c.Context(), c.Params("module"), body.Schema); err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Schema saved",
	})
}
