package conflict

import (
	"go-crmsync/internal/apperrors"

	"github.com/gofiber/fiber/v2"
)

type ConflictController struct {
	Service ConflictService
}

func NewConflictController(service ConflictService) *ConflictController {
	return &ConflictController{
		Service: service,
	}
}

// ListConflicts godoc
// @Summary List conflict records
// @Tags conflicts
// @Produce json
// @Param status query string false "pending or resolved"
// @Success 200 {object} map[string]interface{}
// @Router /api/conflicts [get]
func (ctrl *ConflictController) ListConflicts(c *fiber.Ctx) error {
	status := ConflictStatus(c.Query("status"))
	limit := int64(c.QueryInt("limit", 50))

	records, err := ctrl.Service.ListConflicts(c.Context(), status, limit)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": records,
	})
}

// ResolveConflict godoc
// @Summary Resolve a queued conflict
// @Tags conflicts
// @Accept json
// @Produce json
// @Param id path string true "Conflict ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/conflicts/{id}/resolve [post]
func (ctrl *ConflictController) ResolveConflict(c *fiber.Ctx) error {
	id := c.Params("id")

	var body struct {
		Final map[string]interface{} `json:"final"`
	}
	if err := c.BodyParser(&body); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	record, err := ctrl.Service.ResolveManual(c.Context(), id, body.Final)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Conflict resolved",
		"data":    record,
	})
}
