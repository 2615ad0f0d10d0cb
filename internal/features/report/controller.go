package report

import (
	"fmt"

	"go-crmsync/internal/apperrors"
	"go-crmsync/internal/features/conflict"

	"github.com/gofiber/fiber/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportController struct {
	Service ReportService
}

func NewReportController(service ReportService) *ReportController {
	return &ReportController{
		Service: service,
	}
}

// ExportSyncPasses godoc
// @Summary Export sync passes as XLSX
// @Tags reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param module query string false "Module name"
// @Success 200 {file} binary
// @Router /api/reports/sync-passes.xlsx [get]
func (ctrl *ReportController) ExportSyncPasses(c *fiber.Ctx) error {
	data, filename, err := ctrl.Service.ExportSyncPasses(c.Context(), c.Query("module"), int64(c.QueryInt("limit", 200)))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	return c.Send(data)
}

// ExportConflicts godoc
// @Summary Export conflict records as XLSX
// @Tags reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param status query string false "pending or resolved"
// @Success 200 {file} binary
// @Router /api/reports/conflicts.xlsx [get]
func (ctrl *ReportController) ExportConflicts(c *fiber.Ctx) error {
	data, filename, err := ctrl.Service.ExportConflicts(c.Context(), conflict.ConflictStatus(c.Query("status")), int64(c.QueryInt("limit", 200)))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	return c.Send(data)
}
