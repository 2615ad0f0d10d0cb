package webhook

import (
	"go-crmsync/internal/apperrors"

	"github.com/gofiber/fiber/v2"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-CRM-Signature"

type WebhookController struct {
	Service WebhookService
}

func NewWebhookController(service WebhookService) *WebhookController {
	return &WebhookController{
		Service: service,
	}
}

// Receive godoc
// @Summary Receive a CRM change notification
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-CRM-Signature header string true "HMAC-SHA256 of the raw body, hex encoded"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /webhooks/crm [post]
func (ctrl *WebhookController) Receive(c *fiber.Ctx) error {
	result, err := ctrl.Service.HandleInbound(c.Context(), c.Get(SignatureHeader), c.Body())
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  result.Status,
		"eventId": result.EventID,
	})
}

// ListEvents godoc
// @Summary List change events
// @Tags webhooks
// @Produce json
// @Param module query string false "Module name"
// @Param status query string false "Event status"
// @Success 200 {object} map[string]interface{}
// @Router /api/webhooks/events [get]
func (ctrl *WebhookController) ListEvents(c *fiber.Ctx) error {
	events, err := ctrl.Service.ListEvents(
		c.Context(),
		c.Query("module"),
		EventStatus(c.Query("status")),
		int64(c.QueryInt("limit", 100)),
	)
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": events,
	})
}

// ListBatches godoc
// @Summary List event batches
// @Tags webhooks
// @Produce json
// @Param module query string false "Module name"
// @Success 200 {object} map[string]interface{}
// @Router /api/webhooks/batches [get]
func (ctrl *WebhookController) ListBatches(c *fiber.Ctx) error {
	batches, err := ctrl.Service.ListBatches(c.Context(), c.Query("module"), int64(c.QueryInt("limit", 50)))
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": batches,
	})
}

// CreateFilter godoc
// @Summary Create an event filter
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 201 {object} map[string]interface{}
// @Router /api/webhooks/filters [post]
func (ctrl *WebhookController) CreateFilter(c *fiber.Ctx) error {
	var filter EventFilter
	if err := c.BodyParser(&filter); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.CreateFilter(c.Context(), &filter); err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Filter created",
		"data":    filter,
	})
}

// ListFilters godoc
// @Summary List event filters
// @Tags webhooks
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/webhooks/filters [get]
func (ctrl *WebhookController) ListFilters(c *fiber.Ctx) error {
	filters, err := ctrl.Service.ListFilters(c.Context())
	if err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": filters,
	})
}

// UpdateFilter godoc
// @Summary Update an event filter
// @Tags webhooks
// @Accept json
// @Produce json
// @Param id path string true "Filter ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/webhooks/filters/{id} [put]
func (ctrl *WebhookController) UpdateFilter(c *fiber.Ctx) error {
	var updates map[string]interface{}
	if err := c.BodyParser(&updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.UpdateFilter(c.Context(), c.Params("id"), updates); err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Filter updated",
	})
}

// DeleteFilter godoc
// @Summary Delete an event filter
// @Tags webhooks
// @Produce json
// @Param id path string true "Filter ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/webhooks/filters/{id} [delete]
func (ctrl *WebhookController) DeleteFilter(c *fiber.Ctx) error {
	if err := ctrl.Service.DeleteFilter(c.Context(), c.Params("id")); err != nil {
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Filter deleted",
	})
}
