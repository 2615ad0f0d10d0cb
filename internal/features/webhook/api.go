package webhook

import (
	"go-crmsync/internal/common/api"
	"go-crmsync/internal/config"
	"go-crmsync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type WebhookApi struct {
	controller *WebhookController
	config     *config.Config
}

func NewWebhookApi(controller *WebhookController, config *config.Config) api.Route {
	return &WebhookApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all webhook routes
func (h *WebhookApi) Setup(app *fiber.App) {
	// Ingest endpoint is authenticated by HMAC signature, not JWT
	app.Post("/webhooks/crm", h.controller.Receive)

	group := app.Group("/api/webhooks", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Get("/events", h.controller.ListEvents)
	group.Get("/batches", h.controller.ListBatches)
	group.Get("/filters", h.controller.ListFilters)
	group.Post("/filters", h.controller.CreateFilter)
	group.Put("/filters/:id", h.controller.UpdateFilter)
	group.Delete("/filters/:id", h.controller.DeleteFilter)
}
