package system

import (
	"go-crmsync/internal/common/api"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type SystemApi struct {
	controller   *SystemController
	wsController *WebSocketController
}

func NewSystemApi(controller *SystemController, wsController *WebSocketController) api.Route {
	return &SystemApi{
		controller:   controller,
		wsController: wsController,
	}
}

// Setup registers the health, metrics and event-stream routes
func (h *SystemApi) Setup(app *fiber.App) {
	app.Get("/health", h.controller.Health)
	app.Get("/metrics", h.controller.Metrics)
	app.Get("/api/ws", websocket.New(h.wsController.HandleWebSocket))
}
