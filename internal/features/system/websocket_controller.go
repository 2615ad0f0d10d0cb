package system

import (
	stdsync "sync"

	"go-crmsync/internal/events"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// connBuffer bounds how many undelivered events a slow client may hold.
const connBuffer = 64

// WebSocketController streams dispatcher events to connected operators.
// A single SubscribeAll handler fans events out into per-connection
// buffered channels; a client that cannot keep up loses events rather
// than blocking the dispatch loop.
type WebSocketController struct {
	logger *zap.Logger

	mu    stdsync.Mutex
	conns map[*websocket.Conn]chan events.Event
}

func NewWebSocketController(dispatcher *events.Dispatcher, logger *zap.Logger) *WebSocketController {
	ctrl := &WebSocketController{
		logger: logger,
		conns:  make(map[*websocket.Conn]chan events.Event),
	}
	dispatcher.SubscribeAll(ctrl.broadcast)
	return ctrl
}

func (h *WebSocketController) broadcast(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.conns {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *WebSocketController) HandleWebSocket(c *websocket.Conn) {
	ch := make(chan events.Event, connBuffer)

	h.mu.Lock()
	h.conns[c] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
	}()

	// Reads are only used to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-ch:
			if err := c.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
