package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket handles GET /api/v1/ws/events
// @Summary WebSocket endpoint for image events
// @Description Streams image added, stored, removed and state-changed events
// @Tags websocket
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/events [get]
func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:  s.wsHub,
		conn: ws,
		send: make(chan []byte, 256),
	}

	if !client.hub.Register(client) {
		s.logger.Debug("websocket hub stopped, closing connection")
		_ = ws.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// webSocketStats handles GET /api/v1/ws/stats
func (s *Server) webSocketStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected_clients": s.wsHub.ClientCount(),
		"status":            "operational",
	})
}
