package callHandler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

func (h *CallHandler) upgradeMonitor(ctx *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(ctx) {
		return ctx.Next()
	}
	return fiber.ErrUpgradeRequired
}

// MonitorLive streams per-turn events to an ops dashboard. The connection is
// read-drained only to detect disconnects; all traffic flows hub to client.
func (h *CallHandler) MonitorLive() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.Register(conn)
		defer h.hub.Unregister(conn)

		h.log.WithFields(logrus.Fields{
			"clients": h.hub.ClientCount(),
		}).Info("Monitor dashboard connected")

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})
}
