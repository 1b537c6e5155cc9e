package websocketPkg

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// TurnEvent is the per-turn payload pushed to connected monitor dashboards.
type TurnEvent struct {
	CallID     string    `json:"call_id"`
	CompanyID  string    `json:"company_id"`
	TurnNumber int       `json:"turn_number"`
	Phase      string    `json:"phase"`
	Intent     string    `json:"intent"`
	Handler    string    `json:"handler"`
	Action     string    `json:"action"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

type IMonitorHub interface {
	Register(conn *websocket.Conn)
	Unregister(conn *websocket.Conn)
	Broadcast(event TurnEvent)
	ClientCount() int
}

type monitorHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	log     *logrus.Logger
}

func NewMonitorHub(log *logrus.Logger) IMonitorHub {
	return &monitorHub{
		clients: make(map[*websocket.Conn]bool),
		log:     log,
	}
}

func (h *monitorHub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	h.log.WithFields(logrus.Fields{
		"clients": len(h.clients),
	}).Debug("Monitor client connected")
}

func (h *monitorHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Broadcast pushes an event to every dashboard. A dead connection is dropped on the
// spot so one stale client never blocks live-call processing.
func (h *monitorHub) Broadcast(event TurnEvent) {
	payload, err := jsoniter.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode monitor event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.WithError(err).Debug("Dropping dead monitor client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *monitorHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
