package callHandler

import (
	callService "VoicedeskGolang/internal/api/call/service"
	"VoicedeskGolang/internal/middleware"
	websocketPkg "VoicedeskGolang/pkg/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CallHandler struct {
	log         *logrus.Logger
	validator   *validator.Validate
	middleware  middleware.Middleware
	callService callService.ICallService
	hub         websocketPkg.IMonitorHub
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	cs callService.ICallService,
	hub websocketPkg.IMonitorHub,
) *CallHandler {
	return &CallHandler{
		log:         log,
		validator:   validate,
		middleware:  middleware,
		callService: cs,
		hub:         hub,
	}
}

func (h *CallHandler) Start(srv fiber.Router) {
	calls := srv.Group("/calls")

	// Turn webhooks from the telephony gateway.
	calls.Post("/start", h.StartCall)
	calls.Post("/turn", h.ProcessTurn)
	calls.Post("/end", h.EndCall)

	// Operations surface.
	calls.Get("/:callId/trace", h.middleware.NewOpsTokenMiddleware, h.GetTrace)

	monitor := srv.Group("/monitor")
	monitor.Use("/live", h.middleware.NewOpsTokenMiddleware, h.upgradeMonitor)
	monitor.Get("/live", h.MonitorLive())
}
