package handler

import (
	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/pkg/serverutils"
	internalWS "section-collab-be/internal/websocket"
	"section-collab-be/pkg/collaberr"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// RealtimeHandler upgrades authenticated requests into document room connections.
type RealtimeHandler struct {
	hub    *internalWS.Hub
	jwt    fiber.Handler
	logger logger.ILogger
}

func NewRealtimeHandler(hub *internalWS.Hub, jwt fiber.Handler, log logger.ILogger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:    hub,
		jwt:    jwt,
		logger: log,
	}
}

func (h *RealtimeHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/documents/v1/:id/ws", h.jwt, h.ServeWs)
}

// ServeWs expects the JWT middleware to have run; browsers pass the token as ?token=.
func (h *RealtimeHandler) ServeWs(c *fiber.Ctx) error {
	documentId, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return collaberr.Invalid("invalid document id %q", c.Params("id"))
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	sess := serverutils.SessionFrom(c)
	return websocket.New(func(conn *websocket.Conn) {
		h.serve(conn, sess, documentId)
	})(c)
}

func (h *RealtimeHandler) serve(conn *websocket.Conn, sess entity.Session, documentId uuid.UUID) {
	fields := map[string]interface{}{
		"document_id":   documentId,
		"user_id":       sess.UserId,
		"connection_id": sess.ConnectionId,
	}
	h.logger.Info("RealtimeHandler", "Starting WebSocket session", fields)
	internalWS.ServeWs(h.hub, conn, sess, documentId)
	h.logger.Info("RealtimeHandler", "WebSocket session ended", fields)
}
