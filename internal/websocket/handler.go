package websocket

import (
	"section-collab-be/internal/entity"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ServeWs joins the connection to the document's room and blocks until it closes.
func ServeWs(hub *Hub, c *websocket.Conn, sess entity.Session, documentId uuid.UUID) {
	client := NewClient(hub, c, sess, documentId)
	hub.Register(client)

	go client.writePump()
	client.readPump()
}
