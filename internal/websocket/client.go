package websocket

import (
	"sync"
	"time"

	"section-collab-be/internal/entity"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection. Nil in tests that drive the hub directly.
	Conn *websocket.Conn

	Session    entity.Session
	DocumentId uuid.UUID

	// Buffered channel of outbound messages.
	Send chan []byte

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, sess entity.Session, documentId uuid.UUID) *Client {
	return &Client{
		Hub:        hub,
		Conn:       conn,
		Session:    sess,
		DocumentId: documentId,
		Send:       make(chan []byte, sendBuffer),
	}
}

// Closed closes Send, which makes writePump hang up. Safe to call more than once.
func (c *Client) Closed() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump only services control frames; document changes go through REST.
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Client", "Unexpected close", map[string]interface{}{
					"document_id": c.DocumentId,
					"user_id":     c.Session.UserId,
					"error":       err.Error(),
				})
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
// Every envelope goes out as its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Hub.logger.Debug("Client", "Ping failed", map[string]interface{}{
					"user_id": c.Session.UserId,
					"error":   err.Error(),
				})
				return
			}
		}
	}
}
