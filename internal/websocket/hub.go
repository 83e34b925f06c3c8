package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/service"
	"section-collab-be/pkg/events"

	"github.com/google/uuid"
)

// RoomService is the part of the collaboration service the hub needs.
type RoomService interface {
	SubscribeToDocument(ctx context.Context, sess entity.Session, documentId uuid.UUID, handlers service.SubscriptionHandlers) (*service.Subscription, error)
	Snapshot(ctx context.Context, documentId uuid.UUID) (*events.Snapshot, error)
	Disconnected(ctx context.Context, sess entity.Session, documentId uuid.UUID) error
}

// room holds the local connections of one document and the single
// broadcaster subscription that feeds them.
type room struct {
	clients map[*Client]struct{}
	sub     *service.Subscription
}

type Hub struct {
	rooms map[uuid.UUID]*room

	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}

	// guards rooms; broadcast only takes the read side
	mu sync.RWMutex

	collab              RoomService
	instanceId          string
	releaseOnDisconnect bool

	// Dedicated Logger
	logger logger.ILogger
}

func NewHub(collab RoomService, instanceId string, releaseOnDisconnect bool, log logger.ILogger) *Hub {
	return &Hub{
		rooms:               make(map[uuid.UUID]*room),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
		collab:              collab,
		instanceId:          instanceId,
		releaseOnDisconnect: releaseOnDisconnect,
		logger:              log,
	}
}

// Run serves register and unregister requests until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.join(client)
		case client := <-h.unregister:
			h.leave(client)
		case <-h.stop:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Closed()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stop closes every room and waits for Run to return.
func (h *Hub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}

// Members returns the number of local connections watching documentId.
func (h *Hub) Members(documentId uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[documentId]; ok {
		return len(r.clients)
	}
	return 0
}

func (h *Hub) join(c *Client) {
	ctx := context.Background()

	h.mu.RLock()
	_, exists := h.rooms[c.DocumentId]
	h.mu.RUnlock()

	if !exists {
		sub, err := h.collab.SubscribeToDocument(ctx, c.Session, c.DocumentId, h.handlersFor(c.DocumentId))
		if err != nil {
			h.logger.Warn("Hub", "Failed to open room", map[string]interface{}{
				"document_id": c.DocumentId,
				"error":       err.Error(),
			})
			c.Closed()
			return
		}
		h.mu.Lock()
		h.rooms[c.DocumentId] = &room{clients: make(map[*Client]struct{}), sub: sub}
		h.mu.Unlock()
		h.logger.Info("Hub", "Room opened", map[string]interface{}{"document_id": c.DocumentId})
	}

	// The snapshot is read and queued under the write lock so no event
	// fanned out by the room can slip in between the two.
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := h.collab.Snapshot(ctx, c.DocumentId)
	if err != nil {
		h.logger.Warn("Hub", "Failed to build snapshot", map[string]interface{}{
			"document_id": c.DocumentId,
			"error":       err.Error(),
		})
		c.Closed()
		return
	}
	data, err := json.Marshal(events.NewSnapshot(h.instanceId, *snap))
	if err != nil {
		c.Closed()
		return
	}

	h.rooms[c.DocumentId].clients[c] = struct{}{}
	c.Send <- data

	h.logger.Info("Hub", "Client registered", map[string]interface{}{
		"document_id": c.DocumentId,
		"user_id":     c.Session.UserId,
	})
}

func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.DocumentId]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)
	c.Closed()

	userStillHere := false
	for other := range r.clients {
		if other.Session.UserId == c.Session.UserId {
			userStillHere = true
			break
		}
	}

	var emptied *service.Subscription
	if len(r.clients) == 0 {
		delete(h.rooms, c.DocumentId)
		emptied = r.sub
	}
	h.mu.Unlock()

	// Closing waits for in-flight handlers, which need the read lock.
	if emptied != nil {
		emptied.Close()
		h.logger.Info("Hub", "Room closed", map[string]interface{}{"document_id": c.DocumentId})
	}

	h.logger.Info("Hub", "Client unregistered", map[string]interface{}{
		"document_id": c.DocumentId,
		"user_id":     c.Session.UserId,
	})

	if h.releaseOnDisconnect && !userStillHere {
		if err := h.collab.Disconnected(context.Background(), c.Session, c.DocumentId); err != nil {
			h.logger.Warn("Hub", "Failed to release leases on disconnect", map[string]interface{}{
				"document_id": c.DocumentId,
				"user_id":     c.Session.UserId,
				"error":       err.Error(),
			})
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[uuid.UUID]*room)
	for _, r := range rooms {
		for c := range r.clients {
			c.Closed()
		}
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.sub.Close()
	}
}

func (h *Hub) handlersFor(documentId uuid.UUID) service.SubscriptionHandlers {
	return service.SubscriptionHandlers{
		OnVersion: func(v events.VersionCommitted) {
			h.broadcast(documentId, events.NewVersionCommitted(h.instanceId, v))
		},
		OnLockChange: func(l events.LockChanged) {
			h.broadcast(documentId, events.NewLockChanged(h.instanceId, l))
		},
	}
}

// broadcast fans env out to every connection in the room. A connection whose
// buffer is full is dropped; it will get a fresh snapshot when it reconnects.
func (h *Hub) broadcast(documentId uuid.UUID, env events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode event", map[string]interface{}{"kind": env.Kind, "error": err.Error()})
		return
	}

	var slow []*Client
	h.mu.RLock()
	if r, ok := h.rooms[documentId]; ok {
		for c := range r.clients {
			select {
			case c.Send <- data:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Hub", "Client Send buffer full, dropping connection", map[string]interface{}{
			"document_id": documentId,
			"user_id":     c.Session.UserId,
		})
		// Run may be waiting on this handler inside Subscription.Close.
		go h.Unregister(c)
	}
}
