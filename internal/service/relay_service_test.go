package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/events"
	pktNats "section-collab-be/pkg/nats"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBus fans every publish out to every subscriber synchronously, like one NATS server.
type memoryBus struct {
	mu       sync.Mutex
	handlers map[int]pktNats.EventHandler
	nextId   int
	subjects []string
}

type memoryBusSub struct {
	bus *memoryBus
	id  int
}

func (s *memoryBusSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.id)
	s.bus.mu.Unlock()
	return nil
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: map[int]pktNats.EventHandler{}}
}

func (b *memoryBus) Publish(ctx context.Context, subject string, env events.Envelope) error {
	b.mu.Lock()
	b.subjects = append(b.subjects, subject)
	handlers := make([]pktNats.EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(ctx, env)
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, handler pktNats.EventHandler) (pktNats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextId++
	b.handlers[b.nextId] = handler
	return &memoryBusSub{bus: b, id: b.nextId}, nil
}

func TestRelayBridgesInstances(t *testing.T) {
	bus := newMemoryBus()
	log := logger.NewNopLogger()

	a := newBroadcaster(t, "instance-a")
	b := newBroadcaster(t, "instance-b")
	relayA := NewRelayService(a, bus, bus, log)
	relayB := NewRelayService(b, bus, bus, log)
	require.NoError(t, relayA.Start())
	require.NoError(t, relayB.Start())
	defer relayA.Close()
	defer relayB.Close()

	docId := uuid.New()
	onA, onB := &recorder{}, &recorder{}
	subA, err := a.Subscribe(context.Background(), docId, onA.handlers())
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.Subscribe(context.Background(), docId, onB.handlers())
	require.NoError(t, err)
	defer subB.Close()

	holder := &entity.Lock{DocumentId: docId, SectionId: "intro", OwnerId: uuid.New()}
	require.NoError(t, a.PublishLockChanged(context.Background(), holder.Key(), holder))

	assert.Len(t, onA.lockEvents(), 1, "local subscriber sees the event exactly once")
	got := onB.lockEvents()
	require.Len(t, got, 1, "remote subscriber sees the event exactly once")
	assert.Equal(t, holder.OwnerId, got[0].Holder.UserId)

	require.NotEmpty(t, bus.subjects)
	assert.True(t, strings.HasPrefix(bus.subjects[0], "collab.documents."+docId.String()))
}

func TestRelayCloseDetachesForwarder(t *testing.T) {
	bus := newMemoryBus()
	a := newBroadcaster(t, "instance-a")
	relay := NewRelayService(a, bus, bus, logger.NewNopLogger())
	require.NoError(t, relay.Start())
	require.NoError(t, relay.Start(), "Start is idempotent")
	require.NoError(t, relay.Close())

	require.NoError(t, a.PublishVersionCommitted(context.Background(), &entity.Version{DocumentId: uuid.New(), VersionNumber: 2}))
	assert.Empty(t, bus.subjects)
}

func TestRelaySubject(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "collab.documents."+id.String()+".version", RelaySubject(id, events.KindVersionCommitted))
	assert.Equal(t, "collab.documents."+id.String()+".lock", RelaySubject(id, events.KindLockChanged))
}
