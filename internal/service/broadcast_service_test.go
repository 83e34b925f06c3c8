package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForwarder struct {
	mu   sync.Mutex
	envs []events.Envelope
	err  error
}

func (f *fakeForwarder) Forward(_ context.Context, env events.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	return f.err
}

func (f *fakeForwarder) forwarded() []events.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Envelope(nil), f.envs...)
}

func newBroadcaster(t *testing.T, instanceId string) IBroadcastService {
	t.Helper()
	log := logger.NewNopLogger()
	b := NewBroadcastService(NewBroadcastPubSub(log), instanceId, log)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPerKindDeliveryIsFIFO(t *testing.T) {
	b := newBroadcaster(t, "a")
	docId := uuid.New()
	rec := &recorder{}
	sub, err := b.Subscribe(context.Background(), docId, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 50; i++ {
		require.NoError(t, b.PublishVersionCommitted(context.Background(), &entity.Version{
			DocumentId: docId, VersionNumber: i, CreatedAt: time.Now(),
		}))
	}

	got := rec.versionEvents()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i+1, v.VersionNumber)
	}
}

func TestSubscriptionsAreScopedToDocument(t *testing.T) {
	b := newBroadcaster(t, "a")
	mine, other := uuid.New(), uuid.New()
	rec := &recorder{}
	sub, err := b.Subscribe(context.Background(), mine, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.PublishLockChanged(context.Background(), entity.LockKey{DocumentId: other, SectionId: "s"}, nil))
	require.NoError(t, b.PublishLockChanged(context.Background(), entity.LockKey{DocumentId: mine, SectionId: "s"}, nil))

	got := rec.lockEvents()
	require.Len(t, got, 1)
	assert.Equal(t, mine, got[0].DocumentId)
}

func TestClosedSubscriptionStopsDelivery(t *testing.T) {
	b := newBroadcaster(t, "a")
	docId := uuid.New()
	rec := &recorder{}
	sub, err := b.Subscribe(context.Background(), docId, rec.handlers())
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	require.NoError(t, b.PublishVersionCommitted(context.Background(), &entity.Version{DocumentId: docId, VersionNumber: 2}))
	assert.Empty(t, rec.versionEvents())
}

func TestForwarderReceivesLocalPublishesOnly(t *testing.T) {
	b := newBroadcaster(t, "a")
	fwd := &fakeForwarder{err: errors.New("nats down")}
	b.AttachForwarder(fwd)
	docId := uuid.New()

	require.NoError(t, b.PublishVersionCommitted(context.Background(), &entity.Version{DocumentId: docId, VersionNumber: 2}),
		"forwarding failures do not fail the local publish")

	remote := events.NewVersionCommitted("b", events.VersionCommitted{DocumentId: docId, VersionNumber: 3})
	require.NoError(t, b.Ingest(context.Background(), remote))

	got := fwd.forwarded()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Origin)
}

func TestIngestSkipsOwnOriginAndInvalidEnvelopes(t *testing.T) {
	b := newBroadcaster(t, "a")
	docId := uuid.New()
	rec := &recorder{}
	sub, err := b.Subscribe(context.Background(), docId, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	own := events.NewVersionCommitted("a", events.VersionCommitted{DocumentId: docId, VersionNumber: 2})
	require.NoError(t, b.Ingest(context.Background(), own))
	assert.Empty(t, rec.versionEvents())

	broken := events.Envelope{Id: "x", Kind: events.KindLockChanged, Origin: "b", DocumentId: docId}
	assert.Error(t, b.Ingest(context.Background(), broken))

	remote := events.NewLockChanged("b", events.LockChanged{DocumentId: docId, SectionId: "intro"})
	require.NoError(t, b.Ingest(context.Background(), remote))
	assert.Len(t, rec.lockEvents(), 1)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := newBroadcaster(t, "a")
	docId := uuid.New()
	calls := 0
	sub, err := b.Subscribe(context.Background(), docId, SubscriptionHandlers{
		OnVersion: func(v events.VersionCommitted) {
			calls++
			if v.VersionNumber == 1 {
				panic("boom")
			}
		},
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.PublishVersionCommitted(context.Background(), &entity.Version{DocumentId: docId, VersionNumber: 1}))
	require.NoError(t, b.PublishVersionCommitted(context.Background(), &entity.Version{DocumentId: docId, VersionNumber: 2}))
	assert.Equal(t, 2, calls)
}
