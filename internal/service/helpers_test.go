package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/repository/memory"
	"section-collab-be/pkg/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testStack struct {
	store       *memory.DocumentStore
	lockStore   *memory.LockStore
	versions    IVersionService
	broadcaster IBroadcastService
	locks       ILockService
	collab      ICollaborationService
}

func newTestStack(t *testing.T, ttl time.Duration) *testStack {
	t.Helper()

	log := logger.NewNopLogger()
	store := memory.NewDocumentStore()
	lockStore := memory.NewLockStore(10 * time.Millisecond)
	versions := NewVersionService(store, store)
	broadcaster := NewBroadcastService(NewBroadcastPubSub(log), "test-instance", log)
	locks := NewLockService(lockStore, versions, broadcaster, ttl, log)

	t.Cleanup(func() {
		_ = lockStore.Close()
		_ = broadcaster.Close()
	})

	return &testStack{
		store:       store,
		lockStore:   lockStore,
		versions:    versions,
		broadcaster: broadcaster,
		locks:       locks,
		collab:      NewCollaborationService(versions, locks, broadcaster, log),
	}
}

func (s *testStack) seedDocument(t *testing.T, sections ...entity.Section) uuid.UUID {
	t.Helper()
	if len(sections) == 0 {
		sections = []entity.Section{
			{Id: "intro", Title: "Introduction", Content: "", Editable: true},
			{Id: "scope", Title: "Scope", Content: "", Editable: true},
			{Id: "legal", Title: "Legal", Content: "fixed", Editable: false},
		}
	}
	doc, _, err := s.versions.CreateDocument(context.Background(), entity.NewSession(uuid.New()),
		&entity.Document{ProjectId: uuid.New(), Name: "Plan"}, sections)
	require.NoError(t, err)
	return doc.Id
}

// recorder collects broadcast events for assertions.
type recorder struct {
	mu       sync.Mutex
	versions []events.VersionCommitted
	locks    []events.LockChanged
}

func (r *recorder) handlers() SubscriptionHandlers {
	return SubscriptionHandlers{
		OnVersion: func(v events.VersionCommitted) {
			r.mu.Lock()
			r.versions = append(r.versions, v)
			r.mu.Unlock()
		},
		OnLockChange: func(l events.LockChanged) {
			r.mu.Lock()
			r.locks = append(r.locks, l)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) lockEvents() []events.LockChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.LockChanged(nil), r.locks...)
}

func (r *recorder) versionEvents() []events.VersionCommitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.VersionCommitted(nil), r.versions...)
}
