package inproc

import (
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/repository/memory"
	"section-collab-be/internal/service"
	"section-collab-be/pkg/collabclient"

	"github.com/google/uuid"
)

// Stack is a complete single-process deployment on the in-memory stores.
type Stack struct {
	Collab      service.ICollaborationService
	lockStore   *memory.LockStore
	broadcaster service.IBroadcastService
}

func NewStack(lockTTL, reapInterval time.Duration, log logger.ILogger) *Stack {
	store := memory.NewDocumentStore()
	lockStore := memory.NewLockStore(reapInterval)
	versions := service.NewVersionService(store, store)
	broadcaster := service.NewBroadcastService(service.NewBroadcastPubSub(log), "inproc", log)
	locks := service.NewLockService(lockStore, versions, broadcaster, lockTTL, log)

	return &Stack{
		Collab:      service.NewCollaborationService(versions, locks, broadcaster, log),
		lockStore:   lockStore,
		broadcaster: broadcaster,
	}
}

// Backend returns a client backend acting as a fresh session of userId.
func (s *Stack) Backend(userId uuid.UUID) collabclient.Backend {
	return NewLocalBackend(s.Collab, entity.NewSession(userId))
}

func (s *Stack) Close() error {
	if err := s.lockStore.Close(); err != nil {
		return err
	}
	return s.broadcaster.Close()
}
