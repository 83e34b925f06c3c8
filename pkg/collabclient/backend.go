package collabclient

import (
	"context"

	"section-collab-be/pkg/events"

	"github.com/google/uuid"
)

// Handlers receive events for one document. A nil OnSnapshot makes the backend
// deliver a snapshot as one OnVersion call followed by one OnLockChange per lease.
type Handlers struct {
	OnSnapshot   func(events.Snapshot)
	OnVersion    func(events.VersionCommitted)
	OnLockChange func(events.LockChanged)
}

type Subscription interface {
	Close() error
}

// Backend is the server as seen by one signed-in user. The identity is bound
// when the backend is built, never passed per call.
type Backend interface {
	// AcquireLock returns the caller's lease, or a *collaberr.LockDeniedError naming the holder.
	AcquireLock(ctx context.Context, documentId uuid.UUID, sectionId string) (*events.Holder, error)
	ReleaseLock(ctx context.Context, documentId uuid.UUID, sectionId string) error
	// CommitSection returns the version number the commit produced.
	CommitSection(ctx context.Context, documentId uuid.UUID, sectionId, content string, seq uint64) (int, error)
	FetchSnapshot(ctx context.Context, documentId uuid.UUID) (*events.Snapshot, error)
	Subscribe(ctx context.Context, documentId uuid.UUID, handlers Handlers) (Subscription, error)
}

func deliverSnapshot(h Handlers, snap events.Snapshot) {
	if h.OnSnapshot != nil {
		h.OnSnapshot(snap)
		return
	}
	if h.OnVersion != nil {
		h.OnVersion(snap.Version)
	}
	if h.OnLockChange != nil {
		for _, l := range snap.Locks {
			h.OnLockChange(l)
		}
	}
}
