package contract

import (
	"context"
	"time"

	"section-collab-be/internal/entity"

	"github.com/google/uuid"
)

// ExpiryHandler is invoked once for every lease the store reaps after its TTL.
type ExpiryHandler func(lock entity.Lock)

type LockStore interface {
	// TryAcquire returns the lease for key after the attempt: the caller's on
	// AcquireGranted/AcquireAlreadyHeld, the current holder's on AcquireDenied.
	TryAcquire(ctx context.Context, key entity.LockKey, ownerId uuid.UUID, ttl time.Duration) (*entity.Lock, entity.AcquireOutcome, error)
	// Release frees key only when ownerId holds it; it reports whether anything changed.
	Release(ctx context.Context, key entity.LockKey, ownerId uuid.UUID) (bool, error)
	// Touch extends the caller's lease and records seq. It fails with
	// collaberr.ErrLockDenied when ownerId does not hold key and with
	// collaberr.ErrStaleCommit when seq > 0 and seq < the last recorded seq. An equal
	// seq is a retry of the same commit and is accepted.
	Touch(ctx context.Context, key entity.LockKey, ownerId uuid.UUID, seq uint64, ttl time.Duration) (*entity.Lock, error)
	Get(ctx context.Context, key entity.LockKey) (*entity.Lock, error)
	ListActive(ctx context.Context, documentId uuid.UUID) ([]*entity.Lock, error)
	OnExpire(handler ExpiryHandler)
	Close() error
}
