package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type LockKey struct {
	DocumentId uuid.UUID
	SectionId  string
}

func (k LockKey) String() string {
	return fmt.Sprintf("%s/%s", k.DocumentId, k.SectionId)
}

// Lock is a HELD lease on one section. A FREE section has no Lock.
type Lock struct {
	DocumentId uuid.UUID
	SectionId  string
	OwnerId    uuid.UUID
	AcquiredAt time.Time
	ExpiresAt  time.Time
	LastSeq    uint64
}

func (l *Lock) Key() LockKey {
	return LockKey{DocumentId: l.DocumentId, SectionId: l.SectionId}
}

// IsExpired returns true if the lease has run out.
func (l *Lock) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

type AcquireOutcome int

const (
	AcquireDenied AcquireOutcome = iota
	// AcquireGranted means the section went FREE -> HELD.
	AcquireGranted
	// AcquireAlreadyHeld means the caller already held it; nothing changed.
	AcquireAlreadyHeld
)
