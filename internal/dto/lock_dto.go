package dto

import (
	"time"

	"github.com/google/uuid"
)

type LockResponse struct {
	DocumentId uuid.UUID `json:"document_id"`
	SectionId  string    `json:"section_id"`
	UserId     uuid.UUID `json:"user_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type AcquireLockResponse struct {
	// Changed is false when the caller already held the section.
	Changed bool          `json:"changed"`
	Lock    *LockResponse `json:"lock"`
}
