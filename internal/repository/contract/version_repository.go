package contract

import (
	"context"

	"section-collab-be/internal/entity"

	"github.com/google/uuid"
)

// VersionBuilder derives the next snapshot from the current tip. It runs inside the
// document's serialized region, so it sees every previously appended version.
type VersionBuilder func(tip *entity.Version) ([]entity.Section, error)

type VersionRepository interface {
	// Append assigns VersionNumber = 1 + max existing, stores the snapshot and repoints
	// the document. Appends for one document are serialized; different documents are not.
	// Returns collaberr.ErrNotFound for an unknown document.
	Append(ctx context.Context, documentId, authorId uuid.UUID, build VersionBuilder) (*entity.Version, error)
	FindCurrent(ctx context.Context, documentId uuid.UUID) (*entity.Version, error)
	FindByNumber(ctx context.Context, documentId uuid.UUID, number int) (*entity.Version, error)
	// FindAll returns versions ordered by VersionNumber descending.
	FindAll(ctx context.Context, documentId uuid.UUID) ([]*entity.Version, error)
}
