package contract

import (
	"context"

	"section-collab-be/internal/entity"

	"github.com/google/uuid"
)

type DocumentRepository interface {
	// Create stores the document together with its first version.
	Create(ctx context.Context, doc *entity.Document, first *entity.Version) error
	FindOne(ctx context.Context, id uuid.UUID) (*entity.Document, error)
}
