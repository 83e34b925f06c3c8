package entity

import (
	"time"

	"github.com/google/uuid"
)

type DocumentMetadata struct {
	Sensitivity string
	TemplateRef string
}

type Document struct {
	Id                   uuid.UUID
	ProjectId            uuid.UUID
	Name                 string
	CurrentVersionId     *uuid.UUID
	CurrentVersionNumber int
	Metadata             DocumentMetadata
	CreatedAt            time.Time
	UpdatedAt            *time.Time
}
