package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Version rows are insert-only.
type Version struct {
	Id            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentId    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_document_versions_number,priority:1"`
	VersionNumber int            `gorm:"not null;uniqueIndex:idx_document_versions_number,priority:2"`
	SchemaVersion int            `gorm:"not null;default:2"`
	Sections      datatypes.JSON `gorm:"type:jsonb;not null"`
	AuthorId      uuid.UUID      `gorm:"type:uuid;not null;index"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
}

func (Version) TableName() string {
	return "document_versions"
}
