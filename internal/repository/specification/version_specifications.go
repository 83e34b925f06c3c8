package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByDocumentID struct {
	DocumentID uuid.UUID
}

func (s ByDocumentID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("document_id = ?", s.DocumentID)
}

type ByVersionNumber struct {
	Number int
}

func (s ByVersionNumber) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("version_number = ?", s.Number)
}
