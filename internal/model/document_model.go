package model

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	Id                   uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProjectId            uuid.UUID  `gorm:"type:uuid;not null;index"`
	Name                 string     `gorm:"type:varchar(255);not null"`
	CurrentVersionId     *uuid.UUID `gorm:"type:uuid"`
	CurrentVersionNumber int        `gorm:"not null;default:0"`
	Sensitivity          string     `gorm:"type:varchar(32)"`
	TemplateRef          string     `gorm:"type:varchar(255)"`
	CreatedAt            time.Time  `gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}
