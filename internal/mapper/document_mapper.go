package mapper

import (
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/model"
)

type DocumentMapper struct{}

func NewDocumentMapper() *DocumentMapper {
	return &DocumentMapper{}
}

func (m *DocumentMapper) ToEntity(d *model.Document) *entity.Document {
	if d == nil {
		return nil
	}

	var updatedAt *time.Time
	if !d.UpdatedAt.IsZero() {
		t := d.UpdatedAt
		updatedAt = &t
	}

	return &entity.Document{
		Id:                   d.Id,
		ProjectId:            d.ProjectId,
		Name:                 d.Name,
		CurrentVersionId:     d.CurrentVersionId,
		CurrentVersionNumber: d.CurrentVersionNumber,
		Metadata: entity.DocumentMetadata{
			Sensitivity: d.Sensitivity,
			TemplateRef: d.TemplateRef,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

func (m *DocumentMapper) ToModel(d *entity.Document) *model.Document {
	if d == nil {
		return nil
	}

	var updatedAt time.Time
	if d.UpdatedAt != nil {
		updatedAt = *d.UpdatedAt
	}

	return &model.Document{
		Id:                   d.Id,
		ProjectId:            d.ProjectId,
		Name:                 d.Name,
		CurrentVersionId:     d.CurrentVersionId,
		CurrentVersionNumber: d.CurrentVersionNumber,
		Sensitivity:          d.Metadata.Sensitivity,
		TemplateRef:          d.Metadata.TemplateRef,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            updatedAt,
	}
}
