package mapper

import (
	"section-collab-be/internal/entity"
	"section-collab-be/internal/model"
)

type VersionMapper struct{}

func NewVersionMapper() *VersionMapper {
	return &VersionMapper{}
}

func (m *VersionMapper) ToEntity(v *model.Version) (*entity.Version, error) {
	if v == nil {
		return nil, nil
	}

	sections, err := DecodeSections(v.SchemaVersion, v.Sections)
	if err != nil {
		return nil, err
	}

	return &entity.Version{
		Id:            v.Id,
		DocumentId:    v.DocumentId,
		VersionNumber: v.VersionNumber,
		Sections:      sections,
		AuthorId:      v.AuthorId,
		CreatedAt:     v.CreatedAt,
	}, nil
}

func (m *VersionMapper) ToModel(v *entity.Version) (*model.Version, error) {
	if v == nil {
		return nil, nil
	}

	raw, schema, err := EncodeSections(v.Sections)
	if err != nil {
		return nil, err
	}

	return &model.Version{
		Id:            v.Id,
		DocumentId:    v.DocumentId,
		VersionNumber: v.VersionNumber,
		SchemaVersion: schema,
		Sections:      raw,
		AuthorId:      v.AuthorId,
		CreatedAt:     v.CreatedAt,
	}, nil
}

func (m *VersionMapper) ToEntities(versions []*model.Version) ([]*entity.Version, error) {
	entities := make([]*entity.Version, len(versions))
	for i, v := range versions {
		e, err := m.ToEntity(v)
		if err != nil {
			return nil, err
		}
		entities[i] = e
	}
	return entities, nil
}
