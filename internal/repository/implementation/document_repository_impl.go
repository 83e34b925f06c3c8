package implementation

import (
	"context"
	"errors"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/mapper"
	"section-collab-be/internal/model"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentRepositoryImpl struct {
	db            *gorm.DB
	mapper        *mapper.DocumentMapper
	versionMapper *mapper.VersionMapper
}

func NewDocumentRepository(db *gorm.DB) contract.DocumentRepository {
	return &DocumentRepositoryImpl{
		db:            db,
		mapper:        mapper.NewDocumentMapper(),
		versionMapper: mapper.NewVersionMapper(),
	}
}

func applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *DocumentRepositoryImpl) Create(ctx context.Context, doc *entity.Document, first *entity.Version) error {
	if doc.Id == uuid.Nil {
		doc.Id = uuid.New()
	}
	if first.Id == uuid.Nil {
		first.Id = uuid.New()
	}
	if first.CreatedAt.IsZero() {
		first.CreatedAt = time.Now()
	}
	first.DocumentId = doc.Id
	first.VersionNumber = 1

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dm := r.mapper.ToModel(doc)
		dm.CurrentVersionId = nil
		dm.CurrentVersionNumber = 0
		if err := tx.Create(dm).Error; err != nil {
			return err
		}

		vm, err := r.versionMapper.ToModel(first)
		if err != nil {
			return err
		}
		if err := tx.Create(vm).Error; err != nil {
			return err
		}

		if err := repoint(tx, dm.Id, vm); err != nil {
			return err
		}
		dm.CurrentVersionId = &vm.Id
		dm.CurrentVersionNumber = vm.VersionNumber

		*doc = *r.mapper.ToEntity(dm)
		return nil
	})
}

func (r *DocumentRepositoryImpl) FindOne(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	var m model.Document
	query := applySpecifications(r.db.WithContext(ctx), specification.ByID{ID: id})
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func repoint(tx *gorm.DB, documentId uuid.UUID, v *model.Version) error {
	return tx.Model(&model.Document{}).
		Where("id = ?", documentId).
		Updates(map[string]interface{}{
			"current_version_id":     v.Id,
			"current_version_number": v.VersionNumber,
			"updated_at":             v.CreatedAt,
		}).Error
}
