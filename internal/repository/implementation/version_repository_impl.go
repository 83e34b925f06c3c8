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
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VersionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.VersionMapper
}

func NewVersionRepository(db *gorm.DB) contract.VersionRepository {
	return &VersionRepositoryImpl{
		db:     db,
		mapper: mapper.NewVersionMapper(),
	}
}

// Append serializes writers of one document on its row lock. The unique index on
// (document_id, version_number) rejects anything that slips past it.
func (r *VersionRepositoryImpl) Append(ctx context.Context, documentId, authorId uuid.UUID, build contract.VersionBuilder) (*entity.Version, error) {
	var appended *entity.Version

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		query := applySpecifications(tx, specification.ForUpdate{}, specification.ByID{ID: documentId})
		if err := query.First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return collaberr.NotFound("document", documentId.String())
			}
			return err
		}

		var maxNumber int
		if err := tx.Model(&model.Version{}).
			Where("document_id = ?", documentId).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxNumber).Error; err != nil {
			return err
		}

		var tip *entity.Version
		if maxNumber > 0 {
			var tm model.Version
			if err := applySpecifications(tx,
				specification.ByDocumentID{DocumentID: documentId},
				specification.ByVersionNumber{Number: maxNumber},
			).First(&tm).Error; err != nil {
				return err
			}
			decoded, err := r.mapper.ToEntity(&tm)
			if err != nil {
				return err
			}
			tip = decoded
		}

		sections, err := build(tip)
		if err != nil {
			return err
		}

		next := &entity.Version{
			Id:            uuid.New(),
			DocumentId:    documentId,
			VersionNumber: maxNumber + 1,
			Sections:      sections,
			AuthorId:      authorId,
			CreatedAt:     time.Now(),
		}
		vm, err := r.mapper.ToModel(next)
		if err != nil {
			return err
		}
		if err := tx.Create(vm).Error; err != nil {
			return err
		}
		if err := repoint(tx, documentId, vm); err != nil {
			return err
		}

		appended, err = r.mapper.ToEntity(vm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (r *VersionRepositoryImpl) FindCurrent(ctx context.Context, documentId uuid.UUID) (*entity.Version, error) {
	var m model.Version
	err := r.db.WithContext(ctx).
		Joins("JOIN documents ON documents.current_version_id = document_versions.id").
		Where("documents.id = ?", documentId).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m)
}

func (r *VersionRepositoryImpl) FindByNumber(ctx context.Context, documentId uuid.UUID, number int) (*entity.Version, error) {
	var m model.Version
	query := applySpecifications(r.db.WithContext(ctx),
		specification.ByDocumentID{DocumentID: documentId},
		specification.ByVersionNumber{Number: number},
	)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m)
}

func (r *VersionRepositoryImpl) FindAll(ctx context.Context, documentId uuid.UUID) ([]*entity.Version, error) {
	var models []*model.Version
	query := applySpecifications(r.db.WithContext(ctx),
		specification.ByDocumentID{DocumentID: documentId},
		specification.OrderBy{Field: "version_number", Desc: true},
	)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models)
}
