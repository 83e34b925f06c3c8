package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
)

type IVersionService interface {
	CreateDocument(ctx context.Context, sess entity.Session, doc *entity.Document, sections []entity.Section) (*entity.Document, *entity.Version, error)
	GetDocument(ctx context.Context, documentId uuid.UUID) (*entity.Document, error)
	CreateVersion(ctx context.Context, documentId uuid.UUID, sections []entity.Section, authorId uuid.UUID) (*entity.Version, error)
	CommitSection(ctx context.Context, documentId uuid.UUID, sectionId, content string, authorId uuid.UUID) (*entity.Version, error)
	// CommitSectionGuarded runs guard against the tip inside the document's serialized
	// region before rewriting the section. appended is false when the section already
	// carried content; the returned version is then the unchanged tip.
	CommitSectionGuarded(ctx context.Context, documentId uuid.UUID, sectionId, content string, authorId uuid.UUID, guard func(tip *entity.Version) error) (v *entity.Version, appended bool, err error)
	// CreateVersionGuarded appends a full snapshot after guard has inspected the tip it replaces.
	CreateVersionGuarded(ctx context.Context, documentId uuid.UUID, sections []entity.Section, authorId uuid.UUID, guard func(tip *entity.Version) error) (*entity.Version, error)
	GetCurrentVersion(ctx context.Context, documentId uuid.UUID) (*entity.Version, error)
	GetVersion(ctx context.Context, documentId uuid.UUID, number int) (*entity.Version, error)
	ListVersions(ctx context.Context, documentId uuid.UUID) ([]*entity.Version, error)
}

type versionService struct {
	documents contract.DocumentRepository
	versions  contract.VersionRepository
}

func NewVersionService(documents contract.DocumentRepository, versions contract.VersionRepository) IVersionService {
	return &versionService{
		documents: documents,
		versions:  versions,
	}
}

func (s *versionService) CreateDocument(ctx context.Context, sess entity.Session, doc *entity.Document, sections []entity.Section) (*entity.Document, *entity.Version, error) {
	if err := validateSections(sections); err != nil {
		return nil, nil, err
	}

	d := *doc
	if d.Id == uuid.Nil {
		d.Id = uuid.New()
	}
	d.CreatedAt = time.Now()

	first := &entity.Version{
		Id:        uuid.New(),
		Sections:  append([]entity.Section(nil), sections...),
		AuthorId:  sess.UserId,
		CreatedAt: d.CreatedAt,
	}

	if err := s.documents.Create(ctx, &d, first); err != nil {
		return nil, nil, err
	}
	return &d, first, nil
}

func (s *versionService) GetDocument(ctx context.Context, documentId uuid.UUID) (*entity.Document, error) {
	doc, err := s.documents.FindOne(ctx, documentId)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, collaberr.NotFound("document", documentId.String())
	}
	return doc, nil
}

func (s *versionService) CreateVersion(ctx context.Context, documentId uuid.UUID, sections []entity.Section, authorId uuid.UUID) (*entity.Version, error) {
	return s.CreateVersionGuarded(ctx, documentId, sections, authorId, nil)
}

func (s *versionService) CreateVersionGuarded(ctx context.Context, documentId uuid.UUID, sections []entity.Section, authorId uuid.UUID, guard func(tip *entity.Version) error) (*entity.Version, error) {
	if err := validateSections(sections); err != nil {
		return nil, err
	}
	snapshot := append([]entity.Section(nil), sections...)

	return s.versions.Append(ctx, documentId, authorId, func(tip *entity.Version) ([]entity.Section, error) {
		if guard != nil {
			if err := guard(tip); err != nil {
				return nil, err
			}
		}
		return snapshot, nil
	})
}

// errUnchanged aborts an append whose section already holds the committed content.
var errUnchanged = errors.New("section unchanged")

// CommitSection rewrites one section on top of whatever the tip is when the append
// runs, so concurrent commits to sibling sections keep each other's content.
func (s *versionService) CommitSection(ctx context.Context, documentId uuid.UUID, sectionId, content string, authorId uuid.UUID) (*entity.Version, error) {
	v, _, err := s.CommitSectionGuarded(ctx, documentId, sectionId, content, authorId, nil)
	return v, err
}

func (s *versionService) CommitSectionGuarded(ctx context.Context, documentId uuid.UUID, sectionId, content string, authorId uuid.UUID, guard func(tip *entity.Version) error) (*entity.Version, bool, error) {
	var current *entity.Version

	v, err := s.versions.Append(ctx, documentId, authorId, func(tip *entity.Version) ([]entity.Section, error) {
		if tip == nil {
			return nil, collaberr.NotFound("section", sectionId)
		}
		if guard != nil {
			if err := guard(tip); err != nil {
				return nil, err
			}
		}

		sections := tip.CloneSections()
		for i := range sections {
			if sections[i].Id != sectionId {
				continue
			}
			if !sections[i].Editable {
				return nil, collaberr.ErrNotEditable
			}
			if sections[i].Content == content {
				// a replayed commit whose first attempt already landed
				current = tip
				return nil, errUnchanged
			}
			sections[i].Content = content
			return sections, nil
		}
		return nil, collaberr.NotFound("section", sectionId)
	})
	if errors.Is(err, errUnchanged) {
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *versionService) GetCurrentVersion(ctx context.Context, documentId uuid.UUID) (*entity.Version, error) {
	v, err := s.versions.FindCurrent(ctx, documentId)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, collaberr.NotFound("document", documentId.String())
	}
	return v, nil
}

func (s *versionService) GetVersion(ctx context.Context, documentId uuid.UUID, number int) (*entity.Version, error) {
	v, err := s.versions.FindByNumber(ctx, documentId, number)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, collaberr.NotFound("version", documentId.String()+"@"+strconv.Itoa(number))
	}
	return v, nil
}

func (s *versionService) ListVersions(ctx context.Context, documentId uuid.UUID) ([]*entity.Version, error) {
	if _, err := s.GetDocument(ctx, documentId); err != nil {
		return nil, err
	}
	return s.versions.FindAll(ctx, documentId)
}

func validateSections(sections []entity.Section) error {
	if len(sections) == 0 {
		return collaberr.Invalid("a document needs at least one section")
	}
	seen := make(map[string]struct{}, len(sections))
	for _, sec := range sections {
		if sec.Id == "" {
			return collaberr.Invalid("section id must not be empty")
		}
		if _, dup := seen[sec.Id]; dup {
			return collaberr.Invalid("duplicate section id %q", sec.Id)
		}
		seen[sec.Id] = struct{}{}
	}
	return nil
}
