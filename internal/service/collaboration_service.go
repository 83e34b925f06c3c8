package service

import (
	"context"

	"section-collab-be/internal/dto"
	"section-collab-be/internal/entity"
	"section-collab-be/internal/mapper"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/collaberr"
	"section-collab-be/pkg/events"

	"github.com/google/uuid"
)

// ICollaborationService is the surface exposed to REST, WebSocket and in-process callers.
type ICollaborationService interface {
	CreateDocument(ctx context.Context, sess entity.Session, req *dto.CreateDocumentRequest) (*dto.CreateDocumentResponse, error)
	ShowDocument(ctx context.Context, sess entity.Session, documentId uuid.UUID) (*dto.ShowDocumentResponse, error)
	ListVersions(ctx context.Context, sess entity.Session, documentId uuid.UUID) ([]*dto.VersionSummaryResponse, error)
	ShowVersion(ctx context.Context, sess entity.Session, documentId uuid.UUID, number int) (*dto.VersionResponse, error)
	SaveVersion(ctx context.Context, sess entity.Session, documentId uuid.UUID, req *dto.SaveVersionRequest) (*dto.VersionResponse, error)
	CommitSection(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string, req *dto.CommitSectionRequest) (*dto.CommitSectionResponse, error)
	AcquireLock(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) (*dto.AcquireLockResponse, error)
	ReleaseLock(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) error
	GetActiveLocks(ctx context.Context, sess entity.Session, documentId uuid.UUID) ([]*dto.LockResponse, error)
	SubscribeToDocument(ctx context.Context, sess entity.Session, documentId uuid.UUID, handlers SubscriptionHandlers) (*Subscription, error)
	// Snapshot is what a subscriber joining mid-session is sent first.
	Snapshot(ctx context.Context, documentId uuid.UUID) (*events.Snapshot, error)
	// Disconnected releases every lease sess's user holds on the document.
	Disconnected(ctx context.Context, sess entity.Session, documentId uuid.UUID) error
}

type collaborationService struct {
	versions    IVersionService
	locks       ILockService
	broadcaster IBroadcastService
	logger      logger.ILogger
}

func NewCollaborationService(
	versions IVersionService,
	locks ILockService,
	broadcaster IBroadcastService,
	log logger.ILogger,
) ICollaborationService {
	return &collaborationService{
		versions:    versions,
		locks:       locks,
		broadcaster: broadcaster,
		logger:      log,
	}
}

func (s *collaborationService) CreateDocument(ctx context.Context, sess entity.Session, req *dto.CreateDocumentRequest) (*dto.CreateDocumentResponse, error) {
	doc := &entity.Document{
		ProjectId: req.ProjectId,
		Name:      req.Name,
		Metadata: entity.DocumentMetadata{
			Sensitivity: req.Sensitivity,
			TemplateRef: req.TemplateRef,
		},
	}

	created, first, err := s.versions.CreateDocument(ctx, sess, doc, sectionsFromPayload(req.Sections))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Collaboration", "Document created", map[string]interface{}{
		"document_id": created.Id,
		"user_id":     sess.UserId,
		"sections":    len(first.Sections),
	})

	return &dto.CreateDocumentResponse{
		Id:            created.Id,
		VersionNumber: first.VersionNumber,
	}, nil
}

func (s *collaborationService) ShowDocument(ctx context.Context, sess entity.Session, documentId uuid.UUID) (*dto.ShowDocumentResponse, error) {
	doc, err := s.versions.GetDocument(ctx, documentId)
	if err != nil {
		return nil, err
	}
	current, err := s.versions.GetCurrentVersion(ctx, documentId)
	if err != nil {
		return nil, err
	}
	locks, err := s.locks.GetActiveLocks(ctx, documentId)
	if err != nil {
		return nil, err
	}

	return &dto.ShowDocumentResponse{
		Id:             doc.Id,
		ProjectId:      doc.ProjectId,
		Name:           doc.Name,
		Sensitivity:    doc.Metadata.Sensitivity,
		TemplateRef:    doc.Metadata.TemplateRef,
		CurrentVersion: toVersionResponse(current),
		Locks:          toLockResponses(locks),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

func (s *collaborationService) ListVersions(ctx context.Context, sess entity.Session, documentId uuid.UUID) ([]*dto.VersionSummaryResponse, error) {
	versions, err := s.versions.ListVersions(ctx, documentId)
	if err != nil {
		return nil, err
	}

	result := make([]*dto.VersionSummaryResponse, 0, len(versions))
	for _, v := range versions {
		result = append(result, &dto.VersionSummaryResponse{
			Id:            v.Id,
			VersionNumber: v.VersionNumber,
			AuthorId:      v.AuthorId,
			SectionCount:  len(v.Sections),
			CreatedAt:     v.CreatedAt,
		})
	}
	return result, nil
}

func (s *collaborationService) ShowVersion(ctx context.Context, sess entity.Session, documentId uuid.UUID, number int) (*dto.VersionResponse, error) {
	v, err := s.versions.GetVersion(ctx, documentId, number)
	if err != nil {
		return nil, err
	}
	return toVersionResponse(v), nil
}

// SaveVersion replaces the whole snapshot. Sections another user holds must come
// through unchanged, otherwise the save is denied.
func (s *collaborationService) SaveVersion(ctx context.Context, sess entity.Session, documentId uuid.UUID, req *dto.SaveVersionRequest) (*dto.VersionResponse, error) {
	sections := sectionsFromPayload(req.Sections)

	v, err := s.versions.CreateVersionGuarded(ctx, documentId, sections, sess.UserId, func(tip *entity.Version) error {
		if tip == nil {
			return nil
		}
		locks, err := s.locks.GetActiveLocks(ctx, documentId)
		if err != nil {
			return err
		}
		next := &entity.Version{Sections: sections}
		for _, l := range locks {
			if l.OwnerId == sess.UserId {
				continue
			}
			before, _ := tip.Section(l.SectionId)
			after, ok := next.Section(l.SectionId)
			if !ok || before != after {
				return &collaberr.LockDeniedError{DocumentId: documentId, SectionId: l.SectionId, Holder: holderOf(l)}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, v)
	return toVersionResponse(v), nil
}

// CommitSection checks the lease and the commit's sequence number inside the
// append's serialized region, so two commits of one section that overtake each
// other on the way in cannot land out of order.
func (s *collaborationService) CommitSection(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string, req *dto.CommitSectionRequest) (*dto.CommitSectionResponse, error) {
	v, appended, err := s.versions.CommitSectionGuarded(ctx, documentId, sectionId, req.Content, sess.UserId, func(*entity.Version) error {
		_, err := s.locks.Touch(ctx, sess, documentId, sectionId, req.Seq)
		return err
	})
	if err != nil {
		return nil, err
	}

	if appended {
		s.announce(ctx, v)
	}
	return &dto.CommitSectionResponse{VersionNumber: v.VersionNumber}, nil
}

func (s *collaborationService) AcquireLock(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) (*dto.AcquireLockResponse, error) {
	lock, changed, err := s.locks.Acquire(ctx, sess, documentId, sectionId)
	if err != nil {
		return nil, err
	}
	return &dto.AcquireLockResponse{Changed: changed, Lock: toLockResponse(lock)}, nil
}

func (s *collaborationService) ReleaseLock(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) error {
	return s.locks.Release(ctx, sess, documentId, sectionId)
}

func (s *collaborationService) GetActiveLocks(ctx context.Context, sess entity.Session, documentId uuid.UUID) ([]*dto.LockResponse, error) {
	if _, err := s.versions.GetDocument(ctx, documentId); err != nil {
		return nil, err
	}
	locks, err := s.locks.GetActiveLocks(ctx, documentId)
	if err != nil {
		return nil, err
	}
	return toLockResponses(locks), nil
}

func (s *collaborationService) SubscribeToDocument(ctx context.Context, sess entity.Session, documentId uuid.UUID, handlers SubscriptionHandlers) (*Subscription, error) {
	if _, err := s.versions.GetDocument(ctx, documentId); err != nil {
		return nil, err
	}
	return s.broadcaster.Subscribe(ctx, documentId, handlers)
}

func (s *collaborationService) Snapshot(ctx context.Context, documentId uuid.UUID) (*events.Snapshot, error) {
	current, err := s.versions.GetCurrentVersion(ctx, documentId)
	if err != nil {
		return nil, err
	}
	locks, err := s.locks.GetActiveLocks(ctx, documentId)
	if err != nil {
		return nil, err
	}

	snap := &events.Snapshot{
		Version: mapper.ToVersionCommitted(current),
		Locks:   make([]events.LockChanged, 0, len(locks)),
	}
	for _, l := range locks {
		snap.Locks = append(snap.Locks, mapper.ToLockChanged(l.Key(), l))
	}
	return snap, nil
}

func (s *collaborationService) Disconnected(ctx context.Context, sess entity.Session, documentId uuid.UUID) error {
	n, err := s.locks.ReleaseAllHeldBy(ctx, documentId, sess.UserId)
	if n > 0 {
		s.logger.Info("Collaboration", "Released leases of disconnected user", map[string]interface{}{
			"document_id": documentId,
			"user_id":     sess.UserId,
			"released":    n,
		})
	}
	return err
}

// The version is already durable; a failed broadcast is logged and subscribers catch up on the next one.
func (s *collaborationService) announce(ctx context.Context, v *entity.Version) {
	if err := s.broadcaster.PublishVersionCommitted(ctx, v); err != nil {
		s.logger.Warn("Collaboration", "Failed to broadcast version", map[string]interface{}{
			"document_id":    v.DocumentId,
			"version_number": v.VersionNumber,
			"error":          err.Error(),
		})
	}
}

func sectionsFromPayload(payload []dto.SectionPayload) []entity.Section {
	sections := make([]entity.Section, len(payload))
	for i, p := range payload {
		editable := true
		if p.Editable != nil {
			editable = *p.Editable
		}
		sections[i] = entity.Section{Id: p.Id, Title: p.Title, Content: p.Content, Editable: editable}
	}
	return sections
}

func toVersionResponse(v *entity.Version) *dto.VersionResponse {
	if v == nil {
		return nil
	}
	sections := make([]dto.SectionResponse, len(v.Sections))
	for i, sec := range v.Sections {
		sections[i] = dto.SectionResponse{Id: sec.Id, Title: sec.Title, Content: sec.Content, Editable: sec.Editable}
	}
	return &dto.VersionResponse{
		Id:            v.Id,
		DocumentId:    v.DocumentId,
		VersionNumber: v.VersionNumber,
		AuthorId:      v.AuthorId,
		Sections:      sections,
		CreatedAt:     v.CreatedAt,
	}
}

func toLockResponse(l *entity.Lock) *dto.LockResponse {
	if l == nil {
		return nil
	}
	return &dto.LockResponse{
		DocumentId: l.DocumentId,
		SectionId:  l.SectionId,
		UserId:     l.OwnerId,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
	}
}

func toLockResponses(locks []*entity.Lock) []*dto.LockResponse {
	result := make([]*dto.LockResponse, 0, len(locks))
	for _, l := range locks {
		result = append(result, toLockResponse(l))
	}
	return result
}
