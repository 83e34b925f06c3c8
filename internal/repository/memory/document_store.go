package memory

import (
	"context"
	"sync"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
)

// DocumentStore keeps documents and their version history in process memory.
// It implements both contract.DocumentRepository and contract.VersionRepository.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]*entity.Document
	versions  map[uuid.UUID][]*entity.Version // ascending by VersionNumber

	// one append lock per document
	appendLocks map[uuid.UUID]*sync.Mutex
}

var (
	_ contract.DocumentRepository = (*DocumentStore)(nil)
	_ contract.VersionRepository  = (*DocumentStore)(nil)
)

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents:   make(map[uuid.UUID]*entity.Document),
		versions:    make(map[uuid.UUID][]*entity.Version),
		appendLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *DocumentStore) Create(ctx context.Context, doc *entity.Document, first *entity.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.Id]; exists {
		return collaberr.Invalid("document %s already exists", doc.Id)
	}

	v := cloneVersion(first)
	v.DocumentId = doc.Id
	v.VersionNumber = 1
	if v.Id == uuid.Nil {
		v.Id = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	d := *doc
	d.CurrentVersionId = &v.Id
	d.CurrentVersionNumber = v.VersionNumber

	s.documents[d.Id] = &d
	s.versions[d.Id] = []*entity.Version{v}
	s.appendLocks[d.Id] = &sync.Mutex{}

	*doc = d
	*first = *cloneVersion(v)
	return nil
}

func (s *DocumentStore) FindOne(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	out := *d
	return &out, nil
}

func (s *DocumentStore) Append(ctx context.Context, documentId, authorId uuid.UUID, build contract.VersionBuilder) (*entity.Version, error) {
	s.mu.RLock()
	appendLock, ok := s.appendLocks[documentId]
	s.mu.RUnlock()
	if !ok {
		return nil, collaberr.NotFound("document", documentId.String())
	}

	appendLock.Lock()
	defer appendLock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	history := s.versions[documentId]
	maxNumber := 0
	var tip *entity.Version
	for _, v := range history {
		if v.VersionNumber > maxNumber {
			maxNumber = v.VersionNumber
			tip = v
		}
	}
	if tip != nil {
		tip = cloneVersion(tip)
	}
	s.mu.RUnlock()

	sections, err := build(tip)
	if err != nil {
		return nil, err
	}

	v := &entity.Version{
		Id:            uuid.New(),
		DocumentId:    documentId,
		VersionNumber: maxNumber + 1,
		Sections:      append([]entity.Section(nil), sections...),
		AuthorId:      authorId,
		CreatedAt:     time.Now(),
	}

	s.mu.Lock()
	s.versions[documentId] = append(s.versions[documentId], v)
	doc := s.documents[documentId]
	now := v.CreatedAt
	doc.CurrentVersionId = &v.Id
	doc.CurrentVersionNumber = v.VersionNumber
	doc.UpdatedAt = &now
	s.mu.Unlock()

	return cloneVersion(v), nil
}

func (s *DocumentStore) FindCurrent(ctx context.Context, documentId uuid.UUID) (*entity.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[documentId]
	if !ok || doc.CurrentVersionId == nil {
		return nil, nil
	}
	for _, v := range s.versions[documentId] {
		if v.Id == *doc.CurrentVersionId {
			return cloneVersion(v), nil
		}
	}
	return nil, nil
}

func (s *DocumentStore) FindByNumber(ctx context.Context, documentId uuid.UUID, number int) (*entity.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[documentId] {
		if v.VersionNumber == number {
			return cloneVersion(v), nil
		}
	}
	return nil, nil
}

func (s *DocumentStore) FindAll(ctx context.Context, documentId uuid.UUID) ([]*entity.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.versions[documentId]
	out := make([]*entity.Version, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, cloneVersion(history[i]))
	}
	return out, nil
}

func cloneVersion(v *entity.Version) *entity.Version {
	out := *v
	out.Sections = v.CloneSections()
	return &out
}
