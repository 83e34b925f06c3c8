package service

import (
	"context"
	"errors"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
)

// LockEventSink receives every FREE <-> HELD transition. holder is nil for FREE.
type LockEventSink interface {
	PublishLockChanged(ctx context.Context, key entity.LockKey, holder *entity.Lock) error
}

type ILockService interface {
	// Acquire reports changed=false when the caller already held the section.
	Acquire(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) (lock *entity.Lock, changed bool, err error)
	Release(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) error
	GetActiveLocks(ctx context.Context, documentId uuid.UUID) ([]*entity.Lock, error)
	Touch(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string, seq uint64) (*entity.Lock, error)
	ReleaseAllHeldBy(ctx context.Context, documentId, userId uuid.UUID) (int, error)
}

type lockService struct {
	store    contract.LockStore
	versions IVersionService
	sink     LockEventSink
	ttl      time.Duration
	logger   logger.ILogger
}

func NewLockService(
	store contract.LockStore,
	versions IVersionService,
	sink LockEventSink,
	ttl time.Duration,
	log logger.ILogger,
) ILockService {
	s := &lockService{
		store:    store,
		versions: versions,
		sink:     sink,
		ttl:      ttl,
		logger:   log,
	}
	store.OnExpire(s.expired)
	return s
}

func (s *lockService) Acquire(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) (*entity.Lock, bool, error) {
	current, err := s.versions.GetCurrentVersion(ctx, documentId)
	if err != nil {
		return nil, false, err
	}
	section, ok := current.Section(sectionId)
	if !ok {
		return nil, false, collaberr.NotFound("section", sectionId)
	}
	if !section.Editable {
		return nil, false, collaberr.ErrNotEditable
	}

	key := entity.LockKey{DocumentId: documentId, SectionId: sectionId}
	lock, outcome, err := s.store.TryAcquire(ctx, key, sess.UserId, s.ttl)
	if err != nil {
		return nil, false, err
	}

	switch outcome {
	case entity.AcquireDenied:
		return nil, false, &collaberr.LockDeniedError{
			DocumentId: documentId,
			SectionId:  sectionId,
			Holder:     holderOf(lock),
		}
	case entity.AcquireAlreadyHeld:
		return lock, false, nil
	}

	s.logger.Debug("LockService", "Section locked", map[string]interface{}{
		"lock":    key.String(),
		"user_id": sess.UserId,
	})
	s.publish(ctx, key, lock)
	return lock, true, nil
}

func (s *lockService) Release(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string) error {
	key := entity.LockKey{DocumentId: documentId, SectionId: sectionId}
	released, err := s.store.Release(ctx, key, sess.UserId)
	if err != nil {
		return err
	}
	if released {
		s.publish(ctx, key, nil)
	}
	return nil
}

func (s *lockService) GetActiveLocks(ctx context.Context, documentId uuid.UUID) ([]*entity.Lock, error) {
	return s.store.ListActive(ctx, documentId)
}

func (s *lockService) Touch(ctx context.Context, sess entity.Session, documentId uuid.UUID, sectionId string, seq uint64) (*entity.Lock, error) {
	key := entity.LockKey{DocumentId: documentId, SectionId: sectionId}
	lock, err := s.store.Touch(ctx, key, sess.UserId, seq, s.ttl)
	if err != nil {
		if errors.Is(err, collaberr.ErrLockDenied) {
			s.logger.Debug("LockService", "Commit without lease", map[string]interface{}{
				"lock":    key.String(),
				"user_id": sess.UserId,
			})
		}
		return nil, err
	}
	return lock, nil
}

func (s *lockService) ReleaseAllHeldBy(ctx context.Context, documentId, userId uuid.UUID) (int, error) {
	locks, err := s.store.ListActive(ctx, documentId)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, l := range locks {
		if l.OwnerId != userId {
			continue
		}
		ok, err := s.store.Release(ctx, l.Key(), userId)
		if err != nil {
			return released, err
		}
		if ok {
			released++
			s.publish(ctx, l.Key(), nil)
		}
	}
	return released, nil
}

func (s *lockService) expired(l entity.Lock) {
	s.logger.Info("LockService", "Lease expired", map[string]interface{}{
		"lock":    l.Key().String(),
		"user_id": l.OwnerId,
	})
	s.publish(context.Background(), l.Key(), nil)
}

// Broadcast failures never undo a lock transition; subscribers resync on the next snapshot.
func (s *lockService) publish(ctx context.Context, key entity.LockKey, holder *entity.Lock) {
	if s.sink == nil {
		return
	}
	if err := s.sink.PublishLockChanged(ctx, key, holder); err != nil {
		s.logger.Warn("LockService", "Failed to broadcast lock change", map[string]interface{}{
			"lock":  key.String(),
			"error": err.Error(),
		})
	}
}

func holderOf(l *entity.Lock) collaberr.Holder {
	if l == nil {
		return collaberr.Holder{}
	}
	return collaberr.Holder{UserId: l.OwnerId, AcquiredAt: l.AcquiredAt, ExpiresAt: l.ExpiresAt}
}
