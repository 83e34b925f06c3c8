// Package inproc runs the client SDK against the services in the same process.
package inproc

import (
	"context"

	"section-collab-be/internal/dto"
	"section-collab-be/internal/entity"
	"section-collab-be/internal/service"
	"section-collab-be/pkg/collabclient"
	"section-collab-be/pkg/events"

	"github.com/google/uuid"
)

// LocalBackend is a collabclient.Backend bound to one session.
type LocalBackend struct {
	collab service.ICollaborationService
	sess   entity.Session
}

var _ collabclient.Backend = (*LocalBackend)(nil)

func NewLocalBackend(collab service.ICollaborationService, sess entity.Session) *LocalBackend {
	return &LocalBackend{collab: collab, sess: sess}
}

func (b *LocalBackend) Session() entity.Session {
	return b.sess
}

func (b *LocalBackend) AcquireLock(ctx context.Context, documentId uuid.UUID, sectionId string) (*events.Holder, error) {
	res, err := b.collab.AcquireLock(ctx, b.sess, documentId, sectionId)
	if err != nil {
		return nil, err
	}
	return &events.Holder{
		UserId:     res.Lock.UserId,
		AcquiredAt: res.Lock.AcquiredAt,
		ExpiresAt:  res.Lock.ExpiresAt,
	}, nil
}

func (b *LocalBackend) ReleaseLock(ctx context.Context, documentId uuid.UUID, sectionId string) error {
	return b.collab.ReleaseLock(ctx, b.sess, documentId, sectionId)
}

func (b *LocalBackend) CommitSection(ctx context.Context, documentId uuid.UUID, sectionId, content string, seq uint64) (int, error) {
	res, err := b.collab.CommitSection(ctx, b.sess, documentId, sectionId, &dto.CommitSectionRequest{
		Content: content,
		Seq:     seq,
	})
	if err != nil {
		return 0, err
	}
	return res.VersionNumber, nil
}

func (b *LocalBackend) FetchSnapshot(ctx context.Context, documentId uuid.UUID) (*events.Snapshot, error) {
	return b.collab.Snapshot(ctx, documentId)
}

func (b *LocalBackend) Subscribe(ctx context.Context, documentId uuid.UUID, handlers collabclient.Handlers) (collabclient.Subscription, error) {
	sub, err := b.collab.SubscribeToDocument(ctx, b.sess, documentId, service.SubscriptionHandlers{
		OnVersion:    handlers.OnVersion,
		OnLockChange: handlers.OnLockChange,
	})
	if err != nil {
		return nil, err
	}
	return subscription{sub}, nil
}

type subscription struct {
	sub *service.Subscription
}

func (s subscription) Close() error {
	s.sub.Close()
	return nil
}
