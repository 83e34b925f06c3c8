package service

import (
	"context"
	"fmt"
	"sync"

	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/events"
	pktNats "section-collab-be/pkg/nats"

	"github.com/google/uuid"
)

const relaySubjectRoot = "collab.documents"

type EnvelopePublisher interface {
	Publish(ctx context.Context, subject string, env events.Envelope) error
}

type EnvelopeSubscriber interface {
	Subscribe(subject string, handler pktNats.EventHandler) (pktNats.Subscription, error)
}

// IRelayService bridges the local broadcaster of several instances over NATS.
type IRelayService interface {
	EnvelopeForwarder
	Start() error
	Close() error
}

type relayService struct {
	broadcaster IBroadcastService
	publisher   EnvelopePublisher
	subscriber  EnvelopeSubscriber
	logger      logger.ILogger

	mu  sync.Mutex
	sub pktNats.Subscription
}

func NewRelayService(
	broadcaster IBroadcastService,
	publisher EnvelopePublisher,
	subscriber EnvelopeSubscriber,
	log logger.ILogger,
) IRelayService {
	return &relayService{
		broadcaster: broadcaster,
		publisher:   publisher,
		subscriber:  subscriber,
		logger:      log,
	}
}

func RelaySubject(documentId uuid.UUID, kind string) string {
	suffix := kind
	switch kind {
	case events.KindVersionCommitted:
		suffix = "version"
	case events.KindLockChanged:
		suffix = "lock"
	}
	return fmt.Sprintf("%s.%s.%s", relaySubjectRoot, documentId, suffix)
}

// Start subscribes to every document's subjects and hooks the relay into the broadcaster.
func (r *relayService) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}

	sub, err := r.subscriber.Subscribe(relaySubjectRoot+".>", r.ingest)
	if err != nil {
		return err
	}
	r.sub = sub
	r.broadcaster.AttachForwarder(r)

	r.logger.Info("Relay", "Relay started", map[string]interface{}{"instance_id": r.broadcaster.InstanceId()})
	return nil
}

func (r *relayService) Forward(ctx context.Context, env events.Envelope) error {
	return r.publisher.Publish(ctx, RelaySubject(env.DocumentId, env.Kind), env)
}

func (r *relayService) ingest(ctx context.Context, env events.Envelope) error {
	if env.Origin == r.broadcaster.InstanceId() {
		return nil
	}
	if err := r.broadcaster.Ingest(ctx, env); err != nil {
		r.logger.Warn("Relay", "Rejected remote event", map[string]interface{}{
			"origin": env.Origin,
			"kind":   env.Kind,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}

func (r *relayService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcaster.AttachForwarder(nil)
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}
