package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/mapper"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// SubscriptionHandlers are invoked from the subscription's own goroutines, one per
// event kind. A handler must not block on another publish to the same document.
type SubscriptionHandlers struct {
	OnVersion    func(events.VersionCommitted)
	OnLockChange func(events.LockChanged)
}

// EnvelopeForwarder carries locally published envelopes to other instances.
type EnvelopeForwarder interface {
	Forward(ctx context.Context, env events.Envelope) error
}

type IBroadcastService interface {
	LockEventSink
	PublishVersionCommitted(ctx context.Context, v *entity.Version) error
	Subscribe(ctx context.Context, documentId uuid.UUID, handlers SubscriptionHandlers) (*Subscription, error)
	// Ingest delivers an envelope that originated on another instance to local subscribers.
	Ingest(ctx context.Context, env events.Envelope) error
	AttachForwarder(f EnvelopeForwarder)
	InstanceId() string
	Close() error
}

type broadcastService struct {
	pubSub     *gochannel.GoChannel
	instanceId string
	logger     logger.ILogger

	mu        sync.RWMutex
	forwarder EnvelopeForwarder
}

// NewBroadcastService expects a GoChannel created with BlockPublishUntilSubscriberAck,
// which is what gives each topic its FIFO delivery.
func NewBroadcastService(pubSub *gochannel.GoChannel, instanceId string, log logger.ILogger) IBroadcastService {
	return &broadcastService{
		pubSub:     pubSub,
		instanceId: instanceId,
		logger:     log,
	}
}

func NewBroadcastPubSub(log logger.ILogger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		},
		logger.NewWatermillAdapter(log, "Broadcast"),
	)
}

func (s *broadcastService) InstanceId() string {
	return s.instanceId
}

func (s *broadcastService) AttachForwarder(f EnvelopeForwarder) {
	s.mu.Lock()
	s.forwarder = f
	s.mu.Unlock()
}

func (s *broadcastService) PublishVersionCommitted(ctx context.Context, v *entity.Version) error {
	return s.publish(ctx, events.NewVersionCommitted(s.instanceId, mapper.ToVersionCommitted(v)))
}

func (s *broadcastService) PublishLockChanged(ctx context.Context, key entity.LockKey, holder *entity.Lock) error {
	return s.publish(ctx, events.NewLockChanged(s.instanceId, mapper.ToLockChanged(key, holder)))
}

func (s *broadcastService) Ingest(ctx context.Context, env events.Envelope) error {
	if env.Origin == s.instanceId {
		return nil
	}
	if err := env.Validate(); err != nil {
		return err
	}
	return s.publishLocal(env)
}

func (s *broadcastService) publish(ctx context.Context, env events.Envelope) error {
	if err := s.publishLocal(env); err != nil {
		return err
	}

	s.mu.RLock()
	f := s.forwarder
	s.mu.RUnlock()
	if f == nil {
		return nil
	}
	// Local subscribers already have the event; a relay failure only affects other instances.
	if err := f.Forward(ctx, env); err != nil {
		s.logger.Warn("Broadcast", "Failed to forward event", map[string]interface{}{
			"document_id": env.DocumentId,
			"kind":        env.Kind,
			"error":       err.Error(),
		})
	}
	return nil
}

func (s *broadcastService) publishLocal(env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Kind, err)
	}

	msg := message.NewMessage(env.Id, payload)
	msg.Metadata.Set("origin", env.Origin)
	msg.Metadata.Set("kind", env.Kind)

	if err := s.pubSub.Publish(events.Topic(env.DocumentId, env.Kind), msg); err != nil {
		return fmt.Errorf("publish %s for document %s: %w", env.Kind, env.DocumentId, err)
	}
	return nil
}

func (s *broadcastService) Subscribe(ctx context.Context, documentId uuid.UUID, handlers SubscriptionHandlers) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel}

	if handlers.OnVersion != nil {
		msgs, err := s.pubSub.Subscribe(subCtx, events.Topic(documentId, events.KindVersionCommitted))
		if err != nil {
			cancel()
			return nil, err
		}
		sub.consume(msgs, func(env events.Envelope) {
			if env.Version != nil {
				handlers.OnVersion(*env.Version)
			}
		}, s.logger)
	}

	if handlers.OnLockChange != nil {
		msgs, err := s.pubSub.Subscribe(subCtx, events.Topic(documentId, events.KindLockChanged))
		if err != nil {
			sub.Close()
			return nil, err
		}
		sub.consume(msgs, func(env events.Envelope) {
			if env.Lock != nil {
				handlers.OnLockChange(*env.Lock)
			}
		}, s.logger)
	}

	return sub, nil
}

func (s *broadcastService) Close() error {
	return s.pubSub.Close()
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (sub *Subscription) consume(msgs <-chan *message.Message, deliver func(events.Envelope), log logger.ILogger) {
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for msg := range msgs {
			var env events.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				log.Warn("Broadcast", "Dropping undecodable event", map[string]interface{}{"error": err.Error()})
				msg.Ack()
				continue
			}
			safeDeliver(deliver, env, log)
			msg.Ack()
		}
	}()
}

// Close stops delivery and waits for in-flight handlers. Do not call it from a handler.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.cancel()
		sub.wg.Wait()
	})
}

func safeDeliver(deliver func(events.Envelope), env events.Envelope, log logger.ILogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Broadcast", "Subscriber panicked", map[string]interface{}{
				"kind":  env.Kind,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	deliver(env)
}
