package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"section-collab-be/pkg/events"

	"github.com/nats-io/nats.go"
)

// EventHandler is a function that processes an envelope.
type EventHandler func(ctx context.Context, env events.Envelope) error

// Subscription is what Subscribe hands back; *nats.Subscription satisfies it.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber listens for collaboration envelopes on NATS subjects.
type Subscriber struct {
	nc *nats.Conn
}

func NewSubscriber(nc *nats.Conn) *Subscriber {
	return &Subscriber{nc: nc}
}

// Subscribe registers a handler for a subject pattern. NATS delivers one subscription's
// messages sequentially, which keeps per-subject order.
func (s *Subscriber) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		var env events.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("Error unmarshalling envelope on %s: %v", msg.Subject, err)
			return
		}
		if err := handler(context.Background(), env); err != nil {
			log.Printf("Handler failed for envelope %s on %s: %v", env.Id, msg.Subject, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Close closes the connection.
func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
