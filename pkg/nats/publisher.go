package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"section-collab-be/pkg/events"

	"github.com/nats-io/nats.go"
)

// Publisher sends collaboration envelopes to NATS subjects.
type Publisher struct {
	nc *nats.Conn
}

func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Publish sends an envelope. Core NATS is fire and forget; ctx only guards the call.
func (p *Publisher) Publish(ctx context.Context, subject string, env events.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Collab-Origin", env.Origin)
	msg.Header.Set("Collab-Kind", env.Kind)

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
