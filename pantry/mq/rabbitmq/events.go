package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the event publisher needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// EventPublisher forwards session events to an exchange as persistent JSON
// messages routed by "session.<type>", e.g. session.expired.
// It implements session.Listener.
type EventPublisher struct {
	mu       sync.Mutex
	ch       Publisher
	exchange string
}

// NewEventPublisher creates a publisher on ch.
func NewEventPublisher(ch Publisher, exchange string) *EventPublisher {
	return &EventPublisher{ch: ch, exchange: exchange}
}

// RoutingKey returns the routing key for an event type.
func RoutingKey(t session.EventType) string {
	return "session." + string(t)
}

// OnSessionEvent implements session.Listener.
func (p *EventPublisher) OnSessionEvent(ctx context.Context, e session.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq: encode event: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Timestamp:    e.At,
		Type:         string(e.Type),
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(e.Type), false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", RoutingKey(e.Type), err)
	}
	return nil
}
