package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// Domain event types published for downstream analytics.
const (
	EventLineAdded   = "cart.line_added"
	EventLineRemoved = "cart.line_removed"
	EventMerged      = "cart.merged"
)

// DomainEvent describes a completed cart mutation.
type DomainEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OwnerKey   string    `json:"ownerKey"`
	ProductID  string    `json:"productId,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Count      int       `json:"count"`
	Merged     int       `json:"merged,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher emits cart domain events.
type EventPublisher interface {
	PublishCartEvent(ctx context.Context, evt DomainEvent) error
}

// NoopEventPublisher discards events. It is used when no topic is configured.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishCartEvent(context.Context, DomainEvent) error { return nil }

// PubSubEventPublisher publishes cart domain events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed cart event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub cart publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCartEvent sends evt and waits for the server acknowledgement.
func (p *PubSubEventPublisher) PublishCartEvent(ctx context.Context, evt DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub cart publisher: not initialised")
	}

	data, err := p.marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal cart event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", evt.ID)
	setAttr(attrs, "eventType", evt.Type)
	setAttr(attrs, "ownerKind", ownerKind(evt.OwnerKey))
	setAttr(attrs, "productId", evt.ProductID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish cart event: %w", err)
	}
	return nil
}

func ownerKind(key string) string {
	kind, _, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	return kind
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
