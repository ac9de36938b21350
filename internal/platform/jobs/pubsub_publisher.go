package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/bookings/internal/services"
)

// PubSubPublisher publishes JSON payloads to a single Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a publisher for topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic, marshal: json.Marshal}, nil
}

// Publish encodes payload and waits for the server assigned message id.
// Blank attribute values are dropped. A non-empty orderingKey requires message
// ordering to be enabled on the topic.
func (p *PubSubPublisher) Publish(ctx context.Context, payload any, attrs map[string]string, orderingKey string) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	clean := make(map[string]string, len(attrs))
	for key, value := range attrs {
		if v := strings.TrimSpace(value); v != "" {
			clean[key] = v
		}
	}

	msg := &pubsub.Message{Data: data, Attributes: clean}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = orderingKey
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// BookingEventPublisher publishes ledger transitions, ordered per booking.
type BookingEventPublisher struct {
	publisher *PubSubPublisher
}

// NewBookingEventPublisher wraps topic. Ordering is enabled so consumers see a
// booking's events in commit order.
func NewBookingEventPublisher(topic *pubsub.Topic) (*BookingEventPublisher, error) {
	if topic != nil {
		topic.EnableMessageOrdering = true
	}
	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		return nil, err
	}
	return &BookingEventPublisher{publisher: publisher}, nil
}

// PublishBookingEvent implements services.BookingEventPublisher.
func (p *BookingEventPublisher) PublishBookingEvent(ctx context.Context, event services.BookingEvent) (string, error) {
	if strings.TrimSpace(event.Type) == "" || strings.TrimSpace(event.BookingID) == "" {
		return "", errors.New("booking event: type and booking id are required")
	}
	attrs := map[string]string{
		"eventType": event.Type,
		"bookingId": event.BookingID,
		"listingId": event.ListingID,
		"reference": event.Reference,
	}
	return p.publisher.Publish(ctx, event, attrs, event.BookingID)
}
