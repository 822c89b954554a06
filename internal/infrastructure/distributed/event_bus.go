package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vigil/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventsChannel is the pub/sub channel every vigil instance publishes on.
const EventsChannel = "vigil:events"

// EventType represents the type of event
type EventType string

const (
	EventAlertRaised  EventType = EventType(domain.AlertRaised)
	EventAlertCleared EventType = EventType(domain.AlertCleared)
)

// Event is the envelope published on EventsChannel.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus publishes alert transitions over Redis pub/sub so that other
// processes (home automation bridges, a second vigil) can react to them.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    EventsChannel,
		logger:     logger,
	}
}

func (eb *EventBus) Name() string {
	return "redis"
}

// Publish stamps the event with this instance and the current time.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	data, err := eb.encode(event)
	if err != nil {
		return err
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "channel", eb.channel)
	return nil
}

// PublishAlert implements ports.AlertPublisher.
func (eb *EventBus) PublishAlert(ctx context.Context, alert domain.AlertEvent) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return eb.Publish(ctx, &Event{
		Type:    EventType(alert.Kind),
		Payload: payload,
	})
}

func (eb *EventBus) encode(event *Event) ([]byte, error) {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Subscribe blocks delivering events to handler until ctx is done. Events
// published by this instance are skipped unless includeOwn is set.
func (eb *EventBus) Subscribe(ctx context.Context, includeOwn bool, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if !includeOwn && event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
			}
		}
	}
}

func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Alert decodes the payload of an alert event.
func (e *Event) Alert() (domain.AlertEvent, error) {
	var alert domain.AlertEvent
	if e.Type != EventAlertRaised && e.Type != EventAlertCleared {
		return alert, fmt.Errorf("event %s is not an alert", e.Type)
	}
	err := json.Unmarshal(e.Payload, &alert)
	return alert, err
}
