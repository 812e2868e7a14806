package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventEntryAdded      = "entry_added"
	EventQueueReordered  = "queue_reordered"
	EventRideStarted     = "ride_started"
	EventRideCompleted   = "ride_completed"
	EventCustomerRemoved = "customer_removed"
	EventSyncApplied     = "sync_applied"
	EventQueueRecomputed = "queue_recalculated"
)

// QueueEvents lists every event the queue engine emits.
var QueueEvents = []string{
	EventEntryAdded,
	EventQueueReordered,
	EventRideStarted,
	EventRideCompleted,
	EventCustomerRemoved,
	EventSyncApplied,
	EventQueueRecomputed,
}

// QueueEventPayload describes a queue change for event consumers.
type QueueEventPayload struct {
	EntryIDs   []string  `json:"entry_ids,omitempty"`
	Order      []string  `json:"order,omitempty"`
	Position   int       `json:"position,omitempty"`
	Status     string    `json:"status,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Role       string    `json:"role,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every queue event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, eventType := range QueueEvents {
		b.Subscribe(eventType, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.Lock()
	b.seq++
	if event.ID == 0 {
		event.ID = b.seq
	}
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// DecodeQueuePayload unmarshals a queue event payload.
func DecodeQueuePayload(event *Event) (QueueEventPayload, error) {
	var p QueueEventPayload
	err := json.Unmarshal(event.Payload, &p)
	return p, err
}
