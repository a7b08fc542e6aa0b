package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventAppointmentBooked      = "appointment_booked"
	EventAppointmentCancelled   = "appointment_cancelled"
	EventAppointmentRescheduled = "appointment_rescheduled"
	EventConversationReset      = "conversation_reset"
	EventContactOptedOut        = "contact_opted_out"
)

// AppointmentEventPayload is the minimal appointment snapshot for consumers.
type AppointmentEventPayload struct {
	AppointmentID string    `json:"appointment_id"`
	ContactID     string    `json:"contact_id"`
	SlotID        string    `json:"slot_id"`
	Status        string    `json:"status"`
	StartTime     time.Time `json:"start_time,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	PreviousID    string    `json:"previous_id,omitempty"`
}

// ConversationEventPayload describes a conversation lifecycle change.
type ConversationEventPayload struct {
	ContactID string `json:"contact_id"`
	FromState string `json:"from_state,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
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

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

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

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
