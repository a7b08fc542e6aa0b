package domain

import (
	"context"
	"time"

	"slotline/internal/models"
)

// BookingEngine owns slot availability flags and appointment rows. All
// mutation of either — admin surface included — goes through it.
type BookingEngine interface {
	ListAvailable(ctx context.Context, windowStart, windowEnd time.Time, providerID string, limit int) ([]*models.AvailabilitySlot, error)
	FreshAlternatives(ctx context.Context, excludeSlotIDs []string, windowStart time.Time, limit int) ([]*models.AvailabilitySlot, error)
	Book(ctx context.Context, contactID, slotID string) (*models.Appointment, error)
	Cancel(ctx context.Context, appointmentID, reason string) (*models.Appointment, error)
	Reschedule(ctx context.Context, appointmentID, newSlotID string) (*models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	LiveAppointmentForContact(ctx context.Context, contactID string) (*models.Appointment, error)
	GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	UpdateNotes(ctx context.Context, appointmentID string, fromVersion int64, notes string) error
}

// ConversationStore is the durable per-contact conversation state.
type ConversationStore interface {
	GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error)
	SaveConversation(ctx context.Context, state *models.ConversationState) error
	ResetExpiredConversations(ctx context.Context, now, activeSince time.Time) ([]string, error)
}

// ContactStore registers and looks up contacts by phone number.
type ContactStore interface {
	GetOrCreateContactByPhone(ctx context.Context, phone string) (*models.Contact, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	UpdateOptInStatus(ctx context.Context, contactID, status string) error
}

// MessageLog records the raw message traffic for history and delivery status.
type MessageLog interface {
	RecordMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageStatusBySID(ctx context.Context, providerSID, status, errorCode string) error
}

// IdempotencyGuard answers "is this transport message id new" exactly once
// per id within the retention window. CheckAndMark must be atomic.
type IdempotencyGuard interface {
	CheckAndMark(ctx context.Context, messageID string) (bool, error)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Classifier is the external NLU collaborator.
type Classifier interface {
	Classify(ctx context.Context, body string, history []models.Turn, presented []models.PresentedSlot, currentState string) (*models.IntentResult, error)
}

// MessageSender is the outbound side of the transport collaborator.
// Delivery status is not required for core correctness.
type MessageSender interface {
	Send(ctx context.Context, toPhone, body string) (providerSID string, err error)
}

// OutboundQueue schedules outbound messages for asynchronous delivery.
// messageID links the task back to its message-log row. Priority tasks
// skip quiet-hours deferral.
type OutboundQueue interface {
	Enqueue(ctx context.Context, messageID, contactID, phone, body string, priority bool) error
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
