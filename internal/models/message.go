package models

import "time"

// Message is one logged inbound or outbound text message.
type Message struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contact_id"`
	Direction   string    `json:"direction"`
	Body        string    `json:"body"`
	ProviderSID string    `json:"provider_sid,omitempty"`
	Status      string    `json:"status"` // queued, sent, delivered, failed, received
	ErrorCode   string    `json:"error_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OutboundTask is a queued outbound message awaiting delivery. Priority
// tasks (compliance confirmations) are exempt from quiet-hours deferral:
// carriers require STOP/HELP responses to go out immediately.
type OutboundTask struct {
	ID        int64     `json:"id"`
	MessageID string    `json:"message_id"`
	ContactID string    `json:"contact_id"`
	Phone     string    `json:"phone"`
	Body      string    `json:"body"`
	NotBefore time.Time `json:"not_before"`
	Attempts  int       `json:"attempts"`
	Priority  bool      `json:"priority,omitempty"`
	Status    string    `json:"status"` // pending, done, dead
	CreatedAt time.Time `json:"created_at"`
}
