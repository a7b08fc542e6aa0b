package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Turn is one exchange kept for NLU context.
type Turn struct {
	Role    string `json:"role"` // user / assistant
	Content string `json:"content"`
}

// PresentedSlot is a slot as it was shown to the contact, frozen so the next
// turn can resolve a reply like "the second one" without re-deriving anything.
type PresentedSlot struct {
	Index     int       `json:"index"`
	SlotID    string    `json:"slot_id"`
	StartTime time.Time `json:"start_time"`
	Display   string    `json:"display"`
}

// StateContext is the per-state context variant. Each state carries only the
// fields its handler legitimately needs; the row's current_state column is
// the tag used to decode the stored JSON back into the right variant.
type StateContext interface {
	State() string
}

type IdleContext struct {
	LastIntent string `json:"last_intent,omitempty"`
}

func (IdleContext) State() string { return StateIdle }

type ShowingSlotsContext struct {
	Presented  []PresentedSlot `json:"presented_slots"`
	RetryCount int             `json:"retry_count"`
	LastIntent string          `json:"last_intent,omitempty"`
}

func (ShowingSlotsContext) State() string { return StateShowingSlots }

type ConfirmingBookingContext struct {
	Presented       []PresentedSlot `json:"presented_slots"`
	SelectedSlotID  string          `json:"selected_slot_id"`
	SelectedDisplay string          `json:"selected_display"`
	RetryCount      int             `json:"retry_count"`
}

func (ConfirmingBookingContext) State() string { return StateConfirmingBooking }

type ConfirmingCancelContext struct {
	PendingAppointmentID string `json:"pending_appointment_id"`
	Display              string `json:"display,omitempty"`
	RetryCount           int    `json:"retry_count"`
}

func (ConfirmingCancelContext) State() string { return StateConfirmingCancel }

type RescheduleShowSlotsContext struct {
	OriginalAppointmentID string          `json:"original_appointment_id"`
	Presented             []PresentedSlot `json:"presented_slots"`
	RetryCount            int             `json:"retry_count"`
}

func (RescheduleShowSlotsContext) State() string { return StateRescheduleShowSlots }

type ConfirmingRescheduleContext struct {
	OriginalAppointmentID string          `json:"original_appointment_id"`
	Presented             []PresentedSlot `json:"presented_slots"`
	SelectedSlotID        string          `json:"selected_slot_id"`
	SelectedDisplay       string          `json:"selected_display"`
	RetryCount            int             `json:"retry_count"`
}

func (ConfirmingRescheduleContext) State() string { return StateConfirmingReschedule }

type AwaitingInfoContext struct {
	Missing    []string `json:"missing,omitempty"`
	LastIntent string   `json:"last_intent,omitempty"`
	RetryCount int      `json:"retry_count"`
}

func (AwaitingInfoContext) State() string { return StateAwaitingInfo }

// DecodeContext unmarshals a stored context blob into the variant matching
// the state label. An empty blob decodes to the zero variant of that state.
func DecodeContext(state string, raw []byte) (StateContext, error) {
	decode := func(v StateContext) (StateContext, error) {
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s context: %w", state, err)
		}
		return v, nil
	}

	switch state {
	case StateIdle, "":
		return decode(&IdleContext{})
	case StateShowingSlots:
		return decode(&ShowingSlotsContext{})
	case StateConfirmingBooking:
		return decode(&ConfirmingBookingContext{})
	case StateConfirmingCancel:
		return decode(&ConfirmingCancelContext{})
	case StateRescheduleShowSlots:
		return decode(&RescheduleShowSlotsContext{})
	case StateConfirmingReschedule:
		return decode(&ConfirmingRescheduleContext{})
	case StateAwaitingInfo:
		return decode(&AwaitingInfoContext{})
	default:
		return nil, fmt.Errorf("unknown conversation state %q", state)
	}
}

// EncodeContext serializes a context variant for storage.
func EncodeContext(c StateContext) ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s context: %w", c.State(), err)
	}
	return data, nil
}

// ConversationState is the durable per-contact conversation row.
type ConversationState struct {
	ContactID     string       `json:"contact_id"`
	CurrentState  string       `json:"current_state"`
	Context       StateContext `json:"context"`
	History       []Turn       `json:"history,omitempty"`
	LastMessageAt time.Time    `json:"last_message_at"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AppendHistory adds one user/assistant exchange, keeping the tail bounded.
func (s *ConversationState) AppendHistory(userMsg, assistantMsg string) {
	s.History = append(s.History,
		Turn{Role: "user", Content: userMsg},
		Turn{Role: "assistant", Content: assistantMsg},
	)
	if len(s.History) > HistoryKeepTurns {
		s.History = s.History[len(s.History)-HistoryKeepTurns:]
	}
}
