package models

import "time"

type Appointment struct {
	ID                 string     `json:"id"`
	ContactID          string     `json:"contact_id"`
	SlotID             string     `json:"slot_id"`
	Status             string     `json:"status"` // confirmed, cancelled, rescheduled, completed, no_show
	BookedAt           time.Time  `json:"booked_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RescheduledFromID  string     `json:"rescheduled_from_id,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsLive reports whether the appointment currently occupies its slot.
func (a *Appointment) IsLive() bool {
	return a.Status == StatusConfirmed || a.Status == StatusRescheduled
}
