package models

import "time"

type AvailabilitySlot struct {
	ID            string    `json:"id"`
	ProviderID    string    `json:"provider_id,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	BufferMinutes int       `json:"buffer_minutes"`
	SlotType      string    `json:"slot_type"`
	IsAvailable   bool      `json:"is_available"`
	CreatedAt     time.Time `json:"created_at"`
}

// EffectiveEnd returns the slot end shifted by its buffer. The buffer is the
// minimum gap that must stay free after the slot before the next booking.
func (s *AvailabilitySlot) EffectiveEnd() time.Time {
	return s.EndTime.Add(time.Duration(s.BufferMinutes) * time.Minute)
}
