package database

import "errors"

var (
	// ErrSlotUnavailable is the expected, recoverable outcome of racing for a
	// slot: the caller re-offers alternatives instead of failing the turn.
	ErrSlotUnavailable = errors.New("slot is no longer available")

	// ErrAlreadyCancelled is returned when cancel or reschedule targets an
	// appointment that no longer occupies its slot.
	ErrAlreadyCancelled = errors.New("appointment is not active")

	// ErrNotFound is returned for lookups of unknown rows.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification signals a lost optimistic-version race on
	// appointment metadata updates.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
