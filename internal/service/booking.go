package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotline/internal/config"
	"slotline/internal/database"
	"slotline/internal/events"
	"slotline/internal/metrics"
	"slotline/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrTooSoon       = errors.New("slot starts too soon to book")
	ErrOutsideWindow = errors.New("slot is outside the booking window")
)

// BookingService wraps the storage engine with booking policy, events and
// metrics. Everything above this layer (conversation flows, admin API)
// talks to appointments through it.
type BookingService struct {
	db     *database.DB
	bus    *events.EventBus
	cfg    config.BookingConfig
	logger *zerolog.Logger
}

func NewBookingService(db *database.DB, bus *events.EventBus, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	return &BookingService{db: db, bus: bus, cfg: cfg, logger: logger}
}

func (s *BookingService) ListAvailable(ctx context.Context, windowStart, windowEnd time.Time, providerID string, limit int) ([]*models.AvailabilitySlot, error) {
	now := time.Now().UTC()
	minStart := now.Add(time.Duration(s.cfg.MinAdvanceMinutes) * time.Minute)
	if windowStart.Before(minStart) {
		windowStart = minStart
	}
	maxEnd := now.AddDate(0, 0, s.cfg.MaxWindowDays)
	if windowEnd.IsZero() || windowEnd.After(maxEnd) {
		windowEnd = maxEnd
	}
	return s.db.ListAvailable(ctx, windowStart, windowEnd, providerID, limit)
}

func (s *BookingService) FreshAlternatives(ctx context.Context, excludeSlotIDs []string, windowStart time.Time, limit int) ([]*models.AvailabilitySlot, error) {
	minStart := time.Now().UTC().Add(time.Duration(s.cfg.MinAdvanceMinutes) * time.Minute)
	if windowStart.Before(minStart) {
		windowStart = minStart
	}
	return s.db.FreshAlternatives(ctx, excludeSlotIDs, windowStart, limit)
}

func (s *BookingService) Book(ctx context.Context, contactID, slotID string) (*models.Appointment, error) {
	slot, err := s.db.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			metrics.IncBooking("book", "unavailable")
			return nil, database.ErrSlotUnavailable
		}
		return nil, err
	}
	if err := s.checkBookable(slot); err != nil {
		metrics.IncBooking("book", "rejected")
		return nil, err
	}

	appt, err := s.db.Book(ctx, contactID, slotID)
	if err != nil {
		if errors.Is(err, database.ErrSlotUnavailable) {
			metrics.IncBooking("book", "unavailable")
		} else {
			metrics.IncBooking("book", "error")
		}
		return nil, err
	}

	metrics.IncBooking("book", "ok")
	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("contact_id", contactID).
		Str("slot_id", slotID).
		Msg("Appointment booked")
	_ = s.bus.PublishJSON(events.EventAppointmentBooked, events.AppointmentEventPayload{
		AppointmentID: appt.ID,
		ContactID:     appt.ContactID,
		SlotID:        appt.SlotID,
		Status:        appt.Status,
		StartTime:     slot.StartTime,
	})
	return appt, nil
}

func (s *BookingService) Cancel(ctx context.Context, appointmentID, reason string) (*models.Appointment, error) {
	appt, err := s.db.Cancel(ctx, appointmentID, reason)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyCancelled) {
			metrics.IncBooking("cancel", "already_terminal")
		} else {
			metrics.IncBooking("cancel", "error")
		}
		return nil, err
	}

	metrics.IncBooking("cancel", "ok")
	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("contact_id", appt.ContactID).
		Str("reason", reason).
		Msg("Appointment cancelled")
	_ = s.bus.PublishJSON(events.EventAppointmentCancelled, events.AppointmentEventPayload{
		AppointmentID: appt.ID,
		ContactID:     appt.ContactID,
		SlotID:        appt.SlotID,
		Status:        appt.Status,
		Reason:        reason,
	})
	return appt, nil
}

func (s *BookingService) Reschedule(ctx context.Context, appointmentID, newSlotID string) (*models.Appointment, error) {
	slot, err := s.db.GetSlot(ctx, newSlotID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			metrics.IncBooking("reschedule", "unavailable")
			return nil, database.ErrSlotUnavailable
		}
		return nil, err
	}
	if err := s.checkBookable(slot); err != nil {
		metrics.IncBooking("reschedule", "rejected")
		return nil, err
	}

	appt, err := s.db.Reschedule(ctx, appointmentID, newSlotID)
	if err != nil {
		if errors.Is(err, database.ErrSlotUnavailable) {
			metrics.IncBooking("reschedule", "unavailable")
		} else {
			metrics.IncBooking("reschedule", "error")
		}
		return nil, err
	}

	metrics.IncBooking("reschedule", "ok")
	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("previous_id", appointmentID).
		Str("slot_id", newSlotID).
		Msg("Appointment rescheduled")
	_ = s.bus.PublishJSON(events.EventAppointmentRescheduled, events.AppointmentEventPayload{
		AppointmentID: appt.ID,
		ContactID:     appt.ContactID,
		SlotID:        appt.SlotID,
		Status:        appt.Status,
		StartTime:     slot.StartTime,
		PreviousID:    appointmentID,
	})
	return appt, nil
}

func (s *BookingService) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return s.db.GetAppointment(ctx, id)
}

func (s *BookingService) LiveAppointmentForContact(ctx context.Context, contactID string) (*models.Appointment, error) {
	return s.db.LiveAppointmentForContact(ctx, contactID)
}

func (s *BookingService) GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	return s.db.GetSlot(ctx, id)
}

func (s *BookingService) UpdateNotes(ctx context.Context, appointmentID string, fromVersion int64, notes string) error {
	return s.db.UpdateNotesWithVersion(ctx, appointmentID, fromVersion, notes)
}

// checkBookable enforces the lead-time and horizon policy. Availability is
// not checked here: the transactional claim inside the engine is the only
// authority on that.
func (s *BookingService) checkBookable(slot *models.AvailabilitySlot) error {
	now := time.Now().UTC()
	if s.cfg.MinAdvanceMinutes > 0 {
		if slot.StartTime.Before(now.Add(time.Duration(s.cfg.MinAdvanceMinutes) * time.Minute)) {
			return fmt.Errorf("%w: starts %s", ErrTooSoon, slot.StartTime.Format(time.RFC3339))
		}
	} else if slot.StartTime.Before(now) {
		return fmt.Errorf("%w: starts %s", ErrTooSoon, slot.StartTime.Format(time.RFC3339))
	}
	if s.cfg.MaxWindowDays > 0 && slot.StartTime.After(now.AddDate(0, 0, s.cfg.MaxWindowDays)) {
		return ErrOutsideWindow
	}
	return nil
}
