package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"slotline/internal/models"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const appointmentColumns = `id, contact_id, slot_id, status, booked_at, cancelled_at,
        cancellation_reason, rescheduled_from_id, notes, version, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (*models.Appointment, error) {
	var a models.Appointment
	var cancelledAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.ContactID, &a.SlotID, &a.Status, &a.BookedAt, &cancelledAt,
		&a.CancellationReason, &a.RescheduledFromID, &a.Notes, &a.Version,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		a.CancelledAt = &t
	}
	return &a, nil
}

// isLiveSlotConflict detects a violation of the partial unique index on live
// appointments per slot. The index is the backstop defense: even if the lock
// discipline above ever regresses, two live appointments on one slot cannot
// be committed, and the violation surfaces as a plain slot conflict.
func isLiveSlotConflict(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Book assigns the slot to the contact inside one exclusive transaction.
// Returns ErrSlotUnavailable when the slot is gone; that is a normal outcome
// under contention, not a system error.
func (db *DB) Book(ctx context.Context, contactID, slotID string) (*models.Appointment, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin booking transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	appt, err := bookInTx(ctx, tx, contactID, slotID, "")
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isLiveSlotConflict(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}
	return appt, nil
}

func bookInTx(ctx context.Context, tx *sql.Tx, contactID, slotID, rescheduledFromID string) (*models.Appointment, error) {
	// Flip the availability flag with a guarded update; zero rows affected
	// means somebody else got here first (or the slot does not exist).
	res, err := tx.ExecContext(ctx,
		`UPDATE availability_slots SET is_available = 0 WHERE id = ? AND is_available = 1`, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim slot: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrSlotUnavailable
	}

	now := time.Now().UTC()
	appt := &models.Appointment{
		ID:                uuid.New().String(),
		ContactID:         contactID,
		SlotID:            slotID,
		Status:            models.StatusConfirmed,
		BookedAt:          now,
		RescheduledFromID: rescheduledFromID,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments (id, contact_id, slot_id, status, booked_at,
             cancellation_reason, rescheduled_from_id, notes, version, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, '', ?, '', 1, ?, ?)`,
		appt.ID, appt.ContactID, appt.SlotID, appt.Status, appt.BookedAt,
		appt.RescheduledFromID, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		if isLiveSlotConflict(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("failed to insert appointment: %w", err)
	}
	return appt, nil
}

// Cancel marks the appointment cancelled and reopens its slot. A second
// cancel of the same appointment fails with ErrAlreadyCancelled.
func (db *DB) Cancel(ctx context.Context, appointmentID, reason string) (*models.Appointment, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cancel transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	appt, err := getAppointmentInTx(ctx, tx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != models.StatusConfirmed {
		return nil, ErrAlreadyCancelled
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE appointments SET status = ?, cancelled_at = ?, cancellation_reason = ?,
             version = version + 1, updated_at = ? WHERE id = ?`,
		models.StatusCancelled, now, reason, now, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel appointment: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE availability_slots SET is_available = 1 WHERE id = ?`, appt.SlotID); err != nil {
		return nil, fmt.Errorf("failed to reopen slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel: %w", err)
	}

	appt.Status = models.StatusCancelled
	appt.CancelledAt = &now
	appt.CancellationReason = reason
	appt.Version++
	appt.UpdatedAt = now
	return appt, nil
}

// Reschedule atomically moves the appointment to newSlotID: the old slot is
// freed, the new slot claimed, the old row marked rescheduled, and a
// replacement row inserted — or none of it happens. Slot updates run in slot
// id order so concurrent reschedules over the same pair cannot deadlock.
func (db *DB) Reschedule(ctx context.Context, appointmentID, newSlotID string) (*models.Appointment, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reschedule transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	old, err := getAppointmentInTx(ctx, tx, appointmentID)
	if err != nil {
		return nil, err
	}
	if old.Status != models.StatusConfirmed {
		return nil, ErrAlreadyCancelled
	}
	if old.SlotID == newSlotID {
		return nil, ErrSlotUnavailable
	}

	// Check the new slot before touching anything, so an unavailable target
	// aborts with the old appointment fully intact.
	var newAvailable bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_available FROM availability_slots WHERE id = ?`, newSlotID).Scan(&newAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read new slot: %w", err)
	}
	if !newAvailable {
		return nil, ErrSlotUnavailable
	}

	updates := []struct {
		slotID    string
		available int
	}{
		{old.SlotID, 1},
		{newSlotID, 0},
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].slotID < updates[j].slotID })
	for _, u := range updates {
		guard := ""
		if u.available == 0 {
			guard = " AND is_available = 1"
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE availability_slots SET is_available = ? WHERE id = ?`+guard, u.available, u.slotID)
		if err != nil {
			return nil, fmt.Errorf("failed to update slot %s: %w", u.slotID, err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 && u.available == 0 {
			return nil, ErrSlotUnavailable
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE appointments SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		models.StatusRescheduled, now, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to mark appointment rescheduled: %w", err)
	}

	replacement := &models.Appointment{
		ID:                uuid.New().String(),
		ContactID:         old.ContactID,
		SlotID:            newSlotID,
		Status:            models.StatusConfirmed,
		BookedAt:          now,
		RescheduledFromID: old.ID,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments (id, contact_id, slot_id, status, booked_at,
             cancellation_reason, rescheduled_from_id, notes, version, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, '', ?, '', 1, ?, ?)`,
		replacement.ID, replacement.ContactID, replacement.SlotID, replacement.Status,
		replacement.BookedAt, replacement.RescheduledFromID, replacement.CreatedAt, replacement.UpdatedAt,
	)
	if err != nil {
		if isLiveSlotConflict(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("failed to insert replacement appointment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isLiveSlotConflict(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("failed to commit reschedule: %w", err)
	}
	return replacement, nil
}

func getAppointmentInTx(ctx context.Context, tx *sql.Tx, id string) (*models.Appointment, error) {
	appt, err := scanAppointment(tx.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return appt, nil
}

func (db *DB) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := scanAppointment(db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return appt, nil
}

// LiveAppointmentForContact returns the contact's single active appointment.
// The cancel and reschedule flows assume one live appointment per contact.
// Superseded (rescheduled) rows are history, not active bookings.
func (db *DB) LiveAppointmentForContact(ctx context.Context, contactID string) (*models.Appointment, error) {
	appt, err := scanAppointment(db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
         WHERE contact_id = ? AND status = ?
         ORDER BY booked_at DESC LIMIT 1`,
		contactID, models.StatusConfirmed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live appointment: %w", err)
	}
	return appt, nil
}

func (db *DB) ListAppointments(ctx context.Context, contactID string, limit int) ([]*models.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	args := []any{}
	if contactID != "" {
		query += ` WHERE contact_id = ?`
		args = append(args, contactID)
	}
	query += ` ORDER BY booked_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

// UpdateNotesWithVersion edits appointment notes under optimistic locking.
// The booking transaction itself never relies on the version column.
func (db *DB) UpdateNotesWithVersion(ctx context.Context, id string, fromVersion int64, notes string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE appointments SET notes = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		notes, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update notes: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// MarkCompleted and MarkNoShow flip a live appointment into a terminal state
// without reopening its slot (the time has already passed).
func (db *DB) MarkCompleted(ctx context.Context, id string) error {
	return db.markTerminal(ctx, id, models.StatusCompleted)
}

func (db *DB) MarkNoShow(ctx context.Context, id string) error {
	return db.markTerminal(ctx, id, models.StatusNoShow)
}

func (db *DB) markTerminal(ctx context.Context, id, status string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE appointments SET status = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, models.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to mark appointment %s: %w", status, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAlreadyCancelled
	}
	return nil
}
