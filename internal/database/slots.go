package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotline/internal/models"

	"github.com/google/uuid"
)

const slotColumns = `id, provider_id, start_time, end_time, buffer_minutes, slot_type, is_available, created_at`

func scanSlot(row interface{ Scan(...any) error }) (*models.AvailabilitySlot, error) {
	var s models.AvailabilitySlot
	err := row.Scan(
		&s.ID, &s.ProviderID, &s.StartTime, &s.EndTime,
		&s.BufferMinutes, &s.SlotType, &s.IsAvailable, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) CreateSlot(ctx context.Context, slot *models.AvailabilitySlot) error {
	if !slot.StartTime.Before(slot.EndTime) {
		return fmt.Errorf("slot start must precede end: %s >= %s", slot.StartTime, slot.EndTime)
	}
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	if slot.SlotType == "" {
		slot.SlotType = "standard"
	}
	slot.CreatedAt = time.Now().UTC()

	query := `INSERT INTO availability_slots (` + slotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		slot.ID, slot.ProviderID, slot.StartTime.UTC(), slot.EndTime.UTC(),
		slot.BufferMinutes, slot.SlotType, slot.IsAvailable, slot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

// SeedSlots generates back-to-back slots of slotMinutes for each day in
// [startDate, startDate+days), between startHour and endHour. Used by the
// admin seeding endpoint.
func (db *DB) SeedSlots(ctx context.Context, providerID string, startDate time.Time, days, startHour, endHour, slotMinutes, bufferMinutes int) (int, error) {
	if slotMinutes <= 0 {
		return 0, errors.New("slot_minutes must be positive")
	}
	if endHour <= startHour {
		return 0, errors.New("end_hour must be after start_hour")
	}

	created := 0
	for day := 0; day < days; day++ {
		date := startDate.AddDate(0, 0, day)
		cursor := time.Date(date.Year(), date.Month(), date.Day(), startHour, 0, 0, 0, time.UTC)
		dayEnd := time.Date(date.Year(), date.Month(), date.Day(), endHour, 0, 0, 0, time.UTC)

		step := time.Duration(slotMinutes+bufferMinutes) * time.Minute
		for !cursor.Add(time.Duration(slotMinutes) * time.Minute).After(dayEnd) {
			slot := &models.AvailabilitySlot{
				ProviderID:    providerID,
				StartTime:     cursor,
				EndTime:       cursor.Add(time.Duration(slotMinutes) * time.Minute),
				BufferMinutes: bufferMinutes,
				IsAvailable:   true,
			}
			if err := db.CreateSlot(ctx, slot); err != nil {
				return created, err
			}
			created++
			cursor = cursor.Add(step)
		}
	}
	return created, nil
}

func (db *DB) GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = ?`
	slot, err := scanSlot(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// ListAvailable returns open slots inside the window, oldest first, excluding
// slots whose buffer would collide with a committed neighboring booking.
func (db *DB) ListAvailable(ctx context.Context, windowStart, windowEnd time.Time, providerID string, limit int) ([]*models.AvailabilitySlot, error) {
	return db.listOpenSlots(ctx, windowStart, windowEnd, providerID, nil, limit)
}

// FreshAlternatives is ListAvailable with an exclusion set, used by the
// staleness-recovery loop so a just-contested slot is not offered again.
func (db *DB) FreshAlternatives(ctx context.Context, excludeSlotIDs []string, windowStart time.Time, limit int) ([]*models.AvailabilitySlot, error) {
	if windowStart.IsZero() {
		windowStart = time.Now().UTC()
	}
	windowEnd := windowStart.AddDate(0, 0, models.DefaultSearchWindowDays)
	exclude := make(map[string]bool, len(excludeSlotIDs))
	for _, id := range excludeSlotIDs {
		exclude[id] = true
	}
	return db.listOpenSlots(ctx, windowStart, windowEnd, "", exclude, limit)
}

func (db *DB) listOpenSlots(ctx context.Context, windowStart, windowEnd time.Time, providerID string, exclude map[string]bool, limit int) ([]*models.AvailabilitySlot, error) {
	if limit <= 0 {
		limit = models.DefaultPresentLimit
	}

	query := `SELECT ` + slotColumns + ` FROM availability_slots
              WHERE is_available = 1 AND start_time >= ? AND end_time <= ?`
	args := []any{windowStart.UTC(), windowEnd.UTC()}
	if providerID != "" {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY start_time ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list available slots: %w", err)
	}
	defer rows.Close()

	var candidates []*models.AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if exclude[slot.ID] {
			continue
		}
		candidates = append(candidates, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	booked, err := db.bookedSlotsAround(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	var result []*models.AvailabilitySlot
	for _, slot := range candidates {
		if buffersCollide(slot, booked) {
			continue
		}
		result = append(result, slot)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// bookedSlotsAround fetches committed slots near the window so buffer overlap
// with bookings just outside the edges is still caught.
func (db *DB) bookedSlotsAround(ctx context.Context, windowStart, windowEnd time.Time) ([]*models.AvailabilitySlot, error) {
	const margin = 24 * time.Hour
	query := `SELECT ` + slotColumns + ` FROM availability_slots
              WHERE is_available = 0 AND end_time >= ? AND start_time <= ?`
	rows, err := db.QueryContext(ctx, query, windowStart.Add(-margin).UTC(), windowEnd.Add(margin).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list booked slots: %w", err)
	}
	defer rows.Close()

	var booked []*models.AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booked slot: %w", err)
		}
		booked = append(booked, slot)
	}
	return booked, rows.Err()
}

// buffersCollide reports whether the candidate, extended by its buffer,
// overlaps any committed booking on the same provider (also extended by the
// booking's own buffer).
func buffersCollide(candidate *models.AvailabilitySlot, booked []*models.AvailabilitySlot) bool {
	for _, b := range booked {
		if b.ProviderID != candidate.ProviderID {
			continue
		}
		if b.EffectiveEnd().After(candidate.StartTime) && b.StartTime.Before(candidate.EffectiveEnd()) {
			return true
		}
	}
	return false
}
