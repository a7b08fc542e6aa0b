package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"slotline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_Success(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000001")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)

	appt, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, appt.Status)
	assert.Equal(t, slot.ID, appt.SlotID)

	got, err := db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)
}

func TestBook_SlotAlreadyTaken(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := makeContact(t, db, "+15550000002")
	second := makeContact(t, db, "+15550000003")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)

	_, err := db.Book(ctx, first.ID, slot.ID)
	require.NoError(t, err)

	_, err = db.Book(ctx, second.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBook_MissingSlot(t *testing.T) {
	db := setupTestDB(t)
	contact := makeContact(t, db, "+15550000004")

	_, err := db.Book(context.Background(), contact.ID, "no-such-slot")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestConcurrentBooking_OneWinner(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)

	const numGoroutines = 10
	contacts := make([]*models.Contact, numGoroutines)
	for i := range contacts {
		contacts[i] = makeContact(t, db, "+1555100"+string(rune('0'+i))+"00")
	}

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(contactID string) {
			defer wg.Done()
			_, err := db.Book(ctx, contactID, slot.ID)
			results <- err
		}(contacts[i].ID)
	}

	wg.Wait()
	close(results)

	successCount := 0
	conflictCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		default:
			assert.ErrorIs(t, err, ErrSlotUnavailable)
			conflictCount++
		}
	}

	assert.Equal(t, 1, successCount, "exactly one booking should win the slot")
	assert.Equal(t, numGoroutines-1, conflictCount)

	appts, err := db.ListAppointments(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestCancel_ReopensSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000005")
	other := makeContact(t, db, "+15550000006")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)

	appt, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)

	cancelled, err := db.Cancel(ctx, appt.ID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, "changed plans", cancelled.CancellationReason)

	// The freed slot must be bookable again by anyone.
	_, err = db.Book(ctx, other.ID, slot.ID)
	assert.NoError(t, err)
}

func TestCancel_Twice(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000007")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)

	appt, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)

	_, err = db.Cancel(ctx, appt.ID, "first")
	require.NoError(t, err)

	_, err = db.Cancel(ctx, appt.ID, "second")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCancel_MissingAppointment(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Cancel(context.Background(), "no-such-appointment", "reason")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReschedule_MovesAtomically(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000008")
	oldSlot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)
	newSlot := makeSlot(t, db, time.Now().UTC().Add(48*time.Hour), 0)

	original, err := db.Book(ctx, contact.ID, oldSlot.ID)
	require.NoError(t, err)

	replacement, err := db.Reschedule(ctx, original.ID, newSlot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, replacement.Status)
	assert.Equal(t, newSlot.ID, replacement.SlotID)
	assert.Equal(t, original.ID, replacement.RescheduledFromID)

	oldAfter, err := db.GetAppointment(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRescheduled, oldAfter.Status)

	freedSlot, err := db.GetSlot(ctx, oldSlot.ID)
	require.NoError(t, err)
	assert.True(t, freedSlot.IsAvailable)

	claimedSlot, err := db.GetSlot(ctx, newSlot.ID)
	require.NoError(t, err)
	assert.False(t, claimedSlot.IsAvailable)
}

func TestReschedule_TargetTaken_OriginalIntact(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000009")
	rival := makeContact(t, db, "+15550000010")
	oldSlot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)
	newSlot := makeSlot(t, db, time.Now().UTC().Add(48*time.Hour), 0)

	original, err := db.Book(ctx, contact.ID, oldSlot.ID)
	require.NoError(t, err)
	_, err = db.Book(ctx, rival.ID, newSlot.ID)
	require.NoError(t, err)

	_, err = db.Reschedule(ctx, original.ID, newSlot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Nothing moved: the original appointment still holds its slot.
	after, err := db.GetAppointment(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, after.Status)

	oldAfter, err := db.GetSlot(ctx, oldSlot.ID)
	require.NoError(t, err)
	assert.False(t, oldAfter.IsAvailable)
}

func TestReschedule_FreedSlotIsRebookable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000011")
	other := makeContact(t, db, "+15550000012")
	oldSlot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)
	newSlot := makeSlot(t, db, time.Now().UTC().Add(48*time.Hour), 0)

	original, err := db.Book(ctx, contact.ID, oldSlot.ID)
	require.NoError(t, err)
	_, err = db.Reschedule(ctx, original.ID, newSlot.ID)
	require.NoError(t, err)

	// The superseded row still references oldSlot; that history row must
	// not block a new booking on the freed slot.
	_, err = db.Book(ctx, other.ID, oldSlot.ID)
	assert.NoError(t, err)
}

func TestReschedule_SameSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000013")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)

	original, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)

	_, err = db.Reschedule(ctx, original.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestLiveAppointmentForContact(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000014")

	_, err := db.LiveAppointmentForContact(ctx, contact.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)
	appt, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)

	live, err := db.LiveAppointmentForContact(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, live.ID)

	// After a reschedule only the replacement counts as live.
	newSlot := makeSlot(t, db, time.Now().UTC().Add(48*time.Hour), 0)
	replacement, err := db.Reschedule(ctx, appt.ID, newSlot.ID)
	require.NoError(t, err)

	live, err = db.LiveAppointmentForContact(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, live.ID)
}

func TestUpdateNotesWithVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000015")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)
	appt, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)

	require.NoError(t, db.UpdateNotesWithVersion(ctx, appt.ID, appt.Version, "first note"))

	// Stale version loses.
	err = db.UpdateNotesWithVersion(ctx, appt.ID, appt.Version, "stale note")
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "first note", got.Notes)
	assert.Equal(t, appt.Version+1, got.Version)
}

func TestMarkCompletedAndNoShow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	contact := makeContact(t, db, "+15550000016")
	slot := makeSlot(t, db, time.Now().UTC().Add(24*time.Hour), 0)
	appt, err := db.Book(ctx, contact.ID, slot.ID)
	require.NoError(t, err)

	require.NoError(t, db.MarkCompleted(ctx, appt.ID))

	got, err := db.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	// Terminal states do not reopen the slot.
	s, err := db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, s.IsAvailable)

	// A second terminal transition fails.
	assert.ErrorIs(t, db.MarkNoShow(ctx, appt.ID), ErrAlreadyCancelled)
}
