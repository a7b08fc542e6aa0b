package database

import (
	"context"
	"testing"
	"time"

	"slotline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConversation_FreshIdle(t *testing.T) {
	db := setupTestDB(t)
	contact := makeContact(t, db, "+15553330001")

	state, err := db.GetConversation(context.Background(), contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, state.CurrentState)
	assert.IsType(t, &models.IdleContext{}, state.Context)
	assert.Empty(t, state.History)
	assert.Nil(t, state.ExpiresAt)
}

func TestSaveConversation_Roundtrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	contact := makeContact(t, db, "+15553330002")

	expires := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	state := &models.ConversationState{
		ContactID:    contact.ID,
		CurrentState: models.StateShowingSlots,
		Context: &models.ShowingSlotsContext{
			Presented: []models.PresentedSlot{
				{Index: 1, SlotID: "slot-a", Display: "Mon Sep 07, 9:00 AM"},
				{Index: 2, SlotID: "slot-b", Display: "Mon Sep 07, 9:30 AM"},
			},
			RetryCount: 1,
		},
		LastMessageAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt:     &expires,
	}
	state.AppendHistory("book me", "Here are some available times")

	require.NoError(t, db.SaveConversation(ctx, state))

	loaded, err := db.GetConversation(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateShowingSlots, loaded.CurrentState)

	showCtx, ok := loaded.Context.(*models.ShowingSlotsContext)
	require.True(t, ok)
	require.Len(t, showCtx.Presented, 2)
	assert.Equal(t, "slot-b", showCtx.Presented[1].SlotID)
	assert.Equal(t, 1, showCtx.RetryCount)

	require.Len(t, loaded.History, 2)
	assert.Equal(t, "user", loaded.History[0].Role)
	require.NotNil(t, loaded.ExpiresAt)
	assert.WithinDuration(t, expires, *loaded.ExpiresAt, time.Second)
}

func TestSaveConversation_Upsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	contact := makeContact(t, db, "+15553330003")

	first := &models.ConversationState{
		ContactID:     contact.ID,
		CurrentState:  models.StateShowingSlots,
		Context:       &models.ShowingSlotsContext{},
		LastMessageAt: time.Now().UTC(),
	}
	require.NoError(t, db.SaveConversation(ctx, first))

	second := &models.ConversationState{
		ContactID:    contact.ID,
		CurrentState: models.StateConfirmingBooking,
		Context: &models.ConfirmingBookingContext{
			SelectedSlotID:  "slot-x",
			SelectedDisplay: "Tue Sep 08, 2:00 PM",
		},
		LastMessageAt: time.Now().UTC(),
	}
	require.NoError(t, db.SaveConversation(ctx, second))

	loaded, err := db.GetConversation(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmingBooking, loaded.CurrentState)

	confirmCtx, ok := loaded.Context.(*models.ConfirmingBookingContext)
	require.True(t, ok)
	assert.Equal(t, "slot-x", confirmCtx.SelectedSlotID)
}

func TestResetExpiredConversations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := makeContact(t, db, "+15553330004")
	active := makeContact(t, db, "+15553330005")
	idle := makeContact(t, db, "+15553330006")

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, db.SaveConversation(ctx, &models.ConversationState{
		ContactID:     expired.ID,
		CurrentState:  models.StateShowingSlots,
		Context:       &models.ShowingSlotsContext{},
		LastMessageAt: now.Add(-3 * time.Hour),
		ExpiresAt:     &past,
	}))
	// Expiry has passed, but the contact just messaged; sweep must not
	// clobber the in-flight conversation.
	require.NoError(t, db.SaveConversation(ctx, &models.ConversationState{
		ContactID:     active.ID,
		CurrentState:  models.StateConfirmingBooking,
		Context:       &models.ConfirmingBookingContext{},
		LastMessageAt: now,
		ExpiresAt:     &past,
	}))
	require.NoError(t, db.SaveConversation(ctx, &models.ConversationState{
		ContactID:     idle.ID,
		CurrentState:  models.StateShowingSlots,
		Context:       &models.ShowingSlotsContext{},
		LastMessageAt: now.Add(-time.Hour),
		ExpiresAt:     &future,
	}))

	resetIDs, err := db.ResetExpiredConversations(ctx, now, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{expired.ID}, resetIDs)

	state, err := db.GetConversation(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, state.CurrentState)
	assert.Nil(t, state.ExpiresAt)

	state, err = db.GetConversation(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmingBooking, state.CurrentState)

	state, err = db.GetConversation(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateShowingSlots, state.CurrentState)
}

func TestListConversations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		contact := makeContact(t, db, "+1555334000"+string(rune('0'+i)))
		require.NoError(t, db.SaveConversation(ctx, &models.ConversationState{
			ContactID:     contact.ID,
			CurrentState:  models.StateIdle,
			Context:       &models.IdleContext{},
			LastMessageAt: time.Now().UTC(),
		}))
	}

	states, err := db.ListConversations(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}
