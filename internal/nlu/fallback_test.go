package nlu

import (
	"context"
	"testing"
	"time"

	"slotline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presentedFixture() []models.PresentedSlot {
	// Tue 10:00, Wed 15:00, Thu 9:30 — distinct days and times.
	return []models.PresentedSlot{
		{Index: 1, SlotID: "slot-tue", StartTime: time.Date(2026, 9, 8, 10, 0, 0, 0, time.UTC)},
		{Index: 2, SlotID: "slot-wed", StartTime: time.Date(2026, 9, 9, 15, 0, 0, 0, time.UTC)},
		{Index: 3, SlotID: "slot-thu", StartTime: time.Date(2026, 9, 10, 9, 30, 0, 0, time.UTC)},
	}
}

func TestParseSlotSelection(t *testing.T) {
	presented := presentedFixture()

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"bare number", "2", "slot-wed"},
		{"number in sentence", "I'll take option 3 please", "slot-thu"},
		{"out of range number", "7", ""},
		{"ordinal word", "the second one", "slot-wed"},
		{"ordinal first", "first", "slot-tue"},
		{"time with meridiem", "3pm works", "slot-wed"},
		{"time with minutes", "9:30 am please", "slot-thu"},
		{"24h time", "15:00", "slot-wed"},
		{"weekday full", "wednesday is good", "slot-wed"},
		{"weekday short", "thu works for me", "slot-thu"},
		{"ambiguous nothing", "whenever is fine", ""},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSlotSelection(tt.message, presented))
		})
	}
}

func TestParseSlotSelection_AmbiguousTime(t *testing.T) {
	// Two slots at 10:00 on different days: "10am" alone cannot pick one.
	presented := []models.PresentedSlot{
		{Index: 1, SlotID: "slot-a", StartTime: time.Date(2026, 9, 8, 10, 0, 0, 0, time.UTC)},
		{Index: 2, SlotID: "slot-b", StartTime: time.Date(2026, 9, 9, 10, 0, 0, 0, time.UTC)},
	}
	assert.Equal(t, "", ParseSlotSelection("10am", presented))

	// The day disambiguates.
	assert.Equal(t, "slot-b", ParseSlotSelection("wednesday at 10am", presented))
}

func TestParseSlotSelection_NoPresented(t *testing.T) {
	assert.Equal(t, "", ParseSlotSelection("1", nil))
}

func TestRulesClassifier_Intents(t *testing.T) {
	classifier := NewRulesClassifier()
	ctx := context.Background()

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"book", "I'd like to book an appointment", models.IntentBook},
		{"availability", "what's your availability next week", models.IntentBook},
		{"cancel", "I need to cancel", models.IntentCancel},
		{"cannot make", "sorry, can't make it tomorrow", models.IntentCancel},
		{"reschedule", "can we reschedule", models.IntentReschedule},
		{"move", "I want to move my appointment", models.IntentReschedule},
		{"confirm", "yes", models.IntentConfirm},
		{"confirm punctuated", "Yes!", models.IntentConfirm},
		{"deny", "nope", models.IntentDeny},
		{"question", "do you do haircuts?", models.IntentQuestion},
		{"unclear", "banana", models.IntentUnclear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := classifier.Classify(ctx, tt.message, nil, nil, models.StateIdle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Intent)
		})
	}
}

func TestRulesClassifier_SelectionBeatsKeywords(t *testing.T) {
	classifier := NewRulesClassifier()

	res, err := classifier.Classify(context.Background(), "2", nil, presentedFixture(), models.StateShowingSlots)
	require.NoError(t, err)
	assert.Equal(t, models.IntentSelectSlot, res.Intent)
	assert.Equal(t, "slot-wed", res.ResolvedSlotID)
}

func TestRulesClassifier_EmptyMessage(t *testing.T) {
	classifier := NewRulesClassifier()

	res, err := classifier.Classify(context.Background(), "   ", nil, nil, models.StateIdle)
	require.NoError(t, err)
	assert.Equal(t, models.IntentUnclear, res.Intent)
}
