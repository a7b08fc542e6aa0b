package nlu

import (
	"context"
	"errors"
	"testing"

	"slotline/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClassifier struct {
	res   *models.IntentResult
	err   error
	calls int
}

func (s *scriptedClassifier) Classify(ctx context.Context, body string, history []models.Turn, presented []models.PresentedSlot, currentState string) (*models.IntentResult, error) {
	s.calls++
	return s.res, s.err
}

func TestResilientClassifier_PrimaryWins(t *testing.T) {
	primary := &scriptedClassifier{res: &models.IntentResult{Intent: models.IntentBook, Confidence: 0.9}}
	fallback := &scriptedClassifier{}
	logger := zerolog.Nop()

	c := NewResilientClassifier(primary, fallback, 0.6, &logger)
	res, err := c.Classify(context.Background(), "book", nil, nil, models.StateIdle)
	require.NoError(t, err)

	assert.Equal(t, models.IntentBook, res.Intent)
	assert.Equal(t, 0, fallback.calls)
}

func TestResilientClassifier_FallsBackOnError(t *testing.T) {
	primary := &scriptedClassifier{err: errors.New("nlu down")}
	fallback := &scriptedClassifier{res: &models.IntentResult{Intent: models.IntentCancel, Confidence: 0.8}}
	logger := zerolog.Nop()

	c := NewResilientClassifier(primary, fallback, 0.6, &logger)
	res, err := c.Classify(context.Background(), "cancel", nil, nil, models.StateIdle)
	require.NoError(t, err)

	assert.Equal(t, models.IntentCancel, res.Intent)
	assert.Equal(t, 1, fallback.calls)
}

func TestResilientClassifier_BothFail(t *testing.T) {
	primary := &scriptedClassifier{err: errors.New("nlu down")}
	fallback := &scriptedClassifier{err: errors.New("also down")}
	logger := zerolog.Nop()

	c := NewResilientClassifier(primary, fallback, 0.6, &logger)
	_, err := c.Classify(context.Background(), "hi", nil, nil, models.StateIdle)
	assert.Error(t, err)
}

func TestResilientClassifier_ConfidenceFloor(t *testing.T) {
	primary := &scriptedClassifier{res: &models.IntentResult{
		Intent:         models.IntentSelectSlot,
		Confidence:     0.4,
		ResolvedSlotID: "slot-1",
	}}
	logger := zerolog.Nop()

	c := NewResilientClassifier(primary, &scriptedClassifier{}, 0.6, &logger)
	res, err := c.Classify(context.Background(), "maybe the first", nil, nil, models.StateShowingSlots)
	require.NoError(t, err)

	// A shaky guess must not select a slot.
	assert.Equal(t, models.IntentUnclear, res.Intent)
	assert.Empty(t, res.ResolvedSlotID)
}
