package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"slotline/internal/config"
	"slotline/internal/database"
	"slotline/internal/events"
	"slotline/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureQueue struct {
	mu     sync.Mutex
	bodies []string
}

func (q *captureQueue) Enqueue(ctx context.Context, messageID, contactID, phone, body string, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bodies = append(q.bodies, body)
	return nil
}

func (q *captureQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bodies)
}

func setupReaper(t *testing.T, notify bool) (*Reaper, *database.DB, *captureQueue) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := &captureQueue{}
	reaper := NewReaper(db, db, db, queue, events.NewEventBus(),
		config.ReaperConfig{Interval: 5 * time.Minute, NotifyTimeout: notify}, &logger)
	return reaper, db, queue
}

func saveStuckConversation(t *testing.T, db *database.DB, phone string, expiresAt time.Time) *models.Contact {
	t.Helper()
	ctx := context.Background()
	contact, err := db.GetOrCreateContactByPhone(ctx, phone)
	require.NoError(t, err)
	require.NoError(t, db.SaveConversation(ctx, &models.ConversationState{
		ContactID:     contact.ID,
		CurrentState:  models.StateShowingSlots,
		Context:       &models.ShowingSlotsContext{},
		LastMessageAt: expiresAt.Add(-2 * time.Hour),
		ExpiresAt:     &expiresAt,
	}))
	return contact
}

func TestReaper_SweepResetsExpired(t *testing.T) {
	reaper, db, queue := setupReaper(t, false)
	ctx := context.Background()

	expired := saveStuckConversation(t, db, "+15558880001", time.Now().UTC().Add(-time.Hour))
	fresh := saveStuckConversation(t, db, "+15558880002", time.Now().UTC().Add(time.Hour))

	reaper.Sweep(ctx)

	state, err := db.GetConversation(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, state.CurrentState)

	state, err = db.GetConversation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateShowingSlots, state.CurrentState)

	// Notifications are off.
	assert.Equal(t, 0, queue.count())
}

func TestReaper_SweepNotifies(t *testing.T) {
	reaper, db, queue := setupReaper(t, true)
	ctx := context.Background()

	contact := saveStuckConversation(t, db, "+15558880003", time.Now().UTC().Add(-time.Hour))

	reaper.Sweep(ctx)

	require.Equal(t, 1, queue.count())
	assert.Equal(t, timeoutNotice, queue.bodies[0])

	messages, err := db.RecentMessages(ctx, contact.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.DirectionOutbound, messages[0].Direction)
}

func TestReaper_SkipsOptedOutOnNotify(t *testing.T) {
	reaper, db, queue := setupReaper(t, true)
	ctx := context.Background()

	contact := saveStuckConversation(t, db, "+15558880004", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, db.UpdateOptInStatus(ctx, contact.ID, models.OptedOut))

	reaper.Sweep(ctx)

	// The conversation is still reset, but no message goes out.
	state, err := db.GetConversation(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, state.CurrentState)
	assert.Equal(t, 0, queue.count())
}

func TestReaper_SweepIsIdempotent(t *testing.T) {
	reaper, db, queue := setupReaper(t, true)
	ctx := context.Background()

	saveStuckConversation(t, db, "+15558880005", time.Now().UTC().Add(-time.Hour))

	reaper.Sweep(ctx)
	reaper.Sweep(ctx)

	// The second sweep finds nothing: the row is idle with no expiry.
	assert.Equal(t, 1, queue.count())
}
