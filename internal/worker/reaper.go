package worker

import (
	"context"
	"time"

	"slotline/internal/config"
	"slotline/internal/domain"
	"slotline/internal/events"
	"slotline/internal/metrics"
	"slotline/internal/models"

	"github.com/rs/zerolog"
)

const timeoutNotice = "We closed this conversation due to inactivity. Text BOOK anytime to start again."

// Reaper periodically resets expired conversations back to idle so a
// contact who went silent mid-flow gets a clean start next time.
type Reaper struct {
	store    domain.ConversationStore
	contacts domain.ContactStore
	messages domain.MessageLog
	queue    domain.OutboundQueue
	bus      *events.EventBus
	cfg      config.ReaperConfig
	logger   *zerolog.Logger
}

func NewReaper(store domain.ConversationStore, contacts domain.ContactStore, messages domain.MessageLog, queue domain.OutboundQueue, bus *events.EventBus, cfg config.ReaperConfig, logger *zerolog.Logger) *Reaper {
	return &Reaper{
		store:    store,
		contacts: contacts,
		messages: messages,
		queue:    queue,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("Expiry reaper started")
	defer r.logger.Info().Msg("Expiry reaper stopped")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resets all conversations past their expiry. Conversations with
// activity inside the last interval are left alone even if the expiry
// timestamp has technically passed.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	contactIDs, err := r.store.ResetExpiredConversations(ctx, now, now.Add(-r.cfg.Interval))
	if err != nil {
		r.logger.Error().Err(err).Msg("Expiry sweep failed")
		return
	}
	if len(contactIDs) == 0 {
		return
	}

	metrics.AddResets(len(contactIDs))
	r.logger.Info().Int("count", len(contactIDs)).Msg("Reset expired conversations")

	for _, contactID := range contactIDs {
		_ = r.bus.PublishJSON(events.EventConversationReset, events.ConversationEventPayload{ContactID: contactID})
		if r.cfg.NotifyTimeout {
			r.notify(ctx, contactID)
		}
	}
}

func (r *Reaper) notify(ctx context.Context, contactID string) {
	contact, err := r.contacts.GetContact(ctx, contactID)
	if err != nil {
		r.logger.Error().Err(err).Str("contact_id", contactID).Msg("Failed to load contact for timeout notice")
		return
	}
	if contact.OptInStatus == models.OptedOut {
		return
	}

	msg := &models.Message{
		ContactID: contact.ID,
		Direction: models.DirectionOutbound,
		Body:      timeoutNotice,
		Status:    "queued",
	}
	if err := r.messages.RecordMessage(ctx, msg); err != nil {
		r.logger.Error().Err(err).Str("contact_id", contactID).Msg("Failed to record timeout notice")
	}
	if err := r.queue.Enqueue(ctx, msg.ID, contact.ID, contact.PhoneNumber, timeoutNotice, false); err != nil {
		r.logger.Error().Err(err).Str("contact_id", contactID).Msg("Failed to enqueue timeout notice")
	}
}
