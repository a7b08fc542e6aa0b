package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotline/internal/config"
	"slotline/internal/database"
	"slotline/internal/domain"
	"slotline/internal/events"
	"slotline/internal/metrics"
	"slotline/internal/models"
	"slotline/internal/nlu"

	"github.com/rs/zerolog"
)

const clarifyText = "Could you clarify if you want to book, reschedule, cancel, or ask a question?"

// turnResult is what a state handler decides for one inbound turn.
type turnResult struct {
	nextState string
	reply     string
	context   models.StateContext
}

// Orchestrator drives the SMS conversation state machine. One inbound
// message becomes at most one state transition and at most one reply;
// booking side effects go through the engine, never directly to storage.
type Orchestrator struct {
	engine     domain.BookingEngine
	store      domain.ConversationStore
	contacts   domain.ContactStore
	messages   domain.MessageLog
	classifier domain.Classifier
	guard      domain.IdempotencyGuard
	queue      domain.OutboundQueue
	bus        *events.EventBus
	cfg        config.ConversationConfig
	nluCfg     config.NLUConfig
	logger     *zerolog.Logger
	locks      contactLocker
}

func NewOrchestrator(
	engine domain.BookingEngine,
	store domain.ConversationStore,
	contacts domain.ContactStore,
	messages domain.MessageLog,
	classifier domain.Classifier,
	guard domain.IdempotencyGuard,
	queue domain.OutboundQueue,
	bus *events.EventBus,
	cfg config.ConversationConfig,
	nluCfg config.NLUConfig,
	logger *zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:     engine,
		store:      store,
		contacts:   contacts,
		messages:   messages,
		classifier: classifier,
		guard:      guard,
		queue:      queue,
		bus:        bus,
		cfg:        cfg,
		nluCfg:     nluCfg,
		logger:     logger,
	}
}

// HandleInbound processes one deduplicated inbound SMS end to end.
func (o *Orchestrator) HandleInbound(ctx context.Context, phone, body, providerSID string) error {
	contact, err := o.contacts.GetOrCreateContactByPhone(ctx, phone)
	if err != nil {
		metrics.IncInbound("error")
		return fmt.Errorf("failed to resolve contact: %w", err)
	}

	normalized := strings.TrimSpace(body)
	if err := o.messages.RecordMessage(ctx, &models.Message{
		ContactID:   contact.ID,
		Direction:   models.DirectionInbound,
		Body:        normalized,
		ProviderSID: providerSID,
		Status:      "received",
	}); err != nil {
		o.logger.Error().Err(err).Str("contact_id", contact.ID).Msg("Failed to record inbound message")
	}

	// Compliance keywords come before everything else, including the
	// classifier and the opted-out gate: STOP must always work, and
	// START is the only way back in.
	if kind, strict, ok := complianceKeyword(normalized); ok && strict {
		return o.handleCompliance(ctx, contact, kind)
	}

	if contact.OptInStatus == models.OptedOut {
		metrics.IncInbound("opted_out")
		o.logger.Debug().Str("contact_id", contact.ID).Msg("Dropping message from opted-out contact")
		return nil
	}

	allowed, err := o.guard.CheckRateLimit(ctx, "contact:"+contact.ID,
		o.cfg.RateLimitMessages, time.Duration(o.cfg.RateLimitWindow)*time.Second)
	if err != nil {
		// Fail open: losing the limiter must not stop the conversation.
		o.logger.Warn().Err(err).Msg("Rate limit check failed")
	} else if !allowed {
		metrics.IncInbound("rate_limited")
		o.logger.Warn().Str("contact_id", contact.ID).Msg("Contact rate limited, dropping message")
		return nil
	}

	unlock := o.locks.lock(contact.ID)
	defer unlock()

	state, err := o.store.GetConversation(ctx, contact.ID)
	if err != nil {
		metrics.IncInbound("error")
		return err
	}

	now := time.Now().UTC()
	if state.ExpiresAt != nil && now.After(*state.ExpiresAt) {
		// The reaper sweeps these too; resetting on load just closes the
		// window between sweeps.
		state.CurrentState = models.StateIdle
		state.Context = &models.IdleContext{}
		state.ExpiresAt = nil
	}

	intent, err := o.classifier.Classify(ctx, normalized, state.History, presentedOf(state.Context), state.CurrentState)
	if err != nil {
		o.logger.Error().Err(err).Str("contact_id", contact.ID).Msg("Intent classification failed")
		intent = &models.IntentResult{Intent: models.IntentUnclear, ResponseText: nlu.FallbackText}
	}

	res, err := o.dispatch(ctx, contact, normalized, state, intent)
	if err != nil {
		// The turn failed mid-flight; keep the state untouched and tell
		// the contact to retry rather than guessing at a transition.
		o.logger.Error().Err(err).
			Str("contact_id", contact.ID).
			Str("state", state.CurrentState).
			Msg("Turn handler failed")
		metrics.IncInbound("error")
		res = &turnResult{nextState: state.CurrentState, reply: nlu.FallbackText, context: state.Context}
	}

	if res.nextState != state.CurrentState {
		metrics.IncTransition(res.nextState)
	}
	state.CurrentState = res.nextState
	state.Context = res.context
	state.AppendHistory(normalized, res.reply)
	state.LastMessageAt = now
	if res.nextState == models.StateIdle {
		state.ExpiresAt = nil
	} else {
		expiry := now.Add(time.Duration(o.cfg.TTLHours) * time.Hour)
		state.ExpiresAt = &expiry
	}
	if err := o.store.SaveConversation(ctx, state); err != nil {
		metrics.IncInbound("error")
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	if res.reply != "" {
		o.sendReply(ctx, contact, res.reply, false)
	}
	metrics.IncInbound("handled")
	return nil
}

func (o *Orchestrator) handleCompliance(ctx context.Context, contact *models.Contact, kind string) error {
	switch kind {
	case complianceOptOut:
		if err := o.contacts.UpdateOptInStatus(ctx, contact.ID, models.OptedOut); err != nil {
			return fmt.Errorf("failed to opt out contact: %w", err)
		}
		_ = o.bus.PublishJSON(events.EventContactOptedOut, events.ConversationEventPayload{ContactID: contact.ID})
	case complianceOptIn:
		if err := o.contacts.UpdateOptInStatus(ctx, contact.ID, models.OptedIn); err != nil {
			return fmt.Errorf("failed to opt in contact: %w", err)
		}
	}

	o.logger.Info().Str("contact_id", contact.ID).Str("keyword", kind).Msg("Compliance keyword handled")
	metrics.IncInbound("compliance")
	// Carrier rules: compliance confirmations go out immediately, quiet
	// hours notwithstanding.
	o.sendReply(ctx, contact, complianceReply(kind, o.nluCfg.BusinessName, o.nluCfg.SupportNumber), true)
	return nil
}

func (o *Orchestrator) sendReply(ctx context.Context, contact *models.Contact, body string, priority bool) {
	msg := &models.Message{
		ContactID: contact.ID,
		Direction: models.DirectionOutbound,
		Body:      body,
		Status:    "queued",
	}
	if err := o.messages.RecordMessage(ctx, msg); err != nil {
		o.logger.Error().Err(err).Str("contact_id", contact.ID).Msg("Failed to record outbound message")
	}
	if err := o.queue.Enqueue(ctx, msg.ID, contact.ID, contact.PhoneNumber, body, priority); err != nil {
		o.logger.Error().Err(err).Str("contact_id", contact.ID).Msg("Failed to enqueue reply")
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, contact *models.Contact, msg string, state *models.ConversationState, intent *models.IntentResult) (*turnResult, error) {
	switch c := state.Context.(type) {
	case *models.ShowingSlotsContext:
		return o.handleShowingSlots(ctx, contact, msg, c, intent)
	case *models.ConfirmingBookingContext:
		return o.handleConfirmingBooking(ctx, contact, msg, c, intent)
	case *models.ConfirmingCancelContext:
		return o.handleConfirmingCancel(ctx, contact, c, intent)
	case *models.RescheduleShowSlotsContext:
		return o.handleRescheduleShowSlots(ctx, contact, msg, c, intent)
	case *models.ConfirmingRescheduleContext:
		return o.handleConfirmingReschedule(ctx, contact, c, intent)
	default:
		// idle and awaiting_info both re-run full intent routing.
		return o.handleIdle(ctx, contact, intent)
	}
}

func (o *Orchestrator) handleIdle(ctx context.Context, contact *models.Contact, intent *models.IntentResult) (*turnResult, error) {
	switch intent.Intent {
	case models.IntentBook:
		return o.beginBooking(ctx, contact, intent)

	case models.IntentCancel:
		appt, err := o.engine.LiveAppointmentForContact(ctx, contact.ID)
		if errors.Is(err, database.ErrNotFound) {
			return &turnResult{models.StateIdle, replyNoActiveToCancel, &models.IdleContext{LastIntent: intent.Intent}}, nil
		}
		if err != nil {
			return nil, err
		}
		display := "your appointment"
		if slot, err := o.engine.GetSlot(ctx, appt.SlotID); err == nil {
			display = "your appointment on " + slot.StartTime.In(contact.Location()).Format(displayTimeFormat)
		}
		prompt := fmt.Sprintf("I found %s. Reply YES to confirm cancellation or NO to keep it.", display)
		return &turnResult{models.StateConfirmingCancel, prompt, &models.ConfirmingCancelContext{
			PendingAppointmentID: appt.ID,
			Display:              display,
		}}, nil

	case models.IntentReschedule:
		appt, err := o.engine.LiveAppointmentForContact(ctx, contact.ID)
		if errors.Is(err, database.ErrNotFound) {
			return &turnResult{models.StateIdle, replyNoActiveToMove, &models.IdleContext{LastIntent: intent.Intent}}, nil
		}
		if err != nil {
			return nil, err
		}
		alternatives, err := o.engine.FreshAlternatives(ctx, []string{appt.SlotID}, time.Now().UTC(), o.cfg.PresentLimit)
		if err != nil {
			return nil, err
		}
		if len(alternatives) == 0 {
			return &turnResult{models.StateIdle, replyNoAlternatives, &models.IdleContext{LastIntent: intent.Intent}}, nil
		}
		presented := presentSlots(alternatives, contact.Location())
		return &turnResult{models.StateRescheduleShowSlots, slotListText(presented), &models.RescheduleShowSlotsContext{
			OriginalAppointmentID: appt.ID,
			Presented:             presented,
		}}, nil

	case models.IntentQuestion, models.IntentUnclear:
		reply := intent.ResponseText
		if reply == "" {
			reply = clarifyText
		}
		if len(intent.NeedsInfo) > 0 {
			return &turnResult{models.StateAwaitingInfo, reply, &models.AwaitingInfoContext{
				Missing:    intent.NeedsInfo,
				LastIntent: intent.Intent,
			}}, nil
		}
		return &turnResult{models.StateIdle, reply, &models.IdleContext{LastIntent: intent.Intent}}, nil

	case models.IntentConfirm, models.IntentDeny, models.IntentSelectSlot:
		// Nothing is pending; point the contact at the real entry verbs.
		return &turnResult{models.StateIdle, replyWhatNext, &models.IdleContext{LastIntent: intent.Intent}}, nil
	}

	reply := intent.ResponseText
	if reply == "" {
		reply = clarifyText
	}
	return &turnResult{models.StateIdle, reply, &models.IdleContext{LastIntent: intent.Intent}}, nil
}

func (o *Orchestrator) beginBooking(ctx context.Context, contact *models.Contact, intent *models.IntentResult) (*turnResult, error) {
	now := time.Now().UTC()
	slots, err := o.engine.ListAvailable(ctx, now, now.AddDate(0, 0, o.cfg.SearchWindowDays), "", o.cfg.PresentLimit)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return &turnResult{models.StateIdle, replyNoSlots, &models.IdleContext{LastIntent: intent.Intent}}, nil
	}
	presented := presentSlots(slots, contact.Location())
	return &turnResult{models.StateShowingSlots, slotListText(presented), &models.ShowingSlotsContext{
		Presented:  presented,
		LastIntent: intent.Intent,
	}}, nil
}

func (o *Orchestrator) handleShowingSlots(ctx context.Context, contact *models.Contact, msg string, c *models.ShowingSlotsContext, intent *models.IntentResult) (*turnResult, error) {
	// Mid-flow intent override: a cancel or reschedule request wins over
	// the slot list on the table.
	if intent.Intent == models.IntentCancel || intent.Intent == models.IntentReschedule {
		return o.handleIdle(ctx, contact, intent)
	}

	slotID := resolveSelection(msg, c.Presented, intent)
	if slotID == "" {
		c.RetryCount++
		if c.RetryCount >= o.cfg.MaxRetries {
			return &turnResult{models.StateIdle, replyBookingReset, &models.IdleContext{}}, nil
		}
		c.LastIntent = intent.Intent
		return &turnResult{models.StateShowingSlots, replySlotNotCaught, c}, nil
	}

	display := presentedDisplay(c.Presented, slotID)
	prompt := fmt.Sprintf("Great, should I book %s? Reply YES to confirm or NO to pick another time.", display)
	return &turnResult{models.StateConfirmingBooking, prompt, &models.ConfirmingBookingContext{
		Presented:       c.Presented,
		SelectedSlotID:  slotID,
		SelectedDisplay: display,
	}}, nil
}

func (o *Orchestrator) handleConfirmingBooking(ctx context.Context, contact *models.Contact, msg string, c *models.ConfirmingBookingContext, intent *models.IntentResult) (*turnResult, error) {
	switch intent.Intent {
	case models.IntentCancel:
		return o.handleIdle(ctx, contact, intent)
	case models.IntentDeny:
		return &turnResult{models.StateShowingSlots, replyKeepSlot, &models.ShowingSlotsContext{
			Presented:  c.Presented,
			LastIntent: intent.Intent,
		}}, nil
	case models.IntentConfirm:
	default:
		return &turnResult{models.StateConfirmingBooking, replyYesOrNo, c}, nil
	}

	if c.SelectedSlotID == "" {
		return &turnResult{models.StateShowingSlots, replyPickSlotFirst, &models.ShowingSlotsContext{
			Presented: c.Presented,
		}}, nil
	}

	appt, err := o.engine.Book(ctx, contact.ID, c.SelectedSlotID)
	if errors.Is(err, database.ErrSlotUnavailable) {
		// Staleness recovery: the slot went to someone else between the
		// offer and the confirmation. Offer fresh times, never the loser.
		return o.offerFreshSlots(ctx, contact, c.SelectedSlotID,
			"Sorry, that slot was just booked by someone else.", replySlotTakenNoAlt, nil)
	}
	if err != nil {
		return nil, err
	}

	start := time.Time{}
	if slot, err := o.engine.GetSlot(ctx, appt.SlotID); err == nil {
		start = slot.StartTime
	}
	return &turnResult{models.StateIdle, confirmationText(start, contact.Location()), &models.IdleContext{LastIntent: models.IntentBook}}, nil
}

func (o *Orchestrator) handleConfirmingCancel(ctx context.Context, contact *models.Contact, c *models.ConfirmingCancelContext, intent *models.IntentResult) (*turnResult, error) {
	if intent.Intent != models.IntentConfirm {
		return &turnResult{models.StateIdle, replyStillBooked, &models.IdleContext{LastIntent: models.IntentDeny}}, nil
	}
	if c.PendingAppointmentID == "" {
		return &turnResult{models.StateIdle, replyNoActiveToCancel, &models.IdleContext{}}, nil
	}

	_, err := o.engine.Cancel(ctx, c.PendingAppointmentID, "contact_request")
	if errors.Is(err, database.ErrAlreadyCancelled) || errors.Is(err, database.ErrNotFound) {
		return &turnResult{models.StateIdle, replyNoActiveToCancel, &models.IdleContext{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &turnResult{models.StateIdle, replyCancelDone, &models.IdleContext{LastIntent: models.IntentCancel}}, nil
}

func (o *Orchestrator) handleRescheduleShowSlots(ctx context.Context, contact *models.Contact, msg string, c *models.RescheduleShowSlotsContext, intent *models.IntentResult) (*turnResult, error) {
	if intent.Intent == models.IntentCancel {
		return o.handleIdle(ctx, contact, intent)
	}

	slotID := resolveSelection(msg, c.Presented, intent)
	if slotID == "" {
		c.RetryCount++
		if c.RetryCount >= o.cfg.MaxRetries {
			return &turnResult{models.StateIdle, replyRescheduleReset, &models.IdleContext{}}, nil
		}
		return &turnResult{models.StateRescheduleShowSlots, replySlotNotCaught, c}, nil
	}

	display := presentedDisplay(c.Presented, slotID)
	prompt := fmt.Sprintf("Perfect - should I move your appointment to %s? Reply YES or NO.", display)
	return &turnResult{models.StateConfirmingReschedule, prompt, &models.ConfirmingRescheduleContext{
		OriginalAppointmentID: c.OriginalAppointmentID,
		Presented:             c.Presented,
		SelectedSlotID:        slotID,
		SelectedDisplay:       display,
	}}, nil
}

func (o *Orchestrator) handleConfirmingReschedule(ctx context.Context, contact *models.Contact, c *models.ConfirmingRescheduleContext, intent *models.IntentResult) (*turnResult, error) {
	switch intent.Intent {
	case models.IntentDeny:
		return &turnResult{models.StateIdle, replyNoChanges, &models.IdleContext{}}, nil
	case models.IntentConfirm:
	default:
		return &turnResult{models.StateConfirmingReschedule, replyYesOrNoMove, c}, nil
	}

	if c.OriginalAppointmentID == "" || c.SelectedSlotID == "" {
		return &turnResult{models.StateIdle, replyFlowBroken, &models.IdleContext{}}, nil
	}

	replacement, err := o.engine.Reschedule(ctx, c.OriginalAppointmentID, c.SelectedSlotID)
	if errors.Is(err, database.ErrSlotUnavailable) {
		return o.offerFreshSlots(ctx, contact, c.SelectedSlotID,
			"That slot was just taken. Here are fresh options:", replyMoveTakenNoAlt,
			func(presented []models.PresentedSlot) models.StateContext {
				return &models.RescheduleShowSlotsContext{
					OriginalAppointmentID: c.OriginalAppointmentID,
					Presented:             presented,
				}
			})
	}
	if errors.Is(err, database.ErrAlreadyCancelled) || errors.Is(err, database.ErrNotFound) {
		return &turnResult{models.StateIdle, replyFlowBroken, &models.IdleContext{}}, nil
	}
	if err != nil {
		return nil, err
	}

	start := time.Time{}
	if slot, err := o.engine.GetSlot(ctx, replacement.SlotID); err == nil {
		start = slot.StartTime
	}
	return &turnResult{models.StateIdle, confirmationText(start, contact.Location()), &models.IdleContext{LastIntent: models.IntentReschedule}}, nil
}

// offerFreshSlots re-presents alternatives after a lost slot race. When
// makeContext is nil the flow restarts as a plain booking offer.
func (o *Orchestrator) offerFreshSlots(ctx context.Context, contact *models.Contact, lostSlotID, header, emptyReply string, makeContext func([]models.PresentedSlot) models.StateContext) (*turnResult, error) {
	alternatives, err := o.engine.FreshAlternatives(ctx, []string{lostSlotID}, time.Now().UTC(), o.cfg.PresentLimit)
	if err != nil {
		return nil, err
	}
	if len(alternatives) == 0 {
		return &turnResult{models.StateIdle, emptyReply, &models.IdleContext{}}, nil
	}

	presented := presentSlots(alternatives, contact.Location())
	reply := nlu.Truncate(header + "\n" + slotListText(presented))

	if makeContext != nil {
		next := makeContext(presented)
		return &turnResult{next.State(), reply, next}, nil
	}
	return &turnResult{models.StateShowingSlots, reply, &models.ShowingSlotsContext{
		Presented:  presented,
		LastIntent: models.IntentBook,
	}}, nil
}

// resolveSelection prefers the classifier's resolved slot and falls back
// to deterministic parsing of the raw message.
func resolveSelection(msg string, presented []models.PresentedSlot, intent *models.IntentResult) string {
	if intent.ResolvedSlotID != "" {
		for _, p := range presented {
			if p.SlotID == intent.ResolvedSlotID {
				return intent.ResolvedSlotID
			}
		}
	}
	return nlu.ParseSlotSelection(msg, presented)
}

func presentedOf(c models.StateContext) []models.PresentedSlot {
	switch v := c.(type) {
	case *models.ShowingSlotsContext:
		return v.Presented
	case *models.ConfirmingBookingContext:
		return v.Presented
	case *models.RescheduleShowSlotsContext:
		return v.Presented
	case *models.ConfirmingRescheduleContext:
		return v.Presented
	}
	return nil
}
