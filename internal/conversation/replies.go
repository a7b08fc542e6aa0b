package conversation

import (
	"fmt"
	"strings"
	"time"

	"slotline/internal/models"
	"slotline/internal/nlu"
)

const (
	replyNoSlots          = "I don't see open times right now. Want me to check again later?"
	replyNoAlternatives   = "I don't see alternative slots right now. Please try again soon."
	replyNoActiveToCancel = "I couldn't find an active appointment to cancel."
	replyNoActiveToMove   = "I couldn't find an active appointment to reschedule."
	replySlotNotCaught    = "I didn't catch that slot. Reply with the number from the list."
	replyBookingReset     = "Let's reset. Reply BOOK whenever you're ready and I will share fresh times."
	replyRescheduleReset  = "Let's reset for now. Reply RESCHEDULE when you want to try again."
	replyYesOrNo          = "Please reply YES to confirm this slot or NO to choose another."
	replyYesOrNoMove      = "Please reply YES to confirm the reschedule or NO to keep it."
	replyPickSlotFirst    = "Let's pick a slot first. Reply with a slot number."
	replyKeepSlot         = "No problem. Reply with another slot number when ready."
	replyStillBooked      = "OK, your appointment is still on the books."
	replyNoChanges        = "No changes made. Your current appointment remains booked."
	replyCancelDone       = "Done - your appointment is cancelled."
	replyWhatNext         = "I can help you book, reschedule, or cancel. What would you like to do?"
	replySlotTakenNoAlt   = "Sorry, that slot was taken and I have no fresh alternatives yet."
	replyMoveTakenNoAlt   = "That new slot was taken and I have no alternatives right now."
	replyFlowBroken       = "I couldn't finish the reschedule flow. Let's try again."
)

const displayTimeFormat = "Mon Jan 02, 3:04 PM"

// presentSlots freezes the offered slots with their contact-local display
// strings, so later turns resolve "the second one" against exactly what
// the contact saw.
func presentSlots(slots []*models.AvailabilitySlot, loc *time.Location) []models.PresentedSlot {
	presented := make([]models.PresentedSlot, 0, len(slots))
	for i, slot := range slots {
		presented = append(presented, models.PresentedSlot{
			Index:     i + 1,
			SlotID:    slot.ID,
			StartTime: slot.StartTime,
			Display:   slot.StartTime.In(loc).Format(displayTimeFormat),
		})
	}
	return presented
}

func slotListText(presented []models.PresentedSlot) string {
	if len(presented) == 0 {
		return replyNoSlots
	}
	var b strings.Builder
	b.WriteString("Here are some available times:")
	for _, p := range presented {
		fmt.Fprintf(&b, "\n%d) %s", p.Index, p.Display)
	}
	b.WriteString("\nReply with a number to book.")
	return nlu.Truncate(b.String())
}

func confirmationText(start time.Time, loc *time.Location) string {
	if start.IsZero() {
		return "You're all set! Your appointment is confirmed."
	}
	return nlu.Truncate(fmt.Sprintf(
		"You're all set! Your appointment is confirmed for %s. Reply CANCEL to cancel or RESCHEDULE to change.",
		start.In(loc).Format("Mon Jan 02 at 3:04 PM")))
}

func presentedDisplay(presented []models.PresentedSlot, slotID string) string {
	for _, p := range presented {
		if p.SlotID == slotID {
			return p.Display
		}
	}
	return "that selected time"
}
