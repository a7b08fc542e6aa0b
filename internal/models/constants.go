package models

const (
	StatusConfirmed   = "confirmed"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
	StatusCompleted   = "completed"
	StatusNoShow      = "no_show"
)

const (
	StateIdle                 = "idle"
	StateShowingSlots         = "showing_slots"
	StateConfirmingBooking    = "confirming_booking"
	StateConfirmingCancel     = "confirming_cancel"
	StateRescheduleShowSlots  = "reschedule_show_slots"
	StateConfirmingReschedule = "confirming_reschedule"
	StateAwaitingInfo         = "awaiting_info"
)

const (
	IntentBook       = "BOOK"
	IntentReschedule = "RESCHEDULE"
	IntentCancel     = "CANCEL"
	IntentQuestion   = "QUESTION"
	IntentConfirm    = "CONFIRM"
	IntentDeny       = "DENY"
	IntentSelectSlot = "SELECT_SLOT"
	IntentUnclear    = "UNCLEAR"
)

// ValidIntent reports whether the label is one of the known intents.
func ValidIntent(intent string) bool {
	switch intent {
	case IntentBook, IntentReschedule, IntentCancel, IntentQuestion,
		IntentConfirm, IntentDeny, IntentSelectSlot, IntentUnclear:
		return true
	}
	return false
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	OptInPending = "pending"
	OptedIn      = "opted_in"
	OptedOut     = "opted_out"
)

const (
	// MaxParseRetries сколько нераспознанных ответов подряд допускается в одном
	// состоянии, прежде чем диалог сбрасывается в idle
	MaxParseRetries = 3

	// DefaultPresentLimit сколько слотов показываем в одном сообщении
	DefaultPresentLimit = 5

	// DefaultSearchWindowDays окно поиска свободных слотов
	DefaultSearchWindowDays = 7

	// DefaultConversationTTLHours время жизни незавершенного диалога
	DefaultConversationTTLHours = 2

	// DefaultIdempotencyTTL время хранения ключа идемпотентности в секундах
	DefaultIdempotencyTTL = 3600

	// HistoryKeepTurns сколько последних реплик храним для NLU
	HistoryKeepTurns = 10

	// RateLimitMessages количество входящих сообщений в окне на один контакт
	RateLimitMessages = 20

	// RateLimitWindow окно ограничения частоты в секундах
	RateLimitWindow = 60
)
