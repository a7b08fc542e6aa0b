package nlu

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"slotline/internal/models"
)

var numericRe = regexp.MustCompile(`\b(\d+)\b`)

var ordinals = map[string]int{
	"first":  1,
	"second": 2,
	"third":  3,
	"fourth": 4,
	"fifth":  5,
}

// RulesClassifier is the deterministic keyword classifier used when the
// NLU service is unreachable. It is intentionally conservative: anything
// it cannot place with confidence comes back UNCLEAR rather than guessed.
type RulesClassifier struct{}

func NewRulesClassifier() *RulesClassifier {
	return &RulesClassifier{}
}

func (r *RulesClassifier) Classify(ctx context.Context, body string, history []models.Turn, presented []models.PresentedSlot, currentState string) (*models.IntentResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(body))
	if normalized == "" {
		return &models.IntentResult{Intent: models.IntentUnclear, ResponseText: FallbackText}, nil
	}

	// A bare selection only makes sense while slots are on the table.
	if len(presented) > 0 {
		if slotID := ParseSlotSelection(normalized, presented); slotID != "" {
			return &models.IntentResult{
				Intent:         models.IntentSelectSlot,
				Confidence:     0.9,
				ResolvedSlotID: slotID,
			}, nil
		}
	}

	switch {
	case containsAny(normalized, "reschedule", "resched", "move my", "change my", "different time"):
		return result(models.IntentReschedule, 0.8), nil
	case containsAny(normalized, "cancel", "can't make", "cannot make", "call off"):
		return result(models.IntentCancel, 0.8), nil
	case containsAny(normalized, "book", "appointment", "schedule", "availability", "available", "opening", "slot"):
		return result(models.IntentBook, 0.75), nil
	case isAffirmation(normalized):
		return result(models.IntentConfirm, 0.85), nil
	case isDenial(normalized):
		return result(models.IntentDeny, 0.85), nil
	case strings.Contains(normalized, "?"):
		return result(models.IntentQuestion, 0.6), nil
	}

	return &models.IntentResult{Intent: models.IntentUnclear, Confidence: 0.3}, nil
}

func result(intent string, confidence float64) *models.IntentResult {
	return &models.IntentResult{Intent: intent, Confidence: confidence}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isAffirmation(s string) bool {
	switch strings.Trim(s, ".!") {
	case "yes", "y", "yep", "yeah", "yup", "sure", "ok", "okay", "confirm", "correct", "sounds good":
		return true
	}
	return false
}

func isDenial(s string) bool {
	switch strings.Trim(s, ".!") {
	case "no", "n", "nope", "nah", "not really", "wrong":
		return true
	}
	return false
}

// ParseSlotSelection maps a reply onto one of the presented slots.
// It tries, in order: explicit index, ordinal words, then a unique
// time-of-day or weekday mention. Returns "" when nothing matches
// unambiguously.
func ParseSlotSelection(message string, presented []models.PresentedSlot) string {
	if len(presented) == 0 {
		return ""
	}
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return ""
	}

	if m := numericRe.FindStringSubmatch(normalized); m != nil {
		choice, err := strconv.Atoi(m[1])
		if err == nil && choice >= 1 && choice <= len(presented) {
			return presented[choice-1].SlotID
		}
	}

	for word, number := range ordinals {
		if strings.Contains(normalized, word) && number <= len(presented) {
			return presented[number-1].SlotID
		}
	}

	compact := strings.ReplaceAll(normalized, " ", "")
	var timeMatches, dayMatches []string
	for _, slot := range presented {
		start := slot.StartTime
		timeTokens := []string{
			strings.ToLower(start.Format("3PM")),
			strings.ToLower(start.Format("3:04PM")),
			start.Format("15:04"),
		}
		dayTokens := []string{
			strings.ToLower(start.Format("Monday")),
			strings.ToLower(start.Format("Mon")),
		}
		for _, token := range timeTokens {
			if strings.Contains(compact, strings.ReplaceAll(token, " ", "")) {
				timeMatches = append(timeMatches, slot.SlotID)
				break
			}
		}
		for _, token := range dayTokens {
			if strings.Contains(normalized, token) {
				dayMatches = append(dayMatches, slot.SlotID)
				break
			}
		}
	}

	if len(timeMatches) == 1 {
		return timeMatches[0]
	}
	if len(dayMatches) == 1 {
		return dayMatches[0]
	}
	return ""
}
