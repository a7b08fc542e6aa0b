package conversation

import (
	"fmt"
	"strings"
)

const (
	complianceOptOut = "opt_out"
	complianceOptIn  = "opt_in"
	complianceHelp   = "help"
)

var optOutKeywords = map[string]bool{
	"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "END": true, "QUIT": true,
}

// CANCEL намеренно исключен — конфликтует с отменой записи.
var optInKeywords = map[string]bool{
	"START": true, "YES": true, "UNSTOP": true,
}

var helpKeywords = map[string]bool{
	"HELP": true, "INFO": true,
}

// strictComplianceKeywords short-circuit everything, including the
// classifier. YES and UNSTOP are deliberately absent: a bare YES is a
// flow confirmation first, carrier-level opt-in only when nothing is
// pending.
var strictComplianceKeywords = map[string]bool{
	"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "END": true, "QUIT": true,
	"START": true, "HELP": true, "INFO": true,
}

// complianceKeyword classifies the message as a carrier compliance keyword.
// Only exact single-keyword messages qualify.
func complianceKeyword(body string) (kind string, strict bool, ok bool) {
	normalized := strings.ToUpper(strings.TrimSpace(body))
	switch {
	case optOutKeywords[normalized]:
		kind = complianceOptOut
	case optInKeywords[normalized]:
		kind = complianceOptIn
	case helpKeywords[normalized]:
		kind = complianceHelp
	default:
		return "", false, false
	}
	return kind, strictComplianceKeywords[normalized], true
}

func complianceReply(kind, businessName, supportNumber string) string {
	switch kind {
	case complianceOptOut:
		return "You have been unsubscribed and will not receive further messages. Reply START to re-subscribe."
	case complianceOptIn:
		return fmt.Sprintf("You have been re-subscribed to %s messages. Reply STOP to unsubscribe.", businessName)
	case complianceHelp:
		return fmt.Sprintf("%s: For support call %s. Msg frequency varies. Msg&data rates may apply. Reply STOP to cancel.", businessName, supportNumber)
	}
	return ""
}
