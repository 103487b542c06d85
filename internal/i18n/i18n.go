// Package i18n formats dates, times and user-facing widget messages in
// English or French. Language affects presentation only; identities and
// wire values stay canonical.
package i18n

import (
	"fmt"
	"time"
)

// Supported languages. Anything else falls back to English.
const (
	LangEN = "en"
	LangFR = "fr"
)

var frMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

var frWeekdays = [...]string{
	"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
}

// FormatDate renders a full date, e.g. "Friday, April 11, 2025" or
// "vendredi 11 avril 2025".
func FormatDate(t time.Time, lang string) string {
	if lang == LangFR {
		return fmt.Sprintf("%s %d %s %d",
			frWeekdays[t.Weekday()], t.Day(), frMonths[t.Month()-1], t.Year())
	}
	return t.Format("Monday, January 2, 2006")
}

// FormatTime renders a time of day, 12-hour in English ("2:00 PM"),
// 24-hour in French ("14 h 00").
func FormatTime(t time.Time, lang string) string {
	if lang == LangFR {
		return fmt.Sprintf("%d h %02d", t.Hour(), t.Minute())
	}
	return t.Format("3:04 PM")
}

// Message keys for user-facing widget strings.
const (
	MsgSessionExpired  = "session_expired"
	MsgSlotUnavailable = "slot_unavailable"
	MsgProviderError   = "provider_error"
	MsgReasonRequired  = "reason_required"
	MsgIncomplete      = "incomplete_selection"
)

var messages = map[string]map[string]string{
	MsgSessionExpired: {
		LangEN: "Your session has expired. Please start over to book an appointment.",
		LangFR: "Votre session a expiré. Veuillez recommencer pour prendre rendez-vous.",
	},
	MsgSlotUnavailable: {
		LangEN: "That time was just taken. Please pick another time.",
		LangFR: "Cette plage vient d'être réservée. Veuillez choisir une autre heure.",
	},
	MsgProviderError: {
		LangEN: "We couldn't reach the booking system. Please try again.",
		LangFR: "Impossible de joindre le système de réservation. Veuillez réessayer.",
	},
	MsgReasonRequired: {
		LangEN: "Please provide a reason.",
		LangFR: "Veuillez indiquer une raison.",
	},
	MsgIncomplete: {
		LangEN: "Please complete your selection before confirming.",
		LangFR: "Veuillez compléter votre sélection avant de confirmer.",
	},
}

// Message returns the localized widget string for a key. Unknown keys
// return the key itself so missing entries are visible, not silent.
func Message(key, lang string) string {
	byLang, ok := messages[key]
	if !ok {
		return key
	}
	if msg, ok := byLang[lang]; ok {
		return msg
	}
	return byLang[LangEN]
}
