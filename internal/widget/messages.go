package widget

import (
	"errors"

	"github.com/carebook/booking-engine/internal/flow"
	"github.com/carebook/booking-engine/internal/i18n"
	"github.com/carebook/booking-engine/internal/selection"
)

// InboundEvent is what the embedded widget sends over the socket.
type InboundEvent struct {
	Type string `json:"type"` // "start", "service_selected", "practitioner_selected",
	// "date_selected", "time_selected", "reason_changed", "commit", "ping"
	SessionID     string   `json:"session_id,omitempty"`
	Language      string   `json:"lang,omitempty"` // "start" only
	Operation     string   `json:"op,omitempty"`   // "start" only
	Service       string   `json:"service,omitempty"`
	Practitioner  string   `json:"practitioner,omitempty"`
	Date          string   `json:"date,omitempty"` // YYYY-MM-DD
	Time          string   `json:"time,omitempty"` // RFC 3339
	Reason        string   `json:"reason,omitempty"`
	UID           string   `json:"uid,omitempty"`
	RescheduledBy string   `json:"rescheduledBy,omitempty"`
	Attendee      Attendee `json:"attendee,omitempty"`
}

// Attendee is the booking contact collected by the widget.
type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone,omitempty"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type string `json:"type"` // "session", "options", "state", "complete",
	// "timeEnd", "error", "pong", "history"
	SessionID string        `json:"session_id,omitempty"`
	Message   string        `json:"message,omitempty"`
	Payload   any           `json:"payload,omitempty"`
	Events    []StoredEvent `json:"events,omitempty"`
}

// Option pairs a canonical identifier with its localized label. The
// widget renders the label but always sends the name back.
type Option struct {
	Name    string `json:"name"`
	Display string `json:"display"`
}

// localizedError maps an engine error to the message shown in the chat.
func localizedError(err error, lang string) string {
	var (
		unavailable *flow.SlotUnavailableError
		validation  *flow.ValidationError
		incomplete  *selection.IncompleteError
		unknown     *selection.UnknownChoiceError
	)
	switch {
	case errors.Is(err, flow.ErrSessionExpired), errors.Is(err, selection.ErrFrozen):
		return i18n.Message(i18n.MsgSessionExpired, lang)
	case errors.As(err, &unavailable):
		return i18n.Message(i18n.MsgSlotUnavailable, lang)
	case errors.As(err, &validation):
		if validation.Field == "reason" {
			return i18n.Message(i18n.MsgReasonRequired, lang)
		}
		return i18n.Message(i18n.MsgIncomplete, lang)
	case errors.As(err, &incomplete), errors.As(err, &unknown):
		return i18n.Message(i18n.MsgIncomplete, lang)
	default:
		return i18n.Message(i18n.MsgProviderError, lang)
	}
}
