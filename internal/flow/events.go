package flow

import "github.com/carebook/booking-engine/internal/calcom"

// Event is what the engine reports outward to the host chat runtime.
type Event struct {
	Type    string `json:"type"` // "complete" or "timeEnd"
	Payload any    `json:"payload"`
}

// Emitter publishes events to the host runtime. The widget transport
// implements it.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(event Event) { f(event) }

// CompletionPayload is emitted on a successful commit.
type CompletionPayload struct {
	Operation     string          `json:"operation"` // "create", "reschedule" or "cancel"
	UID           string          `json:"uid,omitempty"`
	Date          string          `json:"date,omitempty"` // YYYY-MM-DD
	Time          string          `json:"time,omitempty"` // RFC 3339
	FormattedDate string          `json:"formattedDate,omitempty"`
	FormattedTime string          `json:"formattedTime,omitempty"`
	Practitioner  string          `json:"practitioner,omitempty"`
	Service       string          `json:"service,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Booking       *calcom.Booking `json:"bookingDetails,omitempty"`
}

// TimeoutPayload is emitted exactly once when the session expires.
type TimeoutPayload struct {
	Message string `json:"message"`
}
