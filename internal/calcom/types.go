package calcom

import "time"

// Credentials identify one practitioner's account with the provider.
type Credentials struct {
	APIKey     string `json:"api_key"`
	ScheduleID string `json:"schedule_id"`
}

// Empty reports whether the credentials are unusable.
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.ScheduleID == ""
}

// EventType correlates a (practitioner, service) pair to its provider-side
// booking rules and duration.
type EventType struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// Attendee is the person a booking is created for.
type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
}

// Booking is the provider's record of an appointment. Identity is UID,
// assigned by the provider at creation.
type Booking struct {
	UID      string    `json:"uid"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Status   string    `json:"status"` // "confirmed" or "cancelled"
	Attendee Attendee  `json:"attendee"`
}

// Schedule is a practitioner's working schedule as returned by the provider.
type Schedule struct {
	// Days are provider weekday names, e.g. "Monday".
	Days []string
}

// CreateBookingRequest is the payload for creating a booking.
type CreateBookingRequest struct {
	Start     time.Time
	Attendee  Attendee
	EventType EventType
}

// RescheduleBookingRequest moves an existing booking to a new start time.
type RescheduleBookingRequest struct {
	RescheduledBy string
	Reason        string
	Start         time.Time
}

// scheduleResponse mirrors GET /schedules/{id}.
type scheduleResponse struct {
	Data struct {
		Availability []struct {
			Days []string `json:"days"`
		} `json:"availability"`
	} `json:"data"`
}

// slotsResponse mirrors GET /slots/available.
type slotsResponse struct {
	Status string `json:"status"`
	Data   struct {
		Slots map[string][]struct {
			Time string `json:"time"`
		} `json:"slots"`
	} `json:"data"`
}

// bookingResponse mirrors the booking read/write endpoints.
type bookingResponse struct {
	Status string `json:"status"`
	Data   struct {
		UID       string `json:"uid"`
		Start     string `json:"start"`
		End       string `json:"end"`
		Status    string `json:"status"`
		Attendees []struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			TimeZone string `json:"timeZone"`
		} `json:"attendees"`
	} `json:"data"`
}
