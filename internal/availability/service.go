// Package availability wraps the calendar provider with the widget's
// availability policy: reads fail open to safe defaults, writes surface
// errors to the caller.
package availability

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/observability/metrics"
	"github.com/carebook/booking-engine/pkg/logging"
)

// SchedulingAPI is the subset of the provider client the service uses.
// *calcom.Client satisfies it.
type SchedulingAPI interface {
	GetSchedule(ctx context.Context, creds calcom.Credentials) (*calcom.Schedule, error)
	GetAvailableSlots(ctx context.Context, creds calcom.Credentials, et calcom.EventType, start, end time.Time) (map[string][]time.Time, error)
	CreateBooking(ctx context.Context, creds calcom.Credentials, req calcom.CreateBookingRequest) (*calcom.Booking, error)
	RescheduleBooking(ctx context.Context, creds calcom.Credentials, uid string, req calcom.RescheduleBookingRequest) (*calcom.Booking, error)
	CancelBooking(ctx context.Context, creds calcom.Credentials, uid, reason string) (*calcom.Booking, error)
	GetBooking(ctx context.Context, creds calcom.Credentials, uid string) (*calcom.Booking, error)
}

// Service answers availability questions and performs booking writes.
type Service struct {
	api     SchedulingAPI
	loc     *time.Location
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewService creates an availability service. loc is the widget's display
// timezone; day windows are computed in it. Nil loc means UTC.
func NewService(api SchedulingAPI, loc *time.Location, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{api: api, loc: loc, logger: logger, metrics: m}
}

// defaultWorkingDays is the Mon-Fri fallback used when the provider
// schedule cannot be fetched. Availability lookup is never fatal.
func defaultWorkingDays() map[time.Weekday]bool {
	return map[time.Weekday]bool{
		time.Monday:    true,
		time.Tuesday:   true,
		time.Wednesday: true,
		time.Thursday:  true,
		time.Friday:    true,
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WorkingDays returns the practitioner's working weekdays. On missing
// credentials or any provider failure it returns the Mon-Fri default.
func (s *Service) WorkingDays(ctx context.Context, creds calcom.Credentials) map[time.Weekday]bool {
	if creds.Empty() {
		s.metrics.ObserveWorkingDaysFetch("fallback")
		return defaultWorkingDays()
	}

	start := time.Now()
	sched, err := s.api.GetSchedule(ctx, creds)
	s.metrics.ObserveProviderLatency("get_schedule", time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("availability: schedule fetch failed, assuming Mon-Fri", "error", err)
		s.metrics.ObserveWorkingDaysFetch("fallback")
		return defaultWorkingDays()
	}

	days := make(map[time.Weekday]bool, len(sched.Days))
	for _, name := range sched.Days {
		if wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]; ok {
			days[wd] = true
		}
	}
	if len(days) == 0 {
		s.metrics.ObserveWorkingDaysFetch("fallback")
		return defaultWorkingDays()
	}
	s.metrics.ObserveWorkingDaysFetch("ok")
	return days
}

// AvailableSlots returns the provider's offered instants for the full day
// window [00:00:00, 23:59:59] of date, in chronological order. Any failure
// degrades to an empty list, never an error.
func (s *Service) AvailableSlots(ctx context.Context, creds calcom.Credentials, et calcom.EventType, date time.Time) []time.Time {
	if creds.Empty() {
		s.metrics.ObserveSlotFetch("fallback")
		return nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, s.loc)

	start := time.Now()
	byDate, err := s.api.GetAvailableSlots(ctx, creds, et, dayStart, dayEnd)
	s.metrics.ObserveProviderLatency("get_slots", time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("availability: slot fetch failed, treating day as fully booked",
			"date", dayStart.Format("2006-01-02"), "error", err)
		s.metrics.ObserveSlotFetch("error")
		return nil
	}

	slots := append([]time.Time(nil), byDate[dayStart.Format("2006-01-02")]...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	s.metrics.ObserveSlotFetch("ok")
	return slots
}

// DefaultActiveDay returns today when it is a working day, otherwise the
// next later date that is. workingDays must be non-empty; with an empty set
// there is no valid answer and the caller must not ask.
func DefaultActiveDay(workingDays map[time.Weekday]bool, today time.Time) time.Time {
	day := today
	for i := 0; i < 7; i++ {
		if workingDays[day.Weekday()] {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return today
}

// Create books the appointment. Writes are not fail-open.
func (s *Service) Create(ctx context.Context, creds calcom.Credentials, req calcom.CreateBookingRequest) (*calcom.Booking, error) {
	start := time.Now()
	b, err := s.api.CreateBooking(ctx, creds, req)
	s.metrics.ObserveProviderLatency("create_booking", time.Since(start).Seconds())
	return b, err
}

// Reschedule moves an existing booking.
func (s *Service) Reschedule(ctx context.Context, creds calcom.Credentials, uid string, req calcom.RescheduleBookingRequest) (*calcom.Booking, error) {
	start := time.Now()
	b, err := s.api.RescheduleBooking(ctx, creds, uid, req)
	s.metrics.ObserveProviderLatency("reschedule_booking", time.Since(start).Seconds())
	return b, err
}

// Cancel cancels an existing booking.
func (s *Service) Cancel(ctx context.Context, creds calcom.Credentials, uid, reason string) (*calcom.Booking, error) {
	start := time.Now()
	b, err := s.api.CancelBooking(ctx, creds, uid, reason)
	s.metrics.ObserveProviderLatency("cancel_booking", time.Since(start).Seconds())
	return b, err
}

// GetBooking fetches a booking by uid; (nil, nil) when it does not exist.
func (s *Service) GetBooking(ctx context.Context, creds calcom.Credentials, uid string) (*calcom.Booking, error) {
	start := time.Now()
	b, err := s.api.GetBooking(ctx, creds, uid)
	s.metrics.ObserveProviderLatency("get_booking", time.Since(start).Seconds())
	return b, err
}
