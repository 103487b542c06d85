// Package flow drives a completed selection through the commit state
// machine: pre-commit re-validation against the provider, the provider
// write itself, and the session-wide abandonment timeout racing against
// it.
package flow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/i18n"
	"github.com/carebook/booking-engine/internal/observability/metrics"
	"github.com/carebook/booking-engine/internal/selection"
	"github.com/carebook/booking-engine/pkg/logging"
)

// State of the booking lifecycle.
type State int

const (
	StateIdle State = iota
	StateCommitting
	StateConfirmed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCommitting:
		return "committing"
	case StateConfirmed:
		return "confirmed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Booker is what the controller needs from the availability service:
// commit-time slot re-validation plus the provider writes.
type Booker interface {
	AvailableSlots(ctx context.Context, creds calcom.Credentials, et calcom.EventType, date time.Time) []time.Time
	Create(ctx context.Context, creds calcom.Credentials, req calcom.CreateBookingRequest) (*calcom.Booking, error)
	Reschedule(ctx context.Context, creds calcom.Credentials, uid string, req calcom.RescheduleBookingRequest) (*calcom.Booking, error)
	Cancel(ctx context.Context, creds calcom.Credentials, uid, reason string) (*calcom.Booking, error)
	GetBooking(ctx context.Context, creds calcom.Credentials, uid string) (*calcom.Booking, error)
}

// Controller turns a completed selection into exactly one provider write.
type Controller struct {
	mu    sync.Mutex
	state State

	sel     *selection.State
	booker  Booker
	timer   *SessionTimer
	emitter Emitter
	lang    string
	loc     *time.Location
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewController creates a lifecycle controller for one flow.
func NewController(sel *selection.State, booker Booker, timer *SessionTimer, emitter Emitter, lang string, loc *time.Location, m *metrics.BookingMetrics, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Controller{
		sel:     sel,
		booker:  booker,
		timer:   timer,
		emitter: emitter,
		lang:    lang,
		loc:     loc,
		logger:  logger.Component("flow"),
		metrics: m,
	}
}

// CurrentState returns the lifecycle state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Create re-validates the chosen slot against the provider and books it.
func (c *Controller) Create(ctx context.Context, attendee calcom.Attendee) error {
	if err := c.guard(); err != nil {
		return err
	}
	if !c.sel.Committable() {
		return &ValidationError{Field: "selection"}
	}
	if err := c.beginCommit(); err != nil {
		return err
	}

	snap := c.sel.Snapshot()
	creds, eventType := c.sel.Resolved()

	if err := c.revalidateSlot(ctx, creds, eventType, snap); err != nil {
		return c.fail("create", err)
	}

	booking, err := c.booker.Create(ctx, creds, calcom.CreateBookingRequest{
		Start:     snap.Time,
		Attendee:  attendee,
		EventType: eventType,
	})
	if err != nil {
		return c.fail("create", &ProviderError{Op: "create", Err: err})
	}

	c.confirm("create", CompletionPayload{
		Operation:     "create",
		UID:           booking.UID,
		Date:          snap.Date.Format("2006-01-02"),
		Time:          snap.Time.UTC().Format(time.RFC3339),
		FormattedDate: i18n.FormatDate(snap.Date.In(c.loc), c.lang),
		FormattedTime: i18n.FormatTime(snap.Time.In(c.loc), c.lang),
		Practitioner:  snap.Practitioner,
		Service:       snap.Service,
	})
	return nil
}

// Reschedule moves an existing booking to the newly selected time. The
// reason is checked before any network call.
func (c *Controller) Reschedule(ctx context.Context, uid, rescheduledBy string) error {
	if err := c.guard(); err != nil {
		return err
	}
	snap := c.sel.Snapshot()
	if !reasonPresent(snap.Reason) {
		return &ValidationError{Field: "reason"}
	}
	if uid == "" {
		return &ValidationError{Field: "uid"}
	}
	if !c.sel.Committable() {
		return &ValidationError{Field: "selection"}
	}
	if err := c.beginCommit(); err != nil {
		return err
	}

	creds, eventType := c.sel.Resolved()
	if err := c.revalidateSlot(ctx, creds, eventType, snap); err != nil {
		return c.fail("reschedule", err)
	}

	booking, err := c.booker.Reschedule(ctx, creds, uid, calcom.RescheduleBookingRequest{
		RescheduledBy: rescheduledBy,
		Reason:        snap.Reason,
		Start:         snap.Time,
	})
	if err != nil {
		return c.fail("reschedule", &ProviderError{Op: "reschedule", Err: err})
	}

	c.confirm("reschedule", CompletionPayload{
		Operation:     "reschedule",
		UID:           booking.UID,
		Date:          snap.Date.Format("2006-01-02"),
		Time:          snap.Time.UTC().Format(time.RFC3339),
		FormattedDate: i18n.FormatDate(snap.Date.In(c.loc), c.lang),
		FormattedTime: i18n.FormatTime(snap.Time.In(c.loc), c.lang),
		Practitioner:  snap.Practitioner,
		Service:       snap.Service,
		Reason:        snap.Reason,
	})
	return nil
}

// Cancel cancels an existing booking. No slot re-validation: cancellation
// has no slot dependency.
func (c *Controller) Cancel(ctx context.Context, uid, reason string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if !reasonPresent(reason) {
		return &ValidationError{Field: "reason"}
	}
	if uid == "" {
		return &ValidationError{Field: "uid"}
	}
	creds, _ := c.sel.Resolved()
	if creds.Empty() {
		return &ValidationError{Field: "practitioner"}
	}
	if err := c.beginCommit(); err != nil {
		return err
	}

	booking, err := c.booker.Cancel(ctx, creds, uid, reason)
	if err != nil {
		return c.fail("cancel", &ProviderError{Op: "cancel", Err: err})
	}

	c.confirm("cancel", CompletionPayload{
		Operation: "cancel",
		UID:       uid,
		Reason:    reason,
		Booking:   booking,
	})
	return nil
}

// Expire forces the terminal expired state unless a booking was already
// confirmed. Returns true when the flow actually expired.
func (c *Controller) Expire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConfirmed || c.state == StateExpired {
		return false
	}
	c.state = StateExpired
	return true
}

// guard rejects commits in terminal or busy states without transitioning.
func (c *Controller) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConfirmed:
		return ErrFlowComplete
	case StateExpired:
		return ErrSessionExpired
	case StateCommitting:
		return ErrCommitInProgress
	default:
		return nil
	}
}

func (c *Controller) beginCommit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		// The state changed between guard and claim (expiry racing in).
		switch c.state {
		case StateConfirmed:
			return ErrFlowComplete
		case StateExpired:
			return ErrSessionExpired
		default:
			return ErrCommitInProgress
		}
	}
	c.state = StateCommitting
	return nil
}

// revalidateSlot re-fetches the day's slots and confirms the chosen
// instant is still offered. Slots can be taken by other actors between
// display and commit.
func (c *Controller) revalidateSlot(ctx context.Context, creds calcom.Credentials, eventType calcom.EventType, snap selection.Snapshot) error {
	current := c.booker.AvailableSlots(ctx, creds, eventType, snap.Date)
	for _, slot := range current {
		if slot.Equal(snap.Time) {
			return nil
		}
	}
	c.sel.ClearTime()
	return &SlotUnavailableError{At: snap.Time}
}

// fail returns the controller to idle; the error is retryable.
func (c *Controller) fail(op string, err error) error {
	c.mu.Lock()
	if c.state == StateCommitting {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.metrics.ObserveCommit(op, "failed")
	c.logger.Warn("commit failed", "operation", op, "error", err)
	return err
}

// confirm reaches the terminal success state: disarm the abandonment
// timer, then report completion outward.
func (c *Controller) confirm(op string, payload CompletionPayload) {
	c.mu.Lock()
	c.state = StateConfirmed
	c.mu.Unlock()

	if c.timer != nil {
		c.timer.Disarm()
	}
	c.metrics.ObserveCommit(op, "confirmed")
	c.logger.Info("booking confirmed", "operation", op, "uid", payload.UID)
	if c.emitter != nil {
		c.emitter.Emit(Event{Type: "complete", Payload: payload})
	}
}

func reasonPresent(reason string) bool {
	return strings.TrimSpace(reason) != ""
}
