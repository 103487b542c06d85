package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/directory"
	"github.com/carebook/booking-engine/internal/i18n"
	"github.com/carebook/booking-engine/internal/selection"
)

// fakeScheduler scripts availability reads and records provider writes.
type fakeScheduler struct {
	slotsByDate map[string][]time.Time
	slotQueue   [][]time.Time // overrides slotsByDate until drained
	slotCalls   int

	createCalls     int
	rescheduleCalls int
	cancelCalls     int

	createErr error

	lastCreateReq     calcom.CreateBookingRequest
	lastRescheduleUID string
	lastRescheduleReq calcom.RescheduleBookingRequest
	lastCancelUID     string
	lastCancelReason  string
}

func (f *fakeScheduler) WorkingDays(ctx context.Context, creds calcom.Credentials) map[time.Weekday]bool {
	return map[time.Weekday]bool{
		time.Monday: true, time.Tuesday: true, time.Wednesday: true,
		time.Thursday: true, time.Friday: true,
	}
}

func (f *fakeScheduler) AvailableSlots(ctx context.Context, creds calcom.Credentials, et calcom.EventType, date time.Time) []time.Time {
	f.slotCalls++
	if len(f.slotQueue) > 0 {
		next := f.slotQueue[0]
		f.slotQueue = f.slotQueue[1:]
		return next
	}
	return f.slotsByDate[date.Format("2006-01-02")]
}

func (f *fakeScheduler) Create(ctx context.Context, creds calcom.Credentials, req calcom.CreateBookingRequest) (*calcom.Booking, error) {
	f.createCalls++
	f.lastCreateReq = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &calcom.Booking{UID: "bk-1", Start: req.Start, Status: "accepted"}, nil
}

func (f *fakeScheduler) Reschedule(ctx context.Context, creds calcom.Credentials, uid string, req calcom.RescheduleBookingRequest) (*calcom.Booking, error) {
	f.rescheduleCalls++
	f.lastRescheduleUID = uid
	f.lastRescheduleReq = req
	return &calcom.Booking{UID: uid, Start: req.Start, Status: "accepted"}, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, creds calcom.Credentials, uid, reason string) (*calcom.Booking, error) {
	f.cancelCalls++
	f.lastCancelUID = uid
	f.lastCancelReason = reason
	return &calcom.Booking{UID: uid, Status: "cancelled"}, nil
}

func (f *fakeScheduler) GetBooking(ctx context.Context, creds calcom.Credentials, uid string) (*calcom.Booking, error) {
	return &calcom.Booking{UID: uid, Status: "accepted"}, nil
}

type eventSink struct {
	events []Event
}

func (s *eventSink) Emit(e Event) { s.events = append(s.events, e) }

func (s *eventSink) ofType(kind string) []Event {
	var out []Event
	for _, e := range s.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func flowCatalog() *directory.Catalog {
	return &directory.Catalog{
		Services: []directory.Service{{Name: "Acupuncture"}, {Name: "Massage"}},
		Practitioners: []directory.Practitioner{
			{
				Name:        "Amelie Tremblay",
				Credentials: calcom.Credentials{APIKey: "k", ScheduleID: "s"},
				EventTypes: map[string]calcom.EventType{
					"Acupuncture": {ID: "101", Slug: "acu"},
					"Massage":     {ID: "102", Slug: "mas"},
				},
			},
		},
	}
}

// tuesday 2025-04-15
var flowNow = time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)

var flowSlot = time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)

type testFlow struct {
	sched *fakeScheduler
	sel   *selection.State
	ctrl  *Controller
	timer *SessionTimer
	clock *manualClock
	sink  *eventSink
}

// newTestFlow builds a controller over a selection already driven to a
// committable state (fetches run synchronously).
func newTestFlow(t *testing.T, mode selection.Mode) *testFlow {
	t.Helper()
	sched := &fakeScheduler{
		slotsByDate: map[string][]time.Time{"2025-04-15": {flowSlot}},
	}
	resolver := directory.NewResolver(flowCatalog(), directory.PrimaryService)
	sel := selection.NewState(context.Background(), mode, resolver, sched, nil,
		selection.WithRunner(func(fn func()) { fn() }),
		selection.WithNow(func() time.Time { return flowNow }),
	)
	require.NoError(t, sel.SetService("Massage"))
	require.NoError(t, sel.SetPractitioner("Amelie Tremblay"))
	require.NoError(t, sel.SetTime(flowSlot))

	clock := &manualClock{}
	sink := &eventSink{}
	timer := NewSessionTimer(clock, func() {})
	timer.Arm(5 * time.Minute)
	ctrl := NewController(sel, sched, timer, sink, i18n.LangEN, time.UTC, nil, nil)
	return &testFlow{sched: sched, sel: sel, ctrl: ctrl, timer: timer, clock: clock, sink: sink}
}

func TestCreateConfirmsAndEmitsCompletion(t *testing.T) {
	f := newTestFlow(t, selection.ModeCreate)

	err := f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo", Email: "jo@example.com"})
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, f.ctrl.CurrentState())
	assert.Equal(t, 1, f.sched.createCalls)
	require.Len(t, f.sink.ofType("complete"), 1)

	payload, ok := f.sink.ofType("complete")[0].Payload.(CompletionPayload)
	require.True(t, ok)
	assert.Equal(t, "create", payload.Operation)
	assert.Equal(t, "bk-1", payload.UID)
	assert.Equal(t, "2025-04-15", payload.Date)
	assert.Equal(t, "Tuesday, April 15, 2025", payload.FormattedDate)
	assert.Equal(t, "2:00 PM", payload.FormattedTime)
	assert.Equal(t, "Massage", payload.Service)
	assert.Equal(t, "Amelie Tremblay", payload.Practitioner)

	// Confirmation disarms the abandonment timer for good.
	f.clock.advance(time.Hour)
	assert.False(t, f.timer.Fired())
}

func TestCreateSlotGoneAtCommit(t *testing.T) {
	f := newTestFlow(t, selection.ModeCreate)
	// The slot is taken between display and commit.
	f.sched.slotQueue = [][]time.Time{{}}

	err := f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"})

	var unavailable *SlotUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.True(t, unavailable.At.Equal(flowSlot))
	assert.Equal(t, 0, f.sched.createCalls, "no write may happen for a vanished slot")
	assert.Equal(t, StateIdle, f.ctrl.CurrentState())
	assert.False(t, f.sel.Snapshot().TimeSet, "the stale time must be cleared")
	assert.Empty(t, f.sink.ofType("complete"))
}

func TestConfirmedFlowRejectsFurtherCommits(t *testing.T) {
	f := newTestFlow(t, selection.ModeCreate)
	require.NoError(t, f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"}))

	err := f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"})
	require.ErrorIs(t, err, ErrFlowComplete)
	assert.Equal(t, 1, f.sched.createCalls, "at most one provider write per flow")
	require.Len(t, f.sink.ofType("complete"), 1)
}

func TestProviderFailureReturnsToIdle(t *testing.T) {
	f := newTestFlow(t, selection.ModeCreate)
	f.sched.createErr = errors.New("503 from provider")

	err := f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create", perr.Op)
	assert.Equal(t, StateIdle, f.ctrl.CurrentState())

	// The failure is transient; the same commit retried succeeds.
	f.sched.createErr = nil
	require.NoError(t, f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"}))
	assert.Equal(t, StateConfirmed, f.ctrl.CurrentState())
	assert.Equal(t, 2, f.sched.createCalls)
}

func TestRescheduleRequiresReasonBeforeNetwork(t *testing.T) {
	f := newTestFlow(t, selection.ModeReschedule)
	fetchesBefore := f.sched.slotCalls

	err := f.ctrl.Reschedule(context.Background(), "uid-1", "member")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Field)
	assert.Equal(t, 0, f.sched.rescheduleCalls)
	assert.Equal(t, fetchesBefore, f.sched.slotCalls, "validation must not reach the provider")

	// Whitespace is not a reason.
	require.NoError(t, f.sel.SetReason("   "))
	err = f.ctrl.Reschedule(context.Background(), "uid-1", "member")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Field)
}

func TestRescheduleConfirmsWithReason(t *testing.T) {
	f := newTestFlow(t, selection.ModeReschedule)
	require.NoError(t, f.sel.SetReason("conflit d'horaire"))

	require.NoError(t, f.ctrl.Reschedule(context.Background(), "uid-1", "member"))

	assert.Equal(t, "uid-1", f.sched.lastRescheduleUID)
	assert.Equal(t, "member", f.sched.lastRescheduleReq.RescheduledBy)
	assert.Equal(t, "conflit d'horaire", f.sched.lastRescheduleReq.Reason)
	assert.True(t, f.sched.lastRescheduleReq.Start.Equal(flowSlot))

	payload := f.sink.ofType("complete")[0].Payload.(CompletionPayload)
	assert.Equal(t, "reschedule", payload.Operation)
	assert.Equal(t, "conflit d'horaire", payload.Reason)
}

func TestRescheduleRequiresUID(t *testing.T) {
	f := newTestFlow(t, selection.ModeReschedule)
	require.NoError(t, f.sel.SetReason("moving house"))

	err := f.ctrl.Reschedule(context.Background(), "", "member")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "uid", verr.Field)
	assert.Equal(t, 0, f.sched.rescheduleCalls)
}

func TestCancelEmitsUIDAndReason(t *testing.T) {
	f := newTestFlow(t, selection.ModeCancel)
	fetchesBefore := f.sched.slotCalls

	require.NoError(t, f.ctrl.Cancel(context.Background(), "abc123", "schedule conflict"))

	assert.Equal(t, "abc123", f.sched.lastCancelUID)
	assert.Equal(t, "schedule conflict", f.sched.lastCancelReason)
	assert.Equal(t, fetchesBefore, f.sched.slotCalls, "cancellation has no slot to re-validate")

	payload := f.sink.ofType("complete")[0].Payload.(CompletionPayload)
	assert.Equal(t, "cancel", payload.Operation)
	assert.Equal(t, "abc123", payload.UID)
	assert.Equal(t, "schedule conflict", payload.Reason)
	require.NotNil(t, payload.Booking)
	assert.Equal(t, "cancelled", payload.Booking.Status)
}

func TestCancelRequiresReason(t *testing.T) {
	f := newTestFlow(t, selection.ModeCancel)

	err := f.ctrl.Cancel(context.Background(), "abc123", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Field)
	assert.Equal(t, 0, f.sched.cancelCalls)
}

func TestExpiredFlowRejectsCommits(t *testing.T) {
	f := newTestFlow(t, selection.ModeCreate)

	require.True(t, f.ctrl.Expire())
	assert.False(t, f.ctrl.Expire(), "expiry is terminal, not repeatable")

	err := f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, f.sched.createCalls)
}

func TestExpireLosesToConfirmed(t *testing.T) {
	f := newTestFlow(t, selection.ModeCreate)
	require.NoError(t, f.ctrl.Create(context.Background(), calcom.Attendee{Name: "Jo"}))

	assert.False(t, f.ctrl.Expire(), "a confirmed booking never expires")
	assert.Equal(t, StateConfirmed, f.ctrl.CurrentState())
}
