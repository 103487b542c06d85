package selection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/directory"
)

type fakeAvail struct {
	days        map[time.Weekday]bool
	slotsByDate map[string][]time.Time
	slotCalls   []string
}

func (f *fakeAvail) WorkingDays(ctx context.Context, creds calcom.Credentials) map[time.Weekday]bool {
	if f.days == nil {
		return map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		}
	}
	return f.days
}

func (f *fakeAvail) AvailableSlots(ctx context.Context, creds calcom.Credentials, et calcom.EventType, date time.Time) []time.Time {
	key := date.Format("2006-01-02")
	f.slotCalls = append(f.slotCalls, key)
	return f.slotsByDate[key]
}

// queueRunner captures scheduled fetches so tests control when and in what
// order they complete.
type queueRunner struct {
	queue []func()
}

func (r *queueRunner) run(fn func()) { r.queue = append(r.queue, fn) }

func (r *queueRunner) drain() {
	for len(r.queue) > 0 {
		fn := r.queue[0]
		r.queue = r.queue[1:]
		fn()
	}
}

func testCatalog() *directory.Catalog {
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
			{
				Name:        "Marc Roy",
				Credentials: calcom.Credentials{APIKey: "k2", ScheduleID: "s2"},
				EventTypes: map[string]calcom.EventType{
					"Massage": {ID: "201", Slug: "mas-m"},
				},
			},
		},
	}
}

// tuesday 2025-04-15
var tuesday = time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)

func newTestState(t *testing.T, mode Mode, avail *fakeAvail) (*State, *queueRunner) {
	t.Helper()
	r := &queueRunner{}
	resolver := directory.NewResolver(testCatalog(), directory.PrimaryService)
	st := NewState(context.Background(), mode, resolver, avail, nil,
		WithRunner(r.run),
		WithNow(func() time.Time { return tuesday }),
	)
	return st, r
}

func TestCascadingResets(t *testing.T) {
	slot := time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{"2025-04-15": {slot}}}
	st, r := newTestState(t, ModeCreate, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	r.drain()
	require.NoError(t, st.SetTime(slot))
	require.True(t, st.Committable())

	// Changing the service clears everything downstream.
	require.NoError(t, st.SetService("Acupuncture"))
	snap := st.Snapshot()
	assert.Empty(t, snap.Practitioner)
	assert.False(t, snap.DateSet)
	assert.False(t, snap.TimeSet)
	assert.Empty(t, snap.Slots)
	assert.False(t, st.Committable())
	assert.Equal(t, []string{"Amelie Tremblay"}, snap.SecondaryOptions)
}

func TestPractitionerTriggersWorkingDaysThenDefaultDateSlots(t *testing.T) {
	slot := time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{"2025-04-15": {slot}}}
	st, r := newTestState(t, ModeCreate, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Amelie Tremblay"))

	// Nothing applied until the scheduled fetch runs.
	assert.False(t, st.Snapshot().DateSet)

	r.drain()
	snap := st.Snapshot()
	assert.True(t, snap.DateSet)
	assert.Equal(t, "2025-04-15", snap.Date.Format("2006-01-02"))
	assert.Len(t, snap.WorkingDays, 5)
	require.Len(t, snap.Slots, 1)
	assert.True(t, snap.Slots[0].Equal(slot))
}

func TestDefaultDateSkipsNonWorkingDays(t *testing.T) {
	avail := &fakeAvail{days: map[time.Weekday]bool{time.Friday: true}}
	st, r := newTestState(t, ModeCreate, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	r.drain()

	snap := st.Snapshot()
	assert.Equal(t, time.Friday, snap.Date.Weekday())
}

func TestSetDateRejectsNonWorkingDay(t *testing.T) {
	avail := &fakeAvail{}
	st, r := newTestState(t, ModeCreate, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	r.drain()

	saturday := time.Date(2025, 4, 19, 0, 0, 0, 0, time.UTC)
	err := st.SetDate(saturday)
	var unknown *UnknownChoiceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "date", unknown.Field)
}

func TestStaleSlotFetchDiscarded(t *testing.T) {
	d1 := "2025-04-16"
	d2 := "2025-04-17"
	stale := time.Date(2025, 4, 16, 10, 0, 0, 0, time.UTC)
	fresh := time.Date(2025, 4, 17, 11, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{d1: {stale}, d2: {fresh}}}
	st, r := newTestState(t, ModeCreate, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	r.drain()

	// Issue the fetch for d1 but do not let it resolve yet.
	require.NoError(t, st.SetDate(time.Date(2025, 4, 16, 0, 0, 0, 0, time.UTC)))
	require.Len(t, r.queue, 1)
	d1Fetch := r.queue[0]
	r.queue = nil

	// The user moves to d2 before d1's response arrives.
	require.NoError(t, st.SetDate(time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)))
	r.drain()

	// Now d1's late response arrives; it must be discarded.
	d1Fetch()

	snap := st.Snapshot()
	require.Len(t, snap.Slots, 1)
	assert.True(t, snap.Slots[0].Equal(fresh), "stale d1 slots must not overwrite d2's")
	assert.False(t, snap.SlotsLoading)
}

func TestCommittableMonotonic(t *testing.T) {
	slot := time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{"2025-04-15": {slot}}}
	st, r := newTestState(t, ModeCreate, avail)

	assert.False(t, st.Committable())
	require.NoError(t, st.SetService("Massage"))
	assert.False(t, st.Committable())
	require.NoError(t, st.SetPractitioner("Amelie Tremblay"))
	assert.False(t, st.Committable())
	r.drain()
	assert.False(t, st.Committable(), "date defaulted but no time chosen yet")
	require.NoError(t, st.SetTime(slot))
	assert.True(t, st.Committable())

	// Clearing any one field reverts committable until all are set again.
	st.ClearTime()
	assert.False(t, st.Committable())
	require.NoError(t, st.SetTime(slot))
	assert.True(t, st.Committable())
}

func TestReasonRequiredForReschedule(t *testing.T) {
	slot := time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{"2025-04-15": {slot}}}
	st, r := newTestState(t, ModeReschedule, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	r.drain()
	require.NoError(t, st.SetTime(slot))

	assert.False(t, st.Committable(), "reschedule needs a reason")
	require.NoError(t, st.SetReason("   "))
	assert.False(t, st.Committable(), "whitespace-only reason does not count")
	require.NoError(t, st.SetReason("running late"))
	assert.True(t, st.Committable())
}

func TestSetTimeMustComeFromSlotList(t *testing.T) {
	slot := time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{"2025-04-15": {slot}}}
	st, r := newTestState(t, ModeCreate, avail)

	require.NoError(t, st.SetService("Massage"))
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	r.drain()

	err := st.SetTime(slot.Add(30 * time.Minute))
	var unknown *UnknownChoiceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "time", unknown.Field)
}

func TestOrderEnforced(t *testing.T) {
	st, _ := newTestState(t, ModeCreate, &fakeAvail{})

	var incomplete *IncompleteError
	require.ErrorAs(t, st.SetPractitioner("Marc Roy"), &incomplete)
	assert.Equal(t, "service", incomplete.Missing)

	require.ErrorAs(t, st.SetDate(tuesday), &incomplete)
	require.ErrorAs(t, st.SetTime(tuesday), &incomplete)
}

func TestFrozenRejectsAllMutation(t *testing.T) {
	st, _ := newTestState(t, ModeCreate, &fakeAvail{})
	st.Freeze()

	assert.True(t, errors.Is(st.SetService("Massage"), ErrFrozen))
	assert.True(t, errors.Is(st.SetReason("x"), ErrFrozen))
	assert.False(t, st.Committable())
}

func TestPractitionerFirstOrdering(t *testing.T) {
	slot := time.Date(2025, 4, 15, 14, 0, 0, 0, time.UTC)
	avail := &fakeAvail{slotsByDate: map[string][]time.Time{"2025-04-15": {slot}}}
	r := &queueRunner{}
	resolver := directory.NewResolver(testCatalog(), directory.PrimaryPractitioner)
	st := NewState(context.Background(), ModeCreate, resolver, avail, nil,
		WithRunner(r.run),
		WithNow(func() time.Time { return tuesday }),
	)

	require.NoError(t, st.SetPractitioner("Amelie Tremblay"))
	snap := st.Snapshot()
	assert.Equal(t, []string{"Acupuncture", "Massage"}, snap.SecondaryOptions)

	require.NoError(t, st.SetService("Massage"))
	r.drain()
	snap = st.Snapshot()
	assert.True(t, snap.DateSet)
	require.Len(t, snap.Slots, 1)

	// Changing the practitioner (primary) clears the service.
	require.NoError(t, st.SetPractitioner("Marc Roy"))
	snap = st.Snapshot()
	assert.Empty(t, snap.Service)
	assert.False(t, snap.DateSet)
}
