// Package selection tracks the in-progress booking choices (service,
// practitioner, date, time, reason) and keeps them coherent: a later field
// is only valid relative to the earlier fields it depends on, so changing
// an upstream choice cascades resets downstream. Slot availability is
// fetched asynchronously and stale responses are discarded.
package selection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carebook/booking-engine/internal/availability"
	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/directory"
	"github.com/carebook/booking-engine/internal/observability/metrics"
	"github.com/carebook/booking-engine/pkg/logging"
)

// Mode is the operation the flow is collecting a selection for. Reason is
// required only for reschedule and cancel.
type Mode string

const (
	ModeCreate     Mode = "create"
	ModeReschedule Mode = "reschedule"
	ModeCancel     Mode = "cancel"
)

// RequiresReason reports whether the mode needs a non-empty reason.
func (m Mode) RequiresReason() bool {
	return m == ModeReschedule || m == ModeCancel
}

// AvailabilitySource is what the state needs from the availability service.
type AvailabilitySource interface {
	WorkingDays(ctx context.Context, creds calcom.Credentials) map[time.Weekday]bool
	AvailableSlots(ctx context.Context, creds calcom.Credentials, et calcom.EventType, date time.Time) []time.Time
}

// fetchKey identifies which selection a fetch was issued for. A response
// is applied only when the key still matches the current selection.
type fetchKey struct {
	service      string
	practitioner string
	date         string // "2006-01-02", empty for working-day fetches
}

// Snapshot is an immutable copy of the selection for rendering.
type Snapshot struct {
	Service          string
	Practitioner     string
	SecondaryOptions []string
	WorkingDays      []time.Weekday
	Date             time.Time
	DateSet          bool
	Time             time.Time
	TimeSet          bool
	Slots            []time.Time
	SlotsLoading     bool
	Reason           string
	Committable      bool
}

// State owns the in-progress selection. All mutation goes through its
// methods; reads go through Snapshot.
type State struct {
	mu sync.Mutex

	mode     Mode
	resolver *directory.Resolver
	avail    AvailabilitySource

	ctx    context.Context
	run    func(func()) // fetch scheduler, goroutine in production
	now    func() time.Time
	onSync func(Snapshot)

	logger  *logging.Logger
	metrics *metrics.BookingMetrics

	service          string
	practitioner     string
	secondaryOptions []string
	creds            calcom.Credentials
	eventType        calcom.EventType
	workingDays      map[time.Weekday]bool
	date             time.Time
	dateSet          bool
	timeSlot         time.Time
	timeSet          bool
	slots            []time.Time
	slotsLoading     bool
	reason           string
	frozen           bool
}

// Option configures a State.
type Option func(*State)

// WithRunner overrides how fetches are scheduled. Tests pass a synchronous
// or capturing runner to control ordering.
func WithRunner(run func(func())) Option {
	return func(s *State) { s.run = run }
}

// WithNow overrides the wall clock used for the default active day.
func WithNow(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithOnSync registers a callback invoked with a fresh snapshot after any
// state change, including asynchronous slot arrivals. Called outside the
// state lock.
func WithOnSync(fn func(Snapshot)) Option {
	return func(s *State) { s.onSync = fn }
}

// WithMetrics wires the selection counters.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *State) { s.metrics = m }
}

// NewState creates a selection for one flow. ctx bounds all availability
// fetches and should be the session context.
func NewState(ctx context.Context, mode Mode, resolver *directory.Resolver, avail AvailabilitySource, logger *logging.Logger, opts ...Option) *State {
	if logger == nil {
		logger = logging.Default()
	}
	s := &State{
		mode:     mode,
		resolver: resolver,
		avail:    avail,
		ctx:      ctx,
		run:      func(fn func()) { go fn() },
		now:      time.Now,
		logger:   logger.Component("selection"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the flow operation this selection is for.
func (s *State) Mode() Mode { return s.mode }

// SetService records the chosen service. When service is the primary
// dimension this recomputes the eligible practitioner set and clears
// everything downstream; when it is the secondary dimension it completes
// the (service, practitioner) pair and starts the availability chain.
func (s *State) SetService(service string) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrFrozen
	}
	if _, ok := s.resolver.Catalog().ServiceByName(service); !ok {
		s.mu.Unlock()
		return &UnknownChoiceError{Field: "service", Value: service}
	}

	if s.resolver.Primary() == directory.PrimaryService {
		s.service = service
		s.practitioner = ""
		s.secondaryOptions = s.resolver.SecondaryOptions(service)
		s.clearScheduleLocked()
		s.mu.Unlock()

		s.sync()
		return nil
	}

	if s.practitioner == "" {
		s.mu.Unlock()
		return &IncompleteError{Missing: "practitioner"}
	}
	s.service = service
	return s.completePairLocked()
}

// SetPractitioner records the chosen practitioner. When practitioner is
// the primary dimension this recomputes the services they offer and clears
// everything downstream; when it is the secondary dimension it completes
// the (service, practitioner) pair and starts the availability chain: the
// working-days fetch followed by the default date's slot fetch.
func (s *State) SetPractitioner(practitioner string) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrFrozen
	}
	if _, ok := s.resolver.Catalog().PractitionerByName(practitioner); !ok {
		s.mu.Unlock()
		return &UnknownChoiceError{Field: "practitioner", Value: practitioner}
	}

	if s.resolver.Primary() == directory.PrimaryPractitioner {
		s.practitioner = practitioner
		s.service = ""
		s.secondaryOptions = s.resolver.SecondaryOptions(practitioner)
		s.clearScheduleLocked()
		s.mu.Unlock()

		s.sync()
		return nil
	}

	if s.service == "" {
		s.mu.Unlock()
		return &IncompleteError{Missing: "service"}
	}
	s.practitioner = practitioner
	return s.completePairLocked()
}

// completePairLocked resolves provider credentials for the now-complete
// (service, practitioner) pair, clears the schedule fields and triggers
// the availability chain. Called with the lock held; releases it.
func (s *State) completePairLocked() error {
	creds, et, err := s.resolver.Catalog().Resolve(s.service, s.practitioner)
	if err != nil {
		// The pair is not offered; drop the secondary choice again.
		if s.resolver.Primary() == directory.PrimaryService {
			value := s.practitioner
			s.practitioner = ""
			s.mu.Unlock()
			return &UnknownChoiceError{Field: "practitioner", Value: value}
		}
		value := s.service
		s.service = ""
		s.mu.Unlock()
		return &UnknownChoiceError{Field: "service", Value: value}
	}

	s.creds = creds
	s.eventType = et
	s.clearScheduleLocked()

	key := fetchKey{service: s.service, practitioner: s.practitioner}
	ctx := s.ctx
	s.mu.Unlock()

	s.sync()
	s.run(func() { s.fetchWorkingDays(ctx, key, creds) })
	return nil
}

// fetchWorkingDays resolves the practitioner's schedule, picks the default
// active day and chains into that day's slot fetch.
func (s *State) fetchWorkingDays(ctx context.Context, key fetchKey, creds calcom.Credentials) {
	days := s.avail.WorkingDays(ctx, creds)
	defaultDay := availability.DefaultActiveDay(days, s.now())

	s.mu.Lock()
	if s.frozen || !s.matchesLocked(key) {
		s.mu.Unlock()
		s.discarded()
		return
	}
	if s.dateSet {
		// The user already picked a date while the schedule was loading;
		// keep their choice, just record the working days.
		s.workingDays = days
		s.mu.Unlock()
		s.sync()
		return
	}
	s.workingDays = days
	s.date = defaultDay
	s.dateSet = true
	s.timeSet = false
	s.timeSlot = time.Time{}
	slotKey := fetchKey{service: key.service, practitioner: key.practitioner, date: defaultDay.Format("2006-01-02")}
	s.slots = nil
	s.slotsLoading = true
	creds, et := s.creds, s.eventType
	s.mu.Unlock()

	s.sync()
	s.fetchSlots(ctx, slotKey, creds, et, defaultDay)
}

// SetDate records the chosen date and triggers a slot fetch for it. The
// previous slot list is stale the moment the date changes.
func (s *State) SetDate(date time.Time) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrFrozen
	}
	if s.practitioner == "" {
		s.mu.Unlock()
		return &IncompleteError{Missing: "practitioner"}
	}
	if s.workingDays != nil && !s.workingDays[date.Weekday()] {
		s.mu.Unlock()
		return &UnknownChoiceError{Field: "date", Value: date.Format("2006-01-02")}
	}

	s.date = date
	s.dateSet = true
	s.timeSet = false
	s.timeSlot = time.Time{}
	s.slots = nil
	s.slotsLoading = true
	key := fetchKey{service: s.service, practitioner: s.practitioner, date: date.Format("2006-01-02")}
	creds, et := s.creds, s.eventType
	ctx := s.ctx
	s.mu.Unlock()

	s.sync()
	s.run(func() { s.fetchSlots(ctx, key, creds, et, date) })
	return nil
}

// fetchSlots loads availability for one date and applies the response only
// if the selection still points at the same (service, practitioner, date).
func (s *State) fetchSlots(ctx context.Context, key fetchKey, creds calcom.Credentials, et calcom.EventType, date time.Time) {
	slots := s.avail.AvailableSlots(ctx, creds, et, date)

	s.mu.Lock()
	if s.frozen || !s.matchesLocked(key) {
		s.mu.Unlock()
		s.discarded()
		return
	}
	s.slots = slots
	s.slotsLoading = false
	s.mu.Unlock()

	s.sync()
}

// SetTime records the chosen instant. The time must be one of the
// currently offered slots; no further fetch is triggered.
func (s *State) SetTime(t time.Time) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrFrozen
	}
	if !s.dateSet {
		s.mu.Unlock()
		return &IncompleteError{Missing: "date"}
	}
	found := false
	for _, slot := range s.slots {
		if slot.Equal(t) {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return &UnknownChoiceError{Field: "time", Value: t.Format(time.RFC3339)}
	}

	s.timeSlot = t
	s.timeSet = true
	s.mu.Unlock()

	s.sync()
	return nil
}

// SetReason records the free-text reason for reschedule/cancel flows.
func (s *State) SetReason(reason string) error {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return ErrFrozen
	}
	s.reason = reason
	s.mu.Unlock()

	s.sync()
	return nil
}

// ClearTime drops the chosen time, forcing the user to repick. Used when
// commit-time re-validation finds the slot gone.
func (s *State) ClearTime() {
	s.mu.Lock()
	s.timeSlot = time.Time{}
	s.timeSet = false
	s.mu.Unlock()

	s.sync()
}

// Freeze permanently disables all further mutation. Called when the
// session expires.
func (s *State) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Committable reports whether the selection is complete for its mode:
// service, practitioner, date and time all set, plus a non-blank reason
// for reschedule and cancel.
func (s *State) Committable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committableLocked()
}

func (s *State) committableLocked() bool {
	if s.frozen {
		return false
	}
	if s.service == "" || s.practitioner == "" || !s.dateSet || !s.timeSet {
		return false
	}
	if s.mode.RequiresReason() && !reasonValid(s.reason) {
		return false
	}
	return true
}

// Resolved returns the provider credentials and event type for the current
// (service, practitioner) pair.
func (s *State) Resolved() (calcom.Credentials, calcom.EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.eventType
}

// Snapshot returns a copy of the current selection.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	days := make([]time.Weekday, 0, len(s.workingDays))
	for d, ok := range s.workingDays {
		if ok {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	return Snapshot{
		Service:          s.service,
		Practitioner:     s.practitioner,
		SecondaryOptions: append([]string(nil), s.secondaryOptions...),
		WorkingDays:      days,
		Date:             s.date,
		DateSet:          s.dateSet,
		Time:             s.timeSlot,
		TimeSet:          s.timeSet,
		Slots:            append([]time.Time(nil), s.slots...),
		SlotsLoading:     s.slotsLoading,
		Reason:           s.reason,
		Committable:      s.committableLocked(),
	}
}

// clearScheduleLocked resets everything downstream of the (service,
// practitioner) pair.
func (s *State) clearScheduleLocked() {
	s.workingDays = nil
	s.date = time.Time{}
	s.dateSet = false
	s.timeSlot = time.Time{}
	s.timeSet = false
	s.slots = nil
	s.slotsLoading = false
}

// matchesLocked reports whether a fetch key still describes the current
// selection.
func (s *State) matchesLocked(key fetchKey) bool {
	if key.service != s.service || key.practitioner != s.practitioner {
		return false
	}
	if key.date == "" {
		return true
	}
	return s.dateSet && key.date == s.date.Format("2006-01-02")
}

func (s *State) sync() {
	if s.onSync == nil {
		return
	}
	s.onSync(s.Snapshot())
}

func (s *State) discarded() {
	s.metrics.ObserveStaleFetchDiscarded()
	s.logger.Debug("stale availability response discarded")
}
