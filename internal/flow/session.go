package flow

import (
	"context"
	"time"

	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/directory"
	"github.com/carebook/booking-engine/internal/i18n"
	"github.com/carebook/booking-engine/internal/observability/metrics"
	"github.com/carebook/booking-engine/internal/selection"
	"github.com/carebook/booking-engine/pkg/logging"
)

// DefaultTTL is the abandonment budget for an incomplete flow.
const DefaultTTL = 5 * time.Minute

// Scheduler is everything a session needs from the availability service.
// *availability.Service satisfies it.
type Scheduler interface {
	selection.AvailabilitySource
	Booker
}

// SessionConfig configures one booking flow.
type SessionConfig struct {
	ID        string
	Mode      selection.Mode
	Resolver  *directory.Resolver
	Scheduler Scheduler
	Emitter   Emitter
	Clock     Clock
	TTL       time.Duration
	Language  string
	Location  *time.Location
	Logger    *logging.Logger
	Metrics   *metrics.BookingMetrics

	// Runner and Now are test seams passed through to the selection.
	Runner func(func())
	Now    func() time.Time
}

// Session is the explicit per-flow object owning one selection, one
// lifecycle controller and one abandonment timer. It is constructed per
// widget connection and torn down when the flow ends; no state outlives
// it.
type Session struct {
	id      string
	sel     *selection.State
	ctrl    *Controller
	timer   *SessionTimer
	emitter Emitter
	cancel  context.CancelFunc
	ctx     context.Context
	lang    string
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewSession builds and arms a booking flow.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	lang := cfg.Language
	if lang == "" {
		lang = i18n.LangEN
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      cfg.ID,
		emitter: cfg.Emitter,
		cancel:  cancel,
		ctx:     ctx,
		lang:    lang,
		logger:  logger.Component("session"),
		metrics: cfg.Metrics,
	}

	selOpts := []selection.Option{selection.WithMetrics(cfg.Metrics)}
	if cfg.Runner != nil {
		selOpts = append(selOpts, selection.WithRunner(cfg.Runner))
	}
	if cfg.Now != nil {
		selOpts = append(selOpts, selection.WithNow(cfg.Now))
	}
	selOpts = append(selOpts, selection.WithOnSync(s.publishState))

	s.sel = selection.NewState(ctx, cfg.Mode, cfg.Resolver, cfg.Scheduler, logger, selOpts...)
	s.timer = NewSessionTimer(cfg.Clock, s.expire)
	s.ctrl = NewController(s.sel, cfg.Scheduler, s.timer, cfg.Emitter, lang, cfg.Location, cfg.Metrics, logger)
	s.timer.Arm(ttl)

	s.logger.Info("session started", "session_id", s.id, "mode", string(cfg.Mode), "ttl", ttl.String())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Selection exposes the selection state for the presentation adapter.
func (s *Session) Selection() *selection.State { return s.sel }

// Controller exposes the lifecycle controller.
func (s *Session) Controller() *Controller { return s.ctrl }

// Context is cancelled when the session ends; availability fetches are
// bound to it.
func (s *Session) Context() context.Context { return s.ctx }

// CommitRequest is the inbound commit event.
type CommitRequest struct {
	Operation     selection.Mode
	UID           string
	Attendee      calcom.Attendee
	Reason        string // cancel flows may carry the reason on the event
	RescheduledBy string
}

// Commit routes the commit event to the matching lifecycle operation.
func (s *Session) Commit(ctx context.Context, req CommitRequest) error {
	switch req.Operation {
	case selection.ModeReschedule:
		return s.ctrl.Reschedule(ctx, req.UID, req.RescheduledBy)
	case selection.ModeCancel:
		reason := req.Reason
		if reason == "" {
			reason = s.sel.Snapshot().Reason
		}
		return s.ctrl.Cancel(ctx, req.UID, reason)
	default:
		return s.ctrl.Create(ctx, req.Attendee)
	}
}

// expire is the timer callback: the timeout won the race against commit.
func (s *Session) expire() {
	if !s.ctrl.Expire() {
		return
	}
	s.sel.Freeze()
	s.cancel()
	s.metrics.ObserveSessionExpired()
	s.logger.Info("session expired", "session_id", s.id)
	if s.emitter != nil {
		s.emitter.Emit(Event{
			Type:    "timeEnd",
			Payload: TimeoutPayload{Message: i18n.Message(i18n.MsgSessionExpired, s.lang)},
		})
	}
}

// publishState pushes a selection snapshot outward so the widget can
// re-render.
func (s *Session) publishState(snap selection.Snapshot) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(Event{Type: "state", Payload: snap})
}

// Close tears the session down without emitting anything. Used when the
// widget disconnects.
func (s *Session) Close() {
	s.timer.Disarm()
	s.cancel()
}
