package widget

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/carebook/booking-engine/internal/calcom"
	"github.com/carebook/booking-engine/internal/directory"
	"github.com/carebook/booking-engine/internal/flow"
	"github.com/carebook/booking-engine/internal/i18n"
	"github.com/carebook/booking-engine/internal/observability/metrics"
	"github.com/carebook/booking-engine/internal/selection"
	"github.com/carebook/booking-engine/pkg/logging"
)

// Config wires the widget transport.
type Config struct {
	Resolver   *directory.Resolver
	Scheduler  flow.Scheduler
	History    *HistoryStore
	Language   string // default language when the widget sends none
	Location   *time.Location
	SessionTTL time.Duration
	Clock      flow.Clock
	Logger     *logging.Logger
	Metrics    *metrics.BookingMetrics

	// Runner and Now are test seams passed through to each flow.
	Runner func(func())
	Now    func() time.Time
}

// Handler manages widget connections: one booking flow per socket.
type Handler struct {
	resolver  *directory.Resolver
	scheduler flow.Scheduler
	history   *HistoryStore
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics

	defaultLang string
	loc         *time.Location
	ttl         time.Duration
	clock       flow.Clock
	runner      func(func())
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*liveSession // sessionID -> active flow
}

type liveSession struct {
	flow *flow.Session
	conn *websocket.Conn
	lang string

	sendMu sync.Mutex
}

// NewHandler creates a widget handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	lang := cfg.Language
	if lang == "" {
		lang = i18n.LangEN
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		resolver:    cfg.Resolver,
		scheduler:   cfg.Scheduler,
		history:     cfg.History,
		logger:      logger.Component("widget"),
		metrics:     cfg.Metrics,
		defaultLang: lang,
		loc:         loc,
		ttl:         cfg.SessionTTL,
		clock:       cfg.Clock,
		runner:      cfg.Runner,
		now:         cfg.Now,
		sessions:    make(map[string]*liveSession),
	}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and runs the booking flow.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	lang := h.language(r.URL.Query().Get("lang"))
	mode, ok := parseMode(r.URL.Query().Get("op"))
	if !ok {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Message: "unknown op"})
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	ls := h.startSession(sessionID, lang, mode, conn)
	defer h.endSession(sessionID, ls)

	h.send(ls, OutboundMessage{Type: "session", SessionID: sessionID})

	// Replay past events so a reconnecting widget can catch up.
	if events, err := h.history.List(r.Context(), sessionID, 50); err == nil && len(events) > 0 {
		h.send(ls, OutboundMessage{Type: "history", Events: events})
	}

	h.send(ls, OutboundMessage{Type: "options", Payload: h.primaryOptions(lang)})

	h.logger.Info("widget: connection opened", "session_id", sessionID, "op", string(mode), "lang", lang)

	for {
		var evt InboundEvent
		if err := websocket.JSON.Receive(conn, &evt); err != nil {
			h.logger.Debug("widget: connection closed", "session_id", sessionID, "error", err)
			return
		}
		if evt.Type == "ping" {
			h.send(ls, OutboundMessage{Type: "pong"})
			continue
		}
		if err := h.apply(r.Context(), ls, evt); err != nil {
			h.send(ls, OutboundMessage{Type: "error", Message: localizedError(err, lang)})
		}
	}
}

// startSession builds and registers one booking flow. conn may be nil for
// the HTTP fallback; such sessions are observed through the history.
func (h *Handler) startSession(sessionID, lang string, mode selection.Mode, conn *websocket.Conn) *liveSession {
	ls := &liveSession{conn: conn, lang: lang}
	ls.flow = flow.NewSession(flow.SessionConfig{
		ID:        sessionID,
		Mode:      mode,
		Resolver:  h.resolver,
		Scheduler: h.scheduler,
		Emitter:   flow.EmitterFunc(func(e flow.Event) { h.deliver(ls, sessionID, e) }),
		Clock:     h.clock,
		TTL:       h.ttl,
		Language:  lang,
		Location:  h.loc,
		Logger:    h.logger,
		Metrics:   h.metrics,
		Runner:    h.runner,
		Now:       h.now,
	})

	h.mu.Lock()
	h.sessions[sessionID] = ls
	h.mu.Unlock()
	return ls
}

func (h *Handler) endSession(sessionID string, ls *liveSession) {
	h.mu.Lock()
	if h.sessions[sessionID] == ls {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	ls.flow.Close()
}

// apply dispatches one inbound event to the session's flow.
func (h *Handler) apply(ctx context.Context, ls *liveSession, evt InboundEvent) error {
	sel := ls.flow.Selection()
	switch evt.Type {
	case "service_selected":
		return sel.SetService(evt.Service)
	case "practitioner_selected":
		return sel.SetPractitioner(evt.Practitioner)
	case "date_selected":
		date, err := time.ParseInLocation("2006-01-02", evt.Date, h.loc)
		if err != nil {
			return &flow.ValidationError{Field: "date"}
		}
		return sel.SetDate(date)
	case "time_selected":
		at, err := time.Parse(time.RFC3339, evt.Time)
		if err != nil {
			return &flow.ValidationError{Field: "time"}
		}
		return sel.SetTime(at)
	case "reason_changed":
		return sel.SetReason(evt.Reason)
	case "commit":
		return ls.flow.Commit(ctx, flow.CommitRequest{
			Operation:     sel.Mode(),
			UID:           evt.UID,
			Reason:        evt.Reason,
			RescheduledBy: evt.RescheduledBy,
			Attendee: calcom.Attendee{
				Name:     evt.Attendee.Name,
				Email:    evt.Attendee.Email,
				TimeZone: evt.Attendee.TimeZone,
			},
		})
	default:
		h.logger.Debug("widget: ignoring unknown event", "type", evt.Type)
		return nil
	}
}

// deliver pushes a flow event to the socket and records terminal events
// for replay.
func (h *Handler) deliver(ls *liveSession, sessionID string, e flow.Event) {
	msg := OutboundMessage{Type: e.Type, Payload: e.Payload}
	switch payload := e.Payload.(type) {
	case selection.Snapshot:
		msg.Payload = h.renderState(payload, ls.lang)
	case flow.TimeoutPayload:
		msg.Message = payload.Message
	}
	h.send(ls, msg)

	if e.Type != "complete" && e.Type != "timeEnd" {
		return
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		h.logger.Error("widget: marshal event payload", "error", err)
		return
	}
	if err := h.history.Append(context.Background(), sessionID, StoredEvent{Type: e.Type, Payload: data}); err != nil {
		h.logger.Error("widget: record event", "error", err, "session_id", sessionID)
	}

	// A connless flow cannot be closed by a socket teardown; reap it once
	// it reaches a terminal event.
	if ls.conn == nil {
		h.endSession(sessionID, ls)
	}
}

func (h *Handler) send(ls *liveSession, msg OutboundMessage) {
	if ls.conn == nil {
		return
	}
	ls.sendMu.Lock()
	defer ls.sendMu.Unlock()
	if err := websocket.JSON.Send(ls.conn, msg); err != nil {
		h.logger.Debug("widget: send failed", "error", err)
	}
}

// StateView is the rendered selection pushed to the widget.
type StateView struct {
	Service          string     `json:"service,omitempty"`
	Practitioner     string     `json:"practitioner,omitempty"`
	SecondaryOptions []Option   `json:"secondaryOptions,omitempty"`
	WorkingDays      []string   `json:"workingDays,omitempty"`
	Date             string     `json:"date,omitempty"` // YYYY-MM-DD
	FormattedDate    string     `json:"formattedDate,omitempty"`
	Slots            []SlotView `json:"slots"`
	SlotsLoading     bool       `json:"slotsLoading"`
	Reason           string     `json:"reason,omitempty"`
	Committable      bool       `json:"committable"`
}

// SlotView pairs the canonical instant with its localized label.
type SlotView struct {
	Value   string `json:"value"` // RFC 3339
	Display string `json:"display"`
}

func (h *Handler) renderState(snap selection.Snapshot, lang string) StateView {
	view := StateView{
		Service:      snap.Service,
		Practitioner: snap.Practitioner,
		SlotsLoading: snap.SlotsLoading,
		Reason:       snap.Reason,
		Committable:  snap.Committable,
		Slots:        make([]SlotView, 0, len(snap.Slots)),
	}
	for _, day := range snap.WorkingDays {
		view.WorkingDays = append(view.WorkingDays, day.String())
	}
	if snap.DateSet {
		view.Date = snap.Date.Format("2006-01-02")
		view.FormattedDate = i18n.FormatDate(snap.Date.In(h.loc), lang)
	}
	for _, slot := range snap.Slots {
		view.Slots = append(view.Slots, SlotView{
			Value:   slot.UTC().Format(time.RFC3339),
			Display: i18n.FormatTime(slot.In(h.loc), lang),
		})
	}
	for _, name := range snap.SecondaryOptions {
		view.SecondaryOptions = append(view.SecondaryOptions, h.option(name, lang))
	}
	return view
}

// primaryOptions lists the first dropdown's choices with localized labels.
func (h *Handler) primaryOptions(lang string) []Option {
	names := h.resolver.PrimaryOptions()
	out := make([]Option, 0, len(names))
	for _, name := range names {
		out = append(out, h.option(name, lang))
	}
	return out
}

// option localizes a service label; practitioner names are shown as-is.
func (h *Handler) option(name, lang string) Option {
	if svc, ok := h.resolver.Catalog().ServiceByName(name); ok {
		return Option{Name: name, Display: svc.DisplayName(lang)}
	}
	return Option{Name: name, Display: name}
}

func (h *Handler) language(lang string) string {
	switch lang {
	case i18n.LangEN, i18n.LangFR:
		return lang
	default:
		return h.defaultLang
	}
}

func parseMode(op string) (selection.Mode, bool) {
	switch op {
	case "", "create":
		return selection.ModeCreate, true
	case "reschedule":
		return selection.ModeReschedule, true
	case "cancel":
		return selection.ModeCancel, true
	default:
		return "", false
	}
}

// HandleEvent is the HTTP fallback for widgets without WebSocket support.
// The session must already exist.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var evt InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if evt.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	if evt.Type == "start" {
		mode, ok := parseMode(evt.Operation)
		if !ok {
			http.Error(w, "unknown op", http.StatusBadRequest)
			return
		}
		sessionID := evt.SessionID
		if sessionID == "" {
			sessionID = generateSessionID()
		}
		h.startSession(sessionID, h.language(evt.Language), mode, nil)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":     "ok",
			"session_id": sessionID,
		})
		return
	}

	if evt.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	ls, ok := h.sessions[evt.SessionID]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := h.apply(r.Context(), ls, evt); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "error",
			"message": localizedError(err, ls.lang),
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleHistory returns the recorded flow events for a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	events, err := h.history.List(r.Context(), sessionID, 100)
	if err != nil {
		h.logger.Error("widget: failed to load history", "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []StoredEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"events": events})
}
