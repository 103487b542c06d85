package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	historyKeyPrefix = "booking_events:"
	historyTTL       = 24 * time.Hour
)

// StoredEvent is one flow event kept for session replay.
type StoredEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HistoryStore keeps the per-session flow event log in Redis so a
// reconnecting widget can replay what already happened. A nil store is
// valid and drops everything.
type HistoryStore struct {
	redis     *redis.Client
	tracer    trace.Tracer
	maxEvents int64
}

func NewHistoryStore(redisClient *redis.Client) *HistoryStore {
	if redisClient == nil {
		return nil
	}
	return &HistoryStore{
		redis:     redisClient,
		tracer:    otel.Tracer("carebook.internal.widget.history"),
		maxEvents: 100,
	}
}

// Append records one event for the session.
func (s *HistoryStore) Append(ctx context.Context, sessionID string, evt StoredEvent) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID == "" {
		return errors.New("widget: history sessionID required")
	}

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("widget: marshal history event: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "widget.history.append")
	defer span.End()

	key := historyKey(sessionID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, historyTTL)
	if s.maxEvents > 0 {
		pipe.LTrim(ctx, key, -s.maxEvents, -1)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("widget: append history event: %w", err)
	}
	return nil
}

// List returns the most recent events for the session, oldest first.
func (s *HistoryStore) List(ctx context.Context, sessionID string, limit int64) ([]StoredEvent, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID == "" {
		return nil, errors.New("widget: history sessionID required")
	}

	ctx, span := s.tracer.Start(ctx, "widget.history.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := s.redis.LRange(ctx, historyKey(sessionID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []StoredEvent{}, nil
		}
		return nil, fmt.Errorf("widget: list history: %w", err)
	}

	out := make([]StoredEvent, 0, len(raw))
	for _, item := range raw {
		var evt StoredEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// Completed reports whether the session already reached a terminal event.
func (s *HistoryStore) Completed(ctx context.Context, sessionID string) (bool, error) {
	if s == nil || s.redis == nil {
		return false, nil
	}
	events, err := s.List(ctx, sessionID, 0)
	if err != nil {
		return false, err
	}
	for _, evt := range events {
		if evt.Type == "complete" || evt.Type == "timeEnd" {
			return true, nil
		}
	}
	return false, nil
}

func historyKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}
