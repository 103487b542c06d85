// Package calcom is a REST client for the Cal.com-compatible scheduling
// provider the widget books against. It returns raw errors; fail-open
// policy for reads lives in the availability service.
package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/carebook/booking-engine/pkg/logging"
)

const (
	defaultBaseURL = "https://api.cal.com/v2"
	defaultTimeout = 15 * time.Second
)

// Client is the provider API client. Credentials are passed per call
// because each practitioner books against their own provider account.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider endpoint (tests, self-hosted Cal.com).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a provider API client.
func NewClient(logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSchedule returns the practitioner's working schedule.
func (c *Client) GetSchedule(ctx context.Context, creds Credentials) (*Schedule, error) {
	if creds.Empty() {
		return nil, fmt.Errorf("calcom: missing credentials")
	}

	var resp scheduleResponse
	path := "/schedules/" + url.PathEscape(creds.ScheduleID)
	if err := c.do(ctx, creds, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("calcom: get schedule: %w", err)
	}

	sched := &Schedule{}
	seen := make(map[string]struct{})
	for _, a := range resp.Data.Availability {
		for _, d := range a.Days {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			sched.Days = append(sched.Days, d)
		}
	}
	return sched, nil
}

// GetAvailableSlots returns the slots offered between start and end for one
// event type, keyed by date (YYYY-MM-DD), each in chronological order.
func (c *Client) GetAvailableSlots(ctx context.Context, creds Credentials, et EventType, start, end time.Time) (map[string][]time.Time, error) {
	if creds.Empty() {
		return nil, fmt.Errorf("calcom: missing credentials")
	}

	q := url.Values{}
	q.Set("startTime", start.UTC().Format(time.RFC3339))
	q.Set("endTime", end.UTC().Format(time.RFC3339))
	q.Set("eventTypeId", et.ID)
	q.Set("eventTypeSlug", et.Slug)

	var resp slotsResponse
	if err := c.do(ctx, creds, http.MethodGet, "/slots/available?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("calcom: get slots: %w", err)
	}

	out := make(map[string][]time.Time, len(resp.Data.Slots))
	for date, slots := range resp.Data.Slots {
		times := make([]time.Time, 0, len(slots))
		for _, s := range slots {
			t, err := time.Parse(time.RFC3339, s.Time)
			if err != nil {
				c.logger.Warn("calcom: skipping unparseable slot", "date", date, "time", s.Time)
				continue
			}
			times = append(times, t)
		}
		out[date] = times
	}
	return out, nil
}

// CreateBooking creates an appointment for the attendee.
func (c *Client) CreateBooking(ctx context.Context, creds Credentials, req CreateBookingRequest) (*Booking, error) {
	body := map[string]any{
		"start": req.Start.UTC().Format(time.RFC3339),
		"attendee": map[string]string{
			"name":     req.Attendee.Name,
			"email":    req.Attendee.Email,
			"timeZone": req.Attendee.TimeZone,
		},
		"eventTypeId": req.EventType.ID,
	}

	var resp bookingResponse
	if err := c.do(ctx, creds, http.MethodPost, "/bookings", body, &resp); err != nil {
		return nil, fmt.Errorf("calcom: create booking: %w", err)
	}
	return bookingFromResponse(resp)
}

// RescheduleBooking moves an existing booking to a new start time.
func (c *Client) RescheduleBooking(ctx context.Context, creds Credentials, uid string, req RescheduleBookingRequest) (*Booking, error) {
	body := map[string]any{
		"rescheduledBy":      req.RescheduledBy,
		"reschedulingReason": req.Reason,
		"start":              req.Start.UTC().Format(time.RFC3339),
	}

	var resp bookingResponse
	path := "/bookings/" + url.PathEscape(uid) + "/reschedule"
	if err := c.do(ctx, creds, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("calcom: reschedule booking %s: %w", uid, err)
	}
	return bookingFromResponse(resp)
}

// CancelBooking cancels an existing booking.
func (c *Client) CancelBooking(ctx context.Context, creds Credentials, uid, reason string) (*Booking, error) {
	body := map[string]any{"cancellationReason": reason}

	var resp bookingResponse
	path := "/bookings/" + url.PathEscape(uid) + "/cancel"
	if err := c.do(ctx, creds, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("calcom: cancel booking %s: %w", uid, err)
	}
	return bookingFromResponse(resp)
}

// GetBooking fetches a booking by UID. Returns (nil, nil) when the provider
// reports it does not exist.
func (c *Client) GetBooking(ctx context.Context, creds Credentials, uid string) (*Booking, error) {
	var resp bookingResponse
	path := "/bookings/" + url.PathEscape(uid)
	err := c.do(ctx, creds, http.MethodGet, path, nil, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("calcom: get booking %s: %w", uid, err)
	}
	return bookingFromResponse(resp)
}

func bookingFromResponse(resp bookingResponse) (*Booking, error) {
	d := resp.Data
	if d.UID == "" {
		return nil, fmt.Errorf("calcom: provider returned no booking uid")
	}

	b := &Booking{UID: d.UID, Status: d.Status}
	if t, err := time.Parse(time.RFC3339, d.Start); err == nil {
		b.Start = t
	}
	if t, err := time.Parse(time.RFC3339, d.End); err == nil {
		b.End = t
	}
	if len(d.Attendees) > 0 {
		a := d.Attendees[0]
		b.Attendee = Attendee{Name: a.Name, Email: a.Email, TimeZone: a.TimeZone}
	}
	return b, nil
}

// statusError preserves the HTTP status of a provider failure.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.code, e.body)
}

// do executes one authenticated request against the provider.
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return &statusError{code: resp.StatusCode, body: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
