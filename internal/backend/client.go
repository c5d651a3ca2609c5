// Package backend is the client for the attendance REST backend. The backend
// owns all persistence; this client passes its JSON shapes through unchanged.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"rollcall/internal/model"
)

// Client calls the attendance backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a client. A circuit breaker opens after consecutive failures so
// a dead backend fails fast; there is no automatic retry, callers retry
// manually.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "attendance-backend",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("circuit breaker %s: %s -> %s", name, from, to)
			},
		}),
	}
}

// Event fetches an event by id.
func (c *Client) Event(ctx context.Context, id string) (model.Event, error) {
	var ev model.Event
	err := c.send(ctx, http.MethodGet, "/event/"+id, nil, &ev)
	return ev, err
}

// Attendance fetches the full record set for an event.
func (c *Client) Attendance(ctx context.Context, eventID string) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	if err := c.send(ctx, http.MethodGet, "/event/"+eventID+"/attendance", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Roster fetches youth and leaders and merges them into one roster, tagging
// each entry's type when the backend left it blank.
func (c *Client) Roster(ctx context.Context) ([]model.Person, error) {
	var youth, leaders []model.Person
	if err := c.send(ctx, http.MethodGet, "/person/youth", nil, &youth); err != nil {
		return nil, err
	}
	if err := c.send(ctx, http.MethodGet, "/person/leaders", nil, &leaders); err != nil {
		return nil, err
	}
	for i := range youth {
		if youth[i].Type == "" {
			youth[i].Type = model.Youth
		}
	}
	for i := range leaders {
		if leaders[i].Type == "" {
			leaders[i].Type = model.Leader
		}
	}
	return append(youth, leaders...), nil
}

// CheckIn records a check-in for one person.
func (c *Client) CheckIn(ctx context.Context, eventID, personID string) error {
	return c.send(ctx, http.MethodPost, "/event/"+eventID+"/checkin", map[string]string{"person_id": personID}, nil)
}

// CheckOut records a check-out. The backend treats an already-checked-out
// person as a no-op, so callers need not pre-validate against local state.
func (c *Client) CheckOut(ctx context.Context, eventID, personID string) error {
	return c.send(ctx, http.MethodPut, "/event/"+eventID+"/checkout", map[string]string{"person_id": personID}, nil)
}

// CheckOutAll checks out everyone still in and returns how many people the
// backend actually checked out.
func (c *Client) CheckOutAll(ctx context.Context, eventID string) (int, error) {
	var out struct {
		CheckedOutCount int `json:"checked_out_count"`
	}
	if err := c.send(ctx, http.MethodPut, "/event/"+eventID+"/checkout-all", nil, &out); err != nil {
		return 0, err
	}
	return out.CheckedOutCount, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload, dst any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("attendance backend request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("attendance backend error %s: %s", resp.Status, string(raw))
		}
		if dst != nil {
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
