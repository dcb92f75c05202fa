package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/seat-settlement/internal/model"
)

const sessionHeader = "X-Session-ID"

// Grant is a successful lock.
type Grant struct {
	EventID   string    `json:"eventId"`
	SeatIDs   []string  `json:"seatIds"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Locks is what the session currently holds.
type Locks struct {
	Locks     []model.SeatLock `json:"locks"`
	ExpiresAt *time.Time       `json:"expiresAt"`
}

// ConflictError is returned by Lock when another session holds, or the
// inventory has sold, some of the requested seats.  Nothing was locked.
type ConflictError struct {
	Code    string
	Message string
	SeatIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.SeatIDs)
}

// APIError is any other non-2xx answer.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

type errorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	SeatIDs []string `json:"seatIds"`
}

type lockBody struct {
	EventID   string   `json:"eventId"`
	SeatIDs   []string `json:"seatIds"`
	SessionID string   `json:"sessionId"`
}

// Client talks to the shopper lock API on behalf of one session.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient returns a client for the API rooted at baseURL (for example
// http://localhost:8080/v1).  A nil hc uses a client with a 10s timeout.
func NewClient(baseURL, sessionID string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), sessionID: sessionID, http: hc}
}

// SessionID is the session the client acts for.
func (c *Client) SessionID() string { return c.sessionID }

// Lock holds every seat or none.
func (c *Client) Lock(ctx context.Context, eventID string, seatIDs []string) (*Grant, error) {
	var g Grant
	err := c.do(ctx, http.MethodPost, "/lock", c.body(eventID, seatIDs), &g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Unlock releases held seats and returns how many were released.
func (c *Client) Unlock(ctx context.Context, eventID string, seatIDs []string) (int, error) {
	var out struct {
		Released int `json:"released"`
	}
	if err := c.do(ctx, http.MethodDelete, "/lock", c.body(eventID, seatIDs), &out); err != nil {
		return 0, err
	}
	return out.Released, nil
}

// Beacon posts the release the way a closing page does: a text/plain body
// and no interest in the answer.  Only transport failures are reported.
func (c *Client) Beacon(ctx context.Context, eventID string, seatIDs []string) error {
	payload, err := json.Marshal(c.body(eventID, seatIDs))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/unlock", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// ListLocks returns the seats the session holds.  An empty eventID lists
// every event.
func (c *Client) ListLocks(ctx context.Context, eventID string) (*Locks, error) {
	q := url.Values{}
	if eventID != "" {
		q.Set("eventId", eventID)
	}
	var out Locks
	if err := c.do(ctx, http.MethodGet, "/lock?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SeatMap fetches the seat map of an event as seen by this session.
func (c *Client) SeatMap(ctx context.Context, eventID string) ([]model.SeatView, error) {
	q := url.Values{"sessionId": {c.sessionID}}
	var out struct {
		Seats []model.SeatView `json:"seats"`
	}
	if err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(eventID)+"/seats?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Seats, nil
}

func (c *Client) body(eventID string, seatIDs []string) lockBody {
	return lockBody{EventID: eventID, SeatIDs: seatIDs, SessionID: c.sessionID}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(sessionHeader, c.sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if resp.StatusCode == http.StatusConflict {
			return &ConflictError{Code: eb.Code, Message: eb.Error, SeatIDs: eb.SeatIDs}
		}
		if eb.Error == "" {
			eb.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
