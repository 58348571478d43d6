package bitacorasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Bitacora HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID/ActorName/ActorSector are sent as X-Actor-* headers when no
	// bearer token is set. The server only honors them when started with
	// --allow-actor-headers.
	ActorID     string
	ActorName   string
	ActorSector string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Receipt represents one actor's read acknowledgment of a message.
type Receipt struct {
	ReaderID     string `json:"reader_id"`
	ReaderName   string `json:"reader_name"`
	ReaderSector string `json:"reader_sector"`
	AckedAt      string `json:"acked_at"`
}

// Message represents one ledger entry.
type Message struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	AuthorSector string    `json:"author_sector"`
	Body         string    `json:"body"`
	CreatedAt    string    `json:"created_at"`
	Receipts     []Receipt `json:"receipts"`
	Unread       bool      `json:"unread"`
}

// Ledger represents the tracked history of one work order.
type Ledger struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	GroupingCode string    `json:"grouping_code,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    string    `json:"created_at"`
	Messages     []Message `json:"messages"`
	Unread       bool      `json:"unread"`
}

// SectorMark marks whether a sector has acknowledged a message.
type SectorMark struct {
	Sector string `json:"sector"`
	Acked  bool   `json:"acked"`
}

// MessageStats carries a message's per-sector signature row.
type MessageStats struct {
	MessageID string       `json:"message_id"`
	Signature []SectorMark `json:"signature"`
}

// LedgerStats represents the audit view of one ledger.
type LedgerStats struct {
	JobID                string         `json:"job_id"`
	MessageCount         int            `json:"message_count"`
	ReceiptCount         int            `json:"receipt_count"`
	ValidationPercentage float64        `json:"validation_percentage"`
	Messages             []MessageStats `json:"messages"`
}

// SystemStats represents the cross-ledger totals.
type SystemStats struct {
	JobCount     int `json:"job_count"`
	ReceiptCount int `json:"receipt_count"`
}

// Event represents an audit log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartTracking opens a ledger for a work order.
func (c *Client) StartTracking(ctx context.Context, orderID, groupingCode, description string) (Ledger, error) {
	body := map[string]any{"order_id": orderID}
	if groupingCode != "" {
		body["grouping_code"] = groupingCode
	}
	if description != "" {
		body["description"] = description
	}
	var resp Ledger
	err := c.do(ctx, http.MethodPost, "v1/ledgers", body, &resp)
	return resp, err
}

// ListLedgers lists ledgers, optionally filtered by an OT/OF substring and
// restricted to those with messages unread by the caller.
func (c *Client) ListLedgers(ctx context.Context, search string, unreadOnly bool) ([]Ledger, error) {
	endpoint := "v1/ledgers"
	params := url.Values{}
	if search != "" {
		params.Set("search", search)
	}
	if unreadOnly {
		params.Set("unread", "true")
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Ledger
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetLedger fetches one ledger with its full message history.
func (c *Client) GetLedger(ctx context.Context, jobID string) (Ledger, error) {
	var resp Ledger
	err := c.do(ctx, http.MethodGet, "v1/ledgers/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// DeleteLedger deletes a ledger. The server restricts this to ADMIN actors.
func (c *Client) DeleteLedger(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "v1/ledgers/"+url.PathEscape(jobID), nil, nil)
}

// AppendMessage appends a message authored by the caller.
func (c *Client) AppendMessage(ctx context.Context, jobID, body string) (Ledger, error) {
	var resp Ledger
	endpoint := fmt.Sprintf("v1/ledgers/%s/messages", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// Ack records the caller's read receipt for one message. Re-acknowledging is
// a no-op on the server.
func (c *Client) Ack(ctx context.Context, jobID, messageID string) (Ledger, error) {
	var resp Ledger
	endpoint := fmt.Sprintf("v1/ledgers/%s/messages/%s/receipts",
		url.PathEscape(jobID), url.PathEscape(messageID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AckAll records the caller's read receipt for every message in the ledger.
func (c *Client) AckAll(ctx context.Context, jobID string) (Ledger, error) {
	var resp Ledger
	endpoint := fmt.Sprintf("v1/ledgers/%s/receipts", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// LedgerStats returns the audit view for one ledger.
func (c *Client) LedgerStats(ctx context.Context, jobID string) (LedgerStats, error) {
	var resp LedgerStats
	endpoint := fmt.Sprintf("v1/ledgers/%s/stats", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stats returns cross-ledger totals.
func (c *Client) Stats(ctx context.Context) (SystemStats, error) {
	var resp SystemStats
	err := c.do(ctx, http.MethodGet, "v1/stats", nil, &resp)
	return resp, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint += "?n=" + strconv.Itoa(limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		if c.ActorName != "" {
			req.Header.Set("X-Actor-Name", c.ActorName)
		}
		if c.ActorSector != "" {
			req.Header.Set("X-Actor-Sector", c.ActorSector)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
