// Package client is a Go client for the tickr server: a retrying API client,
// a persistent offline cache, the sync stream consumer and the App that
// reconciles them for a UI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/tickr/internal/logutil"
	"github.com/kuitang/tickr/internal/obs"
)

const (
	// DefaultReadAttempts is how many times a GET is tried.
	DefaultReadAttempts = 3
	// DefaultWriteAttempts is how many times a write is tried.
	DefaultWriteAttempts = 2
	// DefaultRetryBackoff is the delay before the first retry. It doubles per attempt.
	DefaultRetryBackoff = 200 * time.Millisecond

	maxErrorBodyBytes = 4096
)

// APIError is a non-transient error response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tickr: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsValidation reports whether err is a 400 from the server.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest
}

// TransientError is a failure that may succeed on retry: a network error,
// a 5xx or a 429.
type TransientError struct {
	Status int // zero for network errors
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tickr: transient %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("tickr: network: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client talks to the tickr REST API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	readAttempts  int
	writeAttempts int
	backoff       time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets the attempt budgets for reads and writes.
func WithRetries(reads, writes int) Option {
	return func(c *Client) {
		c.readAttempts = max(reads, 1)
		c.writeAttempts = max(writes, 1)
	}
}

// WithRetryBackoff sets the delay before the first retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		readAttempts:  DefaultReadAttempts,
		writeAttempts: DefaultWriteAttempts,
		backoff:       DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Lists returns every list in display order.
func (c *Client) Lists(ctx context.Context) ([]List, error) {
	var out []List
	err := c.do(ctx, http.MethodGet, "/api/lists", nil, &out)
	return out, err
}

// CreateList creates a list. undo tags the history entry as an undo replay.
func (c *Client) CreateList(ctx context.Context, name, icon string, undo bool) (*List, error) {
	var out List
	body := map[string]any{"name": name, "icon": icon, "undo": undo}
	if err := c.do(ctx, http.MethodPost, "/api/lists", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateList applies a partial update.
func (c *Client) UpdateList(ctx context.Context, id int64, upd ListUpdate) (*List, error) {
	var out List
	if err := c.do(ctx, http.MethodPut, listPath(id), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteList deletes a list and its items. Its history stays on the server.
func (c *Client) DeleteList(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, listPath(id), nil, nil)
}

// ReorderLists sets the custom list order.
func (c *Client) ReorderLists(ctx context.Context, ids []int64) error {
	return c.do(ctx, http.MethodPost, "/api/lists/reorder", map[string]any{"list_ids": ids}, nil)
}

// Items returns a list's items, active first.
func (c *Client) Items(ctx context.Context, listID int64, includeCompleted bool) ([]Item, error) {
	path := listPath(listID) + "/items"
	if includeCompleted {
		path += "?include_completed=true"
	}
	var out []Item
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateItem adds an item to a list.
func (c *Client) CreateItem(ctx context.Context, listID int64, text string, undo bool) (*ItemResult, error) {
	var out ItemResult
	body := map[string]any{"text": text, "undo": undo}
	if err := c.do(ctx, http.MethodPost, listPath(listID)+"/items", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem applies a partial update.
func (c *Client) UpdateItem(ctx context.Context, id int64, upd ItemUpdate, undo bool) (*ItemResult, error) {
	var out ItemResult
	body := struct {
		ItemUpdate
		Undo bool `json:"undo"`
	}{upd, undo}
	if err := c.do(ctx, http.MethodPut, itemPath(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteItem removes an item and returns it as it was.
func (c *Client) DeleteItem(ctx context.Context, id int64, undo bool) (*ItemResult, error) {
	path := itemPath(id)
	if undo {
		path += "?undo=true"
	}
	var out ItemResult
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReorderItems sets a list's custom item order.
func (c *Client) ReorderItems(ctx context.Context, listID int64, ids []int64) error {
	return c.do(ctx, http.MethodPost, listPath(listID)+"/items/reorder", map[string]any{"item_ids": ids}, nil)
}

// History returns up to limit of a list's newest entries, oldest first.
// limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, listID int64, limit int) ([]HistoryEntry, error) {
	path := listPath(listID) + "/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out []HistoryEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// RestoreHistory re-inserts captured entries under listID.
func (c *Client) RestoreHistory(ctx context.Context, listID int64, entries []HistoryEntry) (int, error) {
	var out struct {
		Restored int `json:"restored"`
	}
	err := c.do(ctx, http.MethodPost, listPath(listID)+"/history", map[string]any{"entries": entries}, &out)
	return out.Restored, err
}

// Settings returns the server settings.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	var out Settings
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings changes the list sort.
func (c *Client) UpdateSettings(ctx context.Context, listSort string) (*Settings, error) {
	var out Settings
	if err := c.do(ctx, http.MethodPut, "/api/settings", map[string]any{"list_sort": listSort}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health is a single-attempt reachability check.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.attempt(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listPath(id int64) string { return "/api/lists/" + strconv.FormatInt(id, 10) }
func itemPath(id int64) string { return "/api/items/" + strconv.FormatInt(id, 10) }

// do sends one request, retrying transient failures with doubling backoff.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempts := c.writeAttempts
	if method == http.MethodGet {
		attempts = c.readAttempts
	}

	delay := c.backoff
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			obs.From(ctx).Debug("client_retry",
				"pkg", "client",
				"method", method,
				"path", path,
				"attempt", i+1,
				"error", err,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		err = c.attempt(ctx, method, path, payload, out)
		if err == nil || !IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var errBody struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
		msg = errBody.Error
	} else if len(raw) > 0 {
		msg = logutil.TruncateForLog(strings.TrimSpace(string(raw)), 200)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{Status: resp.StatusCode, Err: errors.New(msg)}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
