// Package remote implements the sync engine's RemoteStore against the
// relay's HTTP wire contract:
//
//	GET  /sync/{collection}?since=<RFC3339> → {items, timestamp}
//	POST /sync/{collection} {items, deviceId, timestamp} → {count, timestamp}
//
// Authentication is a bearer credential supplied by a TokenSource. A
// 401 triggers one refresh-and-retry; a second 401 propagates as
// ErrNotAuthenticated.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dmagur/passlock/internal/models"
	"github.com/dmagur/passlock/internal/syncer"
)

// TokenSource supplies and refreshes the bearer credential. Refresh
// is called at most once per request, after a 401.
type TokenSource interface {
	// Token returns the current bearer token, or "" when no session
	// is attached.
	Token() string
	// Refresh obtains a new token after the current one was rejected.
	Refresh(ctx context.Context) error
}

// Client talks to the relay over HTTP. It implements
// syncer.RemoteStore.
type Client struct {
	baseURL  string
	deviceID string
	tokens   TokenSource
	http     *http.Client
}

// NewClient creates a Client for the relay at baseURL. httpClient may
// be nil, in which case a client with a 30s timeout is used.
func NewClient(baseURL, deviceID string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		tokens:   tokens,
		http:     httpClient,
	}
}

// Authenticated reports whether a bearer credential is attached.
func (c *Client) Authenticated() bool {
	return c.tokens.Token() != ""
}

// Fetch returns the items of collection changed since the given time.
// A zero since omits the filter entirely (first-ever sync).
func (c *Client) Fetch(ctx context.Context, collection string, since time.Time) ([]models.VaultItem, time.Time, error) {
	endpoint := fmt.Sprintf("%s/sync/%s", c.baseURL, collection)
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var resp models.FetchResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, time.Time{}, err
	}
	return resp.Items, resp.Timestamp, nil
}

// Push uploads the full collection snapshot.
func (c *Client) Push(ctx context.Context, collection string, items []models.VaultItem) (int, time.Time, error) {
	body := models.PushRequest{
		Items:     items,
		DeviceID:  c.deviceID,
		Timestamp: time.Now().UTC(),
	}

	var resp models.PushResponse
	endpoint := fmt.Sprintf("%s/sync/%s", c.baseURL, collection)
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return 0, time.Time{}, err
	}
	return resp.Count, resp.Timestamp, nil
}

// do executes one request, retrying exactly once through a token
// refresh when the relay answers 401.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := c.tokens.Refresh(ctx); err != nil {
			return fmt.Errorf("%w: refresh failed: %v", syncer.ErrNotAuthenticated, err)
		}
		resp, err = c.send(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return syncer.ErrNotAuthenticated
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, endpoint, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	return resp, nil
}
