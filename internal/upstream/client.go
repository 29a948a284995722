// Package upstream talks HTTP to the co-located web application the worker fronts.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	healthPath = "/actuator/health"
	chatPath   = "/api/chat"
)

// Default per-call bounds.
const (
	DefaultHealthTimeout = 5 * time.Second
	DefaultChatTimeout   = 30 * time.Second
	DefaultProbeInterval = 1 * time.Second
)

// StatusError is returned when the upstream answers with anything other than 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status code: %d", e.Code)
}

// IsTimeout reports whether err was caused by a request deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Client is shared by every job; its http.Client keeps connections alive between calls.
type Client struct {
	BaseURL       string
	HTTP          *http.Client
	HealthTimeout time.Duration
	ChatTimeout   time.Duration
	ProbeInterval time.Duration
	// Verbose enables DEBUG log lines; set through adapter.WithVerbose.
	Verbose bool
}

// NewClient returns a Client with the default timeouts and probe interval.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:       baseURL,
		HTTP:          &http.Client{},
		HealthTimeout: DefaultHealthTimeout,
		ChatTimeout:   DefaultChatTimeout,
		ProbeInterval: DefaultProbeInterval,
	}
}

// HealthURL is the upstream health endpoint.
func (c *Client) HealthURL() string { return c.BaseURL + healthPath }

// ChatURL is the upstream chat endpoint.
func (c *Client) ChatURL() string { return c.BaseURL + chatPath }

// Health fetches the upstream health document. A non-200 answer yields a *StatusError.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.HealthTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.HealthURL(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var doc json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return doc, nil
}

// Chat posts body to the chat endpoint and returns the decoded reply.
// A non-200 answer yields a *StatusError carrying the raw response text.
func (c *Client) Chat(ctx context.Context, body map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.ChatTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, c.ChatURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var doc json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return doc, nil
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.HTTP.Do(req)
}
