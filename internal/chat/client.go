// Package chat talks to a chat backend that answers questions from the
// seeded collection, and keeps the local side of a conversation.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Request is the body of both chat endpoints.
type Request struct {
	Message string `json:"message"`
}

// Reply is the backend's answer. ThreadID is set on the first turn of a
// conversation and may be echoed or omitted afterwards.
type Reply struct {
	ThreadID string `json:"threadId,omitempty"`
	Response string `json:"response"`
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat backend returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("chat backend returned HTTP %d: %s", e.Status, e.Body)
}

// Client sends turns to the chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL. A timeout of zero
// uses the default of 60s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts message to POST /chat when threadID is empty, starting a new
// conversation, or to POST /chat/{threadID} to continue one. Rate-limited
// requests are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, threadID, message string) (Reply, error) {
	body, err := json.Marshal(Request{Message: message})
	if err != nil {
		return Reply{}, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat"
	if threadID != "" {
		endpoint += "/" + url.PathEscape(threadID)
	}

	var lastErr error
	for attempt := range maxRetries {
		reply, err := c.post(ctx, endpoint, body)
		if err == nil {
			return reply, nil
		}
		if !isRateLimit(err) {
			return Reply{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return Reply{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func isRateLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusTooManyRequests
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("sending chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Reply{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("decoding chat response: %w", err)
	}
	return reply, nil
}
