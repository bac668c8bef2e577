package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxRetries = 3

// Client is an authenticated PythonAnywhere API client. All request URLs are
// normalized to exactly one trailing slash before being sent; the API
// redirects slashless URLs and drops the request body on the way.
type Client struct {
	Username string
	Host     string

	token string
	http  *http.Client
	log   *slog.Logger

	retryDelay time.Duration
}

func NewClient(username, token string, opts ...Option) *Client {
	c := &Client{
		Username:   username,
		Host:       Hostname(),
		token:      token,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Option func(*Client)

func WithHost(host string) Option {
	return func(c *Client) {
		if strings.TrimSpace(host) != "" {
			c.Host = host
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// BaseURL returns the flavor endpoint for this client's user, e.g.
// BaseURL("consoles") -> https://www.pythonanywhere.com/api/v0/user/bob/consoles
func (c *Client) BaseURL(flavor string) string {
	return Endpoint(c.Host, c.Username, flavor)
}

// SiteURL resolves a site-relative path (like a console's browser page)
// against the client's host.
func (c *Client) SiteURL(path string) string {
	return siteURL(c.Host) + path
}

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	URL        string
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %s returned %d: %s", e.URL, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api: %s returned %d", e.URL, e.StatusCode)
}

// Response is a completed API call. Polling callers inspect StatusCode
// directly; everything else goes through Err or the JSON helpers.
type Response struct {
	StatusCode int
	Body       []byte

	url string
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err surfaces a non-2xx response as an *Error, extracting the API's own
// error detail when the body decodes as JSON.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{StatusCode: r.StatusCode, URL: r.url, Detail: errorDetail(r.Body)}
}

func (r *Response) JSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("api: decode %s: %w", r.url, err)
	}
	return nil
}

// Do sends one API request. body, when non-nil, is JSON-encoded. The returned
// error covers request construction and transport failures only; HTTP status
// handling is the caller's via Response.Err.
func (c *Client) Do(ctx context.Context, method, rawURL string, body any) (*Response, error) {
	url := strings.TrimRight(rawURL, "/") + "/"

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: encode request: %w", err)
		}
		payload = b
	}

	requestID := uuid.NewString()
	var resp *http.Response
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, rerr := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if rerr != nil {
			return nil, fmt.Errorf("api: build request: %w", rerr)
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("X-Request-ID", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err = c.http.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxRetries {
			break
		}
		c.log.Debug("api request failed, retrying",
			"method", method, "url", url, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * c.retryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("api: read %s: %w", url, err)
	}
	c.log.Debug("api response",
		"method", method, "url", url, "status", resp.StatusCode,
		"request_id", requestID, "bytes", len(data))
	return &Response{StatusCode: resp.StatusCode, Body: data, url: url}, nil
}

// Call is Do plus status checking, with the response body decoded into out
// when out is non-nil.
func (c *Client) Call(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.Do(ctx, method, url, body)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out != nil {
		return resp.JSON(out)
	}
	return nil
}

func errorDetail(body []byte) string {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return strings.TrimSpace(truncate(string(body), 200))
	}
	for _, key := range []string{"detail", "error", "error_message"} {
		if v, ok := decoded[key].(string); ok && v != "" {
			return v
		}
	}
	return strings.TrimSpace(truncate(string(body), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
