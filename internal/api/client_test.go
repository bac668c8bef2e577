package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoNormalizesTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("testuser", "tok", WithHost(srv.URL))
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/api/test", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/test/" {
		t.Fatalf("path %q, want single trailing slash", gotPath)
	}

	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/api/test///", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/test/" {
		t.Fatalf("path %q, want collapsed trailing slash", gotPath)
	}
}

func TestDoSetsAuthHeaders(t *testing.T) {
	var auth, requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("testuser", "my_secret_token", WithHost(srv.URL))
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/x", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Token my_secret_token" {
		t.Fatalf("auth header %q", auth)
	}
	if requestID == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestResponseErrSurfacesStatusAndDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Not found"}`))
	}))
	defer srv.Close()

	c := NewClient("testuser", "tok", WithHost(srv.URL))
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/missing", nil)
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if resp.OK() {
		t.Fatalf("expected failure response")
	}
	var apiErr *Error
	if !errors.As(resp.Err(), &apiErr) {
		t.Fatalf("expected *Error, got %v", resp.Err())
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Detail != "Not found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestDoDoesNotRetryHTTPErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("testuser", "tok", WithHost(srv.URL))
	if _, err := c.Do(context.Background(), http.MethodPost, srv.URL+"/x", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1 (HTTP errors must not be retried)", calls)
	}
}

func TestDoRetriesTransportFailures(t *testing.T) {
	// Closed port: every attempt fails at the transport layer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("testuser", "tok", WithHost(url))
	c.retryDelay = 10 * time.Millisecond
	if _, err := c.Do(context.Background(), http.MethodGet, url+"/x", nil); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestDoSkipsBackoffAfterFinalAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("testuser", "tok", WithHost(url))
	c.retryDelay = 100 * time.Millisecond

	// Only the sleeps between attempts should run: 100ms + 200ms. A sleep
	// after the last attempt would add another 300ms.
	start := time.Now()
	if _, err := c.Do(context.Background(), http.MethodGet, url+"/x", nil); err == nil {
		t.Fatalf("expected error after retries")
	}
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Fatalf("Do took %v, exhausted budget must not sleep again", elapsed)
	}
}

func TestCallDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 12345, "executable": "bash"}]`))
	}))
	defer srv.Close()

	c := NewClient("testuser", "tok", WithHost(srv.URL))
	var items []struct {
		ID         int    `json:"id"`
		Executable string `json:"executable"`
	}
	if err := c.Call(context.Background(), http.MethodGet, srv.URL+"/consoles", nil, &items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != 12345 || items[0].Executable != "bash" {
		t.Fatalf("unexpected decode: %+v", items)
	}
}
