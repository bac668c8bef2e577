package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caktus/padeploy/internal/api"
)

func promptLine(cmd string) string {
	return "\x1b[?2004h\x1b[0;0m19:36 ~\x1b[0;33m \x1b[1;32m$ \x1b[0;0m" + cmd
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenReusesExistingBashConsole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Info{
			{ID: 111, User: "testuser", Executable: "python"},
			{ID: 12345, User: "testuser", Executable: "bash", ConsoleURL: "/user/testuser/consoles/12345/"},
		})
	}))
	defer srv.Close()

	client := api.NewClient("testuser", "tok", api.WithHost(srv.URL))
	c, err := Open(context.Background(), client, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Info.ID != 12345 {
		t.Fatalf("got console %d, want the bash one", c.Info.ID)
	}
	wantAPI := srv.URL + "/api/v0/user/testuser/consoles/12345"
	if c.APIURL() != wantAPI {
		t.Fatalf("api url %q, want %q", c.APIURL(), wantAPI)
	}
	wantBrowser := srv.URL + "/user/testuser/consoles/12345"
	if c.BrowserURL() != wantBrowser {
		t.Fatalf("browser url %q, want %q", c.BrowserURL(), wantBrowser)
	}
}

func TestOpenCreatesConsoleWhenNoneExists(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[]`))
		case http.MethodPost:
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["executable"] != "bash" {
				t.Errorf("created executable %q, want bash", body["executable"])
			}
			created = true
			json.NewEncoder(w).Encode(Info{ID: 99, User: "testuser", Executable: "bash"})
		}
	}))
	defer srv.Close()

	client := api.NewClient("testuser", "tok", api.WithHost(srv.URL))
	c, err := Open(context.Background(), client, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected a console to be created")
	}
	if c.Info.ID != 99 {
		t.Fatalf("got console %d, want 99", c.Info.ID)
	}
}

func TestEnsureReadyActivatesViaBrowser(t *testing.T) {
	var mu sync.Mutex
	started := false

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/user/testuser/consoles/1/send_input/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !started {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.Write([]byte(`{"status": "OK"}`))
	})
	mux.HandleFunc("/api/v0/user/testuser/consoles/1/get_latest_output/", func(w http.ResponseWriter, r *http.Request) {
		transcript := promptLine("echo hello") + "\r\nhello\r\n" + promptLine("")
		json.NewEncoder(w).Encode(map[string]string{"output": transcript})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := api.NewClient("testuser", "tok", api.WithHost(srv.URL))
	browserOpens := 0
	c := &Console{
		Info:          Info{ID: 1, User: "testuser"},
		client:        client,
		log:           testLogger(),
		ReadyAttempts: 10,
		ReadyInterval: time.Millisecond,
		isTerminal:    func() bool { return true },
		openBrowser: func(url string) error {
			if !strings.Contains(url, "/user/testuser/consoles/1") {
				t.Errorf("unexpected browser url %q", url)
			}
			browserOpens++
			mu.Lock()
			started = true
			mu.Unlock()
			return nil
		},
	}

	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if browserOpens != 1 {
		t.Fatalf("browser opened %d times, want 1", browserOpens)
	}
}

func TestEnsureReadySurfacesActivationURLWithoutTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	// Warn-level handler, like the CLI default without --verbose. The
	// activation URL must still reach the user.
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client := api.NewClient("testuser", "tok", api.WithHost(srv.URL))
	c := &Console{
		Info:          Info{ID: 1, User: "testuser"},
		client:        client,
		log:           logger,
		ReadyAttempts: 2,
		ReadyInterval: time.Millisecond,
		isTerminal:    func() bool { return false },
		openBrowser: func(string) error {
			t.Error("browser must not be opened without a terminal")
			return nil
		},
	}

	if err := c.EnsureReady(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
	if !strings.Contains(logs.String(), srv.URL+"/user/testuser/consoles/1") {
		t.Fatalf("activation url missing from warn-level logs:\n%s", logs.String())
	}
}

func TestEnsureReadyStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := api.NewClient("testuser", "tok", api.WithHost(srv.URL))
	c := &Console{
		Info:          Info{ID: 1, User: "testuser"},
		client:        client,
		log:           testLogger(),
		ReadyAttempts: 100,
		ReadyInterval: time.Minute,
		isTerminal:    func() bool { return false },
		openBrowser:   func(string) error { return nil },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.EnsureReady(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context deadline error", err)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("EnsureReady took %v after cancellation", elapsed)
	}
}

func TestEnsureReadyGivesUpAfterBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := api.NewClient("testuser", "tok", api.WithHost(srv.URL))
	c := &Console{
		Info:          Info{ID: 1, User: "testuser"},
		client:        client,
		log:           testLogger(),
		ReadyAttempts: 3,
		ReadyInterval: time.Millisecond,
		isTerminal:    func() bool { return false },
		openBrowser:   func(string) error { return nil },
	}
	err := c.EnsureReady(context.Background())
	if err == nil || !strings.Contains(err.Error(), "did not become ready") {
		t.Fatalf("got %v, want readiness failure", err)
	}
}
