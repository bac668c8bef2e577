package console

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/caktus/padeploy/internal/api"
)

const (
	readyProbe       = "echo hello"
	readyProbeOutput = "hello"
)

// Info is the consoles API resource.
type Info struct {
	ID         int    `json:"id"`
	User       string `json:"user"`
	Executable string `json:"executable"`
	ConsoleURL string `json:"console_url"`
}

// Console drives one remote bash console through the API. A console created
// over the API is not actually started until its page is loaded in a browser;
// EnsureReady handles that dance.
type Console struct {
	Info Info

	client *api.Client
	log    *slog.Logger

	ReadyAttempts int
	ReadyInterval time.Duration

	// Seams for tests.
	openBrowser func(url string) error
	isTerminal  func() bool
}

// Open returns a Console for an existing bash console, creating one when the
// account has none.
func Open(ctx context.Context, client *api.Client, logger *slog.Logger) (*Console, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var consoles []Info
	if err := client.Call(ctx, http.MethodGet, client.BaseURL("consoles"), nil, &consoles); err != nil {
		return nil, fmt.Errorf("list consoles: %w", err)
	}

	var info Info
	found := false
	for _, c := range consoles {
		if c.Executable == "bash" {
			info = c
			found = true
			break
		}
	}
	if !found {
		logger.Debug("no active bash console, creating one")
		body := map[string]string{"executable": "bash"}
		if err := client.Call(ctx, http.MethodPost, client.BaseURL("consoles"), body, &info); err != nil {
			return nil, fmt.Errorf("create console: %w", err)
		}
	}

	return &Console{
		Info:          info,
		client:        client,
		log:           logger,
		ReadyAttempts: 30,
		ReadyInterval: 2 * time.Second,
		openBrowser:   OpenBrowser,
		isTerminal:    func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
	}, nil
}

// APIURL is the console's API endpoint, without a trailing slash.
func (c *Console) APIURL() string {
	return fmt.Sprintf("%s/%d", c.client.BaseURL("consoles"), c.Info.ID)
}

// BrowserURL is the interactive console page a human would load.
func (c *Console) BrowserURL() string {
	path := strings.TrimRight(c.Info.ConsoleURL, "/")
	if path == "" {
		path = fmt.Sprintf("/user/%s/consoles/%d", c.client.Username, c.Info.ID)
	}
	if strings.HasPrefix(path, "http") {
		return path
	}
	return c.client.SiteURL(path)
}

// SendInput types text into the console. The raw response is returned so
// callers can branch on the 412 "console not started" status.
func (c *Console) SendInput(ctx context.Context, input string) (*api.Response, error) {
	body := map[string]string{"input": input}
	return c.client.Do(ctx, http.MethodPost, c.APIURL()+"/send_input/", body)
}

// LatestOutput fetches and parses the console's recent transcript.
func (c *Console) LatestOutput(ctx context.Context) (*Transcript, error) {
	var payload struct {
		Output string `json:"output"`
	}
	if err := c.client.Call(ctx, http.MethodGet, c.APIURL()+"/get_latest_output/", nil, &payload); err != nil {
		return nil, err
	}
	return ParseTranscript(payload.Output), nil
}

// EnsureReady waits until the console accepts input and echoes a probe
// command back. While the console responds 412 the browser page is opened
// (once); without a terminal attached the URL is logged instead so the user
// can open it by hand.
func (c *Console) EnsureReady(ctx context.Context) error {
	browserOpened := false
	for attempt := 0; attempt < c.ReadyAttempts; attempt++ {
		c.log.Debug("checking if console is ready", "attempt", attempt)

		resp, err := c.SendInput(ctx, "\n"+readyProbe+"\n")
		switch {
		case err != nil:
			c.log.Debug("console probe failed", "error", err)
		case resp.StatusCode == http.StatusPreconditionFailed:
			if !browserOpened {
				c.activateInBrowser()
				browserOpened = true
			}
		case !resp.OK():
			c.log.Debug("console probe rejected", "status", resp.StatusCode)
		default:
			tr, err := c.LatestOutput(ctx)
			if err != nil {
				c.log.Debug("console output fetch failed", "error", err)
				break
			}
			out, ok := tr.CommandOutput(readyProbe)
			if ok && strings.TrimSpace(out) == readyProbeOutput && tr.Idle() {
				c.log.Debug("console is ready", "console_id", c.Info.ID)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.ReadyInterval):
		}
	}
	return fmt.Errorf("console %d did not become ready after %d attempts", c.Info.ID, c.ReadyAttempts)
}

func (c *Console) activateInBrowser() {
	url := c.BrowserURL()
	if c.isTerminal() {
		c.log.Debug("console not started, opening browser", "url", url)
		if err := c.openBrowser(url); err == nil {
			return
		}
	}
	c.log.Warn("console not started; open it to activate", "url", url)
}
