package console

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Runner submits commands to a ready console and blocks until their output
// can be scraped out of the transcript.
type Runner struct {
	Console *Console

	PollInterval time.Duration
	MaxAttempts  int

	log *slog.Logger
}

func NewRunner(c *Console, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Console:      c,
		PollInterval: time.Second,
		MaxAttempts:  30,
		log:          logger,
	}
}

// Result is one completed remote command.
type Result struct {
	Command string
	Output  string
}

// Run types command into the console and polls the transcript until the
// console returns to an idle prompt with the command's output visible.
// There is no completion protocol: a fresh prompt after the command's echo
// is the only signal that it finished. Transient poll failures are retried
// against the attempt budget.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	resp, err := r.Console.SendInput(ctx, command+"\n")
	if err != nil {
		return Result{}, fmt.Errorf("send command: %w", err)
	}
	if err := resp.Err(); err != nil {
		return Result{}, fmt.Errorf("send command: %w", err)
	}

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		r.log.Debug("waiting for command to complete",
			"command", command, "attempt", attempt)

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(r.PollInterval):
		}

		tr, err := r.Console.LatestOutput(ctx)
		if err != nil {
			r.log.Debug("polling console output failed", "error", err)
			continue
		}
		if !tr.Idle() {
			continue
		}
		if out, ok := tr.CommandOutput(command); ok {
			r.log.Debug("command completed", "command", command)
			return Result{Command: command, Output: out}, nil
		}
	}
	return Result{}, fmt.Errorf("command %q did not complete after %d attempts", command, r.MaxAttempts)
}
