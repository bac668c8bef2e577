package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caktus/padeploy/internal/consoled"
)

var version = "dev"

func main() {
	var listen string
	var username string
	var token string
	var shell string
	var idleTimeout time.Duration
	var logLevel string
	var verbose bool

	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "paconsoled (%s): local PythonAnywhere consoles API emulator\n\n", version)
		fmt.Fprintf(out, "Usage:\n  %s [flags]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.StringVar(&listen, "listen", "127.0.0.1:8800", "listen address for the consoles API")
	flag.StringVar(&username, "username", "", "account username clients must address (required)")
	flag.StringVar(&token, "token", "", "API token clients must send (default $API_TOKEN)")
	flag.StringVar(&shell, "shell", "bash", "executable new consoles run")
	flag.DurationVar(&idleTimeout, "idle-timeout", 30*time.Minute, "kill consoles idle this long; 0 disables")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose debug logging (same as -log-level=debug)")

	flag.Parse()

	if token == "" {
		token = os.Getenv("API_TOKEN")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		switch l := strings.ToLower(strings.TrimSpace(logLevel)); l {
		case "debug":
			level = slog.LevelDebug
		case "info", "":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			log.Printf("unknown -log-level=%q (expected debug|info|warn|error); defaulting to info", logLevel)
			level = slog.LevelInfo
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := consoled.New(consoled.Config{
		ListenAddr:  listen,
		Username:    username,
		Token:       token,
		Shell:       shell,
		IdleTimeout: idleTimeout,
		Logger:      logger,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := srv.Start(ctx); err != nil {
		log.Fatal(err)
	}
}
