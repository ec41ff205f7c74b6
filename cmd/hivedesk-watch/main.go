// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// hivedesk-watch connects a worker session and streams its routing
// events to the terminal: connection lifecycle, activity and attribute
// changes, reservation offers and outcomes. Useful for watching what a
// workspace routes to a worker without writing any code, and for
// eyeballing SDK behavior against hivedesk-mock-router.
//
// Connection settings come from flags, a YAML config file, or both;
// flags win over the file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/hivedesk/hivedesk/lib/version"
	"github.com/hivedesk/hivedesk/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig mirrors the watch section of a hivedesk YAML config file.
// TokenLifetime is a Go duration string ("45m", "1h").
type fileConfig struct {
	Token                 string `yaml:"token"`
	WorkspaceSid          string `yaml:"workspace_sid"`
	WorkerSid             string `yaml:"worker_sid"`
	RESTBaseURL           string `yaml:"rest_base_url"`
	EventsURL             string `yaml:"events_url"`
	ConnectActivitySid    string `yaml:"connect_activity_sid"`
	CloseExistingSessions bool   `yaml:"close_existing_sessions"`
	TokenLifetime         string `yaml:"token_lifetime"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var config fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return config, nil
}

func run() error {
	var (
		configPath    string
		token         string
		workspaceSid  string
		workerSid     string
		restURL       string
		eventsURL     string
		activitySid   string
		closeExisting bool
		noColor       bool
		verbose       bool
	)

	flagSet := pflag.NewFlagSet("hivedesk-watch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (flags override file values)")
	flagSet.StringVar(&token, "token", "", "bearer token for both planes")
	flagSet.StringVar(&workspaceSid, "workspace", "", "workspace sid")
	flagSet.StringVar(&workerSid, "worker", "", "worker sid")
	flagSet.StringVar(&restURL, "rest-url", "", "control plane base URL")
	flagSet.StringVar(&eventsURL, "events-url", "", "event service URL (ws:// or wss://)")
	flagSet.StringVar(&activitySid, "activity", "", "activity to adopt after connecting")
	flagSet.BoolVar(&closeExisting, "close-existing", false, "evict other live sessions for this worker")
	flagSet.BoolVar(&noColor, "no-color", false, "disable colored output")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log SDK internals to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("hivedesk-watch %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	var config fileConfig
	if configPath != "" {
		loaded, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	if token != "" {
		config.Token = token
	}
	if workspaceSid != "" {
		config.WorkspaceSid = workspaceSid
	}
	if workerSid != "" {
		config.WorkerSid = workerSid
	}
	if restURL != "" {
		config.RESTBaseURL = restURL
	}
	if eventsURL != "" {
		config.EventsURL = eventsURL
	}
	if activitySid != "" {
		config.ConnectActivitySid = activitySid
	}
	if closeExisting {
		config.CloseExistingSessions = true
	}

	var tokenLifetime time.Duration
	if config.TokenLifetime != "" {
		parsed, err := time.ParseDuration(config.TokenLifetime)
		if err != nil {
			return fmt.Errorf("invalid token_lifetime %q: %w", config.TokenLifetime, err)
		}
		tokenLifetime = parsed
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := worker.New(ctx, worker.Config{
		Token:                 config.Token,
		WorkspaceSid:          config.WorkspaceSid,
		WorkerSid:             config.WorkerSid,
		RESTBaseURL:           config.RESTBaseURL,
		EventsURL:             config.EventsURL,
		ConnectActivitySid:    config.ConnectActivitySid,
		CloseExistingSessions: config.CloseExistingSessions,
		TokenLifetime:         tokenLifetime,
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	return watch(ctx, w, newPrinter(noColor))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Stream a worker's routing events to the terminal.

Usage:
  hivedesk-watch [flags]

Examples:
  # Everything on the command line
  hivedesk-watch --token $HIVEDESK_TOKEN \
    --workspace WS... --worker WK... \
    --rest-url https://router.example.com \
    --events-url wss://events.example.com/v1/wschannels

  # Settings from a file, token from the environment
  hivedesk-watch --config ~/.config/hivedesk/watch.yaml --token $HIVEDESK_TOKEN

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// printer renders one event per line with a category color.
type printer struct {
	timestamp lipgloss.Style
	lifecycle lipgloss.Style
	activity  lipgloss.Style
	offer     lipgloss.Style
	outcome   lipgloss.Style
	failure   lipgloss.Style
}

func newPrinter(noColor bool) *printer {
	if noColor {
		plain := lipgloss.NewStyle()
		return &printer{plain, plain, plain, plain, plain, plain}
	}
	return &printer{
		timestamp: lipgloss.NewStyle().Faint(true),
		lifecycle: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		activity:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		offer:     lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		outcome:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		failure:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func (p *printer) line(style lipgloss.Style, format string, args ...any) {
	fmt.Printf("%s %s\n",
		p.timestamp.Render(time.Now().Format("15:04:05.000")),
		style.Render(fmt.Sprintf(format, args...)),
	)
}

// watch runs the event loop until the session ends deliberately or the
// user interrupts.
func watch(ctx context.Context, w *worker.Worker, out *printer) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	ready := w.Ready()
	errors := w.Errors()
	disconnects := w.Disconnects()
	expirations := w.TokenExpirations()
	activities := w.ActivityUpdates()
	attributes := w.AttributeUpdates()
	creations := w.ReservationCreations()
	updates := w.ReservationUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-interrupt:
			out.line(out.lifecycle, "interrupted, disconnecting")
			w.Disconnect("interrupted")

		case <-ready:
			activity := "(none)"
			if current := w.CurrentActivity(); current != nil {
				activity = fmt.Sprintf("%s (%s)", current.Name(), current.Sid())
			}
			out.line(out.lifecycle, "ready: worker %q activity %s, %d live reservations",
				w.Name(), activity, len(w.Reservations()))

		case err := <-errors:
			out.line(out.failure, "session error: %v", err)

		case event := <-disconnects:
			if event.Deliberate {
				out.line(out.lifecycle, "disconnected: %s", event.Reason)
				return nil
			}
			out.line(out.failure, "connection lost: %s (reconnecting)", event.Reason)

		case <-expirations:
			out.line(out.failure, "token expired; session suspended until a new token is supplied")

		case activity := <-activities:
			out.line(out.activity, "activity -> %s (available=%t)", activity.Name(), activity.Available())

		case doc := <-attributes:
			out.line(out.activity, "attributes -> %s", doc)

		case reservation := <-creations:
			task := reservation.Task()
			if transfer := reservation.Transfer(); transfer != nil {
				out.line(out.offer, "offer %s: task %s transferred from %s (%s %s)",
					reservation.Sid(), task.Sid(), transfer.InitiatingWorkerSid(),
					transfer.Mode(), transfer.Type())
			} else {
				out.line(out.offer, "offer %s: task %s on %q, attributes %s",
					reservation.Sid(), task.Sid(), task.TaskChannelUniqueName(), task.Attributes())
			}

		case update := <-updates:
			out.line(out.outcome, "%s: reservation %s", update.Name, update.Reservation.Sid())
		}
	}
}
