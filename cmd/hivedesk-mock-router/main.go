// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// hivedesk-mock-router runs the in-process fake routing backend as a
// standalone server for local development: the REST control plane on
// one listener, plus a live websocket event feed at /v1/wschannels.
// Point hivedesk-watch (or any SDK session) at it and it will offer a
// synthetic task at a fixed interval.
//
// The fake enforces the same preconditions the production backend
// does, so a client exercised against it sees real 400 paths: accept
// only from pending, cancel a transfer exactly once, hold only between
// conference participants.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/hivedesk/hivedesk/lib/version"
	"github.com/hivedesk/hivedesk/routertest"
	"github.com/hivedesk/hivedesk/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen        string
		token         string
		workerName    string
		offerInterval time.Duration
		tokenLifetime time.Duration
	)

	flagSet := pflag.NewFlagSet("hivedesk-mock-router", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:8642", "address to serve the control plane and event feed on")
	flagSet.StringVar(&token, "token", "dev-token", "bearer token accepted by both planes")
	flagSet.StringVar(&workerName, "worker-name", "dev-worker", "friendly name of the simulated worker")
	flagSet.DurationVar(&offerInterval, "offer-interval", 15*time.Second, "interval between synthetic task offers (0 disables)")
	flagSet.DurationVar(&tokenLifetime, "token-lifetime", 0, "token lifetime advertised in the server hello (0 omits it)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("hivedesk-mock-router %s\n", version.Info())
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	backend := routertest.New(routertest.Options{
		Token:           token,
		WorkerName:      workerName,
		TokenLifetimeMs: tokenLifetime.Milliseconds(),
		Channels: []routertest.ChannelSeed{
			{UniqueName: "voice", Capacity: 1},
			{UniqueName: "chat", Capacity: 3},
		},
	})
	defer backend.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/wschannels", func(writer http.ResponseWriter, request *http.Request) {
		serveEvents(backend, logger, writer, request)
	})
	mux.Handle("/", backend.Handler())

	if offerInterval > 0 {
		go offerLoop(backend, logger, offerInterval)
	}

	logger.Info("mock router listening",
		"address", listen,
		"workspace_sid", backend.WorkspaceSid(),
		"worker_sid", backend.WorkerSid(),
	)
	fmt.Printf("rest base url:  http://%s\n", listen)
	fmt.Printf("events url:     ws://%s/v1/wschannels\n", listen)
	fmt.Printf("workspace sid:  %s\n", backend.WorkspaceSid())
	fmt.Printf("worker sid:     %s\n", backend.WorkerSid())

	return http.ListenAndServe(listen, mux)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Standalone fake routing backend for local development.

Serves the REST control plane and a websocket event feed on one
address, simulating a single workspace with a single worker. A
synthetic task is offered at a fixed interval.

Usage:
  hivedesk-mock-router [flags]

Examples:
  # Run with defaults and connect a watch session
  hivedesk-mock-router
  hivedesk-watch --token dev-token \
    --workspace <printed workspace sid> --worker <printed worker sid> \
    --rest-url http://127.0.0.1:8642 \
    --events-url ws://127.0.0.1:8642/v1/wschannels

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// offerLoop pushes a synthetic voice task offer at the configured
// interval.
func offerLoop(backend *routertest.Backend, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sequence := 0
	for range ticker.C {
		sequence++
		attributes := fmt.Sprintf(`{"channel":"voice","caller":"+1555010%04d"}`, sequence)
		reservationSid, taskSid := backend.OfferTask([]byte(attributes))
		logger.Info("offered synthetic task",
			"reservation_sid", reservationSid,
			"task_sid", taskSid,
		)
	}
}

var upgrader = websocket.Upgrader{
	// Local development tool; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveEvents upgrades a signaling connection and attaches it to the
// backend's event fan-out. The bearer token travels as a query
// parameter, mirroring the production handshake; a bad token is
// rejected before the upgrade so the client sees an auth failure, not
// a broken socket.
func serveEvents(backend *routertest.Backend, logger *slog.Logger, writer http.ResponseWriter, request *http.Request) {
	if request.URL.Query().Get("Token") != backend.Token() {
		http.Error(writer, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	logger.Info("signaling session connected",
		"remote", request.RemoteAddr,
		"client_version", request.URL.Query().Get("ClientVersion"),
	)

	sink := &websocketSink{conn: conn}
	backend.AttachSink(sink)
	defer backend.DetachSink(sink)
	defer conn.Close()

	// Drain client frames until the peer goes away; the mock consumes
	// nothing from the client.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logger.Info("signaling session closed", "remote", request.RemoteAddr)
			return
		}
	}
}

// websocketSink adapts a websocket connection to the backend's event
// fan-out. Writes are serialized; the fan-out may push from several
// handler goroutines.
type websocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *websocketSink) PushEnvelope(envelope wire.Envelope) {
	data, err := envelope.Encode()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteMessage(websocket.TextMessage, data)
}
