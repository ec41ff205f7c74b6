// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hivedesk/hivedesk/lib/clock"
	"github.com/hivedesk/hivedesk/lib/testutil"
	"github.com/hivedesk/hivedesk/wire"
)

func testClient(t *testing.T, server *httptest.Server, clk clock.Clock) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:      server.URL,
		WorkspaceSid: "WS1",
		WorkerSid:    "WK1",
		Token:        "token-1",
		Clock:        clk,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	valid := Config{BaseURL: "http://localhost:1", WorkspaceSid: "WS1", WorkerSid: "WK1", Token: "t"}

	for name, mutate := range map[string]func(*Config){
		"missing BaseURL":      func(c *Config) { c.BaseURL = "" },
		"missing WorkspaceSid": func(c *Config) { c.WorkspaceSid = "" },
		"missing WorkerSid":    func(c *Config) { c.WorkerSid = "" },
		"missing Token":        func(c *Config) { c.Token = "" },
	} {
		t.Run(name, func(t *testing.T) {
			config := valid
			mutate(&config)
			if _, err := NewClient(config); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}

	if _, err := NewClient(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestUpdateWorkerSendsActivityChange(t *testing.T) {
	var gotPath, gotAuth string
	var gotUpdate WorkerUpdate
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		gotAuth = request.Header.Get("Authorization")
		if err := json.NewDecoder(request.Body).Decode(&gotUpdate); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(writer).Encode(wire.WorkerPayload{Sid: "WK1", ActivitySid: "WA2"})
	}))
	defer server.Close()

	client := testClient(t, server, nil)
	worker, err := client.UpdateWorker(context.Background(), WorkerUpdate{
		ActivitySid:               "WA2",
		RejectPendingReservations: true,
	})
	if err != nil {
		t.Fatalf("UpdateWorker failed: %v", err)
	}

	if gotPath != "/v1/Workspaces/WS1/Workers/WK1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotUpdate.ActivitySid != "WA2" || !gotUpdate.RejectPendingReservations {
		t.Errorf("request body = %+v", gotUpdate)
	}
	if worker.ActivitySid != "WA2" {
		t.Errorf("worker.ActivitySid = %q", worker.ActivitySid)
	}
}

func TestUpdateTokenTakesEffectOnNextRequest(t *testing.T) {
	var auths []string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		auths = append(auths, request.Header.Get("Authorization"))
		json.NewEncoder(writer).Encode(wire.WorkerPayload{Sid: "WK1"})
	}))
	defer server.Close()

	client := testClient(t, server, nil)
	if _, err := client.FetchWorker(context.Background()); err != nil {
		t.Fatalf("FetchWorker failed: %v", err)
	}
	client.UpdateToken("token-2")
	if _, err := client.FetchWorker(context.Background()); err != nil {
		t.Fatalf("FetchWorker failed: %v", err)
	}

	if len(auths) != 2 || auths[0] != "Bearer token-1" || auths[1] != "Bearer token-2" {
		t.Errorf("authorization sequence = %v", auths)
	}
}

func TestSnapshotListsRequestDefaultPageSize(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotQuery = request.URL.RawQuery
		writer.Write([]byte(`{"items":[{"sid":"WA1","friendly_name":"Available","available":true}],"meta":{"page_size":1000}}`))
	}))
	defer server.Close()

	client := testClient(t, server, nil)
	activities, err := client.ListActivities(context.Background())
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if gotQuery != "PageSize=1000" {
		t.Errorf("query = %q, want PageSize=1000", gotQuery)
	}
	if len(activities) != 1 || activities[0].Name != "Available" {
		t.Errorf("activities = %+v", activities)
	}
}

func TestValidationErrorSurfacesWithoutRetry(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++
		writer.WriteHeader(http.StatusBadRequest)
		writer.Write([]byte(`{"code":20001,"message":"activity WA9 does not exist"}`))
	}))
	defer server.Close()

	client := testClient(t, server, nil)
	_, err := client.UpdateWorker(context.Background(), WorkerUpdate{ActivitySid: "WA9"})

	var routerErr *RouterError
	if !errors.As(err, &routerErr) {
		t.Fatalf("err = %v, want *RouterError", err)
	}
	if routerErr.StatusCode != 400 || routerErr.Code != 20001 {
		t.Errorf("RouterError = %+v", routerErr)
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on 400)", requests)
	}
	if client.RetryCount() != 0 {
		t.Errorf("RetryCount = %d, want 0", client.RetryCount())
	}
}

func TestTransientErrorRetriesThenSucceeds(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++
		if requests == 1 {
			writer.WriteHeader(http.StatusTooManyRequests)
			writer.Write([]byte(`{"code":20429,"message":"rate limited"}`))
			return
		}
		json.NewEncoder(writer).Encode(wire.WorkerPayload{Sid: "WK1"})
	}))
	defer server.Close()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := testClient(t, server, fake)

	done := make(chan error, 1)
	go func() {
		_, err := client.UpdateWorker(context.Background(), WorkerUpdate{ActivitySid: "WA2"})
		done <- err
	}()

	fake.WaitForTimers(1)
	fake.Advance(900 * time.Millisecond)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "update should succeed after one retry"); err != nil {
		t.Fatalf("UpdateWorker failed: %v", err)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want 2", requests)
	}
	if client.RetryCount() != 1 {
		t.Errorf("RetryCount = %d, want 1", client.RetryCount())
	}

	// A freshly constructed client starts from an unset counter.
	fresh := testClient(t, server, fake)
	if fresh.RetryCount() != 0 {
		t.Errorf("fresh client RetryCount = %d, want 0", fresh.RetryCount())
	}
}

func TestTransferPathsUseV2(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		paths = append(paths, request.URL.Path)
		json.NewEncoder(writer).Encode(wire.TransferPayload{Sid: "TT1", Status: wire.TransferStatusInitiated})
	}))
	defer server.Close()

	client := testClient(t, server, nil)
	ctx := context.Background()

	if _, err := client.CreateTransfer(ctx, "WT1", CreateTransferRequest{
		ReservationSid: "WR1", To: "WK2", Mode: wire.TransferModeWarm,
	}); err != nil {
		t.Fatalf("CreateTransfer failed: %v", err)
	}
	if _, err := client.CancelTransfer(ctx, "WT1", "TT1"); err != nil {
		t.Fatalf("CancelTransfer failed: %v", err)
	}

	want := []string{
		"/v2/Workspaces/WS1/Tasks/WT1/Transfers",
		"/v2/Workspaces/WS1/Tasks/WT1/Transfers/TT1",
	}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestNoResponseMapsToStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // connection refused from here on

	client, err := NewClient(Config{
		BaseURL: server.URL, WorkspaceSid: "WS1", WorkerSid: "WK1", Token: "t",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.FetchWorker(context.Background())
	var routerErr *RouterError
	if !errors.As(err, &routerErr) {
		t.Fatalf("err = %v, want *RouterError", err)
	}
	if routerErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", routerErr.StatusCode)
	}
	if !IsTransient(err) {
		t.Error("status-0 failures must classify as transient")
	}
}
