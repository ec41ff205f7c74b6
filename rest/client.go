// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hivedesk/hivedesk/lib/clock"
	"github.com/hivedesk/hivedesk/lib/httpx"
	"github.com/hivedesk/hivedesk/wire"
)

// Default request parameters.
const (
	// DefaultTimeout bounds each HTTP attempt. A timed-out attempt
	// fails as a transient status-0 error.
	DefaultTimeout = 15000 * time.Millisecond

	// DefaultPageSize is the page size requested on snapshot lists.
	DefaultPageSize = 1000
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the control plane root (e.g. "https://routing.example.com").
	BaseURL string
	// WorkspaceSid scopes every request to one backend tenant.
	WorkspaceSid string
	// WorkerSid identifies the connected worker.
	WorkerSid string
	// Token is the bearer token presented on every request. Swappable
	// later with UpdateToken.
	Token string

	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Clock drives retry backoff. If nil, the real clock.
	Clock clock.Clock
	// Timeout bounds each HTTP attempt. If zero, DefaultTimeout.
	Timeout time.Duration
	// PageSize overrides the snapshot list page size. If zero,
	// DefaultPageSize.
	PageSize int
}

// Client issues control-plane commands for a single worker session.
// Each Client owns its own retry Executor; no retry state is shared
// across clients.
type Client struct {
	baseURL      string
	workspaceSid string
	workerSid    string
	httpClient   *http.Client
	logger       *slog.Logger
	timeout      time.Duration
	pageSize     int
	exec         *Executor

	mu    sync.RWMutex
	token string
}

// NewClient creates a control-plane client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("rest: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.WorkspaceSid == "" {
		return nil, fmt.Errorf("rest: WorkspaceSid is required")
	}
	if config.WorkerSid == "" {
		return nil, fmt.Errorf("rest: WorkerSid is required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("rest: Token is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		workspaceSid: config.WorkspaceSid,
		workerSid:    config.WorkerSid,
		httpClient:   httpClient,
		logger:       logger,
		timeout:      timeout,
		pageSize:     pageSize,
		exec:         NewExecutor(config.Clock, logger),
		token:        config.Token,
	}, nil
}

// UpdateToken swaps the bearer token used for subsequent requests.
// In-flight requests keep the token they started with.
func (c *Client) UpdateToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// RetryCount returns the total retry attempts made by this client's
// Executor since construction. Resets only by constructing a new
// client.
func (c *Client) RetryCount() int { return c.exec.RetryCount() }

// CloseIdleConnections closes idle HTTP connections in the transport
// pool. Called after a network disruption so subsequent requests open
// fresh TCP connections instead of reusing a poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// --- snapshot reads ---

// FetchWorker returns the worker resource.
func (c *Client) FetchWorker(ctx context.Context) (*wire.WorkerPayload, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.workerPath(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: fetching worker: %w", err)
	}
	return decode[wire.WorkerPayload](body, "worker")
}

// ListActivities returns the workspace's activities, first page only
// (the configured page size covers every realistic workspace).
func (c *Client) ListActivities(ctx context.Context) ([]wire.ActivityPayload, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.workerPath()+"/Activities", nil, c.pageQuery())
	if err != nil {
		return nil, fmt.Errorf("rest: listing activities: %w", err)
	}
	return decodePage[wire.ActivityPayload](body, "activities")
}

// ListChannels returns the worker's channels.
func (c *Client) ListChannels(ctx context.Context) ([]wire.ChannelPayload, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.workerPath()+"/Channels", nil, c.pageQuery())
	if err != nil {
		return nil, fmt.Errorf("rest: listing channels: %w", err)
	}
	return decodePage[wire.ChannelPayload](body, "channels")
}

// ListActiveReservations returns the worker's reservations in a
// non-terminal status, for seeding the reservation map on (re)connect.
func (c *Client) ListActiveReservations(ctx context.Context) ([]wire.ReservationPayload, error) {
	query := c.pageQuery()
	query.Set("Active", "true")
	body, err := c.doRequest(ctx, http.MethodGet, c.workerPath()+"/Reservations", nil, query)
	if err != nil {
		return nil, fmt.Errorf("rest: listing reservations: %w", err)
	}
	return decodePage[wire.ReservationPayload](body, "reservations")
}

// --- worker mutations (idempotent, retried) ---

// UpdateWorker applies a worker-level mutation (activity change or
// attribute replacement). Repeating the call is safe, so transient
// failures are retried on the executor's schedule.
func (c *Client) UpdateWorker(ctx context.Context, update WorkerUpdate) (*wire.WorkerPayload, error) {
	body, err := c.exec.Do(ctx, "worker.update", func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodPost, c.workerPath(), update, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("rest: updating worker: %w", err)
	}
	return decode[wire.WorkerPayload](body, "worker")
}

// --- reservation mutations (issued exactly once) ---

// UpdateReservation applies a status change or routing instruction to
// a reservation. Accept and reject have side effects that must not be
// duplicated, so the call is never retried.
func (c *Client) UpdateReservation(ctx context.Context, taskSid, reservationSid string, update ReservationUpdate) (*wire.ReservationPayload, error) {
	path := c.taskPath(taskSid) + "/Reservations/" + url.PathEscape(reservationSid)
	body, err := c.doRequest(ctx, http.MethodPost, path, update, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: updating reservation %s: %w", reservationSid, err)
	}
	return decode[wire.ReservationPayload](body, "reservation")
}

// --- task mutations ---

// UpdateTaskAttributes replaces a task's attribute document.
// Idempotent, so retried.
func (c *Client) UpdateTaskAttributes(ctx context.Context, taskSid string, attributes json.RawMessage) (*wire.TaskPayload, error) {
	update := TaskUpdate{Attributes: attributes}
	body, err := c.exec.Do(ctx, "task.attributes", func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodPost, c.taskPath(taskSid), update, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("rest: updating task %s attributes: %w", taskSid, err)
	}
	return decode[wire.TaskPayload](body, "task")
}

// UpdateTaskStatus moves a task to wrapping or completed. Issued
// exactly once; the backend rejects transitions from the wrong state
// with a 400.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskSid string, status wire.TaskStatus, reason string) (*wire.TaskPayload, error) {
	update := TaskUpdate{Status: status, Reason: reason}
	body, err := c.doRequest(ctx, http.MethodPost, c.taskPath(taskSid), update, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: moving task %s to %s: %w", taskSid, status, err)
	}
	return decode[wire.TaskPayload](body, "task")
}

// CreateTask creates a new task in the workspace. Returns the created
// task resource as an optimistic seed; the authoritative state arrives
// over signaling.
func (c *Client) CreateTask(ctx context.Context, request CreateTaskRequest) (*wire.TaskPayload, error) {
	path := "/v1/Workspaces/" + url.PathEscape(c.workspaceSid) + "/Tasks"
	body, err := c.doRequest(ctx, http.MethodPost, path, request, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: creating task: %w", err)
	}
	return decode[wire.TaskPayload](body, "task")
}

// --- transfers (v2) ---

// CreateTransfer starts a transfer of a task. The backend rejects the
// request with a 400 and creates nothing when the target worker is
// unavailable.
func (c *Client) CreateTransfer(ctx context.Context, taskSid string, request CreateTransferRequest) (*wire.TransferPayload, error) {
	path := c.taskPathV2(taskSid) + "/Transfers"
	body, err := c.doRequest(ctx, http.MethodPost, path, request, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: creating transfer: %w", err)
	}
	return decode[wire.TransferPayload](body, "transfer")
}

// CancelTransfer cancels an initiated transfer. Valid exactly once: a
// second cancel is rejected by the backend with a 400 naming the
// transfer as already canceled.
func (c *Client) CancelTransfer(ctx context.Context, taskSid, transferSid string) (*wire.TransferPayload, error) {
	path := c.taskPathV2(taskSid) + "/Transfers/" + url.PathEscape(transferSid)
	update := struct {
		Status wire.TransferStatus `json:"transfer_status"`
	}{Status: wire.TransferStatusCanceled}
	body, err := c.doRequest(ctx, http.MethodPost, path, update, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: canceling transfer %s: %w", transferSid, err)
	}
	return decode[wire.TransferPayload](body, "transfer")
}

// HoldParticipant toggles the hold state of another worker in the
// task's conference. The backend rejects the request with a 400 unless
// both workers are active participants.
func (c *Client) HoldParticipant(ctx context.Context, taskSid string, request HoldRequest) error {
	path := c.taskPathV2(taskSid) + "/Hold"
	if _, err := c.doRequest(ctx, http.MethodPost, path, request, nil); err != nil {
		return fmt.Errorf("rest: holding participant %s: %w", request.TargetWorkerSid, err)
	}
	return nil
}

// --- request plumbing ---

func (c *Client) workerPath() string {
	return "/v1/Workspaces/" + url.PathEscape(c.workspaceSid) + "/Workers/" + url.PathEscape(c.workerSid)
}

func (c *Client) taskPath(taskSid string) string {
	return "/v1/Workspaces/" + url.PathEscape(c.workspaceSid) + "/Tasks/" + url.PathEscape(taskSid)
}

func (c *Client) taskPathV2(taskSid string) string {
	return "/v2/Workspaces/" + url.PathEscape(c.workspaceSid) + "/Tasks/" + url.PathEscape(taskSid)
}

func (c *Client) pageQuery() url.Values {
	query := url.Values{}
	query.Set("PageSize", strconv.Itoa(c.pageSize))
	return query
}

// doRequest performs one HTTP attempt and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *RouterError with
// the response status. Transport-level failures map to a *RouterError
// with StatusCode 0 so that classification sees one error shape.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader *bytes.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var request *http.Request
	var err error
	if bodyReader != nil {
		request, err = http.NewRequestWithContext(attemptCtx, method, requestURL, bodyReader)
	} else {
		request, err = http.NewRequestWithContext(attemptCtx, method, requestURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if bodyReader != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		// Preserve caller cancellation so classification can tell it
		// apart from a genuine transport failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RouterError{Message: err.Error()}
	}
	defer response.Body.Close()

	responseBody, err := httpx.ReadResponse(response.Body)
	if err != nil {
		return nil, &RouterError{Message: fmt.Sprintf("reading response body: %v", err)}
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	routerErr := RouterError{
		StatusCode: response.StatusCode,
		Status:     http.StatusText(response.StatusCode),
	}
	if jsonErr := json.Unmarshal(responseBody, &routerErr); jsonErr != nil || routerErr.Message == "" {
		// Non-JSON or unstructured error body; keep the raw text.
		routerErr.Message = strings.TrimSpace(string(responseBody))
	}
	return nil, &routerErr
}

func decode[T any](body []byte, what string) (*T, error) {
	var value T
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, fmt.Errorf("rest: parsing %s response: %w", what, err)
	}
	return &value, nil
}

func decodePage[T any](body []byte, what string) ([]T, error) {
	var response page[T]
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("rest: parsing %s page: %w", what, err)
	}
	return response.Items, nil
}
