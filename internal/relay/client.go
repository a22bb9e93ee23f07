// Package relay submits sponsored meta-transactions through the Gelato relay
// and tracks their task status until on-chain inclusion.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dlplabs/proof-service/internal/httputil"
)

// TaskState is the relay-side state of a submitted task.
type TaskState string

const (
	TaskStateCheckPending           TaskState = "CheckPending"
	TaskStateExecPending            TaskState = "ExecPending"
	TaskStateWaitingForConfirmation TaskState = "WaitingForConfirmation"
	TaskStateExecSuccess            TaskState = "ExecSuccess"
	TaskStateExecReverted           TaskState = "ExecReverted"
	TaskStateCancelled              TaskState = "Cancelled"
	TaskStateBlacklisted            TaskState = "Blacklisted"
)

// Terminal reports whether the state will never change again.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateExecSuccess, TaskStateExecReverted, TaskStateCancelled, TaskStateBlacklisted:
		return true
	}
	return false
}

// Failed reports whether the state is a terminal negative outcome.
func (s TaskState) Failed() bool {
	switch s {
	case TaskStateExecReverted, TaskStateCancelled, TaskStateBlacklisted:
		return true
	}
	return false
}

// Task is the relay's view of one submission.
type Task struct {
	TaskID          string    `json:"taskId"`
	TaskState       TaskState `json:"taskState"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	ExecutionDate   string    `json:"executionDate,omitempty"`
}

// DispatchError wraps a failed sponsored-call dispatch. The submission never
// reached the relay; the record stays eligible for retry.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("relay dispatch: %v", e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// PollError wraps a failed task-status query.
type PollError struct {
	TaskID string
	Err    error
}

func (e *PollError) Error() string { return fmt.Sprintf("relay poll %s: %v", e.TaskID, e.Err) }
func (e *PollError) Unwrap() error { return e.Err }

const defaultBaseURL = "https://api.gelato.digital"

// Config holds relay client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a minimal Gelato relay client covering sponsored calls and task
// status lookups.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a relay client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("relay API key required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SponsoredCall dispatches a sponsored meta-transaction and returns the relay
// task id. Chain inclusion happens asynchronously; callers poll TaskStatus.
func (c *Client) SponsoredCall(ctx context.Context, chainID uint64, target string, callData []byte) (string, error) {
	body := map[string]interface{}{
		"chainId":       chainID,
		"target":        target,
		"data":          "0x" + fmt.Sprintf("%x", callData),
		"sponsorApiKey": c.apiKey,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &DispatchError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/relays/v2/sponsored-call", bytes.NewReader(payload))
	if err != nil {
		return "", &DispatchError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &DispatchError{Err: err}
	}

	var result struct {
		TaskID string `json:"taskId"`
	}
	if err := httputil.DecodeResponse(resp, &result); err != nil {
		return "", &DispatchError{Err: err}
	}
	if result.TaskID == "" {
		return "", &DispatchError{Err: errors.New("relay returned empty task id")}
	}
	return result.TaskID, nil
}

// TaskStatus queries the relay once for the task's current state.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TaskStatusURL(taskID), nil)
	if err != nil {
		return Task{}, &PollError{TaskID: taskID, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Task{}, &PollError{TaskID: taskID, Err: err}
	}

	var result struct {
		Task Task `json:"task"`
	}
	if err := httputil.DecodeResponse(resp, &result); err != nil {
		return Task{}, &PollError{TaskID: taskID, Err: err}
	}
	if result.Task.TaskState == "" {
		return Task{}, &PollError{TaskID: taskID, Err: errors.New("relay returned empty task state")}
	}
	return result.Task, nil
}

// TaskStatusURL returns the public status endpoint for a task. This URL is
// persisted on file records so status polling can resume across restarts.
func (c *Client) TaskStatusURL(taskID string) string {
	return c.baseURL + "/tasks/status/" + taskID
}

// TaskIDFromURL extracts the task id from a persisted status URL.
func TaskIDFromURL(statusURL string) (string, error) {
	trimmed := strings.TrimSpace(statusURL)
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return "", fmt.Errorf("invalid relay status URL %q", statusURL)
	}
	return trimmed[idx+1:], nil
}
