package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSponsoredCall(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/relays/v2/sponsored-call" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"taskId": "task-123"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	taskID, err := client.SponsoredCall(context.Background(), 1480, "0x1111111111111111111111111111111111111111", []byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("sponsored call: %v", err)
	}
	if taskID != "task-123" {
		t.Fatalf("taskID = %q, want task-123", taskID)
	}
	if captured["data"] != "0xdead" {
		t.Fatalf("data = %v, want 0xdead", captured["data"])
	}
	if captured["sponsorApiKey"] != "key" {
		t.Fatalf("sponsorApiKey = %v", captured["sponsorApiKey"])
	}
	if captured["chainId"] != float64(1480) {
		t.Fatalf("chainId = %v", captured["chainId"])
	}
}

func TestSponsoredCallDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.SponsoredCall(context.Background(), 1480, "0x0", nil)
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("err = %v, want DispatchError", err)
	}
}

func TestTaskStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/status/task-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"task": map[string]string{
				"taskId":          "task-123",
				"taskState":       "ExecSuccess",
				"transactionHash": "0xabc",
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	task, err := client.TaskStatus(context.Background(), "task-123")
	if err != nil {
		t.Fatalf("task status: %v", err)
	}
	if task.TaskState != TaskStateExecSuccess || task.TransactionHash != "0xabc" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestTaskStates(t *testing.T) {
	terminal := []TaskState{TaskStateExecSuccess, TaskStateExecReverted, TaskStateCancelled, TaskStateBlacklisted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	running := []TaskState{TaskStateCheckPending, TaskStateExecPending, TaskStateWaitingForConfirmation}
	for _, s := range running {
		if s.Terminal() || s.Failed() {
			t.Errorf("%s should be neither terminal nor failed", s)
		}
	}
	if TaskStateExecSuccess.Failed() {
		t.Error("ExecSuccess is not a failure")
	}
}

func TestTaskIDFromURL(t *testing.T) {
	id, err := TaskIDFromURL("https://relay.gelato.digital/tasks/status/task-9")
	if err != nil || id != "task-9" {
		t.Fatalf("id = %q, err = %v", id, err)
	}
	if _, err := TaskIDFromURL(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := TaskIDFromURL("https://relay.gelato.digital/tasks/status/"); err == nil {
		t.Fatal("expected error for URL without task id")
	}
}
