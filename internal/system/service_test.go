package system

import (
	"context"
	"errors"
	"testing"
)

type recorded struct {
	name     string
	events   *[]string
	startErr error
}

func (r *recorded) Name() string { return r.name }

func (r *recorded) Start(ctx context.Context) error {
	*r.events = append(*r.events, "start:"+r.name)
	return r.startErr
}

func (r *recorded) Stop(ctx context.Context) error {
	*r.events = append(*r.events, "stop:"+r.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b"} {
		if err := m.Register(&recorded{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestManagerRollsBackFailedStart(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&recorded{name: "a", events: &events})
	_ = m.Register(&recorded{name: "b", events: &events, startErr: errors.New("boom")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}

	// The already-started service is stopped on rollback.
	last := events[len(events)-1]
	if last != "stop:a" {
		t.Fatalf("events = %v, want rollback stop of a", events)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recorded{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recorded{name: "a", events: &events}); err == nil {
		t.Fatal("duplicate registration must be rejected")
	}
}
