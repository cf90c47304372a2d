package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGate_ResolveWrongSession(t *testing.T) {
	gate := NewGate(5*time.Second, quietLogger())

	ids := make(chan string, 1)
	ctx := WithEventSink(context.Background(), func(ev Event) {
		ids <- ev.Confirmation.ToolID
	})

	done := make(chan bool, 1)
	go func() {
		ok, _ := gate.Await(ctx, "owner", "search_internet", map[string]any{"query": "x"})
		done <- ok
	}()

	id := <-ids
	if err := gate.Resolve(id, "intruder", true); !errors.Is(err, ErrConfirmationNotFound) {
		t.Errorf("wrong session: err = %v, want ErrConfirmationNotFound", err)
	}

	pending := gate.Pending("owner")
	if len(pending) != 1 || pending[0].ToolName != "search_internet" || pending[0].ToolID != id {
		t.Errorf("Pending = %+v", pending)
	}
	if len(gate.Pending("intruder")) != 0 {
		t.Error("pending call leaked into another session")
	}

	if err := gate.Resolve(id, "owner", true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !<-done {
		t.Error("Await returned false after confirmation")
	}
	if err := gate.Resolve(id, "owner", true); !errors.Is(err, ErrConfirmationNotFound) {
		t.Errorf("second Resolve: err = %v", err)
	}
	if len(gate.Pending("")) != 0 {
		t.Error("resolved call still pending")
	}
}

func TestGate_Timeout(t *testing.T) {
	gate := NewGate(50*time.Millisecond, quietLogger())
	ctx := WithEventSink(context.Background(), func(Event) {})

	ok, err := gate.Await(ctx, "s", "run_command", nil)
	if ok || !errors.Is(err, ErrConfirmationTimeout) {
		t.Errorf("Await = %v, %v; want false, ErrConfirmationTimeout", ok, err)
	}
	if len(gate.Pending("")) != 0 {
		t.Error("timed out call still pending")
	}
}

func TestGate_ContextCancel(t *testing.T) {
	gate := NewGate(time.Minute, quietLogger())
	ctx, cancel := context.WithCancel(WithEventSink(context.Background(), func(Event) {}))
	cancel()

	ok, err := gate.Await(ctx, "s", "run_command", nil)
	if ok || !errors.Is(err, context.Canceled) {
		t.Errorf("Await = %v, %v; want false, context.Canceled", ok, err)
	}
}

func TestGate_NoSink(t *testing.T) {
	gate := NewGate(0, nil)
	_, err := gate.Await(context.Background(), "s", "x", nil)
	if !errors.Is(err, ErrNoConfirmationChannel) {
		t.Errorf("err = %v, want ErrNoConfirmationChannel", err)
	}
}
