package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dagflow/dagflow-go/flow/event"
	"github.com/dagflow/dagflow-go/flow/store"
)

func seedRunWithSteps(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := st.Workflows().Create(ctx, &store.Workflow{
		ID: "wf-1", Name: "streamed", Version: 1, Status: store.WorkflowPublished,
		Definition: []byte(`{"nodes":[],"edges":[]}`),
		CreatedAt:  time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if err := st.Runs().Create(ctx, &store.Run{
		ID: "run-1", WorkflowID: "wf-1", Status: store.RunRunning,
		TriggerType: store.TriggerManual,
		Context:     map[string]any{"a": map[string]any{"ok": true}},
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	for _, sr := range []*store.StepRun{
		{RunID: "run-1", StepID: "a", StepType: "transform", Status: store.StepFailed, Attempt: 1, Error: "hiccup"},
		{RunID: "run-1", StepID: "a", StepType: "transform", Status: store.StepCompleted, Attempt: 2},
		{RunID: "run-1", StepID: "b", StepType: "transform", Status: store.StepRunning, Attempt: 1},
	} {
		if err := st.StepRuns().Create(ctx, sr); err != nil {
			t.Fatalf("create step run: %v", err)
		}
	}
}

func TestStreamSnapshotThenEvents(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	bus := event.NewBus(store.NewEventLog(st), zerolog.Nop())
	seedRunWithSteps(t, st)

	streamer := NewStreamer(st, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan any, 16)
	done := make(chan error, 1)
	go func() {
		done <- streamer.Stream(ctx, "run-1", func(v any) error {
			frames <- v
			return nil
		})
	}()

	first := waitFrame(t, frames)
	snap, ok := first.(*Snapshot)
	if !ok {
		t.Fatalf("first frame = %T, want snapshot", first)
	}
	if snap.Type != "snapshot" || snap.RunID != "run-1" || snap.RunStatus != store.RunRunning {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Steps) != 2 {
		t.Fatalf("snapshot steps = %v", snap.Steps)
	}
	// Latest attempt per step, not every attempt.
	if snap.Steps[0].StepID != "a" || snap.Steps[0].Attempt != 2 || snap.Steps[0].Status != store.StepCompleted {
		t.Errorf("steps[0] = %+v", snap.Steps[0])
	}
	if snap.Steps[1].StepID != "b" || snap.Steps[1].Status != store.StepRunning {
		t.Errorf("steps[1] = %+v", snap.Steps[1])
	}

	// The subscription is live once the snapshot has been delivered.
	bus.Emit(context.Background(), "run-1", event.StepCompleted, "b", map[string]any{"attempt": 1})
	bus.Emit(context.Background(), "run-2", event.StepCompleted, "x", nil)

	next := waitFrame(t, frames)
	env, ok := next.(event.Envelope)
	if !ok {
		t.Fatalf("second frame = %T, want envelope", next)
	}
	if env.EventType != event.StepCompleted || env.RunID != "run-1" || env.StepID != "b" {
		t.Errorf("envelope = %+v", env)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("stream returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func waitFrame(t *testing.T, frames chan any) any {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame within a second")
		return nil
	}
}

func TestStreamSendFailureStops(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	bus := event.NewBus(nil, zerolog.Nop())
	seedRunWithSteps(t, st)

	sendErr := errors.New("client went away")
	err := NewStreamer(st, bus).Stream(context.Background(), "run-1", func(any) error {
		return sendErr
	})
	if !errors.Is(err, sendErr) {
		t.Errorf("err = %v", err)
	}
	if got := bus.SubscriberCount("run-1"); got != 0 {
		t.Errorf("subscription leaked: %d", got)
	}
}

func TestStreamUnknownRun(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	bus := event.NewBus(nil, zerolog.Nop())

	err := NewStreamer(st, bus).Stream(context.Background(), "ghost", func(any) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	if got := bus.SubscriberCount("ghost"); got != 0 {
		t.Errorf("subscription leaked: %d", got)
	}
}
