package store

import (
	"context"
	"testing"

	"github.com/dagflow/dagflow-go/flow/event"
)

func TestEventLogPersist(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	seedWorkflow(t, st, "wf-1")
	seedRun(t, st, "wf-1", "run-1")

	log := NewEventLog(st)
	envs := []event.Envelope{
		event.NewEnvelope("run-1", event.RunStarted, "", map[string]any{"status": "running"}),
		event.NewEnvelope("run-1", event.StepStarted, "a", map[string]any{"attempt": 1}),
		event.NewEnvelope("run-1", event.RunCompleted, "", nil),
	}
	for _, env := range envs {
		if err := log.Persist(ctx, env); err != nil {
			t.Fatalf("persist %s: %v", env.EventType, err)
		}
	}

	events, err := st.Events().ListByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != len(envs) {
		t.Fatalf("persisted %d events", len(events))
	}
	seen := map[string]bool{}
	for i, ev := range events {
		if ev.EventType != envs[i].EventType {
			t.Errorf("event %d = %q, want %q", i, ev.EventType, envs[i].EventType)
		}
		if ev.ID == "" || seen[ev.ID] {
			t.Errorf("event %d has bad id %q", i, ev.ID)
		}
		seen[ev.ID] = true
	}
	if events[1].StepID != "a" {
		t.Errorf("step id not carried: %+v", events[1])
	}
	if events[0].Payload["status"] != "running" {
		t.Errorf("payload not carried: %v", events[0].Payload)
	}
}
