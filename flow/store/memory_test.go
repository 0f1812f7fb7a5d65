package store

import (
	"context"
	"testing"
)

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreIsolatesValues(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	seedWorkflow(t, st, "wf-1")
	run := seedRun(t, st, "wf-1", "run-1")

	// Mutating the caller's map after Create must not leak into the store.
	run.Context["poison"] = true
	got, err := st.Runs().Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got.Context["poison"]; ok {
		t.Error("store shares memory with the caller's map")
	}

	// Mutating a returned map must not leak back into the store.
	got.Context["poison"] = true
	again, err := st.Runs().Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := again.Context["poison"]; ok {
		t.Error("store shares memory with returned values")
	}
}
