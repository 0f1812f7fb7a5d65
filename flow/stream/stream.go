// Package stream delivers live run progress to clients: a snapshot of the
// run's current state followed by bus events, with the subscription opened
// before the snapshot is read so no event falls between them.
package stream

import (
	"context"
	"fmt"

	"github.com/dagflow/dagflow-go/flow/event"
	"github.com/dagflow/dagflow-go/flow/store"
)

// Snapshot is the first frame of a stream: the run's status, context, and
// the latest state of every step.
type Snapshot struct {
	Type      string          `json:"type"`
	RunID     string          `json:"run_id"`
	RunStatus store.RunStatus `json:"run_status"`
	Context   map[string]any  `json:"context"`
	Steps     []StepState     `json:"steps"`
}

// StepState summarizes the latest attempt of one step.
type StepState struct {
	StepID   string           `json:"step_id"`
	StepType string           `json:"step_type"`
	Status   store.StepStatus `json:"status"`
	Attempt  int              `json:"attempt"`
	Error    string           `json:"error,omitempty"`
}

// Streamer builds run streams over a store and bus.
type Streamer struct {
	store store.Store
	bus   *event.Bus
}

// NewStreamer wires a streamer to the engine's store and bus.
func NewStreamer(st store.Store, bus *event.Bus) *Streamer {
	return &Streamer{store: st, bus: bus}
}

// Stream sends a snapshot frame and then every subsequent bus event for the
// run through send, until the context ends or send fails. The subscription
// is registered before the snapshot is read, so an event raced against the
// snapshot is delivered rather than lost; the client may see a transition
// already reflected in the snapshot and should treat events as idempotent.
func (s *Streamer) Stream(ctx context.Context, runID string, send func(v any) error) error {
	sub := s.bus.Subscribe(runID)
	defer sub.Close()

	snapshot, err := s.snapshot(ctx, runID)
	if err != nil {
		return err
	}
	if err := send(snapshot); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := send(env); err != nil {
				return err
			}
		}
	}
}

func (s *Streamer) snapshot(ctx context.Context, runID string) (*Snapshot, error) {
	run, err := s.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	steps, err := s.store.StepRuns().ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}

	latest := store.LatestAttempts(steps)
	states := make([]StepState, 0, len(latest))
	for _, sr := range latest {
		states = append(states, StepState{
			StepID:   sr.StepID,
			StepType: sr.StepType,
			Status:   sr.Status,
			Attempt:  sr.Attempt,
			Error:    sr.Error,
		})
	}
	return &Snapshot{
		Type:      "snapshot",
		RunID:     runID,
		RunStatus: run.Status,
		Context:   run.Context,
		Steps:     states,
	}, nil
}
