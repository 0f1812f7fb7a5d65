// Package event provides the run event bus: a persist-first, non-blocking
// fan-out of execution events to per-run subscribers and global listeners.
//
// Every state transition in a run is described by an Envelope. Envelopes are
// written to durable storage before any subscriber sees them, so the persisted
// event log is always a superset of what any live consumer observed.
package event

import "time"

// Event types emitted over the lifetime of a run.
const (
	RunStarted   = "run.started"
	RunCompleted = "run.completed"
	RunFailed    = "run.failed"
	RunPaused    = "run.paused"
	RunResumed   = "run.resumed"
	RunCancelled = "run.cancelled"

	StepStarted   = "step.started"
	StepCompleted = "step.completed"
	StepFailed    = "step.failed"
	StepSkipped   = "step.skipped"
	StepWaiting   = "step.waiting"
	StepRetrying  = "step.retrying"

	ContextUpdated = "context.updated"
)

// Envelope is the wire form of a single run event. Type and EventType carry
// the same value; both are kept in the serialized form for consumers that
// discriminate frames by either key.
type Envelope struct {
	Type      string         `json:"type"`
	EventType string         `json:"event_type"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEnvelope builds an Envelope stamped with the current UTC time.
func NewEnvelope(runID, eventType, stepID string, payload map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		Type:      eventType,
		EventType: eventType,
		RunID:     runID,
		StepID:    stepID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
