// Package store defines the persistence contract for workflows, runs, step
// runs, and the append-only run event log, together with memory, SQLite, and
// MySQL backends.
//
// The engine is stateless between driver invocations: everything needed to
// resume a run is recomputed from the records kept here.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RunStatus is the lifecycle state of a run. completed, failed, and cancelled
// are terminal; a terminal run is never mutated again.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the state of one step attempt.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepWaiting   StepStatus = "waiting"
	StepCancelled StepStatus = "cancelled"
)

// WorkflowStatus is the publication state of a workflow definition.
// Only published workflows can be run; published definitions are frozen.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "draft"
	WorkflowPublished WorkflowStatus = "published"
	WorkflowArchived  WorkflowStatus = "archived"
)

// TriggerType records what started a run.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerEvent    TriggerType = "event"
)

// Workflow is a stored workflow definition. Definition holds the node/edge
// document as submitted; InputSchema, when present, is a JSON Schema applied
// to run input at trigger time.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	Status      WorkflowStatus  `json:"status"`
	Definition  json.RawMessage `json:"definition"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Run is one execution of a workflow. Context is the shared JSON tree that
// step outputs merge into under their step id.
type Run struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Status         RunStatus      `json:"status"`
	TriggerType    TriggerType    `json:"trigger_type"`
	Input          map[string]any `json:"input,omitempty"`
	Context        map[string]any `json:"context"`
	Error          string         `json:"error,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// StepRun is one attempt of one step within a run. (RunID, StepID, Attempt)
// is unique; creating a record for an existing triple replaces it.
type StepRun struct {
	RunID       string         `json:"run_id"`
	StepID      string         `json:"step_id"`
	StepType    string         `json:"step_type"`
	Status      StepStatus     `json:"status"`
	Attempt     int            `json:"attempt"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunEvent is one persisted bus event. IDs are ULIDs so the log sorts
// lexicographically in emission order.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunUpdate is a partial update; nil fields are left untouched. Context
// replaces the whole context tree when non-nil.
type RunUpdate struct {
	Status      *RunStatus
	Error       *string
	Context     map[string]any
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StepRunUpdate is a partial update applied to one step attempt.
type StepRunUpdate struct {
	Status      *StepStatus
	Output      map[string]any
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// WorkflowUpdate is a partial update to a stored workflow.
type WorkflowUpdate struct {
	Name        *string
	Status      *WorkflowStatus
	Definition  json.RawMessage
	InputSchema json.RawMessage
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	Create(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	Update(ctx context.Context, id string, upd WorkflowUpdate) error
	// Delete removes the workflow and cascades to its runs, step runs, and
	// events.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Workflow, error)
}

// RunStore persists runs.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, id string, upd RunUpdate) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Run, error)
	// GetByIdempotencyKey returns the run previously created for the key,
	// or ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, workflowID, key string) (*Run, error)
}

// StepRunStore persists step attempts.
type StepRunStore interface {
	// Create inserts an attempt, replacing any existing record with the same
	// (run, step, attempt) triple.
	Create(ctx context.Context, sr *StepRun) error
	// ListByRun returns all attempts for a run ordered by creation.
	ListByRun(ctx context.Context, runID string) ([]*StepRun, error)
	// Update applies a partial update to one attempt. attempt <= 0 targets
	// the latest attempt recorded for the step.
	Update(ctx context.Context, runID, stepID string, attempt int, upd StepRunUpdate) error
	// DeleteByStep removes every attempt recorded for one step of a run, so a
	// later re-execution starts back at attempt 1. Deleting a step with no
	// attempts is a no-op.
	DeleteByStep(ctx context.Context, runID, stepID string) error
}

// EventStore persists the append-only run event log.
type EventStore interface {
	Append(ctx context.Context, ev *RunEvent) error
	ListByRun(ctx context.Context, runID string) ([]*RunEvent, error)
}

// Store bundles the four record stores behind one handle.
type Store interface {
	Workflows() WorkflowStore
	Runs() RunStore
	StepRuns() StepRunStore
	Events() EventStore
	Close() error
}

// LatestAttempts reduces a run's step attempts to the most recent attempt per
// step id, preserving first-seen step order.
func LatestAttempts(steps []*StepRun) []*StepRun {
	latest := make(map[string]*StepRun, len(steps))
	order := make([]string, 0, len(steps))
	for _, sr := range steps {
		cur, ok := latest[sr.StepID]
		if !ok {
			order = append(order, sr.StepID)
			latest[sr.StepID] = sr
			continue
		}
		if sr.Attempt >= cur.Attempt {
			latest[sr.StepID] = sr
		}
	}
	out := make([]*StepRun, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}
