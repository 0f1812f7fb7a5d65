// Package flow implements a durable workflow engine: directed acyclic graphs
// of typed steps executed in dependency order with per-step retry policies,
// conditional branching, fan-out, pause/resume, and an append-only event log.
//
// A workflow is described by a Definition (nodes and edges), validated with
// Validate, and executed by an Engine against a store.Store. Execution is
// resumable: the engine recomputes the set of finished steps from persisted
// step attempts, so a crashed or paused run continues from where it stopped.
package flow

import (
	"encoding/json"
	"fmt"
)

// Step types the engine dispatches on directly. Every other type is resolved
// through the step handler registry.
const (
	TypeCondition       = "condition"
	TypeWaitForApproval = "wait_for_approval"
	TypeWaitForEvent    = "wait_for_event"
	TypeForEach         = "for_each"
)

// Definition is the node/edge document describing a workflow.
type Definition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one step in a workflow.
type Node struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData carries the step configuration and its execution policy fields.
// Zero policy fields fall back to defaults (one attempt, fixed backoff with
// base 2, no timeout, on_error fail).
type NodeData struct {
	Label           string         `json:"label,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	MaxAttempts     int            `json:"max_attempts,omitempty"`
	BackoffStrategy string         `json:"backoff_strategy,omitempty"`
	BackoffBase     float64        `json:"backoff_base,omitempty"`
	TimeoutSeconds  float64        `json:"timeout_seconds,omitempty"`
	OnError         string         `json:"on_error,omitempty"`
}

// Edge is a directed dependency between two nodes. SourceHandle or
// Data.Condition labels edges leaving a condition node with the branch
// ("true" or "false") they belong to.
type Edge struct {
	ID           string    `json:"id,omitempty"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	SourceHandle string    `json:"sourceHandle,omitempty"`
	Data         *EdgeData `json:"data,omitempty"`
}

// EdgeData holds optional edge attributes.
type EdgeData struct {
	Condition string `json:"condition,omitempty"`
}

// ConditionLabel returns the branch label for an edge leaving a condition
// node: data.condition when present, else sourceHandle.
func (e *Edge) ConditionLabel() string {
	if e.Data != nil && e.Data.Condition != "" {
		return e.Data.Condition
	}
	return e.SourceHandle
}

// ParseDefinition decodes a JSON workflow definition document.
func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &def, nil
}
