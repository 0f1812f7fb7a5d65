// Package step defines the step handler contract and the builtin handlers:
// http_request, webhook, delay, transform, send_email, database_query,
// inline_expr, llm_call, and the for_each passthrough.
//
// A handler receives its resolved configuration and a read-only view of the
// run context, and returns a JSON-serializable output map that the engine
// merges into the context under the step's id.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MaxOutputBytes caps the serialized size of a step output.
const MaxOutputBytes = 100 * 1024

// Handler executes one step type.
type Handler interface {
	// Execute runs the step. config is fully template-resolved; runContext
	// is a snapshot and must not be mutated.
	Execute(ctx context.Context, config, runContext map[string]any) (map[string]any, error)
	// Metadata describes the handler for catalog surfacing.
	Metadata() Metadata
}

// Metadata describes a handler to workflow authors.
type Metadata struct {
	Label        string         `json:"label"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"config_schema,omitempty"`
}

// PauseError is returned by a handler to park the run instead of completing
// the step. Kind is "approval" or "event".
type PauseError struct {
	Kind   string
	Reason string
}

func (e *PauseError) Error() string {
	return fmt.Sprintf("step paused waiting for %s: %s", e.Kind, e.Reason)
}

// NonRetriableError wraps a failure that must not be retried regardless of
// the step's retry policy.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string { return e.Err.Error() }
func (e *NonRetriableError) Unwrap() error { return e.Err }

// NonRetriable marks an error as not worth retrying.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}

// Registry maps step types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a step type. Re-registering a type is an
// error.
func (r *Registry) Register(stepType string, h Handler) error {
	if stepType == "" {
		return fmt.Errorf("step type cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q cannot be nil", stepType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[stepType]; ok {
		return fmt.Errorf("step type %q already registered", stepType)
	}
	r.handlers[stepType] = h
	return nil
}

// Get returns the handler for a step type.
func (r *Registry) Get(stepType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stepType]
	return h, ok
}

// Has reports whether a handler is registered for the type.
func (r *Registry) Has(stepType string) bool {
	_, ok := r.Get(stepType)
	return ok
}

// Types returns the registered step types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Catalog returns metadata for every registered handler keyed by step type.
func (r *Registry) Catalog() map[string]Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Metadata, len(r.handlers))
	for t, h := range r.handlers {
		out[t] = h.Metadata()
	}
	return out
}

// CapOutput enforces MaxOutputBytes on a step output. Oversized outputs are
// reduced to the keys named by the step's context_fields config; without
// that, or if still oversized after filtering, the step fails.
func CapOutput(output, config map[string]any) (map[string]any, error) {
	size, err := serializedSize(output)
	if err != nil {
		return nil, err
	}
	if size <= MaxOutputBytes {
		return output, nil
	}

	fields, ok := config["context_fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("step output is %d bytes, over the %d byte limit; set context_fields to select what to keep", size, MaxOutputBytes)
	}
	kept := make(map[string]any)
	for _, f := range fields {
		name, ok := f.(string)
		if !ok {
			continue
		}
		if v, exists := output[name]; exists {
			kept[name] = v
		}
	}
	size, err = serializedSize(kept)
	if err != nil {
		return nil, err
	}
	if size > MaxOutputBytes {
		return nil, fmt.Errorf("step output still %d bytes after context_fields filtering, over the %d byte limit", size, MaxOutputBytes)
	}
	return kept, nil
}

func serializedSize(m map[string]any) (int, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("step output is not JSON-serializable: %w", err)
	}
	return len(b), nil
}
