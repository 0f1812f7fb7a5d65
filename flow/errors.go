package flow

import "fmt"

// EngineError is an error originating in the engine itself rather than in a
// step handler. Code is a stable machine-readable identifier.
type EngineError struct {
	Code    string
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Engine error codes.
const (
	ErrCodeRunNotFound      = "run_not_found"
	ErrCodeWorkflowNotFound = "workflow_not_found"
	ErrCodeNotPublished     = "workflow_not_published"
	ErrCodeInvalidInput     = "invalid_input"
	ErrCodeInvalidGraph     = "invalid_graph"
	ErrCodeUnknownStepType  = "unknown_step_type"
	ErrCodeNotWaiting       = "step_not_waiting"
	ErrCodeRunTerminal      = "run_terminal"
)

func engineErrf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// pauseSignal describes a step that parked the run instead of completing.
type pauseSignal struct {
	StepID string
	Kind   string // "approval" or "event"
	Label  string
	Reason string
}

// stepOutcome is the tagged result of executing one ready step. Exactly one
// of the branches is meaningful: pause, cancelled, or the output/err pair
// interpreted under the step's on_error policy.
type stepOutcome struct {
	node      *Node
	output    map[string]any
	err       error
	pause     *pauseSignal
	cancelled bool
	// skipBranch lists downstream steps to record as skipped when a
	// condition picks the other branch.
	skipBranch []string
}
