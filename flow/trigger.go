package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dagflow/dagflow-go/flow/store"
)

// TriggerRequest describes a request to start a run.
type TriggerRequest struct {
	WorkflowID string
	Type       store.TriggerType
	Input      map[string]any
	// IdempotencyKey, when set, makes StartRun return the run previously
	// created with the same key instead of creating a duplicate.
	IdempotencyKey string
}

// StartRun creates a pending run for a published workflow. The input is
// validated against the workflow's input schema when one is declared. The
// caller drives the run with ExecuteRun.
func (e *Engine) StartRun(ctx context.Context, req TriggerRequest) (*store.Run, error) {
	wf, err := e.store.Workflows().Get(ctx, req.WorkflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engineErrf(ErrCodeWorkflowNotFound, "workflow %q not found", req.WorkflowID)
		}
		return nil, err
	}
	if wf.Status != store.WorkflowPublished {
		return nil, engineErrf(ErrCodeNotPublished, "workflow %q is %s, not published", wf.ID, wf.Status)
	}

	if len(wf.InputSchema) > 0 {
		if err := validateInput(wf.InputSchema, req.Input); err != nil {
			return nil, engineErrf(ErrCodeInvalidInput, "%v", err)
		}
	}

	if req.IdempotencyKey != "" {
		existing, err := e.store.Runs().GetByIdempotencyKey(ctx, req.WorkflowID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	triggerType := req.Type
	if triggerType == "" {
		triggerType = store.TriggerManual
	}
	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	run := &store.Run{
		ID:             uuid.NewString(),
		WorkflowID:     req.WorkflowID,
		Status:         store.RunPending,
		TriggerType:    triggerType,
		Input:          input,
		Context:        map[string]any{"input": input},
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.clock(),
	}
	if err := e.store.Runs().Create(ctx, run); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("run_id", run.ID).
		Str("workflow_id", wf.ID).
		Str("trigger_type", string(triggerType)).
		Msg("run created")
	return run, nil
}

// validateInput checks the run input against a JSON Schema document.
func validateInput(schema []byte, input map[string]any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("input_schema.json", doc); err != nil {
		return err
	}
	compiled, err := compiler.Compile("input_schema.json")
	if err != nil {
		return err
	}
	if input == nil {
		input = map[string]any{}
	}
	// Round-trip through JSON so values take the shapes the validator
	// expects (float64 numbers, []any lists).
	encoded, err := json.Marshal(input)
	if err != nil {
		return err
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	return compiled.Validate(value)
}
