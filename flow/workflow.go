package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dagflow/dagflow-go/flow/store"
)

// CreateWorkflow stores a new draft workflow. The definition is parsed to
// catch malformed documents early but is not validated until publication.
func (e *Engine) CreateWorkflow(ctx context.Context, name string, definition, inputSchema json.RawMessage) (*store.Workflow, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("workflow name cannot be empty")
	}
	if _, err := ParseDefinition(definition); err != nil {
		return nil, err
	}
	now := e.clock()
	wf := &store.Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Version:     1,
		Status:      store.WorkflowDraft,
		Definition:  definition,
		InputSchema: inputSchema,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Workflows().Create(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateWorkflowDefinition replaces a draft's definition. Published
// definitions are frozen; duplicate the workflow to edit it.
func (e *Engine) UpdateWorkflowDefinition(ctx context.Context, id string, definition json.RawMessage) error {
	wf, err := e.getWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status != store.WorkflowDraft {
		return engineErrf(ErrCodeNotPublished, "workflow %q is %s; only drafts can be edited", id, wf.Status)
	}
	if _, err := ParseDefinition(definition); err != nil {
		return err
	}
	return e.store.Workflows().Update(ctx, id, store.WorkflowUpdate{Definition: definition})
}

// PublishWorkflow validates a draft and, if clean, freezes it as published.
func (e *Engine) PublishWorkflow(ctx context.Context, id string) error {
	wf, err := e.getWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status == store.WorkflowPublished {
		return nil
	}
	if wf.Status == store.WorkflowArchived {
		return engineErrf(ErrCodeNotPublished, "workflow %q is archived", id)
	}
	def, err := ParseDefinition(wf.Definition)
	if err != nil {
		return err
	}
	if problems := Validate(def, e.registry); len(problems) > 0 {
		return engineErrf(ErrCodeInvalidGraph, "workflow %q failed validation: %s", id, strings.Join(problems, "; "))
	}
	published := store.WorkflowPublished
	return e.store.Workflows().Update(ctx, id, store.WorkflowUpdate{Status: &published})
}

// ArchiveWorkflow retires a workflow from triggering. Existing runs keep
// their frozen definitions.
func (e *Engine) ArchiveWorkflow(ctx context.Context, id string) error {
	if _, err := e.getWorkflow(ctx, id); err != nil {
		return err
	}
	archived := store.WorkflowArchived
	return e.store.Workflows().Update(ctx, id, store.WorkflowUpdate{Status: &archived})
}

// DuplicateWorkflow copies a workflow into a fresh draft with a bumped
// version, the editable path for published definitions.
func (e *Engine) DuplicateWorkflow(ctx context.Context, id, newName string) (*store.Workflow, error) {
	src, err := e.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		newName = src.Name + " (copy)"
	}
	now := e.clock()
	copy := &store.Workflow{
		ID:          uuid.NewString(),
		Name:        newName,
		Version:     src.Version + 1,
		Status:      store.WorkflowDraft,
		Definition:  src.Definition,
		InputSchema: src.InputSchema,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Workflows().Create(ctx, copy); err != nil {
		return nil, err
	}
	return copy, nil
}

func (e *Engine) getWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	wf, err := e.store.Workflows().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engineErrf(ErrCodeWorkflowNotFound, "workflow %q not found", id)
		}
		return nil, err
	}
	return wf, nil
}
