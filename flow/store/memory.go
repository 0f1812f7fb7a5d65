package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process embedding.
// All records are deep-copied on the way in and out so callers can never
// alias internal state.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	runs      map[string]*Run
	stepRuns  map[string][]*StepRun // keyed by run id, insertion order
	events    map[string][]*RunEvent
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*Workflow),
		runs:      make(map[string]*Run),
		stepRuns:  make(map[string][]*StepRun),
		events:    make(map[string][]*RunEvent),
	}
}

func (m *MemoryStore) Workflows() WorkflowStore { return memWorkflows{m} }
func (m *MemoryStore) Runs() RunStore           { return memRuns{m} }
func (m *MemoryStore) StepRuns() StepRunStore   { return memStepRuns{m} }
func (m *MemoryStore) Events() EventStore       { return memEvents{m} }

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error { return nil }

func cloneJSON[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	return cloneJSON(in)
}

func cloneWorkflow(wf *Workflow) *Workflow {
	cp := *wf
	cp.Definition = append(json.RawMessage(nil), wf.Definition...)
	cp.InputSchema = append(json.RawMessage(nil), wf.InputSchema...)
	return &cp
}

func cloneRun(r *Run) *Run {
	cp := *r
	cp.Input = cloneMap(r.Input)
	cp.Context = cloneMap(r.Context)
	return &cp
}

func cloneStepRun(sr *StepRun) *StepRun {
	cp := *sr
	cp.Input = cloneMap(sr.Input)
	cp.Output = cloneMap(sr.Output)
	return &cp
}

func cloneEvent(ev *RunEvent) *RunEvent {
	cp := *ev
	cp.Payload = cloneMap(ev.Payload)
	return &cp
}

type memWorkflows struct{ m *MemoryStore }

func (s memWorkflows) Create(_ context.Context, wf *Workflow) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (s memWorkflows) Get(_ context.Context, id string) (*Workflow, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	wf, ok := s.m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

func (s memWorkflows) Update(_ context.Context, id string, upd WorkflowUpdate) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	wf, ok := s.m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Name != nil {
		wf.Name = *upd.Name
	}
	if upd.Status != nil {
		wf.Status = *upd.Status
	}
	if upd.Definition != nil {
		wf.Definition = append(json.RawMessage(nil), upd.Definition...)
	}
	if upd.InputSchema != nil {
		wf.InputSchema = append(json.RawMessage(nil), upd.InputSchema...)
	}
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (s memWorkflows) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(s.m.workflows, id)
	for runID, run := range s.m.runs {
		if run.WorkflowID == id {
			delete(s.m.runs, runID)
			delete(s.m.stepRuns, runID)
			delete(s.m.events, runID)
		}
	}
	return nil
}

func (s memWorkflows) List(_ context.Context) ([]*Workflow, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]*Workflow, 0, len(s.m.workflows))
	for _, wf := range s.m.workflows {
		out = append(out, cloneWorkflow(wf))
	}
	return out, nil
}

type memRuns struct{ m *MemoryStore }

func (s memRuns) Create(_ context.Context, run *Run) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.runs[run.ID] = cloneRun(run)
	return nil
}

func (s memRuns) Get(_ context.Context, id string) (*Run, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	run, ok := s.m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

func (s memRuns) Update(_ context.Context, id string, upd RunUpdate) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	run, ok := s.m.runs[id]
	if !ok {
		return ErrNotFound
	}
	applyRunUpdate(run, upd)
	return nil
}

func applyRunUpdate(run *Run, upd RunUpdate) {
	if upd.Status != nil {
		run.Status = *upd.Status
	}
	if upd.Error != nil {
		run.Error = *upd.Error
	}
	if upd.Context != nil {
		run.Context = cloneMap(upd.Context)
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		run.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		run.CompletedAt = &t
	}
}

func (s memRuns) ListByWorkflow(_ context.Context, workflowID string) ([]*Run, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*Run
	for _, run := range s.m.runs {
		if run.WorkflowID == workflowID {
			out = append(out, cloneRun(run))
		}
	}
	return out, nil
}

func (s memRuns) GetByIdempotencyKey(_ context.Context, workflowID, key string) (*Run, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, run := range s.m.runs {
		if run.WorkflowID == workflowID && run.IdempotencyKey == key {
			return cloneRun(run), nil
		}
	}
	return nil, ErrNotFound
}

type memStepRuns struct{ m *MemoryStore }

func (s memStepRuns) Create(_ context.Context, sr *StepRun) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	runs := s.m.stepRuns[sr.RunID]
	for i, existing := range runs {
		if existing.StepID == sr.StepID && existing.Attempt == sr.Attempt {
			runs[i] = cloneStepRun(sr)
			return nil
		}
	}
	s.m.stepRuns[sr.RunID] = append(runs, cloneStepRun(sr))
	return nil
}

func (s memStepRuns) ListByRun(_ context.Context, runID string) ([]*StepRun, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	runs := s.m.stepRuns[runID]
	out := make([]*StepRun, 0, len(runs))
	for _, sr := range runs {
		out = append(out, cloneStepRun(sr))
	}
	return out, nil
}

func (s memStepRuns) Update(_ context.Context, runID, stepID string, attempt int, upd StepRunUpdate) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var target *StepRun
	for _, sr := range s.m.stepRuns[runID] {
		if sr.StepID != stepID {
			continue
		}
		if attempt > 0 {
			if sr.Attempt == attempt {
				target = sr
				break
			}
			continue
		}
		if target == nil || sr.Attempt >= target.Attempt {
			target = sr
		}
	}
	if target == nil {
		return ErrNotFound
	}
	applyStepRunUpdate(target, upd)
	return nil
}

func (s memStepRuns) DeleteByStep(_ context.Context, runID, stepID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var kept []*StepRun
	for _, sr := range s.m.stepRuns[runID] {
		if sr.StepID != stepID {
			kept = append(kept, sr)
		}
	}
	s.m.stepRuns[runID] = kept
	return nil
}

func applyStepRunUpdate(sr *StepRun, upd StepRunUpdate) {
	if upd.Status != nil {
		sr.Status = *upd.Status
	}
	if upd.Output != nil {
		sr.Output = cloneMap(upd.Output)
	}
	if upd.Error != nil {
		sr.Error = *upd.Error
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		sr.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		sr.CompletedAt = &t
	}
}

type memEvents struct{ m *MemoryStore }

func (s memEvents) Append(_ context.Context, ev *RunEvent) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.events[ev.RunID] = append(s.m.events[ev.RunID], cloneEvent(ev))
	return nil
}

func (s memEvents) ListByRun(_ context.Context, runID string) ([]*RunEvent, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	events := s.m.events[runID]
	out := make([]*RunEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}
