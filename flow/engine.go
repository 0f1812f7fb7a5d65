package flow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/dagflow/dagflow-go/flow/event"
	"github.com/dagflow/dagflow-go/flow/step"
	"github.com/dagflow/dagflow-go/flow/store"
)

const defaultMaxConcurrency = 10

// Engine executes workflow runs. It is stateless between invocations of
// ExecuteRun: progress lives entirely in the store, so a run survives
// process restarts, pauses, and failures without checkpoints.
type Engine struct {
	store    store.Store
	bus      *event.Bus
	registry *step.Registry
	log      zerolog.Logger
	metrics  *Metrics
	clock    func() time.Time

	maxConcurrency int64
	runTimeout     time.Duration
	sem            *semaphore.Weighted
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrency bounds how many steps execute at once across a driver
// invocation, including for_each fan-out.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = int64(n)
		}
	}
}

// WithRunTimeout fails any run whose wall-clock age exceeds d. Zero means
// no limit.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.runTimeout = d }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New builds an Engine over a store, an event bus, and a step handler
// registry.
func New(st store.Store, bus *event.Bus, registry *step.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		bus:            bus,
		registry:       registry,
		log:            zerolog.Nop(),
		clock:          func() time.Time { return time.Now().UTC() },
		maxConcurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(e.maxConcurrency)
	return e
}

// ExecuteRun drives a run until it reaches a terminal status or parks
// (pause). It is idempotent: invoking it on a terminal run is a no-op, and
// invoking it on a paused or crashed run continues from the recomputed
// done-set.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) error {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engineErrf(ErrCodeRunNotFound, "run %q not found", runID)
		}
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	wf, err := e.store.Workflows().Get(ctx, run.WorkflowID)
	if err != nil {
		return engineErrf(ErrCodeWorkflowNotFound, "workflow %q not found", run.WorkflowID)
	}
	def, err := ParseDefinition(wf.Definition)
	if err != nil {
		return engineErrf(ErrCodeInvalidGraph, "%v", err)
	}
	g, err := NewGraph(def)
	if err != nil {
		return engineErrf(ErrCodeInvalidGraph, "%v", err)
	}

	invocationStart := e.clock()

	switch run.Status {
	case store.RunPending:
		now := e.clock()
		running := store.RunRunning
		if err := e.store.Runs().Update(ctx, runID, store.RunUpdate{Status: &running, StartedAt: &now}); err != nil {
			return err
		}
		run.Status = running
		run.StartedAt = &now
		e.bus.Emit(ctx, runID, event.RunStarted, "", map[string]any{
			"workflow_id": run.WorkflowID,
			"status":      string(store.RunRunning),
		})
	case store.RunPaused:
		// A parked run is resumed silently; Resume already announced it.
		running := store.RunRunning
		if err := e.store.Runs().Update(ctx, runID, store.RunUpdate{Status: &running}); err != nil {
			return err
		}
		run.Status = running
	}

	for {
		run, err = e.store.Runs().Get(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status == store.RunCancelled {
			e.bus.Emit(ctx, runID, event.RunCancelled, "", map[string]any{
				"status": string(store.RunCancelled),
			})
			e.metrics.recordRun(string(store.RunCancelled))
			return nil
		}
		if run.Status.Terminal() {
			return nil
		}
		if e.runTimeout > 0 && run.StartedAt != nil && e.clock().Sub(*run.StartedAt) > e.runTimeout {
			return e.failRun(ctx, run, "run exceeded the configured timeout")
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		steps, err := e.store.StepRuns().ListByRun(ctx, runID)
		if err != nil {
			return err
		}
		done := make(map[string]bool)
		for _, sr := range store.LatestAttempts(steps) {
			if sr.Status == store.StepCompleted || sr.Status == store.StepSkipped {
				done[sr.StepID] = true
			}
		}

		ready := g.ReadySet(done)
		if len(ready) == 0 {
			return e.completeRun(ctx, run)
		}

		scope := buildScope(run.Context, run.Input)
		outcomes := e.executeBatch(ctx, run, g, ready, scope)

		parked, err := e.reduce(ctx, run, g, invocationStart, outcomes)
		if err != nil || parked {
			return err
		}
	}
}

// executeBatch runs every ready step concurrently under the engine-wide
// semaphore and returns outcomes in ready order.
func (e *Engine) executeBatch(ctx context.Context, run *store.Run, g *Graph, ready []*Node, scope map[string]any) []*stepOutcome {
	outcomes := make([]*stepOutcome, len(ready))
	var wg sync.WaitGroup
	for i, node := range ready {
		wg.Add(1)
		go func(i int, node *Node) {
			defer wg.Done()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = &stepOutcome{node: node, cancelled: true, err: err}
				return
			}
			defer e.sem.Release(1)
			outcomes[i] = e.executeStep(ctx, run, g, node, scope)
		}(i, node)
	}
	wg.Wait()
	return outcomes
}

// reduce applies batch outcomes sequentially in ready order: merging
// outputs into the context, recording branch and policy skips, and deciding
// whether the run parks, fails, or keeps going. Returns parked=true when
// the driver should stop without completing the run.
func (e *Engine) reduce(ctx context.Context, run *store.Run, g *Graph, invocationStart time.Time, outcomes []*stepOutcome) (parked bool, err error) {
	runID := run.ID
	runCtx := deepCopyMap(run.Context)

	for _, out := range outcomes {
		if out == nil {
			continue
		}
		switch {
		case out.cancelled:
			// The loop top re-reads the store; external cancellation is
			// announced there. Context cancellation surfaces here.
			if cerr := ctx.Err(); cerr != nil {
				return true, cerr
			}

		case out.pause != nil:
			paused := store.RunPaused
			if uerr := e.store.Runs().Update(ctx, runID, store.RunUpdate{Status: &paused, Context: runCtx}); uerr != nil {
				return true, uerr
			}
			e.bus.Emit(ctx, runID, event.RunPaused, "", map[string]any{
				"status":          string(store.RunPaused),
				"waiting_step_id": out.pause.StepID,
				"waiting_for":     out.pause.Kind,
				"reason":          out.pause.Reason,
				"duration_ms":     e.clock().Sub(invocationStart).Milliseconds(),
			})
			e.metrics.recordRun(string(store.RunPaused))
			return true, nil

		case out.err != nil:
			pol := PolicyFor(out.node)
			switch pol.OnError {
			case OnErrorSkip:
				skipped := store.StepSkipped
				if uerr := e.store.StepRuns().Update(ctx, runID, out.node.ID, 0, store.StepRunUpdate{Status: &skipped}); uerr != nil {
					return true, uerr
				}
				e.bus.Emit(ctx, runID, event.StepSkipped, out.node.ID, map[string]any{
					"step_id": out.node.ID,
					"status":  string(store.StepSkipped),
					"reason":  out.err.Error(),
				})
			case OnErrorContinue:
				completed := store.StepCompleted
				output := map[string]any{"_error": out.err.Error()}
				if uerr := e.store.StepRuns().Update(ctx, runID, out.node.ID, 0, store.StepRunUpdate{Status: &completed, Output: output}); uerr != nil {
					return true, uerr
				}
				if merr := e.mergeOutput(ctx, runID, runCtx, out.node.ID, output); merr != nil {
					return true, merr
				}
			default:
				run.Context = runCtx
				return true, e.failRunForStep(ctx, run, out.node.ID, out.err.Error())
			}

		default:
			if merr := e.mergeOutput(ctx, runID, runCtx, out.node.ID, out.output); merr != nil {
				return true, merr
			}
			for _, skipID := range out.skipBranch {
				if serr := e.recordBranchSkip(ctx, run.ID, g, skipID, out.node.ID); serr != nil {
					return true, serr
				}
			}
		}
	}
	return false, nil
}

// mergeOutput writes a step output into the run context under the step id,
// persists the new tree, and announces which keys changed.
func (e *Engine) mergeOutput(ctx context.Context, runID string, runCtx map[string]any, stepID string, output map[string]any) error {
	if output == nil {
		output = map[string]any{}
	}
	runCtx[stepID] = output
	if err := e.store.Runs().Update(ctx, runID, store.RunUpdate{Context: runCtx}); err != nil {
		return err
	}
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.bus.Emit(ctx, runID, event.ContextUpdated, stepID, map[string]any{
		"step_id":    stepID,
		"keys_added": keys,
	})
	return nil
}

// recordBranchSkip marks a step on a losing condition branch as skipped so
// the done-set treats it as settled.
func (e *Engine) recordBranchSkip(ctx context.Context, runID string, g *Graph, stepID, conditionID string) error {
	stepType := ""
	if node, ok := g.Node(stepID); ok {
		stepType = node.Type
	}
	err := e.store.StepRuns().Create(ctx, &store.StepRun{
		RunID:    runID,
		StepID:   stepID,
		StepType: stepType,
		Status:   store.StepSkipped,
		Attempt:  1,
	})
	if err != nil {
		return err
	}
	e.bus.Emit(ctx, runID, event.StepSkipped, stepID, map[string]any{
		"step_id": stepID,
		"status":  string(store.StepSkipped),
		"reason":  "branch not taken at " + conditionID,
	})
	return nil
}

func (e *Engine) completeRun(ctx context.Context, run *store.Run) error {
	now := e.clock()
	completed := store.RunCompleted
	if err := e.store.Runs().Update(ctx, run.ID, store.RunUpdate{Status: &completed, CompletedAt: &now}); err != nil {
		return err
	}
	durationMS := int64(0)
	if run.StartedAt != nil {
		durationMS = now.Sub(*run.StartedAt).Milliseconds()
	}
	e.bus.Emit(ctx, run.ID, event.RunCompleted, "", map[string]any{
		"status":      string(store.RunCompleted),
		"duration_ms": durationMS,
	})
	e.metrics.recordRun(string(store.RunCompleted))
	e.log.Info().Str("run_id", run.ID).Int64("duration_ms", durationMS).Msg("run completed")
	return nil
}

func (e *Engine) failRun(ctx context.Context, run *store.Run, msg string) error {
	return e.failRunForStep(ctx, run, "", msg)
}

func (e *Engine) failRunForStep(ctx context.Context, run *store.Run, stepID, msg string) error {
	now := e.clock()
	failed := store.RunFailed
	upd := store.RunUpdate{Status: &failed, Error: &msg, CompletedAt: &now}
	if run.Context != nil {
		upd.Context = run.Context
	}
	if err := e.store.Runs().Update(ctx, run.ID, upd); err != nil {
		return err
	}
	payload := map[string]any{
		"status": string(store.RunFailed),
		"error":  msg,
	}
	if stepID != "" {
		payload["failed_step_id"] = stepID
	}
	e.bus.Emit(ctx, run.ID, event.RunFailed, "", payload)
	e.metrics.recordRun(string(store.RunFailed))
	e.log.Error().Str("run_id", run.ID).Str("step_id", stepID).Str("error", msg).Msg("run failed")
	return nil
}

// Resume completes a waiting step with the supplied data and marks the run
// runnable again. The caller re-invokes ExecuteRun to continue the graph.
func (e *Engine) Resume(ctx context.Context, runID, stepID string, data map[string]any) error {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engineErrf(ErrCodeRunNotFound, "run %q not found", runID)
		}
		return err
	}
	if run.Status != store.RunPaused {
		return engineErrf(ErrCodeNotWaiting, "run %q is %s, not paused", runID, run.Status)
	}

	steps, err := e.store.StepRuns().ListByRun(ctx, runID)
	if err != nil {
		return err
	}
	var waiting *store.StepRun
	for _, sr := range store.LatestAttempts(steps) {
		if sr.StepID == stepID {
			waiting = sr
			break
		}
	}
	if waiting == nil || waiting.Status != store.StepWaiting {
		return engineErrf(ErrCodeNotWaiting, "step %q is not waiting", stepID)
	}

	if data == nil {
		data = map[string]any{}
	}
	now := e.clock()
	completed := store.StepCompleted
	if err := e.store.StepRuns().Update(ctx, runID, stepID, waiting.Attempt, store.StepRunUpdate{
		Status:      &completed,
		Output:      data,
		CompletedAt: &now,
	}); err != nil {
		return err
	}

	runCtx := deepCopyMap(run.Context)
	runCtx[stepID] = data
	running := store.RunRunning
	if err := e.store.Runs().Update(ctx, runID, store.RunUpdate{Status: &running, Context: runCtx}); err != nil {
		return err
	}

	e.bus.Emit(ctx, runID, event.RunResumed, "", map[string]any{
		"status":          string(store.RunRunning),
		"resumed_step_id": stepID,
	})
	return nil
}

// RetryFailed returns a failed run to pending, discarding the attempt
// history of its failed steps so they restart at attempt 1. Completed step
// outputs are untouched, so only the failed subgraph re-executes when the
// caller re-invokes ExecuteRun, which re-announces the run.
func (e *Engine) RetryFailed(ctx context.Context, runID string) error {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engineErrf(ErrCodeRunNotFound, "run %q not found", runID)
		}
		return err
	}
	if run.Status != store.RunFailed {
		return engineErrf(ErrCodeRunTerminal, "run %q is %s, not failed", runID, run.Status)
	}

	steps, err := e.store.StepRuns().ListByRun(ctx, runID)
	if err != nil {
		return err
	}
	for _, sr := range store.LatestAttempts(steps) {
		if sr.Status != store.StepFailed {
			continue
		}
		if err := e.store.StepRuns().DeleteByStep(ctx, runID, sr.StepID); err != nil {
			return err
		}
	}

	pending := store.RunPending
	empty := ""
	return e.store.Runs().Update(ctx, runID, store.RunUpdate{Status: &pending, Error: &empty})
}

// Cancel requests cancellation. A running run is flagged in the store and
// announced by its driver at the next poll; a run with no active driver
// (pending or paused) is announced here.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engineErrf(ErrCodeRunNotFound, "run %q not found", runID)
		}
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	now := e.clock()
	cancelled := store.RunCancelled
	if err := e.store.Runs().Update(ctx, runID, store.RunUpdate{Status: &cancelled, CompletedAt: &now}); err != nil {
		return err
	}
	if run.Status == store.RunPending || run.Status == store.RunPaused {
		e.bus.Emit(ctx, runID, event.RunCancelled, "", map[string]any{
			"status": string(store.RunCancelled),
		})
		e.metrics.recordRun(string(store.RunCancelled))
	}
	return nil
}

