package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dagflow/dagflow-go/flow/event"
	"github.com/dagflow/dagflow-go/flow/step"
	"github.com/dagflow/dagflow-go/flow/store"
)

// summaryKeyLimit bounds how many output keys a step.completed event
// carries.
const summaryKeyLimit = 5

// executeStep runs one ready node to an outcome. Wait steps park
// immediately; everything else goes through the retry loop.
func (e *Engine) executeStep(ctx context.Context, run *store.Run, g *Graph, node *Node, scope map[string]any) *stepOutcome {
	switch node.Type {
	case TypeWaitForApproval, TypeWaitForEvent:
		return e.executeWait(ctx, run, node, scope)
	}

	var (
		runFn func(ctx context.Context) (map[string]any, error)
		input map[string]any
	)
	switch node.Type {
	case TypeCondition:
		raw, _ := node.Data.Config["expression"].(string)
		if strings.TrimSpace(raw) == "" {
			return e.failImmediately(ctx, run, node,
				step.NonRetriable(fmt.Errorf("condition has no expression")))
		}
		resolved, err := ResolveValue(raw, scope)
		if err != nil {
			return e.failImmediately(ctx, run, node, step.NonRetriable(err))
		}
		// The attempt record carries the template-resolved expression, not
		// the raw one.
		input = map[string]any{"expression": resolved}
		runFn = func(context.Context) (map[string]any, error) {
			return evalCondition(resolved, scope)
		}
	case TypeForEach:
		input = node.Data.Config
		runFn = func(ctx context.Context) (map[string]any, error) {
			return e.runForEach(ctx, node, scope)
		}
	default:
		handler, ok := e.registry.Get(node.Type)
		if !ok {
			return e.failImmediately(ctx, run, node,
				engineErrf(ErrCodeUnknownStepType, "no handler registered for step type %q", node.Type))
		}
		resolved, err := ResolveConfig(node.Data.Config, scope)
		if err != nil {
			return e.failImmediately(ctx, run, node, err)
		}
		input = resolved
		runFn = func(ctx context.Context) (map[string]any, error) {
			output, err := handler.Execute(ctx, resolved, scope)
			if err != nil {
				return nil, err
			}
			return step.CapOutput(output, resolved)
		}
	}

	out := e.runAttempts(ctx, run, node, input, runFn)
	if out.err == nil && out.pause == nil && !out.cancelled && node.Type == TypeCondition {
		branch, _ := out.output["branch"].(string)
		losing := "false"
		if branch == "false" {
			losing = "true"
		}
		out.skipBranch = g.ExclusiveBranchNodes(node.ID, losing)
	}
	return out
}

// evalCondition safe-evaluates the already-resolved expression and coerces
// the result to a branch.
func evalCondition(resolved any, scope map[string]any) (map[string]any, error) {
	value := resolved
	if src, ok := resolved.(string); ok {
		v, err := SafeEval(src, scope)
		if err != nil {
			return nil, step.NonRetriable(err)
		}
		value = v
	}
	result := Truthy(value)
	branch := "false"
	if result {
		branch = "true"
	}
	return map[string]any{"result": result, "branch": branch}, nil
}

// runAttempts drives the retry loop for one node: one step attempt record
// and one started event per attempt, backoff between failures, and a single
// failed event once attempts are exhausted.
func (e *Engine) runAttempts(ctx context.Context, run *store.Run, node *Node, input map[string]any, runFn func(context.Context) (map[string]any, error)) *stepOutcome {
	pol := PolicyFor(node)
	var lastErr error
	lastAttempt := 0

	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		lastAttempt = attempt
		if err := ctx.Err(); err != nil {
			return &stepOutcome{node: node, cancelled: true, err: err}
		}

		started := e.clock()
		if err := e.store.StepRuns().Create(ctx, &store.StepRun{
			RunID:     run.ID,
			StepID:    node.ID,
			StepType:  node.Type,
			Status:    store.StepRunning,
			Attempt:   attempt,
			Input:     input,
			StartedAt: &started,
		}); err != nil {
			return &stepOutcome{node: node, err: err}
		}
		e.bus.Emit(ctx, run.ID, event.StepStarted, node.ID, map[string]any{
			"step_id":    node.ID,
			"step_type":  node.Type,
			"step_label": nodeLabel(node),
			"attempt":    attempt,
		})
		e.metrics.stepStarted()

		output, err := runWithTimeout(ctx, pol.Timeout, runFn)
		duration := e.clock().Sub(started)
		e.metrics.stepFinished()

		if err == nil {
			now := e.clock()
			completed := store.StepCompleted
			if uerr := e.store.StepRuns().Update(ctx, run.ID, node.ID, attempt, store.StepRunUpdate{
				Status:      &completed,
				Output:      output,
				CompletedAt: &now,
			}); uerr != nil {
				return &stepOutcome{node: node, err: uerr}
			}
			e.metrics.recordStep(node.Type, string(store.StepCompleted), duration)
			e.bus.Emit(ctx, run.ID, event.StepCompleted, node.ID, map[string]any{
				"step_id":        node.ID,
				"step_type":      node.Type,
				"status":         string(store.StepCompleted),
				"attempt":        attempt,
				"duration_ms":    duration.Milliseconds(),
				"output_summary": outputSummary(output),
			})
			return &stepOutcome{node: node, output: output}
		}

		var pauseErr *step.PauseError
		if errors.As(err, &pauseErr) {
			waiting := store.StepWaiting
			if uerr := e.store.StepRuns().Update(ctx, run.ID, node.ID, attempt, store.StepRunUpdate{Status: &waiting}); uerr != nil {
				return &stepOutcome{node: node, err: uerr}
			}
			e.bus.Emit(ctx, run.ID, event.StepWaiting, node.ID, map[string]any{
				"step_id":     node.ID,
				"step_type":   node.Type,
				"status":      string(store.StepWaiting),
				"waiting_for": pauseErr.Kind,
				"label":       nodeLabel(node),
			})
			return &stepOutcome{node: node, pause: &pauseSignal{
				StepID: node.ID,
				Kind:   pauseErr.Kind,
				Label:  nodeLabel(node),
				Reason: pauseErr.Reason,
			}}
		}

		lastErr = err
		now := e.clock()
		failed := store.StepFailed
		msg := err.Error()
		if uerr := e.store.StepRuns().Update(ctx, run.ID, node.ID, attempt, store.StepRunUpdate{
			Status:      &failed,
			Error:       &msg,
			CompletedAt: &now,
		}); uerr != nil {
			return &stepOutcome{node: node, err: uerr}
		}
		e.metrics.recordStep(node.Type, string(store.StepFailed), duration)

		if ctx.Err() != nil {
			return &stepOutcome{node: node, cancelled: true, err: err}
		}

		var nonRetriable *step.NonRetriableError
		if attempt < pol.MaxAttempts && !errors.As(err, &nonRetriable) {
			backoff := pol.Backoff(attempt)
			e.metrics.recordRetry(node.Type)
			e.bus.Emit(ctx, run.ID, event.StepRetrying, node.ID, map[string]any{
				"step_id":         node.ID,
				"step_type":       node.Type,
				"attempt":         attempt,
				"max_attempts":    pol.MaxAttempts,
				"next_attempt":    attempt + 1,
				"backoff_seconds": backoff.Seconds(),
				"error":           msg,
			})
			if !e.sleep(ctx, backoff) {
				return &stepOutcome{node: node, cancelled: true, err: ctx.Err()}
			}
			continue
		}
		break
	}

	e.bus.Emit(ctx, run.ID, event.StepFailed, node.ID, map[string]any{
		"step_id":   node.ID,
		"step_type": node.Type,
		"status":    string(store.StepFailed),
		"error":     lastErr.Error(),
		"attempt":   lastAttempt,
	})
	return &stepOutcome{node: node, err: lastErr}
}

// failImmediately records a single failed attempt for errors that precede
// execution, such as unresolvable templates or an unknown step type.
func (e *Engine) failImmediately(ctx context.Context, run *store.Run, node *Node, cause error) *stepOutcome {
	now := e.clock()
	msg := cause.Error()
	if err := e.store.StepRuns().Create(ctx, &store.StepRun{
		RunID:       run.ID,
		StepID:      node.ID,
		StepType:    node.Type,
		Status:      store.StepFailed,
		Attempt:     1,
		Error:       msg,
		StartedAt:   &now,
		CompletedAt: &now,
	}); err != nil {
		return &stepOutcome{node: node, err: err}
	}
	e.metrics.recordStep(node.Type, string(store.StepFailed), 0)
	e.bus.Emit(ctx, run.ID, event.StepFailed, node.ID, map[string]any{
		"step_id":   node.ID,
		"step_type": node.Type,
		"status":    string(store.StepFailed),
		"error":     msg,
		"attempt":   1,
	})
	return &stepOutcome{node: node, err: cause}
}

// executeWait parks the run on an approval or external event. The waiting
// attempt stays in place until Resume completes it.
func (e *Engine) executeWait(ctx context.Context, run *store.Run, node *Node, scope map[string]any) *stepOutcome {
	kind := "approval"
	if node.Type == TypeWaitForEvent {
		kind = "event"
	}

	input, err := ResolveConfig(node.Data.Config, scope)
	if err != nil {
		return e.failImmediately(ctx, run, node, err)
	}
	reason, _ := input["reason"].(string)
	if reason == "" {
		reason = nodeLabel(node)
	}

	started := e.clock()
	if err := e.store.StepRuns().Create(ctx, &store.StepRun{
		RunID:     run.ID,
		StepID:    node.ID,
		StepType:  node.Type,
		Status:    store.StepWaiting,
		Attempt:   1,
		Input:     input,
		StartedAt: &started,
	}); err != nil {
		return &stepOutcome{node: node, err: err}
	}
	e.bus.Emit(ctx, run.ID, event.StepWaiting, node.ID, map[string]any{
		"step_id":     node.ID,
		"step_type":   node.Type,
		"status":      string(store.StepWaiting),
		"waiting_for": kind,
		"label":       nodeLabel(node),
	})
	return &stepOutcome{node: node, pause: &pauseSignal{
		StepID: node.ID,
		Kind:   kind,
		Label:  nodeLabel(node),
		Reason: reason,
	}}
}

// runForEach resolves the items list and fans the configured handler out
// over it. Item failures are recorded inline and never fail the node; the
// passthrough form (no handler) just reports the items.
func (e *Engine) runForEach(ctx context.Context, node *Node, scope map[string]any) (map[string]any, error) {
	rawItems, ok := node.Data.Config["items"]
	if !ok {
		return nil, step.NonRetriable(fmt.Errorf("for_each has no items"))
	}
	resolved, err := ResolveValue(rawItems, scope)
	if err != nil {
		return nil, step.NonRetriable(err)
	}
	items, ok := resolved.([]any)
	if !ok {
		return nil, step.NonRetriable(fmt.Errorf("for_each items must resolve to a list, got %T", resolved))
	}

	handlerName, _ := node.Data.Config["handler"].(string)
	itemConfig, _ := node.Data.Config["item_config"].(map[string]any)
	if handlerName == "" || itemConfig == nil {
		return map[string]any{
			"items":   items,
			"count":   len(items),
			"results": []any{},
		}, nil
	}

	handler, ok := e.registry.Get(handlerName)
	if !ok {
		return nil, step.NonRetriable(fmt.Errorf("for_each handler %q is not registered", handlerName))
	}

	maxParallel := int64(1)
	if v, ok := node.Data.Config["max_parallel"].(float64); ok && v >= 1 {
		maxParallel = int64(v)
	}
	sem := semaphore.NewWeighted(maxParallel)

	results := make([]any, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = map[string]any{"_error": err.Error(), "_index": i}
				return
			}
			defer sem.Release(1)

			itemScope := deepCopyMap(scope)
			itemScope["_item"] = item
			itemScope["_index"] = i

			cfg, err := ResolveConfig(itemConfig, itemScope)
			if err != nil {
				results[i] = map[string]any{"_error": err.Error(), "_index": i}
				return
			}
			out, err := handler.Execute(ctx, cfg, itemScope)
			if err != nil {
				results[i] = map[string]any{"_error": err.Error(), "_index": i}
				return
			}
			results[i] = out
		}(i, item)
	}
	wg.Wait()

	return map[string]any{
		"items":   items,
		"count":   len(items),
		"results": results,
	}, nil
}

// runWithTimeout applies a per-attempt timeout around the step body. The
// body runs in its own goroutine so a handler that ignores its context
// cannot wedge the driver.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		output map[string]any
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		output, err := fn(ctx)
		ch <- result{output, err}
	}()

	select {
	case r := <-ch:
		return r.output, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && timeout > 0 {
			return nil, fmt.Errorf("step timed out after %s", timeout)
		}
		return nil, ctx.Err()
	}
}

// sleep waits for d or until the context is cancelled, reporting whether
// the full duration elapsed.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// outputSummary trims an output map to a handful of keys for event
// payloads; the full output stays in the step attempt record.
func outputSummary(output map[string]any) map[string]any {
	if output == nil {
		return map[string]any{}
	}
	if len(output) <= summaryKeyLimit {
		return output
	}
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	summary := make(map[string]any, summaryKeyLimit+2)
	for _, k := range keys[:summaryKeyLimit] {
		summary[k] = output[k]
	}
	summary["_truncated"] = true
	summary["_total_keys"] = len(output)
	return summary
}

func nodeLabel(node *Node) string {
	if node.Data.Label != "" {
		return node.Data.Label
	}
	return node.ID
}
