package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ---------------------------------------------------------------------------
// executor.go — ConcurrentActionExecutor: priority-tiered execution with
// rollback.
//
// Actions are partitioned into tiers by exact priority value. Within a
// tier everything runs concurrently; a tier boundary is a hard barrier.
// A system-wide semaphore caps in-flight actions across all responses to
// protect shared downstream resources.
//
// Per-action failures become ExecutionResults, never errors: nothing
// raises across the executor boundary.
// ---------------------------------------------------------------------------

// ExecutionResult records the outcome of one action execution or rollback.
type ExecutionResult struct {
	ActionID         string        `json:"action_id"`
	Success          bool          `json:"success"`
	Error            string        `json:"error,omitempty"`
	ExecutionTime    time.Duration `json:"execution_time"`
	RollbackPossible bool          `json:"rollback_possible"`
}

// AllSucceeded reports whether every result succeeded. A response completes
// iff this holds; any failure yields failed.
func AllSucceeded(results []ExecutionResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// ActionHandler executes and undoes one action type against its external
// collaborator.
type ActionHandler interface {
	Execute(ctx context.Context, action ResponseAction) error
	Rollback(ctx context.Context, action ResponseAction) error
}

// ConcurrentActionExecutor runs response actions with tier barriers and a
// global concurrency cap.
type ConcurrentActionExecutor struct {
	logger   zerolog.Logger
	handlers map[ActionType]ActionHandler
	sem      *semaphore.Weighted
	metrics  *Metrics
}

// NewConcurrentActionExecutor creates an executor. maxConcurrent bounds
// total in-flight actions across all responses; values below 1 default
// to 16.
func NewConcurrentActionExecutor(logger zerolog.Logger, handlers map[ActionType]ActionHandler, maxConcurrent int64, metrics *Metrics) *ConcurrentActionExecutor {
	if maxConcurrent < 1 {
		maxConcurrent = 16
	}
	return &ConcurrentActionExecutor{
		logger:   logger.With().Str("component", "action_executor").Logger(),
		handlers: handlers,
		sem:      semaphore.NewWeighted(maxConcurrent),
		metrics:  metrics,
	}
}

// tiers partitions actions by exact priority value, ordered descending.
// The input is expected to already be priority-descending (the generator
// sorts stably); grouping preserves within-tier order.
func tiers(actions []ResponseAction) [][]ResponseAction {
	sorted := make([]ResponseAction, len(actions))
	copy(sorted, actions)
	SortActions(sorted)

	var out [][]ResponseAction
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].Priority == sorted[i].Priority {
			j++
		}
		out = append(out, sorted[i:j])
		i = j
	}
	return out
}

// ExecuteActions runs the action list tier by tier and returns one result
// per action, in completion-recording order within each tier.
func (e *ConcurrentActionExecutor) ExecuteActions(ctx context.Context, actions []ResponseAction) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(actions))

	for _, tier := range tiers(actions) {
		tierResults := make([]ExecutionResult, len(tier))
		var wg sync.WaitGroup

		for i, action := range tier {
			wg.Add(1)
			go func(i int, action ResponseAction) {
				defer wg.Done()
				tierResults[i] = e.runOne(ctx, action)
			}(i, action)
		}

		// Hard barrier: the next tier never starts until every action in
		// this tier has returned, whether success, failure, or timeout.
		wg.Wait()
		results = append(results, tierResults...)
	}

	return results
}

// runOne executes a single action under the global cap and its own timeout.
// A timeout means "stop waiting and mark failed", not "cancel the in-flight
// call": the handler keeps the parent context and may still complete after
// the result is recorded. Rollback logic tolerates that race.
func (e *ConcurrentActionExecutor) runOne(ctx context.Context, action ResponseAction) ExecutionResult {
	start := time.Now()
	rollbackable := action.RollbackStrategy != ""

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return ExecutionResult{
			ActionID:         action.ActionID,
			Success:          false,
			Error:            fmt.Sprintf("acquiring execution slot: %v", err),
			ExecutionTime:    time.Since(start),
			RollbackPossible: rollbackable,
		}
	}

	handler, ok := e.handlers[action.Type]
	if !ok {
		e.sem.Release(1)
		return ExecutionResult{
			ActionID:         action.ActionID,
			Success:          false,
			Error:            fmt.Sprintf("no handler for action type %s", action.Type),
			ExecutionTime:    time.Since(start),
			RollbackPossible: rollbackable,
		}
	}

	done := make(chan error, 1)
	go func() {
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- handler.Execute(ctx, action)
	}()

	timer := time.NewTimer(action.Timeout)
	defer timer.Stop()

	var result ExecutionResult
	select {
	case err := <-done:
		result = ExecutionResult{
			ActionID:         action.ActionID,
			Success:          err == nil,
			ExecutionTime:    time.Since(start),
			RollbackPossible: rollbackable,
		}
		if err != nil {
			result.Error = err.Error()
		}
	case <-timer.C:
		result = ExecutionResult{
			ActionID:         action.ActionID,
			Success:          false,
			Error:            "action timed out",
			ExecutionTime:    time.Since(start),
			RollbackPossible: rollbackable,
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveAction(action.Type, result.Success)
	}
	e.logger.Debug().
		Str("action_id", action.ActionID).
		Str("type", string(action.Type)).
		Bool("success", result.Success).
		Dur("duration", result.ExecutionTime).
		Msg("action executed")

	return result
}

// RollbackActions re-tiers the action list and walks tiers in the exact
// reverse of execution order, undoing the last-executed tier first.
// Actions without a rollback strategy are recorded as successful no-ops.
// Rollback is idempotent: handlers treat "already undone" as success.
func (e *ConcurrentActionExecutor) RollbackActions(ctx context.Context, actions []ResponseAction) []ExecutionResult {
	grouped := tiers(actions)
	results := make([]ExecutionResult, 0, len(actions))

	for t := len(grouped) - 1; t >= 0; t-- {
		tier := grouped[t]
		tierResults := make([]ExecutionResult, len(tier))
		var wg sync.WaitGroup

		for i, action := range tier {
			wg.Add(1)
			go func(i int, action ResponseAction) {
				defer wg.Done()
				tierResults[i] = e.rollbackOne(ctx, action)
			}(i, action)
		}

		wg.Wait()
		results = append(results, tierResults...)
	}

	return results
}

func (e *ConcurrentActionExecutor) rollbackOne(ctx context.Context, action ResponseAction) ExecutionResult {
	start := time.Now()

	if action.RollbackStrategy == "" {
		return ExecutionResult{
			ActionID:      action.ActionID,
			Success:       true,
			ExecutionTime: time.Since(start),
		}
	}

	handler, ok := e.handlers[action.Type]
	if !ok {
		return ExecutionResult{
			ActionID:      action.ActionID,
			Success:       false,
			Error:         fmt.Sprintf("no handler for action type %s", action.Type),
			ExecutionTime: time.Since(start),
		}
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return ExecutionResult{
			ActionID:      action.ActionID,
			Success:       false,
			Error:         fmt.Sprintf("acquiring execution slot: %v", err),
			ExecutionTime: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() {
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("rollback panicked: %v", r)
			}
		}()
		done <- handler.Rollback(ctx, action)
	}()

	timer := time.NewTimer(action.Timeout)
	defer timer.Stop()

	var result ExecutionResult
	select {
	case err := <-done:
		result = ExecutionResult{
			ActionID:      action.ActionID,
			Success:       err == nil,
			ExecutionTime: time.Since(start),
		}
		if err != nil {
			result.Error = err.Error()
		}
	case <-timer.C:
		result = ExecutionResult{
			ActionID:      action.ActionID,
			Success:       false,
			Error:         "rollback timed out",
			ExecutionTime: time.Since(start),
		}
	}

	e.logger.Debug().
		Str("action_id", action.ActionID).
		Str("strategy", action.RollbackStrategy).
		Bool("success", result.Success).
		Msg("action rolled back")

	return result
}
