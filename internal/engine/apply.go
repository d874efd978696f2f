package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/logging"
	"github.com/shopforge-io/shopforge/internal/provider"
	"github.com/shopforge-io/shopforge/internal/state"
)

// ApplyEvent is a progress event emitted while applying a ChangeSet.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "applied", "failed", "skipped"
	Duration time.Duration
	Err      error
}

// ApplyCallback receives apply progress events.
type ApplyCallback func(ApplyEvent)

// Apply executes a ChangeSet against the providers, updating the state
// store after each successful change. The caller must already hold the
// scope lock. Changes run in two phases, deletes then creates/updates;
// within a phase, independent changes run concurrently up to
// e.Parallelism while dependents wait for their dependencies.
//
// A failed change marks all its transitive dependents skipped; unrelated
// branches continue. The returned report carries a labeled outcome per
// change. Only cancellation aborts the run early, and only between
// changes.
func (e *Engine) Apply(ctx context.Context, cs *ir.ChangeSet, store state.Store, callback ApplyCallback) (*ir.ApplyReport, error) {
	report := &ir.ApplyReport{
		Scope:     cs.Scope,
		StartedAt: time.Now().UTC(),
	}

	run := &applyRun{
		engine:    e,
		store:     store,
		callback:  callback,
		completed: make(map[string]bool),
		failed:    make(map[string]string),
		results:   make(map[*ir.Change]*ir.ChangeResult),
	}
	run.cond = sync.NewCond(&run.mu)

	var deletes, upserts []*ir.Change
	for _, c := range cs.Changes {
		if c.Action == ir.ActionDelete {
			deletes = append(deletes, c)
		} else {
			upserts = append(upserts, c)
		}
	}

	run.phase(ctx, deletes)
	run.phase(ctx, upserts)

	for _, c := range cs.Changes {
		report.Results = append(report.Results, run.results[c])
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("apply cancelled: %w", err)
	}
	return report, nil
}

// applyRun tracks completion across both phases of one apply, so a failed
// replace-delete also blocks the create that would reuse its name.
type applyRun struct {
	engine   *Engine
	store    state.Store
	callback ApplyCallback

	mu        sync.Mutex
	cond      *sync.Cond
	completed map[string]bool
	failed    map[string]string // address -> root failed address
	results   map[*ir.Change]*ir.ChangeResult
}

func (r *applyRun) emit(event ApplyEvent) {
	if r.callback != nil {
		r.callback(event)
	}
}

func (r *applyRun) phase(ctx context.Context, changes []*ir.Change) {
	if len(changes) == 0 {
		return
	}

	parallelism := r.engine.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.Change) {
			defer wg.Done()
			r.runChange(ctx, c, sem)
		}(change)
	}
	wg.Wait()
}

func (r *applyRun) runChange(ctx context.Context, c *ir.Change, sem chan struct{}) {
	// Wait until every dependency has completed, or skip if one failed.
	r.mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			r.finishLocked(c, &ir.ChangeResult{
				Address: c.Address,
				Action:  c.Action,
				Outcome: ir.OutcomeSkipped,
				Error:   "apply cancelled",
			})
			r.mu.Unlock()
			return
		}

		if root, ok := r.blockerLocked(c); ok {
			r.failed[c.Address] = root
			r.finishLocked(c, &ir.ChangeResult{
				Address:   c.Address,
				Action:    c.Action,
				Outcome:   ir.OutcomeSkipped,
				BlockedOn: root,
			})
			r.mu.Unlock()
			r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped"})
			return
		}

		if r.depsReadyLocked(c) {
			break
		}
		r.cond.Wait()
	}
	r.mu.Unlock()

	sem <- struct{}{}
	defer func() { <-sem }()

	start := time.Now()
	r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

	err := r.engine.applyChange(ctx, c, r.store)
	duration := time.Since(start)

	r.mu.Lock()
	if err != nil {
		r.failed[c.Address] = c.Address
		r.finishLocked(c, &ir.ChangeResult{
			Address:  c.Address,
			Action:   c.Action,
			Outcome:  ir.OutcomeFailed,
			Error:    err.Error(),
			Duration: duration,
		})
		r.mu.Unlock()
		r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: duration, Err: err})
		return
	}

	r.completed[c.Address] = true
	r.finishLocked(c, &ir.ChangeResult{
		Address:  c.Address,
		Action:   c.Action,
		Outcome:  ir.OutcomeApplied,
		Duration: duration,
	})
	r.mu.Unlock()
	r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "applied", Duration: duration})
}

// blockerLocked returns the root failed address blocking c, if any. For a
// create it also checks c's own address, which covers a failed
// replace-delete from the earlier phase.
func (r *applyRun) blockerLocked(c *ir.Change) (string, bool) {
	if c.Action != ir.ActionDelete {
		if root, ok := r.failed[c.Address]; ok {
			return root, true
		}
	}
	for _, dep := range c.DependsOn {
		if root, ok := r.failed[dep]; ok {
			return root, true
		}
	}
	return "", false
}

func (r *applyRun) depsReadyLocked(c *ir.Change) bool {
	for _, dep := range c.DependsOn {
		if !r.completed[dep] {
			return false
		}
	}
	return true
}

func (r *applyRun) finishLocked(c *ir.Change, res *ir.ChangeResult) {
	r.results[c] = res
	r.cond.Broadcast()
}

// applyChange executes one change: resolve references, call the provider
// with per-call timeouts and transient-error retry, then write the state
// record at the next version.
func (e *Engine) applyChange(ctx context.Context, c *ir.Change, store state.Store) error {
	logging.Debug("applying change", "address", c.Address, "action", c.Action)

	switch c.Action {
	case ir.ActionDelete:
		prov, err := e.registry.Get(c.Prior.Provider)
		if err != nil {
			return err
		}
		err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
			callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
			defer cancel()
			return prov.DeleteResource(callCtx, c.Prior.Kind, c.Prior.ID)
		}, provider.IsTransient)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", c.Address, err)
		}
		return store.Delete(ctx, c.Address, c.Prior.Version)

	case ir.ActionCreate, ir.ActionUpdate:
		prov, err := e.registry.Get(c.Desired.Provider)
		if err != nil {
			return err
		}

		resolved, err := resolveRefs(ctx, normalizeAttrs(c.Desired.Attributes), store)
		if err != nil {
			return fmt.Errorf("failed to resolve references for %s: %w", c.Address, err)
		}
		attrs := resolved.(map[string]any)

		var result *provider.Result
		err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
			callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
			defer cancel()
			var callErr error
			if c.Action == ir.ActionCreate {
				result, callErr = prov.CreateResource(callCtx, c.Desired.Kind, c.Desired.Name, attrs)
			} else {
				result, callErr = prov.UpdateResource(callCtx, c.Desired.Kind, c.Prior.ID, attrs)
			}
			return callErr
		}, provider.IsTransient)
		if err != nil {
			return fmt.Errorf("%s failed for %s: %w", strings.ToLower(string(c.Action)), c.Address, err)
		}

		rec := &ir.StateRecord{
			Kind:         c.Desired.Kind,
			Name:         c.Desired.Name,
			Provider:     c.Desired.Provider,
			Attrs:        normalizeAttrs(c.Desired.Attributes),
			Dependencies: c.RecordDeps,
		}
		var base int64
		if c.Action == ir.ActionCreate {
			rec.ID = result.ID
			rec.Outputs = result.Outputs
		} else {
			base = c.Prior.Version
			rec.ID = c.Prior.ID
			rec.Outputs = c.Prior.Outputs
			if result != nil && result.Outputs != nil {
				rec.Outputs = result.Outputs
			}
		}
		return store.Put(ctx, rec, base)
	}

	return fmt.Errorf("unsupported change action: %s", c.Action)
}

// resolveRefs replaces every ref:// expression with the referenced
// record's output (or declared) attribute value. Dependencies complete
// before their dependents start, so the records are present by the time
// a reference is resolved.
func resolveRefs(ctx context.Context, v any, store state.Store) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, RefPrefix) {
			return val, nil
		}
		addr, attr := SplitRef(val)
		if addr == "" {
			return nil, fmt.Errorf("malformed reference %q", val)
		}
		rec, err := store.Get(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", val, err)
		}
		if out, ok := rec.Outputs[attr]; ok {
			return out, nil
		}
		if a, ok := rec.Attrs[attr]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("reference %q: resource %s has no attribute %q", val, addr, attr)

	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			resolved, err := resolveRefs(ctx, e, store)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			resolved, err := resolveRefs(ctx, e, store)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return v, nil
	}
}
