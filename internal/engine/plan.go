package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/logging"
	"github.com/shopforge-io/shopforge/internal/provider"
	"github.com/shopforge-io/shopforge/internal/state"
)

// DefaultParallelism bounds how many independent changes apply at once.
const DefaultParallelism = 10

// Engine turns a declared resource graph into an ordered ChangeSet and
// applies it against a provider.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds concurrent changes within one apply run.
	Parallelism int
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: DefaultParallelism,
	}
}

// Plan diffs the declared graph against stored state and emits an ordered
// ChangeSet: deletes first, in reverse dependency order of the recorded
// state, then creates and updates in topological order. Planning reads the
// store but never mutates it; identical (graph, state) input yields an
// identical ChangeSet.
func (e *Engine) Plan(ctx context.Context, scope string, g *Graph, store state.Store) (*ir.ChangeSet, error) {
	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	records, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	logging.Debug("planning", "scope", scope, "declared", len(order), "recorded", len(records))

	stateMap := make(map[string]*ir.StateRecord, len(records))
	for _, rec := range records {
		stateMap[rec.Address()] = rec
	}

	declared := make(map[string]bool, len(order))
	for _, addr := range order {
		declared[addr] = true
	}

	cs := &ir.ChangeSet{
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
	}

	// Classify every recorded address slated for deletion before emitting
	// the delete phase: resources no longer declared, plus declared
	// resources whose changed attributes force a replace. Replace-deletes
	// share the phase so a recorded dependent is always deleted before
	// its dependency, whichever category each falls in.
	deleting := make(map[string]bool)
	for _, rec := range records {
		if !declared[rec.Address()] {
			deleting[rec.Address()] = true
		}
	}
	replaced := make(map[string]bool)
	for _, addr := range order {
		prior := stateMap[addr]
		if prior == nil {
			continue
		}
		res := g.Resource(addr)
		desired := normalizeAttrs(res.Attributes)
		priorAttrs := normalizeAttrs(prior.Attrs)
		if !attrsEqual(desired, priorAttrs) && replaceRequired(res, desired, priorAttrs) {
			replaced[addr] = true
			deleting[addr] = true
		}
	}

	// Deletes: dependents before dependencies, emitted before any create
	// so a reused logical name never collides with its predecessor's
	// identity.
	for _, addr := range deletionOrder(records) {
		if !deleting[addr] {
			continue
		}
		rec := stateMap[addr]
		if err := e.registry.Load(rec.Provider); err != nil {
			return nil, err
		}
		cs.Changes = append(cs.Changes, &ir.Change{
			Address:   addr,
			Action:    ir.ActionDelete,
			Prior:     rec,
			Diff:      deleteDiff(rec.Attrs),
			DependsOn: intersect(stateDependents(records, addr), deleting),
		})
		cs.Summary.Delete++
	}

	// Creates and updates, dependencies before dependents.
	actionable := make(map[string]bool)
	for _, addr := range order {
		res := g.Resource(addr)
		if err := e.registry.Load(res.Provider); err != nil {
			return nil, err
		}

		desired := normalizeAttrs(res.Attributes)
		prior := stateMap[addr]

		switch {
		case prior == nil:
			actionable[addr] = true
			cs.Changes = append(cs.Changes, &ir.Change{
				Address:    addr,
				Action:     ir.ActionCreate,
				Desired:    res,
				Diff:       createDiff(desired),
				DependsOn:  intersect(g.Dependencies(addr), actionable),
				RecordDeps: g.Dependencies(addr),
			})
			cs.Summary.Create++

		case attrsEqual(desired, normalizeAttrs(prior.Attrs)):
			cs.Summary.NoOp++

		case replaced[addr]:
			// Replace: the delete of the old identity was emitted in the
			// delete phase above; create under the same name here.
			actionable[addr] = true
			cs.Changes = append(cs.Changes, &ir.Change{
				Address:    addr,
				Action:     ir.ActionCreate,
				Desired:    res,
				Diff:       createDiff(desired),
				DependsOn:  intersect(g.Dependencies(addr), actionable),
				RecordDeps: g.Dependencies(addr),
			})
			cs.Summary.Create++

		default:
			actionable[addr] = true
			cs.Changes = append(cs.Changes, &ir.Change{
				Address:    addr,
				Action:     ir.ActionUpdate,
				Desired:    res,
				Prior:      prior,
				Diff:       updateDiff(normalizeAttrs(prior.Attrs), desired),
				DependsOn:  intersect(g.Dependencies(addr), actionable),
				RecordDeps: g.Dependencies(addr),
			})
			cs.Summary.Update++
		}
	}

	return cs, nil
}

// deletionOrder returns all recorded addresses in reverse topological
// order of their persisted dependencies (dependents first).
func deletionOrder(records []*ir.StateRecord) []string {
	byAddr := make(map[string]*ir.StateRecord, len(records))
	addrs := make([]string, 0, len(records))
	for _, rec := range records {
		byAddr[rec.Address()] = rec
		addrs = append(addrs, rec.Address())
	}
	sort.Strings(addrs)

	// Kahn over the recorded dependency edges.
	inDegree := make(map[string]int, len(addrs))
	dependents := make(map[string][]string, len(addrs))
	for _, addr := range addrs {
		for _, dep := range byAddr[addr].Dependencies {
			if _, ok := byAddr[dep]; !ok {
				continue
			}
			inDegree[addr]++
			dependents[dep] = append(dependents[dep], addr)
		}
	}

	var ready []string
	for _, addr := range addrs {
		if inDegree[addr] == 0 {
			ready = append(ready, addr)
		}
	}

	var sorted []string
	for len(ready) > 0 {
		sort.Strings(ready)
		addr := ready[0]
		ready = ready[1:]
		sorted = append(sorted, addr)
		for _, dep := range dependents[addr] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	// Recorded state can only cycle if it was written by a buggy run;
	// append the remainder so nothing is silently dropped.
	for _, addr := range addrs {
		if inDegree[addr] > 0 {
			sorted = append(sorted, addr)
		}
	}

	// Reverse: dependents before dependencies.
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}

func stateDependents(records []*ir.StateRecord, addr string) []string {
	var out []string
	for _, rec := range records {
		for _, dep := range rec.Dependencies {
			if dep == addr {
				out = append(out, rec.Address())
			}
		}
	}
	sort.Strings(out)
	return out
}

func intersect(addrs []string, members map[string]bool) []string {
	var out []string
	for _, a := range addrs {
		if members[a] {
			out = append(out, a)
		}
	}
	return out
}

// replaceRequired reports whether any changed attribute is declared
// replaceOnChange, forcing delete-then-create instead of an in-place
// update.
func replaceRequired(res *ir.Resource, desired, prior map[string]any) bool {
	if len(res.ReplaceOnChange) == 0 {
		return false
	}
	forced := make(map[string]bool, len(res.ReplaceOnChange))
	for _, attr := range res.ReplaceOnChange {
		forced[attr] = true
	}
	for name, diff := range updateDiff(prior, desired) {
		if diff.Action != ir.ActionNoOp && forced[name] {
			return true
		}
	}
	return false
}

func createDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{After: v, Action: ir.ActionCreate}
	}
	return diff
}

func deleteDiff(attrs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = &ir.AttributeDiff{Before: v, Action: ir.ActionDelete}
	}
	return diff
}

func updateDiff(prior, desired map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)

	keys := make(map[string]bool, len(prior)+len(desired))
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}

	for k := range keys {
		before, inPrior := prior[k]
		after, inDesired := desired[k]
		switch {
		case !inPrior:
			diff[k] = &ir.AttributeDiff{After: after, Action: ir.ActionCreate}
		case !inDesired:
			diff[k] = &ir.AttributeDiff{Before: before, Action: ir.ActionDelete}
		case !attrValueEqual(before, after):
			diff[k] = &ir.AttributeDiff{Before: before, After: after, Action: ir.ActionUpdate}
		}
	}
	return diff
}
