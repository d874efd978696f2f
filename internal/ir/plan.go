package ir

import "time"

// Action describes what a change does to its resource.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionNoOp   Action = "NOOP"
)

// Change is one entry of a ChangeSet.
type Change struct {
	Address string
	Action  Action
	Desired *Resource    // nil for DELETE
	Prior   *StateRecord // nil for CREATE

	// Diff maps attribute name to its before/after values.
	Diff map[string]*AttributeDiff

	// DependsOn lists addresses of other changes in the same ChangeSet that
	// must complete before this one starts.
	DependsOn []string

	// RecordDeps is the full dependency list of the resource, persisted
	// with its StateRecord so deletes can be ordered after the resource
	// leaves the declaration set.
	RecordDeps []string
}

// AttributeDiff records the before/after values of a single attribute.
type AttributeDiff struct {
	Before any
	After  any
	Action Action
}

// ChangeSet is an ordered sequence of changes. The order encodes every
// dependency constraint: deletes first (dependents before dependencies),
// then creates and updates (dependencies before dependents).
type ChangeSet struct {
	Scope     string
	CreatedAt time.Time
	Changes   []*Change
	Summary   Summary
}

// Empty reports whether the change set contains no actionable changes.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

// Summary counts changes by action.
type Summary struct {
	Create int
	Update int
	Delete int
	NoOp   int
}

// Outcome labels the result of applying one change.
type Outcome string

const (
	OutcomeApplied Outcome = "APPLIED"
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeFailed  Outcome = "FAILED"
)

// ChangeResult is the per-change entry of an ApplyReport.
type ChangeResult struct {
	Address  string
	Action   Action
	Outcome  Outcome
	Error    string // set when Outcome is FAILED
	BlockedOn string // failed dependency address when Outcome is SKIPPED
	Duration time.Duration
}

// ApplyReport is the structured record of one apply run.
type ApplyReport struct {
	Scope     string
	StartedAt time.Time
	Results   []*ChangeResult
}

// Failed reports whether any change failed or was skipped.
func (r *ApplyReport) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeApplied {
			return true
		}
	}
	return false
}

// Result returns the result for an address, or nil.
func (r *ApplyReport) Result(addr string) *ChangeResult {
	for _, res := range r.Results {
		if res.Address == addr {
			return res
		}
	}
	return nil
}
