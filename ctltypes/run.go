// Package ctltypes defines the data model shared by every component of the
// control plane: run identity, accrued run state, and the status enum a
// run moves through over its lifetime. It has no dependencies on any other
// package in this module, matching the teacher's leaf "types" package
// convention.
package ctltypes

import "time"

// RunContext identifies a single run. It is immutable once created; run_id
// uniqueness across concurrent runs is the caller's responsibility.
type RunContext struct {
	TenantID   string
	StrandID   string
	WorkflowID string
	RunID      string
	StartedAt  time.Time
	Metadata   map[string]string
}

// RunStatus is the terminal or in-flight state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusHalted    RunStatus = "halted"
	RunStatusRejected  RunStatus = "rejected"
)

// RunState is the mutable, per-run accumulator owned by the Budget Tracker
// for the run's lifetime. Exactly one RunState exists per live run_id.
type RunState struct {
	Context *RunContext

	CurrentIteration int
	TotalCost        float64
	TotalInputTokens int64
	TotalOutputTokens int64
	TotalToolCalls   int

	ModelCosts map[string]float64
	ToolCosts  map[string]float64

	Status  RunStatus
	EndedAt *time.Time
}

// NewRunState creates a fresh RunState for an admitted run.
func NewRunState(ctx *RunContext) *RunState {
	return &RunState{
		Context:    ctx,
		Status:     RunStatusRunning,
		ModelCosts: make(map[string]float64),
		ToolCosts:  make(map[string]float64),
	}
}

// Clone returns a deep copy safe to hand to a caller without risking
// concurrent mutation of tracker-owned state.
func (r *RunState) Clone() *RunState {
	if r == nil {
		return nil
	}
	out := *r
	out.ModelCosts = make(map[string]float64, len(r.ModelCosts))
	for k, v := range r.ModelCosts {
		out.ModelCosts[k] = v
	}
	out.ToolCosts = make(map[string]float64, len(r.ToolCosts))
	for k, v := range r.ToolCosts {
		out.ToolCosts[k] = v
	}
	if r.EndedAt != nil {
		ended := *r.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

// TotalAccruedCost returns sum(ModelCosts) + sum(ToolCosts), which must
// always equal TotalCost (the engine's core invariant).
func (r *RunState) TotalAccruedCost() float64 {
	var total float64
	for _, v := range r.ModelCosts {
		total += v
	}
	for _, v := range r.ToolCosts {
		total += v
	}
	return total
}

// TotalTokens returns the sum of input and output tokens accrued so far.
func (r *RunState) TotalTokens() int64 {
	return r.TotalInputTokens + r.TotalOutputTokens
}
