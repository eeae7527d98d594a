// Package lifecycle is the Lifecycle Engine (component C5): it implements
// the eight hook points a host runtime calls into across a run's
// lifetime, wiring together the Policy Store, Budget Tracker, Router,
// Pricing Table and Metrics Emitter into the admission/iteration/model/tool
// decisions those hooks return. Grounded on the teacher's
// agent/guardrails/chain.go ValidatorChain: a decision is always a
// returned value, never an exception -- only a genuine programmer error
// (a nil context, an unreadable policy snapshot) raises through
// ctlerrors.
package lifecycle

// AdmissionDecision is returned by AdmitRun.
type AdmissionDecision struct {
	Admitted bool
	Reason   string
	// RejectingBudgetID is the first, most-specific budget (per load
	// order/specificity ranking) whose hard limit or run-count/concurrency
	// ceiling caused the rejection. Empty when Admitted is true.
	RejectingBudgetID string
	// RemainingBudget is the minimum of (max_cost - accrued cost) across
	// every applicable budget that sets max_cost, or nil if none do.
	RemainingBudget *float64
	// BudgetUtilization is the maximum accrued-cost/max_cost ratio across
	// every applicable budget that sets max_cost.
	BudgetUtilization float64
	// Warnings lists one entry per budget whose utilization has crossed a
	// soft_threshold with an action other than LOG_ONLY.
	Warnings []string
}

// IterationOverrides carries the host-facing directives an IterationDecision
// can impose beyond a simple allow/deny.
type IterationOverrides struct {
	// ForceTerminateRun is set whenever Continue is false: the mechanism
	// by which a HALT_RUN hard-limit breach (or an iteration-cap breach)
	// is communicated to the host, which must honor it.
	ForceTerminateRun bool
}

// IterationDecision is returned by BeforeIteration.
type IterationDecision struct {
	Continue bool
	Reason   string
	// RemainingIterations is the minimum of (max_iterations_per_run -
	// iteration_idx) across applicable budgets that set the constraint, or
	// nil if none do.
	RemainingIterations *int
	Warnings            []string
	Overrides           IterationOverrides
}

// ModelOverrides carries the host-facing directives a ModelDecision can
// impose beyond a simple allow/deny.
type ModelOverrides struct {
	// ModelName is set to the resolved model whenever the Router overrides
	// the caller's requested model (i.e. on a downgrade).
	ModelName string
}

// ModelDecision is returned by BeforeModelCall.
type ModelDecision struct {
	Allowed       bool
	Reason        string
	Model         string
	MaxTokens     int
	Temperature   *float64
	WasDowngraded bool
	Warnings      []string
	Overrides     ModelOverrides
}

// ToolOverrides carries the host-facing directives a ToolDecision can
// impose beyond a simple allow/deny.
type ToolOverrides struct {
	// SkipToolCall is set whenever Allowed is false: the host must not
	// invoke the tool.
	SkipToolCall bool
}

// ToolDecision is returned by BeforeToolCall.
type ToolDecision struct {
	Allowed bool
	Reason  string
	// RemainingToolCalls is the minimum of (max_tool_calls_per_run -
	// total_tool_calls) across applicable budgets that set the
	// constraint, or nil if none do.
	RemainingToolCalls *int
	Warnings           []string
	Overrides          ToolOverrides
}
