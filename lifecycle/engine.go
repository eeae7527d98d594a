package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/costguard/costguard/budget"
	"github.com/costguard/costguard/ctltypes"
	"github.com/costguard/costguard/metrics"
	"github.com/costguard/costguard/policy"
	"github.com/costguard/costguard/pricing"
	"github.com/costguard/costguard/router"
)

// Engine wires the Policy Store, Budget Tracker, Router and Metrics
// Emitter into the eight lifecycle hooks.
type Engine struct {
	policies *policy.Store
	tracker  *budget.Tracker
	router   *router.Router
	emit     metrics.Emitter
	logger   *zap.Logger
}

// New returns an Engine.
func New(policies *policy.Store, tracker *budget.Tracker, r *router.Router, emit metrics.Emitter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{policies: policies, tracker: tracker, router: r, emit: emit, logger: logger}
}

func dimsFor(rc *ctltypes.RunContext) metrics.Dimensions {
	return metrics.Dimensions{Tenant: rc.TenantID, Strand: rc.StrandID, Workflow: rc.WorkflowID}
}

// minRemainingCost returns the smallest RemainingCost across results that
// set one, and ok=false if none do -- the Lifecycle Engine reports the
// most constraining budget's headroom, per spec §4.5.
func minRemainingCost(results []budget.BudgetCheckResult) (float64, bool) {
	var (
		min float64
		ok  bool
	)
	for _, r := range results {
		if r.RemainingCost == nil {
			continue
		}
		if !ok || *r.RemainingCost < min {
			min = *r.RemainingCost
			ok = true
		}
	}
	return min, ok
}

// maxUtilization returns the highest accrued-cost/max_cost ratio across
// results that set a max_cost, and ok=false if none do (spec §4.5:
// "budget_utilization as the maximum").
func maxUtilization(results []budget.BudgetCheckResult) (float64, bool) {
	var (
		max float64
		ok  bool
	)
	for _, r := range results {
		if r.Spec.MaxCost == nil || *r.Spec.MaxCost == 0 || r.Usage == nil {
			continue
		}
		u := r.Usage.TotalCost / *r.Spec.MaxCost
		if !ok || u > max {
			max = u
			ok = true
		}
	}
	return max, ok
}

// softThresholdWarnings returns one warning per result whose utilization
// has crossed a soft_threshold with an action other than LOG_ONLY (spec
// §4.5/§6: every decision's warnings[] surfaces these).
func softThresholdWarnings(results []budget.BudgetCheckResult) []string {
	var warnings []string
	for _, r := range results {
		if r.SoftTriggered != nil && r.Spec.OnSoftThresholdExceeded != policy.SoftActionLogOnly {
			warnings = append(warnings, fmt.Sprintf("budget %s crossed soft threshold %.2f (%s)", r.Spec.ID, *r.SoftTriggered, r.Spec.OnSoftThresholdExceeded))
		}
	}
	return warnings
}

// remainingIterations returns the smallest (max_iterations_per_run -
// iteration) across specs that set the constraint, and ok=false if none do.
func remainingIterations(specs []*policy.BudgetSpec, iteration int) (int, bool) {
	var (
		min int
		ok  bool
	)
	for _, spec := range specs {
		if spec.Constraints.MaxIterationsPerRun <= 0 {
			continue
		}
		remaining := spec.Constraints.MaxIterationsPerRun - iteration
		if !ok || remaining < min {
			min = remaining
			ok = true
		}
	}
	return min, ok
}

// remainingToolCalls returns the smallest (max_tool_calls_per_run - used)
// across specs that set the constraint, and ok=false if none do.
func remainingToolCalls(specs []*policy.BudgetSpec, used int) (int, bool) {
	var (
		min int
		ok  bool
	)
	for _, spec := range specs {
		if spec.Constraints.MaxToolCallsPerRun <= 0 {
			continue
		}
		remaining := spec.Constraints.MaxToolCallsPerRun - used
		if !ok || remaining < min {
			min = remaining
			ok = true
		}
	}
	return min, ok
}

// AdmitRun evaluates every matching BudgetSpec's hard limit, run-count and
// concurrency ceilings before a run is allowed to start. Rejection always
// cites the first offending budget in specificity order, since MatchBudgets
// already returns specs most-specific-first.
func (e *Engine) AdmitRun(ctx context.Context, rc *ctltypes.RunContext) (*AdmissionDecision, error) {
	snap := e.policies.Snapshot()
	specs := snap.MatchBudgets(rc)

	results, err := e.tracker.CheckBudgetLimits(ctx, rc, specs)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if !r.Spec.Enabled {
			continue
		}
		switch {
		case r.HardExceeded && r.Spec.OnHardLimitExceeded == policy.HardActionRejectNewRuns:
			e.emit.RecordRejection(dimsFor(rc), "hard limit exceeded")
			return &AdmissionDecision{Admitted: false, Reason: "hard limit exceeded", RejectingBudgetID: r.Spec.ID}, nil
		case r.RunsExceeded:
			e.emit.RecordRejection(dimsFor(rc), "max runs per period exceeded")
			return &AdmissionDecision{Admitted: false, Reason: "max runs per period exceeded", RejectingBudgetID: r.Spec.ID}, nil
		case r.ConcurrentExceeded:
			e.emit.RecordRejection(dimsFor(rc), "max concurrent runs exceeded")
			return &AdmissionDecision{Admitted: false, Reason: "max concurrent runs exceeded", RejectingBudgetID: r.Spec.ID}, nil
		case r.Spec.OnSoftThresholdExceeded == policy.SoftActionHaltNewRuns && r.SoftTriggered != nil:
			e.emit.RecordRejection(dimsFor(rc), "soft threshold halts new runs")
			return &AdmissionDecision{Admitted: false, Reason: "soft threshold halts new runs", RejectingBudgetID: r.Spec.ID}, nil
		}
	}

	// Registration happens for every matched spec regardless of whether it
	// individually rejected admission, so usage stays accurate.
	if _, err := e.tracker.RegisterRun(ctx, rc, specs); err != nil {
		return nil, err
	}

	remaining, hasRemaining := minRemainingCost(results)
	utilization, _ := maxUtilization(results)
	decision := &AdmissionDecision{Admitted: true, BudgetUtilization: utilization, Warnings: softThresholdWarnings(results)}
	if hasRemaining {
		decision.RemainingBudget = &remaining
	}
	return decision, nil
}

// BeforeIteration reports whether the run may start another iteration.
// An unknown run_id is permissive: the hook logs a warning and allows the
// iteration rather than blocking a run the tracker lost track of. Per
// spec.md §4.5, a run also halts here -- independent of the iteration cap
// -- when enforcement is on and any matched budget with
// on_hard_limit_exceeded = HALT_RUN has already crossed its hard limit;
// both halt paths communicate through Continue=false plus
// Overrides.ForceTerminateRun, which the host must honor.
func (e *Engine) BeforeIteration(ctx context.Context, rc *ctltypes.RunContext, iteration int) (*IterationDecision, error) {
	_, ok := e.tracker.RunState(rc.RunID)
	if !ok {
		e.logger.Warn("before_iteration: unknown run_id, proceeding permissively", zap.String("run_id", rc.RunID))
		return &IterationDecision{Continue: true, Reason: "unknown run_id"}, nil
	}

	snap := e.policies.Snapshot()
	specs := snap.MatchBudgets(rc)

	for _, spec := range specs {
		if spec.Constraints.MaxIterationsPerRun > 0 && iteration >= spec.Constraints.MaxIterationsPerRun {
			e.emit.RecordHalt(dimsFor(rc), "max iterations per run exceeded")
			return &IterationDecision{
				Continue:  false,
				Reason:    fmt.Sprintf("max iterations per run exceeded (budget %s)", spec.ID),
				Overrides: IterationOverrides{ForceTerminateRun: true},
			}, nil
		}
	}

	results, err := e.tracker.CheckBudgetLimits(ctx, rc, specs)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Spec.Enabled && r.HardExceeded && r.Spec.OnHardLimitExceeded == policy.HardActionHaltRun {
			e.emit.RecordHalt(dimsFor(rc), "hard limit exceeded")
			return &IterationDecision{
				Continue:  false,
				Reason:    fmt.Sprintf("hard limit exceeded (budget %s)", r.Spec.ID),
				Overrides: IterationOverrides{ForceTerminateRun: true},
			}, nil
		}
	}

	decision := &IterationDecision{Continue: true, Warnings: softThresholdWarnings(results)}
	if remaining, ok := remainingIterations(specs, iteration); ok {
		decision.RemainingIterations = &remaining
	}
	return decision, nil
}

// AfterIteration advances the run's iteration counter and emits the
// corresponding metric.
func (e *Engine) AfterIteration(ctx context.Context, rc *ctltypes.RunContext) error {
	rs, ok := e.tracker.RunState(rc.RunID)
	if !ok {
		e.logger.Warn("after_iteration: unknown run_id", zap.String("run_id", rc.RunID))
		return nil
	}
	rs.CurrentIteration++
	e.emit.RecordIteration(dimsFor(rc))
	return nil
}

// BeforeModelCall resolves the effective model via the Router and enforces
// the per-run model-token ceiling. Per SPEC_FULL.md §4.5 (resolving
// spec.md's token-budget open question), rejection is based solely on the
// run's already-accrued token total -- a missing or zero pre-flight
// estimate never causes a rejection on its own. promptText, when
// non-empty, is tokenized against requestedModel via the Pricing Table's
// EstimateFromText to price the upcoming call for a warning-only
// comparison against remaining budget (spec.md §4.5: "Estimate cost for a
// warning comparison against remaining budget"); a failed or skipped
// estimate never blocks the call.
func (e *Engine) BeforeModelCall(ctx context.Context, rc *ctltypes.RunContext, requestedModel, stage, promptText string, tbl *pricing.Table) (*ModelDecision, error) {
	rs, ok := e.tracker.RunState(rc.RunID)
	if !ok {
		e.logger.Warn("before_model_call: unknown run_id, proceeding permissively", zap.String("run_id", rc.RunID))
	}

	snap := e.policies.Snapshot()
	specs := snap.MatchBudgets(rc)
	results, err := e.tracker.CheckBudgetLimits(ctx, rc, specs)
	if err != nil {
		return nil, err
	}

	remaining, hasRemaining := minRemainingCost(results)
	softTriggered := false
	for _, r := range results {
		if r.SoftTriggered != nil {
			softTriggered = true
		}
	}
	warnings := softThresholdWarnings(results)

	if ok {
		for _, spec := range specs {
			if spec.Constraints.MaxModelTokensPerRun > 0 && rs.TotalTokens() >= spec.Constraints.MaxModelTokensPerRun {
				e.emit.RecordRejection(dimsFor(rc), "model token budget exhausted")
				return &ModelDecision{Allowed: false, Reason: fmt.Sprintf("model token budget exhausted (budget %s)", spec.ID)}, nil
			}
		}
	}

	if promptText != "" && requestedModel != "" && hasRemaining {
		if estimate, estErr := tbl.EstimateFromText(requestedModel, promptText); estErr == nil && estimate > remaining {
			warnings = append(warnings, fmt.Sprintf("pre-flight estimate %.4f exceeds remaining budget %.4f", estimate, remaining))
		}
	}

	rp, matched := snap.MatchRoutingPolicy(rc)
	if !matched {
		return &ModelDecision{Allowed: true, Reason: "no routing policy matched, no model override", Warnings: warnings}, nil
	}

	signals := router.Signals{SoftThresholdExceeded: softTriggered}
	if hasRemaining {
		signals.RemainingBudget = &remaining
	}
	if ok {
		ic := rs.CurrentIteration
		signals.IterationCount = ic
	}

	d := e.router.Select(rp, stage, signals)
	var overrides ModelOverrides
	if d.WasDowngraded {
		e.emit.RecordDowngrade(dimsFor(rc), d.Reason)
		overrides.ModelName = d.Model
	}
	return &ModelDecision{
		Allowed:       true,
		Reason:        d.Reason,
		Model:         d.Model,
		MaxTokens:     d.MaxTokens,
		Temperature:   d.Temperature,
		WasDowngraded: d.WasDowngraded,
		Warnings:      warnings,
		Overrides:     overrides,
	}, nil
}

// AfterModelCall prices a completed model call and accrues it onto the
// run's RunState and its matched budgets' PeriodUsage.
func (e *Engine) AfterModelCall(ctx context.Context, rc *ctltypes.RunContext, model string, usage pricing.Usage, tbl *pricing.Table) (*ctltypes.RunState, error) {
	cost := tbl.Cost(model, usage)
	rs, err := e.tracker.UpdateRunCost(ctx, rc.RunID, model, cost, usage.PromptTokens+usage.CachedTokens, usage.CompletionTokens+usage.ReasoningTokens, true)
	if err != nil {
		return nil, err
	}
	dims := dimsFor(rc)
	e.emit.RecordModelCost(dims, model, cost)
	e.emit.RecordTokens(dims, usage.PromptTokens+usage.CachedTokens, usage.CompletionTokens+usage.ReasoningTokens)
	return rs, nil
}

// BeforeToolCall enforces the per-run tool-call ceiling.
func (e *Engine) BeforeToolCall(ctx context.Context, rc *ctltypes.RunContext, tool string) (*ToolDecision, error) {
	rs, ok := e.tracker.RunState(rc.RunID)
	if !ok {
		e.logger.Warn("before_tool_call: unknown run_id, proceeding permissively", zap.String("run_id", rc.RunID))
		return &ToolDecision{Allowed: true, Reason: "unknown run_id"}, nil
	}

	snap := e.policies.Snapshot()
	specs := snap.MatchBudgets(rc)
	for _, spec := range specs {
		if spec.Constraints.MaxToolCallsPerRun > 0 && rs.TotalToolCalls >= spec.Constraints.MaxToolCallsPerRun {
			e.emit.RecordRejection(dimsFor(rc), "max tool calls per run exceeded")
			return &ToolDecision{
				Allowed:   false,
				Reason:    fmt.Sprintf("max tool calls per run exceeded (budget %s)", spec.ID),
				Overrides: ToolOverrides{SkipToolCall: true},
			}, nil
		}
	}

	results, err := e.tracker.CheckBudgetLimits(ctx, rc, specs)
	if err != nil {
		return nil, err
	}
	decision := &ToolDecision{Allowed: true, Warnings: softThresholdWarnings(results)}
	if remaining, ok := remainingToolCalls(specs, rs.TotalToolCalls); ok {
		decision.RemainingToolCalls = &remaining
	}
	return decision, nil
}

// AfterToolCall prices a completed tool call and accrues it.
func (e *Engine) AfterToolCall(ctx context.Context, rc *ctltypes.RunContext, tool string, usage pricing.ToolUsage, tbl *pricing.Table) (*ctltypes.RunState, error) {
	cost := tbl.ToolCost(tool, usage)
	rs, err := e.tracker.UpdateRunCost(ctx, rc.RunID, tool, cost, 0, 0, false)
	if err != nil {
		return nil, err
	}
	dims := dimsFor(rc)
	e.emit.RecordToolCost(dims, tool, cost)
	e.emit.RecordToolCall(dims)
	return rs, nil
}

// EndRun finalizes a run and emits its terminal metrics.
func (e *Engine) EndRun(ctx context.Context, rc *ctltypes.RunContext, status ctltypes.RunStatus) (*ctltypes.RunState, error) {
	final, err := e.tracker.EndRun(ctx, rc.RunID, status)
	if err != nil {
		return nil, err
	}
	dims := dimsFor(rc)
	e.emit.RecordRun(dims, string(status))
	e.emit.RecordCost(dims, final.TotalCost)
	return final, nil
}
