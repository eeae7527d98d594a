// Package policy is the Policy Store (component C2): it loads, refreshes,
// ranks, and matches BudgetSpec and RoutingPolicy documents against a
// request context, and it owns the pricing document shape consumed by
// pricing.Table.
package policy

import (
	"github.com/costguard/costguard/ctltypes"
)

// Scope is the aggregation bucket a BudgetSpec accounts against.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeTenant   Scope = "tenant"
	ScopeStrand   Scope = "strand"
	ScopeWorkflow Scope = "workflow"
)

// Period is the time window a BudgetSpec aggregates spend over.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// SoftAction is taken when a budget's usage crosses a soft threshold.
type SoftAction string

const (
	SoftActionLogOnly           SoftAction = "LOG_ONLY"
	SoftActionDowngradeModel    SoftAction = "DOWNGRADE_MODEL"
	SoftActionLimitCapabilities SoftAction = "LIMIT_CAPABILITIES"
	SoftActionHaltNewRuns       SoftAction = "HALT_NEW_RUNS"
)

// HardAction is taken when a budget's hard limit is exceeded.
type HardAction string

const (
	HardActionHaltRun       HardAction = "HALT_RUN"
	HardActionRejectNewRuns HardAction = "REJECT_NEW_RUNS"
)

// Match holds the three literal-or-wildcard match patterns a spec is
// evaluated against. An empty string is treated identically to "*".
type Match struct {
	TenantID   string
	StrandID   string
	WorkflowID string
}

func (m Match) matches(field, value string) bool {
	return field == "" || field == "*" || field == value
}

// Matches reports whether the match patterns apply to ctx.
func (m Match) Matches(ctx *ctltypes.RunContext) bool {
	return m.matches(m.TenantID, ctx.TenantID) &&
		m.matches(m.StrandID, ctx.StrandID) &&
		m.matches(m.WorkflowID, ctx.WorkflowID)
}

// Constraints bounds a single run's resource consumption.
type Constraints struct {
	MaxIterationsPerRun int
	MaxToolCallsPerRun  int
	MaxModelTokensPerRun int64
	MaxCostPerRun       float64
}

// BudgetSpec is an immutable, scoped, time-windowed spending policy.
type BudgetSpec struct {
	ID    string
	Scope Scope
	Match Match

	Period Period

	MaxCost        *float64
	SoftThresholds []float64
	HardLimit      bool

	OnSoftThresholdExceeded SoftAction
	OnHardLimitExceeded     HardAction

	MaxRunsPerPeriod   int
	MaxConcurrentRuns  int

	Constraints Constraints

	Enabled bool
}

// DefaultSoftThresholds is used when a BudgetSpec's document omits
// soft_thresholds.
func DefaultSoftThresholds() []float64 { return []float64{0.7, 0.9, 1.0} }

// specificity returns the monotonically ordered score used to rank
// matching specs from most general to most specific (spec §4.2):
// workflow(4) + strand(2) + tenant(1) added to a scope weight
// global(0) < tenant(10) < strand(20) < workflow(30).
func specificity(scope Scope, m Match) int {
	score := 0
	if m.WorkflowID != "" && m.WorkflowID != "*" {
		score += 4
	}
	if m.StrandID != "" && m.StrandID != "*" {
		score += 2
	}
	if m.TenantID != "" && m.TenantID != "*" {
		score += 1
	}
	switch scope {
	case ScopeTenant:
		score += 10
	case ScopeStrand:
		score += 20
	case ScopeWorkflow:
		score += 30
	}
	return score
}

// Specificity returns this spec's specificity score.
func (b *BudgetSpec) Specificity() int { return specificity(b.Scope, b.Match) }

// DowngradeTrigger is the conjunction-of-sufficient-conditions that causes
// a RoutingPolicy stage to fall back to its fallback_model: any of its set
// fields that is satisfied by the signals passed to Router.Select triggers
// the downgrade.
type DowngradeTrigger struct {
	SoftThresholdExceeded bool

	RemainingBudgetBelow *float64
	IterationCountAbove  *int
	LatencyAboveMs       *float64
}

// StageConfig configures model selection for one semantic call stage.
type StageConfig struct {
	Stage           string
	DefaultModel    string
	FallbackModel   string
	MaxTokens       int
	Temperature     *float64
	TriggerDowngradeOn DowngradeTrigger
}

// RoutingPolicy is an immutable policy selecting an effective model per
// stage given budget/iteration/latency signals.
type RoutingPolicy struct {
	ID    string
	Match Match

	Stages       []StageConfig
	DefaultModel string

	Enabled bool
}

// Specificity returns this policy's specificity score. Routing policies use
// the "global" scope weight (0) since they carry no explicit Scope field in
// spec.md §3 — specificity is driven entirely by which match fields are
// pinned.
func (r *RoutingPolicy) Specificity() int { return specificity(ScopeGlobal, r.Match) }

// StageConfigFor looks up the config for a named stage, or ok=false if the
// policy has no per-stage override for it.
func (r *RoutingPolicy) StageConfigFor(stage string) (StageConfig, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageConfig{}, false
}
