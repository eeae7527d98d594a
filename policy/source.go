package policy

import (
	"github.com/costguard/costguard/ctlerrors"
	"github.com/costguard/costguard/pricing"
)

// Source is the abstract policy-document provider (spec §6). The module
// ships two concrete implementations, YAMLFileSource and the in-memory
// StaticSource; hosts may supply any
// other source (a database, a remote config service) that implements this
// interface.
type Source interface {
	LoadBudgets() ([]BudgetDoc, error)
	LoadRoutingPolicies() ([]RoutingPolicyDoc, error)
	LoadPricing() (PricingDoc, error)
}

// MatchDoc is the on-the-wire shape of a Match (spec §6: "match:
// { tenant_id?, strand_id?, workflow_id? }").
type MatchDoc struct {
	TenantID   string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	StrandID   string `yaml:"strand_id,omitempty" json:"strand_id,omitempty"`
	WorkflowID string `yaml:"workflow_id,omitempty" json:"workflow_id,omitempty"`
}

func (m MatchDoc) toMatch() Match {
	return Match{TenantID: m.TenantID, StrandID: m.StrandID, WorkflowID: m.WorkflowID}
}

// ConstraintsDoc is the on-the-wire shape of per-run Constraints.
type ConstraintsDoc struct {
	MaxIterationsPerRun  int     `yaml:"max_iterations_per_run,omitempty" json:"max_iterations_per_run,omitempty"`
	MaxToolCallsPerRun   int     `yaml:"max_tool_calls_per_run,omitempty" json:"max_tool_calls_per_run,omitempty"`
	MaxModelTokensPerRun int64   `yaml:"max_model_tokens_per_run,omitempty" json:"max_model_tokens_per_run,omitempty"`
	MaxCostPerRun        float64 `yaml:"max_cost_per_run,omitempty" json:"max_cost_per_run,omitempty"`
}

// BudgetDoc is the on-the-wire shape of one `budgets[]` entry (spec §6).
type BudgetDoc struct {
	ID                     string          `yaml:"id" json:"id"`
	Scope                  string          `yaml:"scope" json:"scope"`
	Match                  MatchDoc        `yaml:"match" json:"match"`
	Period                 string          `yaml:"period" json:"period"`
	MaxCost                *float64        `yaml:"max_cost,omitempty" json:"max_cost,omitempty"`
	SoftThresholds         []float64       `yaml:"soft_thresholds,omitempty" json:"soft_thresholds,omitempty"`
	HardLimit              bool            `yaml:"hard_limit" json:"hard_limit"`
	OnSoftThresholdExceeded string         `yaml:"on_soft_threshold_exceeded,omitempty" json:"on_soft_threshold_exceeded,omitempty"`
	OnHardLimitExceeded    string          `yaml:"on_hard_limit_exceeded,omitempty" json:"on_hard_limit_exceeded,omitempty"`
	MaxRunsPerPeriod       int             `yaml:"max_runs_per_period,omitempty" json:"max_runs_per_period,omitempty"`
	MaxConcurrentRuns      int             `yaml:"max_concurrent_runs,omitempty" json:"max_concurrent_runs,omitempty"`
	Constraints            ConstraintsDoc  `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Enabled                bool            `yaml:"enabled" json:"enabled"`
}

// DowngradeTriggerDoc is the on-the-wire shape of trigger_downgrade_on.
type DowngradeTriggerDoc struct {
	SoftThresholdExceeded bool     `yaml:"soft_threshold_exceeded,omitempty" json:"soft_threshold_exceeded,omitempty"`
	RemainingBudgetBelow  *float64 `yaml:"remaining_budget_below,omitempty" json:"remaining_budget_below,omitempty"`
	IterationCountAbove   *int     `yaml:"iteration_count_above,omitempty" json:"iteration_count_above,omitempty"`
	LatencyAboveMs        *float64 `yaml:"latency_above_ms,omitempty" json:"latency_above_ms,omitempty"`
}

// StageDoc is the on-the-wire shape of one `routing_policies[].stages[]` entry.
type StageDoc struct {
	Stage              string              `yaml:"stage" json:"stage"`
	DefaultModel       string              `yaml:"default_model" json:"default_model"`
	FallbackModel      string              `yaml:"fallback_model,omitempty" json:"fallback_model,omitempty"`
	MaxTokens          int                 `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature        *float64            `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TriggerDowngradeOn DowngradeTriggerDoc `yaml:"trigger_downgrade_on,omitempty" json:"trigger_downgrade_on,omitempty"`
}

// RoutingPolicyDoc is the on-the-wire shape of one `routing_policies[]` entry.
type RoutingPolicyDoc struct {
	ID           string     `yaml:"id" json:"id"`
	Match        MatchDoc   `yaml:"match" json:"match"`
	Stages       []StageDoc `yaml:"stages,omitempty" json:"stages,omitempty"`
	DefaultModel string     `yaml:"default_model" json:"default_model"`
	Enabled      bool       `yaml:"enabled" json:"enabled"`
}

// ModelPricingDoc is the on-the-wire shape of one `pricing.models{}` entry.
type ModelPricingDoc struct {
	InputPer1K       float64  `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K      float64  `yaml:"output_per_1k" json:"output_per_1k"`
	CachedInputPer1K *float64 `yaml:"cached_input_per_1k,omitempty" json:"cached_input_per_1k,omitempty"`
	ReasoningPer1K   *float64 `yaml:"reasoning_per_1k,omitempty" json:"reasoning_per_1k,omitempty"`
}

// ToolPricingDoc is the on-the-wire shape of one `pricing.tools{}` entry.
type ToolPricingDoc struct {
	CostPerCall       float64 `yaml:"cost_per_call" json:"cost_per_call"`
	CostPerInputByte  float64 `yaml:"cost_per_input_byte" json:"cost_per_input_byte"`
	CostPerOutputByte float64 `yaml:"cost_per_output_byte" json:"cost_per_output_byte"`
}

// PricingDoc is the on-the-wire shape of the `pricing:` top-level document.
type PricingDoc struct {
	Currency            string                     `yaml:"currency" json:"currency"`
	FallbackInputPer1K  float64                    `yaml:"fallback_input_per_1k" json:"fallback_input_per_1k"`
	FallbackOutputPer1K float64                    `yaml:"fallback_output_per_1k" json:"fallback_output_per_1k"`
	Models              map[string]ModelPricingDoc `yaml:"models,omitempty" json:"models,omitempty"`
	Tools               map[string]ToolPricingDoc  `yaml:"tools,omitempty" json:"tools,omitempty"`
}

func (d PricingDoc) toConfig() pricing.Config {
	models := make(map[string]pricing.ModelPricing, len(d.Models))
	for name, m := range d.Models {
		models[name] = pricing.ModelPricing{
			InputPer1K:       m.InputPer1K,
			OutputPer1K:      m.OutputPer1K,
			CachedInputPer1K: m.CachedInputPer1K,
			ReasoningPer1K:   m.ReasoningPer1K,
		}
	}
	tools := make(map[string]pricing.ToolPricing, len(d.Tools))
	for name, tp := range d.Tools {
		tools[name] = pricing.ToolPricing{
			CostPerCall:       tp.CostPerCall,
			CostPerInputByte:  tp.CostPerInputByte,
			CostPerOutputByte: tp.CostPerOutputByte,
		}
	}
	return pricing.Config{
		Currency:            d.Currency,
		FallbackInputPer1K:  d.FallbackInputPer1K,
		FallbackOutputPer1K: d.FallbackOutputPer1K,
		Models:              models,
		Tools:               tools,
	}
}

func convertBudget(d BudgetDoc) (*BudgetSpec, error) {
	scope := Scope(d.Scope)
	switch scope {
	case ScopeGlobal, ScopeTenant, ScopeStrand, ScopeWorkflow:
	default:
		return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad, "budget %q: unknown scope %q", d.ID, d.Scope)
	}

	period := Period(d.Period)
	switch period {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly:
	default:
		return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad, "budget %q: unknown period %q", d.ID, d.Period)
	}

	soft := SoftAction(d.OnSoftThresholdExceeded)
	if soft == "" {
		soft = SoftActionLogOnly
	}
	switch soft {
	case SoftActionLogOnly, SoftActionDowngradeModel, SoftActionLimitCapabilities, SoftActionHaltNewRuns:
	default:
		return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad, "budget %q: unknown soft action %q", d.ID, d.OnSoftThresholdExceeded)
	}

	hard := HardAction(d.OnHardLimitExceeded)
	if hard == "" {
		hard = HardActionHaltRun
	}
	switch hard {
	case HardActionHaltRun, HardActionRejectNewRuns:
	default:
		return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad, "budget %q: unknown hard action %q", d.ID, d.OnHardLimitExceeded)
	}

	thresholds := d.SoftThresholds
	if len(thresholds) == 0 {
		thresholds = DefaultSoftThresholds()
	}
	for _, f := range thresholds {
		if f <= 0 || f > 1 {
			return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad, "budget %q: soft_thresholds must be in (0,1], got %v", d.ID, f)
		}
	}

	return &BudgetSpec{
		ID:                      d.ID,
		Scope:                   scope,
		Match:                   d.Match.toMatch(),
		Period:                  period,
		MaxCost:                 d.MaxCost,
		SoftThresholds:          thresholds,
		HardLimit:               d.HardLimit,
		OnSoftThresholdExceeded: soft,
		OnHardLimitExceeded:     hard,
		MaxRunsPerPeriod:        d.MaxRunsPerPeriod,
		MaxConcurrentRuns:       d.MaxConcurrentRuns,
		Constraints: Constraints{
			MaxIterationsPerRun:  d.Constraints.MaxIterationsPerRun,
			MaxToolCallsPerRun:   d.Constraints.MaxToolCallsPerRun,
			MaxModelTokensPerRun: d.Constraints.MaxModelTokensPerRun,
			MaxCostPerRun:        d.Constraints.MaxCostPerRun,
		},
		Enabled: d.Enabled,
	}, nil
}

var validStages = map[string]bool{
	"planning":       true,
	"tool_selection": true,
	"synthesis":      true,
	"other":          true,
}

func convertRoutingPolicy(d RoutingPolicyDoc) (*RoutingPolicy, error) {
	stages := make([]StageConfig, 0, len(d.Stages))
	for _, s := range d.Stages {
		if !validStages[s.Stage] {
			return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad, "routing policy %q: unknown stage %q", d.ID, s.Stage)
		}
		stages = append(stages, StageConfig{
			Stage:         s.Stage,
			DefaultModel:  s.DefaultModel,
			FallbackModel: s.FallbackModel,
			MaxTokens:     s.MaxTokens,
			Temperature:   s.Temperature,
			TriggerDowngradeOn: DowngradeTrigger{
				SoftThresholdExceeded: s.TriggerDowngradeOn.SoftThresholdExceeded,
				RemainingBudgetBelow:  s.TriggerDowngradeOn.RemainingBudgetBelow,
				IterationCountAbove:   s.TriggerDowngradeOn.IterationCountAbove,
				LatencyAboveMs:        s.TriggerDowngradeOn.LatencyAboveMs,
			},
		})
	}

	return &RoutingPolicy{
		ID:           d.ID,
		Match:        d.Match.toMatch(),
		Stages:       stages,
		DefaultModel: d.DefaultModel,
		Enabled:      d.Enabled,
	}, nil
}
