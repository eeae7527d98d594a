// Package router is the adaptive Router (component C4): given a matched
// RoutingPolicy, a call stage, and the current budget/iteration/latency
// signals, it selects the effective model for a model call, grounded on
// the teacher's llm/router/router.go WeightedRouter -- the general shape
// of "a Select entrypoint behind a small struct with no locking of its own
// since it operates on an immutable snapshot" carries over, though the
// scoring itself is entirely different: health/latency weighting in the
// teacher becomes budget/iteration/latency *downgrade trigger* evaluation
// here.
package router

import "github.com/costguard/costguard/policy"

// Signals is the current state of the world a downgrade decision is made
// against. Pointer fields are unset/not-applicable rather than zero.
type Signals struct {
	SoftThresholdExceeded bool
	RemainingBudget       *float64
	IterationCount        int
	LatencyMs             *float64
}

// Decision is the outcome of Select.
type Decision struct {
	Model         string
	MaxTokens     int
	Temperature   *float64
	WasDowngraded bool
	Reason        string
}

// Router selects a model for a call stage. It holds no state: every Select
// call is a pure function of its policy and signal arguments, so one
// Router can be shared across every concurrent run.
type Router struct{}

// New returns a Router.
func New() *Router { return &Router{} }

// Select resolves the effective model for stage under rp given signals.
// If rp has no per-stage config for stage, rp.DefaultModel is used
// undowngraded. Otherwise the stage's trigger_downgrade_on fields are
// evaluated in a fixed order -- soft threshold, remaining budget,
// iteration count, latency -- and the first one satisfied (and for which
// a fallback_model is actually configured) wins; ties between
// simultaneously-satisfied triggers always resolve to whichever is
// checked first in that order, which is the DESIGN.md-resolved answer
// to the routing open question about tie-break stability.
func (r *Router) Select(rp *policy.RoutingPolicy, stage string, signals Signals) Decision {
	stageCfg, ok := rp.StageConfigFor(stage)
	if !ok {
		return Decision{Model: rp.DefaultModel, Reason: "no stage config, using default model"}
	}

	trig := stageCfg.TriggerDowngradeOn
	if stageCfg.FallbackModel != "" {
		switch {
		case trig.SoftThresholdExceeded && signals.SoftThresholdExceeded:
			return r.downgrade(stageCfg, "soft threshold exceeded")
		case trig.RemainingBudgetBelow != nil && signals.RemainingBudget != nil && *signals.RemainingBudget < *trig.RemainingBudgetBelow:
			return r.downgrade(stageCfg, "remaining budget below threshold")
		case trig.IterationCountAbove != nil && signals.IterationCount > *trig.IterationCountAbove:
			return r.downgrade(stageCfg, "iteration count above threshold")
		case trig.LatencyAboveMs != nil && signals.LatencyMs != nil && *signals.LatencyMs > *trig.LatencyAboveMs:
			return r.downgrade(stageCfg, "latency above threshold")
		}
	}

	model := stageCfg.DefaultModel
	if model == "" {
		model = rp.DefaultModel
	}
	return Decision{Model: model, MaxTokens: stageCfg.MaxTokens, Temperature: stageCfg.Temperature, Reason: "default model for stage"}
}

func (r *Router) downgrade(stageCfg policy.StageConfig, reason string) Decision {
	return Decision{
		Model:         stageCfg.FallbackModel,
		MaxTokens:     stageCfg.MaxTokens,
		Temperature:   stageCfg.Temperature,
		WasDowngraded: true,
		Reason:        reason,
	}
}
