package router

import (
	"testing"

	"github.com/costguard/costguard/policy"
	"github.com/stretchr/testify/require"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestRouter_NoStageConfig_UsesDefaultModel(t *testing.T) {
	rp := &policy.RoutingPolicy{DefaultModel: "gpt-4o-mini"}
	d := New().Select(rp, "planning", Signals{})
	require.Equal(t, "gpt-4o-mini", d.Model)
	require.False(t, d.WasDowngraded)
}

func TestRouter_DowngradesOnSoftThreshold(t *testing.T) {
	rp := &policy.RoutingPolicy{
		DefaultModel: "gpt-4o-mini",
		Stages: []policy.StageConfig{
			{
				Stage:         "planning",
				DefaultModel: "gpt-4o",
				FallbackModel: "gpt-4o-mini",
				TriggerDowngradeOn: policy.DowngradeTrigger{SoftThresholdExceeded: true},
			},
		},
	}

	d := New().Select(rp, "planning", Signals{SoftThresholdExceeded: true})
	require.True(t, d.WasDowngraded)
	require.Equal(t, "gpt-4o-mini", d.Model)

	d = New().Select(rp, "planning", Signals{SoftThresholdExceeded: false})
	require.False(t, d.WasDowngraded)
	require.Equal(t, "gpt-4o", d.Model)
}

func TestRouter_FirstSatisfiedTriggerWins(t *testing.T) {
	rp := &policy.RoutingPolicy{
		Stages: []policy.StageConfig{
			{
				Stage:         "synthesis",
				DefaultModel: "gpt-4o",
				FallbackModel: "gpt-4o-mini",
				TriggerDowngradeOn: policy.DowngradeTrigger{
					SoftThresholdExceeded: true,
					RemainingBudgetBelow:  ptrF(5.0),
				},
			},
		},
	}

	// Both triggers are satisfied; soft-threshold is evaluated first.
	d := New().Select(rp, "synthesis", Signals{SoftThresholdExceeded: true, RemainingBudget: ptrF(1.0)})
	require.True(t, d.WasDowngraded)
	require.Equal(t, "soft threshold exceeded", d.Reason)
}

func TestRouter_IterationAndLatencyTriggers(t *testing.T) {
	rp := &policy.RoutingPolicy{
		Stages: []policy.StageConfig{
			{
				Stage:         "tool_selection",
				DefaultModel: "gpt-4o",
				FallbackModel: "gpt-4o-mini",
				TriggerDowngradeOn: policy.DowngradeTrigger{
					IterationCountAbove: ptrI(10),
					LatencyAboveMs:      ptrF(2000),
				},
			},
		},
	}

	d := New().Select(rp, "tool_selection", Signals{IterationCount: 11})
	require.True(t, d.WasDowngraded)
	require.Equal(t, "iteration count above threshold", d.Reason)

	d = New().Select(rp, "tool_selection", Signals{IterationCount: 5, LatencyMs: ptrF(2500)})
	require.True(t, d.WasDowngraded)
	require.Equal(t, "latency above threshold", d.Reason)

	d = New().Select(rp, "tool_selection", Signals{IterationCount: 5, LatencyMs: ptrF(100)})
	require.False(t, d.WasDowngraded)
}

func TestRouter_NoFallbackModelMeansNoDowngrade(t *testing.T) {
	rp := &policy.RoutingPolicy{
		Stages: []policy.StageConfig{
			{
				Stage:         "planning",
				DefaultModel: "gpt-4o",
				TriggerDowngradeOn: policy.DowngradeTrigger{SoftThresholdExceeded: true},
			},
		},
	}
	d := New().Select(rp, "planning", Signals{SoftThresholdExceeded: true})
	require.False(t, d.WasDowngraded)
	require.Equal(t, "gpt-4o", d.Model)
}
