package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/costguard/costguard/ctltypes"
	"github.com/costguard/costguard/policy"
	"github.com/costguard/costguard/store"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func maxCost(v float64) *float64 { return &v }

func globalBudget(id string, max float64, hardLimit bool, maxConcurrent int) *policy.BudgetSpec {
	return &policy.BudgetSpec{
		ID:                id,
		Scope:             policy.ScopeGlobal,
		Period:            policy.PeriodDaily,
		MaxCost:           maxCost(max),
		SoftThresholds:    policy.DefaultSoftThresholds(),
		HardLimit:         hardLimit,
		MaxConcurrentRuns: maxConcurrent,
		Enabled:           true,
	}
}

func TestTracker_RegisterAndEndRun_TracksConcurrency(t *testing.T) {
	tr := NewTracker(store.NewMemoryStore(0), FailClosed, nil)
	ctx := context.Background()
	spec := globalBudget("b1", 100, true, 2)

	rc := &ctltypes.RunContext{TenantID: "acme", RunID: "run-1"}
	_, err := tr.RegisterRun(ctx, rc, []*policy.BudgetSpec{spec})
	require.NoError(t, err)

	scopeKey := ScopeKey(spec.Scope, rc, spec.ID)
	usage, err := tr.Snapshot(ctx, scopeKey, spec)
	require.NoError(t, err)
	require.Contains(t, usage.ConcurrentRuns, "run-1")

	_, err = tr.EndRun(ctx, "run-1", ctltypes.RunStatusCompleted)
	require.NoError(t, err)

	usage, err = tr.Snapshot(ctx, scopeKey, spec)
	require.NoError(t, err)
	require.NotContains(t, usage.ConcurrentRuns, "run-1")
	require.Equal(t, 1, usage.TotalRuns)
}

func TestTracker_UpdateRunCost_AccruesOnRunStateAndUsage(t *testing.T) {
	tr := NewTracker(store.NewMemoryStore(0), FailClosed, nil)
	ctx := context.Background()
	spec := globalBudget("b1", 100, true, 5)

	rc := &ctltypes.RunContext{TenantID: "acme", RunID: "run-2"}
	rs, err := tr.RegisterRun(ctx, rc, []*policy.BudgetSpec{spec})
	require.NoError(t, err)

	rs, err = tr.UpdateRunCost(ctx, "run-2", "gpt-4o", 2.5, 1000, 500, true)
	require.NoError(t, err)
	require.Equal(t, 2.5, rs.TotalCost)
	require.Equal(t, 2.5, rs.ModelCosts["gpt-4o"])

	scopeKey := ScopeKey(spec.Scope, rc, spec.ID)
	usage, err := tr.Snapshot(ctx, scopeKey, spec)
	require.NoError(t, err)
	require.Equal(t, 2.5, usage.TotalCost)
}

func TestTracker_CheckBudgetLimits_HardLimitAndThresholds(t *testing.T) {
	tr := NewTracker(store.NewMemoryStore(0), FailClosed, nil)
	ctx := context.Background()
	spec := globalBudget("b1", 10, true, 5)

	rc := &ctltypes.RunContext{TenantID: "acme", RunID: "run-3"}
	_, err := tr.RegisterRun(ctx, rc, []*policy.BudgetSpec{spec})
	require.NoError(t, err)
	_, err = tr.UpdateRunCost(ctx, "run-3", "gpt-4o", 9.5, 0, 0, true)
	require.NoError(t, err)

	results, err := tr.CheckBudgetLimits(ctx, rc, []*policy.BudgetSpec{spec})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].SoftTriggered)
	require.InEpsilon(t, 0.9, *results[0].SoftTriggered, 1e-9)
	require.False(t, results[0].HardExceeded)
	require.InEpsilon(t, 0.5, *results[0].RemainingCost, 1e-9)

	_, err = tr.UpdateRunCost(ctx, "run-3", "gpt-4o", 1.0, 0, 0, true)
	require.NoError(t, err)
	results, err = tr.CheckBudgetLimits(ctx, rc, []*policy.BudgetSpec{spec})
	require.NoError(t, err)
	require.True(t, results[0].HardExceeded)
}

func TestTracker_CheckBudgetLimits_ConcurrentRunsExceeded(t *testing.T) {
	tr := NewTracker(store.NewMemoryStore(0), FailClosed, nil)
	ctx := context.Background()
	spec := globalBudget("b1", 1000, false, 1)

	rc1 := &ctltypes.RunContext{TenantID: "acme", RunID: "run-a"}
	rc2 := &ctltypes.RunContext{TenantID: "acme", RunID: "run-b"}
	results, err := tr.CheckBudgetLimits(ctx, rc1, []*policy.BudgetSpec{spec})
	require.NoError(t, err)
	require.False(t, results[0].ConcurrentExceeded)

	_, err = tr.RegisterRun(ctx, rc1, []*policy.BudgetSpec{spec})
	require.NoError(t, err)

	_, err = tr.RegisterRun(ctx, rc2, []*policy.BudgetSpec{spec})
	require.NoError(t, err)

	results, err = tr.CheckBudgetLimits(ctx, rc2, []*policy.BudgetSpec{spec})
	require.NoError(t, err)
	require.True(t, results[0].ConcurrentExceeded)
}

// TestTracker_PeriodRolloverResetsAccumulatorsButPreservesActiveRuns seeds
// the store directly with a PeriodUsage whose window has already elapsed,
// then asserts the next read rolls it into a fresh window while carrying
// the in-flight run's membership in ConcurrentRuns forward untouched.
func TestTracker_PeriodRolloverResetsAccumulatorsButPreservesActiveRuns(t *testing.T) {
	st := store.NewMemoryStore(0)
	tr := NewTracker(st, FailClosed, nil)
	ctx := context.Background()

	spec := &policy.BudgetSpec{ID: "b1", Scope: policy.ScopeGlobal, Period: policy.PeriodHourly, Enabled: true}
	rc := &ctltypes.RunContext{TenantID: "acme", RunID: "long-run"}
	scopeKey := ScopeKey(spec.Scope, rc, spec.ID)

	expiredStart := time.Now().Add(-2 * time.Hour).Truncate(time.Hour)
	expiredEnd := expiredStart.Add(time.Hour)
	stale := NewPeriodUsage(scopeKey, spec.ID, expiredStart, expiredEnd)
	stale.TotalCost = 5.0
	stale.TotalRuns = 3
	stale.ConcurrentRuns["long-run"] = struct{}{}

	encoded, err := json.Marshal(stale)
	require.NoError(t, err)
	_, err = st.CompareAndSwap(ctx, scopeKey, encoded, 0, expiredEnd.Add(staleGrace))
	require.NoError(t, err)

	fresh, err := tr.Snapshot(ctx, scopeKey, spec)
	require.NoError(t, err)
	require.Equal(t, 0.0, fresh.TotalCost)
	require.Equal(t, 0, fresh.TotalRuns)
	require.Contains(t, fresh.ConcurrentRuns, "long-run")
	require.True(t, fresh.PeriodStart.After(expiredStart))
}

func TestTracker_UnknownRunID(t *testing.T) {
	tr := NewTracker(store.NewMemoryStore(0), FailClosed, nil)
	ctx := context.Background()

	_, err := tr.UpdateRunCost(ctx, "ghost", "gpt-4o", 1.0, 0, 0, true)
	require.Error(t, err)

	_, err = tr.EndRun(ctx, "ghost", ctltypes.RunStatusCompleted)
	require.Error(t, err)
}

// Property: total_cost == Σ model_costs + Σ tool_costs holds after any
// sequence of cost accruals, per spec.md §8's universal invariant.
func TestProperty_UpdateRunCost_TotalCostEqualsSumOfComponentCosts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(store.NewMemoryStore(0), FailClosed, nil)
		ctx := context.Background()
		spec := globalBudget("b1", 1_000_000, false, 50)

		rc := &ctltypes.RunContext{TenantID: "acme", RunID: "prop-run"}
		rs, err := tr.RegisterRun(ctx, rc, []*policy.BudgetSpec{spec})
		require.NoError(t, err)

		numUpdates := rapid.IntRange(0, 20).Draw(rt, "numUpdates")
		var wantTotal, wantModel, wantTool float64
		for i := 0; i < numUpdates; i++ {
			cost := rapid.Float64Range(0, 50).Draw(rt, fmt.Sprintf("cost_%d", i))
			isModel := rapid.Bool().Draw(rt, fmt.Sprintf("isModel_%d", i))
			key := rapid.SampledFrom([]string{"gpt-4o", "gpt-4o-mini", "web_search"}).Draw(rt, fmt.Sprintf("key_%d", i))

			rs, err = tr.UpdateRunCost(ctx, "prop-run", key, cost, 0, 0, isModel)
			require.NoError(t, err)

			wantTotal += cost
			if isModel {
				wantModel += cost
			} else {
				wantTool += cost
			}
		}

		require.InDelta(t, wantTotal, rs.TotalCost, 1e-9)

		var gotModel, gotTool float64
		for _, c := range rs.ModelCosts {
			gotModel += c
		}
		for _, c := range rs.ToolCosts {
			gotTool += c
		}
		require.InDelta(t, wantModel, gotModel, 1e-9)
		require.InDelta(t, wantTool, gotTool, 1e-9)
		require.InDelta(t, rs.TotalCost, gotModel+gotTool, 1e-9)

		scopeKey := ScopeKey(spec.Scope, rc, spec.ID)
		usage, err := tr.Snapshot(ctx, scopeKey, spec)
		require.NoError(t, err)
		require.InDelta(t, wantTotal, usage.TotalCost, 1e-9)
	})
}
