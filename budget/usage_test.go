package budget

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: Serialize PeriodUsage -> store -> deserialize -> equal value
// (spec.md §8's round-trip law). mutateUsage and loadOrRollUsage in
// tracker.go rely on exactly this law holding for every reachable
// PeriodUsage value.
func TestProperty_PeriodUsage_JSONRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		start := time.Unix(rapid.Int64Range(0, 2_000_000_000).Draw(rt, "periodStartUnix"), 0).UTC()
		periodLenSeconds := rapid.Int64Range(1, 1_000_000).Draw(rt, "periodLenSeconds")
		end := start.Add(time.Duration(periodLenSeconds) * time.Second)

		u := NewPeriodUsage(
			rapid.StringMatching(`[a-z0-9:_-]{1,32}`).Draw(rt, "scopeKey"),
			rapid.StringMatching(`[a-z0-9_-]{1,16}`).Draw(rt, "budgetID"),
			start, end,
		)
		u.TotalCost = rapid.Float64Range(0, 1_000_000).Draw(rt, "totalCost")
		u.TotalRuns = rapid.IntRange(0, 10_000).Draw(rt, "totalRuns")

		numRuns := rapid.IntRange(0, 8).Draw(rt, "numConcurrentRuns")
		for i := 0; i < numRuns; i++ {
			u.ConcurrentRuns[rapid.StringMatching(`run-[a-z0-9]{1,8}`).Draw(rt, fmt.Sprintf("run_%d", i))] = struct{}{}
		}

		encoded, err := json.Marshal(u)
		require.NoError(t, err)

		var decoded PeriodUsage
		require.NoError(t, json.Unmarshal(encoded, &decoded))

		require.Equal(t, u.ScopeKey, decoded.ScopeKey)
		require.Equal(t, u.BudgetID, decoded.BudgetID)
		require.True(t, u.PeriodStart.Equal(decoded.PeriodStart))
		require.True(t, u.PeriodEnd.Equal(decoded.PeriodEnd))
		require.InDelta(t, u.TotalCost, decoded.TotalCost, 1e-9)
		require.Equal(t, u.TotalRuns, decoded.TotalRuns)
		require.Equal(t, len(u.ConcurrentRuns), len(decoded.ConcurrentRuns))
		for runID := range u.ConcurrentRuns {
			require.Contains(t, decoded.ConcurrentRuns, runID)
		}
	})
}
