package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/costguard/costguard/budget"
	"github.com/costguard/costguard/metrics"
	"github.com/costguard/costguard/policy"
	"github.com/costguard/costguard/router"
	"github.com/costguard/costguard/store"
)

func newTestEngine(t *testing.T, src *policy.StaticSource) (*Engine, *budget.Tracker, *metrics.Recording) {
	t.Helper()
	st, err := policy.NewStore(src, 0, nil)
	require.NoError(t, err)

	tracker := budget.NewTracker(store.NewMemoryStore(0), budget.FailClosed, nil)
	rec := metrics.NewRecording()
	return New(st, tracker, router.New(), rec, nil), tracker, rec
}

func staticSourceWithBudget(b policy.BudgetDoc) *policy.StaticSource {
	return &policy.StaticSource{
		Budgets: []policy.BudgetDoc{b},
		Pricing: policy.PricingDoc{
			Currency:            "USD",
			FallbackInputPer1K:  1,
			FallbackOutputPer1K: 2,
			Models: map[string]policy.ModelPricingDoc{
				"gpt-4o": {InputPer1K: 2.5, OutputPer1K: 10.0},
			},
		},
	}
}

func float64Ptr(v float64) *float64 { return &v }
