package budget

import "time"

// PeriodUsage is the durable per-scope-key accumulator for one budget
// during one time window (spec §3/§4.3). TotalCost and TotalRuns reset
// every period rollover; ConcurrentRuns is a live set of in-flight run_ids
// and survives rollover untouched, since a run spanning a period boundary
// is still running.
type PeriodUsage struct {
	ScopeKey    string
	BudgetID    string
	PeriodStart time.Time
	PeriodEnd   time.Time

	TotalCost      float64
	TotalRuns      int
	ConcurrentRuns map[string]struct{}
}

// NewPeriodUsage returns a zeroed PeriodUsage for [start, end).
func NewPeriodUsage(scopeKey, budgetID string, start, end time.Time) *PeriodUsage {
	return &PeriodUsage{
		ScopeKey:       scopeKey,
		BudgetID:       budgetID,
		PeriodStart:    start,
		PeriodEnd:      end,
		ConcurrentRuns: make(map[string]struct{}),
	}
}

// Clone returns a deep copy whose ConcurrentRuns set is independent of
// u's, so callers can change the copy without affecting u.
func (u *PeriodUsage) Clone() *PeriodUsage {
	if u == nil {
		return nil
	}
	cp := *u
	cp.ConcurrentRuns = make(map[string]struct{}, len(u.ConcurrentRuns))
	for k := range u.ConcurrentRuns {
		cp.ConcurrentRuns[k] = struct{}{}
	}
	return &cp
}

// rolledInto returns a fresh PeriodUsage for the given [start, end) window,
// carrying ConcurrentRuns forward from u (nil-safe: u may be nil the first
// time a scope key is seen).
func rolledInto(u *PeriodUsage, scopeKey, budgetID string, start, end time.Time) *PeriodUsage {
	next := NewPeriodUsage(scopeKey, budgetID, start, end)
	if u != nil {
		for runID := range u.ConcurrentRuns {
			next.ConcurrentRuns[runID] = struct{}{}
		}
	}
	return next
}
