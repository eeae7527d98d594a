package budget

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/costguard/costguard/ctlerrors"
	"github.com/costguard/costguard/ctltypes"
	"github.com/costguard/costguard/policy"
	"github.com/costguard/costguard/store"
)

// FailureMode controls how the Tracker behaves when the durable store is
// unreachable (spec §5/§7): fail_open lets runs proceed (logging a
// warning, since enforcement can't be evaluated) while fail_closed treats
// the outage itself as a rejection.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// BudgetCheckResult is one BudgetSpec's evaluation against its current
// PeriodUsage and a run's own accrual, consumed by the Lifecycle Engine to
// build AdmissionDecision/IterationDecision/ModelDecision/ToolDecision.
type BudgetCheckResult struct {
	Spec   *policy.BudgetSpec
	Usage  *PeriodUsage
	// RemainingCost is MaxCost - Usage.TotalCost, or nil if the spec sets
	// no MaxCost.
	RemainingCost *float64
	// SoftTriggered is the highest soft_thresholds fraction usage has
	// crossed, or nil if none has been crossed yet.
	SoftTriggered *float64
	HardExceeded      bool
	RunsExceeded      bool
	ConcurrentExceeded bool
	// StoreUnavailable is true when this result is a fail_open placeholder
	// produced because the durable store could not be reached.
	StoreUnavailable bool
}

type runBinding struct {
	scopeKey string
	spec     *policy.BudgetSpec
}

// runEntry is one run's live RunState plus its own mutex, grounded on the
// teacher's llm/resilience.go ResilientProvider.idempotencyMap pattern: a
// sync.Map keyed by request (here, run) id, with per-entry locking instead
// of one lock guarding the whole map's values. Hooks for different runs
// never block each other; only concurrent hooks for the *same* run_id
// serialize, on that run's own mutex.
type runEntry struct {
	mu       sync.Mutex
	state    *ctltypes.RunState
	bindings []runBinding
}

// Tracker is the Budget Tracker (component C3): it owns RunState for every
// in-flight run, persists PeriodUsage through a store.Store with
// optimistic-concurrency retries, and evaluates BudgetSpec limits on
// demand for the Lifecycle Engine.
type Tracker struct {
	st          store.Store
	failureMode FailureMode
	logger      *zap.Logger

	// runs maps run_id -> *runEntry. sync.Map suits this access pattern:
	// disjoint keys accessed concurrently by many goroutines, each key
	// written far more often than the set of keys itself changes.
	runs sync.Map
}

// NewTracker returns a Tracker backed by st.
func NewTracker(st store.Store, failureMode FailureMode, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if failureMode == "" {
		failureMode = FailClosed
	}
	return &Tracker{
		st:          st,
		failureMode: failureMode,
		logger:      logger,
	}
}

// maxCASAttempts bounds the optimistic-concurrency retry loop used for
// every store mutation below (spec §5: at most 3 retries on conflict).
const maxCASAttempts = 4

func (t *Tracker) loadOrRollUsage(ctx context.Context, scopeKey string, spec *policy.BudgetSpec, now time.Time) (*PeriodUsage, int64, error) {
	start, end := Bounds(spec.Period, now)

	rec, ok, err := t.st.Get(ctx, scopeKey)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return NewPeriodUsage(scopeKey, spec.ID, start, end), 0, nil
	}

	var usage PeriodUsage
	if err := json.Unmarshal(rec.Value, &usage); err != nil {
		return nil, 0, ctlerrors.New(ctlerrors.ErrStoreUnavailable, "decode period usage").WithCause(err)
	}

	if !now.Before(usage.PeriodEnd) {
		return rolledInto(&usage, scopeKey, spec.ID, start, end), rec.Version, nil
	}
	return &usage, rec.Version, nil
}

// staleGrace extends a PeriodUsage record's store TTL well past its own
// PeriodEnd. ConcurrentRuns must survive a period rollover, which is only
// detected lazily on the next access to that scope key -- if the store
// expired the record exactly at PeriodEnd, an access arriving any time
// after that instant would find nothing and silently lose the in-flight
// run set instead of rolling it forward. The grace window just needs to
// comfortably outlast the gap between accesses; a week does that for every
// period length this package supports.
const staleGrace = 7 * 24 * time.Hour

// mutateUsage loads the current usage for scopeKey (rolling it into a new
// period if the stored one has expired), applies fn, and writes it back
// with a bounded compare-and-swap retry loop.
func (t *Tracker) mutateUsage(ctx context.Context, scopeKey string, spec *policy.BudgetSpec, fn func(*PeriodUsage)) (*PeriodUsage, error) {
	var result *PeriodUsage
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := time.Now()
		usage, version, err := t.loadOrRollUsage(ctx, scopeKey, spec, now)
		if err != nil {
			return nil, err
		}

		fn(usage)

		encoded, err := json.Marshal(usage)
		if err != nil {
			return nil, ctlerrors.New(ctlerrors.ErrStoreUnavailable, "encode period usage").WithCause(err)
		}

		_, err = t.st.CompareAndSwap(ctx, scopeKey, encoded, version, usage.PeriodEnd.Add(staleGrace))
		if err == nil {
			result = usage
			break
		}
		if errors.Is(err, store.ErrVersionConflict) && attempt < maxCASAttempts-1 {
			continue
		}
		return nil, err
	}
	if result == nil {
		return nil, ctlerrors.New(ctlerrors.ErrStoreUnavailable, "exhausted compare-and-swap retries for "+scopeKey)
	}
	return result, nil
}

func (t *Tracker) readUsage(ctx context.Context, scopeKey string, spec *policy.BudgetSpec) (*PeriodUsage, error) {
	now := time.Now()
	usage, _, err := t.loadOrRollUsage(ctx, scopeKey, spec, now)
	return usage, err
}

// RegisterRun starts tracking a new run against every matching BudgetSpec:
// it creates the run's RunState, and adds the run's id to each spec's
// ConcurrentRuns set. Registration happens unconditionally, even for specs
// with Enabled==false, so usage data stays accurate regardless of whether
// enforcement is currently switched on for that spec (spec §4.5).
func (t *Tracker) RegisterRun(ctx context.Context, rc *ctltypes.RunContext, specs []*policy.BudgetSpec) (*ctltypes.RunState, error) {
	rs := ctltypes.NewRunState(rc)

	bindings := make([]runBinding, 0, len(specs))
	for _, spec := range specs {
		scopeKey := ScopeKey(spec.Scope, rc, spec.ID)
		_, err := t.mutateUsage(ctx, scopeKey, spec, func(u *PeriodUsage) {
			u.ConcurrentRuns[rc.RunID] = struct{}{}
		})
		if err != nil {
			if t.isStoreUnavailable(err) && t.failureMode == FailOpen {
				t.logger.Warn("budget store unavailable during registration, proceeding fail-open",
					zap.String("run_id", rc.RunID), zap.String("scope_key", scopeKey), zap.Error(err))
				continue
			}
			return nil, err
		}
		bindings = append(bindings, runBinding{scopeKey: scopeKey, spec: spec})
	}

	t.runs.Store(rc.RunID, &runEntry{state: rs, bindings: bindings})

	return rs, nil
}

func (t *Tracker) isStoreUnavailable(err error) bool {
	return ctlerrors.Code(err) == ctlerrors.ErrStoreUnavailable
}

func (t *Tracker) entry(runID string) (*runEntry, bool) {
	v, ok := t.runs.Load(runID)
	if !ok {
		return nil, false
	}
	return v.(*runEntry), true
}

// RunState returns the live RunState for runID, or ok=false if unknown
// (spec §4.5: unknown run_id is a permissive, logged condition -- callers
// decide what "permissive" means for their hook).
func (t *Tracker) RunState(runID string) (*ctltypes.RunState, bool) {
	e, ok := t.entry(runID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// UpdateRunCost accrues cost (and, for model calls, token counts) onto the
// run's RunState and onto every bound BudgetSpec's PeriodUsage. Locking for
// different run_ids never contends: each runEntry guards only its own
// RunState, and PeriodUsage mutation below goes through the store's own
// compare-and-swap rather than an in-process lock.
func (t *Tracker) UpdateRunCost(ctx context.Context, runID, key string, cost float64, inputTokens, outputTokens int64, isModel bool) (*ctltypes.RunState, error) {
	e, ok := t.entry(runID)
	if !ok {
		return nil, ctlerrors.Newf(ctlerrors.ErrUnknownRun, "unknown run %q", runID)
	}

	e.mu.Lock()
	rs := e.state
	if isModel {
		rs.ModelCosts[key] += cost
		rs.TotalInputTokens += inputTokens
		rs.TotalOutputTokens += outputTokens
	} else {
		rs.ToolCosts[key] += cost
		rs.TotalToolCalls++
	}
	rs.TotalCost += cost
	bindings := e.bindings
	e.mu.Unlock()

	for _, b := range bindings {
		_, err := t.mutateUsage(ctx, b.scopeKey, b.spec, func(u *PeriodUsage) {
			u.TotalCost += cost
		})
		if err != nil {
			if t.isStoreUnavailable(err) && t.failureMode == FailOpen {
				t.logger.Warn("budget store unavailable during cost accrual, proceeding fail-open",
					zap.String("run_id", runID), zap.String("scope_key", b.scopeKey), zap.Error(err))
				continue
			}
			return rs, err
		}
	}
	return rs, nil
}

// EndRun finalizes a run: its PeriodUsage bindings get TotalRuns+1 and lose
// the run's id from ConcurrentRuns, and its RunState is removed from the
// live registry after being returned for final reporting.
func (t *Tracker) EndRun(ctx context.Context, runID string, status ctltypes.RunStatus) (*ctltypes.RunState, error) {
	e, ok := t.entry(runID)
	if !ok {
		return nil, ctlerrors.Newf(ctlerrors.ErrUnknownRun, "unknown run %q", runID)
	}

	now := time.Now()
	e.mu.Lock()
	e.state.Status = status
	e.state.EndedAt = &now
	final := e.state.Clone()
	bindings := e.bindings
	e.mu.Unlock()

	for _, b := range bindings {
		_, err := t.mutateUsage(ctx, b.scopeKey, b.spec, func(u *PeriodUsage) {
			delete(u.ConcurrentRuns, runID)
			u.TotalRuns++
		})
		if err != nil {
			if t.isStoreUnavailable(err) && t.failureMode == FailOpen {
				t.logger.Warn("budget store unavailable during run teardown, proceeding fail-open",
					zap.String("run_id", runID), zap.String("scope_key", b.scopeKey), zap.Error(err))
				continue
			}
			return final, err
		}
	}

	t.runs.Delete(runID)

	return final, nil
}

// CheckBudgetLimits evaluates every given spec against its current
// PeriodUsage. On a store outage, fail_open synthesizes a permissive,
// StoreUnavailable result per spec rather than propagating the error;
// fail_closed propagates it.
func (t *Tracker) CheckBudgetLimits(ctx context.Context, rc *ctltypes.RunContext, specs []*policy.BudgetSpec) ([]BudgetCheckResult, error) {
	results := make([]BudgetCheckResult, 0, len(specs))
	for _, spec := range specs {
		scopeKey := ScopeKey(spec.Scope, rc, spec.ID)
		usage, err := t.readUsage(ctx, scopeKey, spec)
		if err != nil {
			if t.isStoreUnavailable(err) && t.failureMode == FailOpen {
				results = append(results, BudgetCheckResult{Spec: spec, StoreUnavailable: true})
				continue
			}
			return nil, err
		}

		result := BudgetCheckResult{Spec: spec, Usage: usage}
		if spec.MaxCost != nil {
			remaining := *spec.MaxCost - usage.TotalCost
			result.RemainingCost = &remaining

			for _, threshold := range spec.SoftThresholds {
				if usage.TotalCost >= threshold*(*spec.MaxCost) {
					crossed := threshold
					result.SoftTriggered = &crossed
				}
			}
			if spec.HardLimit && usage.TotalCost >= *spec.MaxCost {
				result.HardExceeded = true
			}
		}
		if spec.MaxRunsPerPeriod > 0 && usage.TotalRuns >= spec.MaxRunsPerPeriod {
			result.RunsExceeded = true
		}
		if spec.MaxConcurrentRuns > 0 && len(usage.ConcurrentRuns) >= spec.MaxConcurrentRuns {
			result.ConcurrentExceeded = true
		}
		results = append(results, result)
	}
	return results, nil
}

// Snapshot returns a read-only copy of the PeriodUsage stored at scopeKey,
// for inspection tooling (SPEC_FULL.md §10's supplemented read API).
func (t *Tracker) Snapshot(ctx context.Context, scopeKey string, spec *policy.BudgetSpec) (*PeriodUsage, error) {
	usage, err := t.readUsage(ctx, scopeKey, spec)
	if err != nil {
		return nil, err
	}
	return usage.Clone(), nil
}
