package policy

import (
	"testing"

	"github.com/costguard/costguard/ctltypes"
	"github.com/stretchr/testify/require"
)

func TestMatch_WildcardSemantics(t *testing.T) {
	ctx := &ctltypes.RunContext{TenantID: "acme", StrandID: "s1", WorkflowID: "w1"}

	require.True(t, Match{}.Matches(ctx))
	require.True(t, Match{TenantID: "*"}.Matches(ctx))
	require.True(t, Match{TenantID: "acme"}.Matches(ctx))
	require.False(t, Match{TenantID: "other"}.Matches(ctx))
	require.True(t, Match{TenantID: "acme", StrandID: "s1", WorkflowID: "w1"}.Matches(ctx))
	require.False(t, Match{TenantID: "acme", StrandID: "s2"}.Matches(ctx))
}

// TestBudgetSpec_Specificity reproduces spec.md's scenario S6 literals: a
// global budget with no match fields pinned scores 0, a tenant-scoped
// budget pinning only tenant_id scores 11 (1 for the pinned field + 10 for
// the tenant scope weight), and a workflow-scoped budget pinning all three
// fields scores 37 (4+2+1 for the pinned fields + 30 for the workflow scope
// weight).
func TestBudgetSpec_Specificity(t *testing.T) {
	global := &BudgetSpec{Scope: ScopeGlobal, Match: Match{}}
	require.Equal(t, 0, global.Specificity())

	tenant := &BudgetSpec{Scope: ScopeTenant, Match: Match{TenantID: "acme"}}
	require.Equal(t, 11, tenant.Specificity())

	workflow := &BudgetSpec{Scope: ScopeWorkflow, Match: Match{TenantID: "acme", StrandID: "s1", WorkflowID: "w1"}}
	require.Equal(t, 37, workflow.Specificity())

	require.True(t, workflow.Specificity() > tenant.Specificity())
	require.True(t, tenant.Specificity() > global.Specificity())
}

func TestRoutingPolicy_StageConfigFor(t *testing.T) {
	rp := &RoutingPolicy{
		DefaultModel: "gpt-4o-mini",
		Stages: []StageConfig{
			{Stage: "planning", DefaultModel: "gpt-4o"},
		},
	}

	cfg, ok := rp.StageConfigFor("planning")
	require.True(t, ok)
	require.Equal(t, "gpt-4o", cfg.DefaultModel)

	_, ok = rp.StageConfigFor("synthesis")
	require.False(t, ok)
}
