package budget

import (
	"fmt"

	"github.com/costguard/costguard/ctltypes"
	"github.com/costguard/costguard/policy"
)

// ScopeKey derives the durable-store key for a budget's aggregation bucket
// (spec §4.3's key layout): global budgets share one key per budget_id,
// while tenant/strand/workflow-scoped budgets are additionally keyed by the
// identifiers that scope narrows on.
func ScopeKey(scope policy.Scope, ctx *ctltypes.RunContext, budgetID string) string {
	switch scope {
	case policy.ScopeGlobal:
		return fmt.Sprintf("global:%s", budgetID)
	case policy.ScopeTenant:
		return fmt.Sprintf("tenant:%s:%s", ctx.TenantID, budgetID)
	case policy.ScopeStrand:
		return fmt.Sprintf("strand:%s:%s:%s", ctx.TenantID, ctx.StrandID, budgetID)
	case policy.ScopeWorkflow:
		return fmt.Sprintf("workflow:%s:%s:%s:%s", ctx.TenantID, ctx.StrandID, ctx.WorkflowID, budgetID)
	default:
		return fmt.Sprintf("unknown:%s", budgetID)
	}
}
