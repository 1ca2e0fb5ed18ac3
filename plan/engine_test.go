package plan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/approval"
	"github.com/bonifacechacha/plan-lib/directory"
	"github.com/bonifacechacha/plan-lib/money"
	"github.com/bonifacechacha/plan-lib/plan"
	"github.com/bonifacechacha/plan-lib/store/memory"
)

// ============================================================================
// TEST HARNESS
// ============================================================================

const (
	costCenter = plan.CostCenterID("operations")
	roleEng    = plan.RoleID("engineering")
	resLaptops = plan.ResourceID("laptops")
	resServers = plan.ResourceID("servers")
)

const (
	alice = plan.UserID("alice") // planner for operations, member of engineering
	bob   = plan.UserID("bob")   // consumer, member of engineering
	carol = plan.UserID("carol") // single-level approver for everything
	root  = plan.UserID("root")  // override holder
	eve   = plan.UserID("eve")   // outsider, no permissions
)

type fixture struct {
	ctx       context.Context
	engine    *plan.Engine
	approvals *approval.Service
	dir       *directory.Directory
}

func newFixture(t *testing.T, cfg plan.Config) *fixture {
	t.Helper()

	dir := directory.New()
	dir.AddPlanner(costCenter, alice)
	dir.AddMember(roleEng, alice)
	dir.AddMember(roleEng, bob)
	dir.AllowRoleResource(roleEng, resLaptops)
	dir.AllowRoleResource(roleEng, resServers)
	dir.AllowCostCenterResource(costCenter, resLaptops)
	dir.AllowCostCenterResource(costCenter, resServers)
	dir.AllowCostCenterRole(costCenter, roleEng)

	approvals := approval.NewService()
	for _, criteria := range []string{
		plan.BudgetApprovalCriteria,
		plan.RequisitionApprovalCriteria,
		plan.RetirementApprovalCriteria,
		plan.AllocationAdjustmentApprovalCriteria,
		plan.PeriodAdjustmentApprovalCriteria,
	} {
		approvals.SetChain(criteria, carol)
	}
	approvals.GrantOverride(root)

	engine := plan.NewEngine(memory.NewStore(), dir, approvals, cfg)
	approvals.BindHooks(engine.ApprovalHooks())

	return &fixture{
		ctx:       context.Background(),
		engine:    engine,
		approvals: approvals,
		dir:       dir,
	}
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, plan.DefaultConfig())
}

func tzs(n float64) money.Money {
	return money.NewFromFloat(n, "TZS")
}

func currentPeriod() plan.Period {
	return plan.Period{
		Start: time.Now().AddDate(0, -1, 0),
		End:   time.Now().AddDate(0, 11, 0),
	}
}

func outgoing(amount float64) plan.Payment {
	return plan.Payment{Amount: tzs(amount), Paid: true, Time: time.Now(), Method: "transfer"}
}

func incoming(amount float64) plan.Payment {
	return plan.Payment{Amount: tzs(amount), Paid: false, Time: time.Now(), Method: "transfer"}
}

// createBudget stores a draft budget owned by alice.
func (f *fixture) createBudget(t *testing.T, title string, fund float64) *plan.Budget {
	t.Helper()
	b, err := f.engine.Budgets.Create(f.ctx, alice, plan.Budget{
		Title:      title,
		CostCenter: costCenter,
		Fund:       tzs(fund),
		Period:     currentPeriod(),
	})
	require.NoError(t, err)
	return b
}

// approvedBudget runs a budget through planning and approval with a
// single laptops allocation.
func (f *fixture) approvedBudget(t *testing.T, title string, fund, allocation float64) *plan.Budget {
	t.Helper()
	b := f.createBudget(t, title, fund)
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(allocation), "initial plan", ""))
	require.NoError(t, f.engine.Budgets.SubmitApproval(f.ctx, alice, b.ID))
	require.NoError(t, f.approvals.Approve(f.ctx, b.ApprovalRef(), carol, "looks good"))

	approved, err := f.engine.Budgets.Get(f.ctx, b.ID)
	require.NoError(t, err)
	require.True(t, approved.IsApproved())
	return approved
}

// approvedRequisition creates and approves a laptops requisition for bob.
func (f *fixture) approvedRequisition(t *testing.T, budgetID plan.BudgetID, amount float64) *plan.Requisition {
	t.Helper()
	r, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID:        budgetID,
		Role:            roleEng,
		Resource:        resLaptops,
		Consumer:        bob,
		Description:     "hardware",
		RequestedAmount: tzs(amount),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Requisitions.Submit(f.ctx, bob, r.ID))
	require.NoError(t, f.approvals.Approve(f.ctx, r.ApprovalRef(), carol, ""))

	approved, err := f.engine.Requisitions.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.True(t, approved.IsApproved())
	return approved
}

// directExpense records an outgoing payment for bob against the laptops
// line.
func (f *fixture) directExpense(t *testing.T, budgetID plan.BudgetID, amount float64) *plan.Expense {
	t.Helper()
	e, err := f.engine.Expenses.Create(f.ctx, plan.Expense{
		BudgetID:    budgetID,
		Role:        roleEng,
		Resource:    resLaptops,
		Consumer:    bob,
		Description: "direct purchase",
		Creator:     alice,
	}, outgoing(amount))
	require.NoError(t, err)
	return e
}

// savedRetirement files a retirement by bob with one entry per amount.
func (f *fixture) savedRetirement(t *testing.T, expenseID plan.ExpenseID, amounts ...float64) *plan.Retirement {
	t.Helper()
	var entries []plan.RetirementEntry
	for _, a := range amounts {
		entries = append(entries, plan.RetirementEntry{
			Description: "receipt",
			Amount:      tzs(a),
			Time:        time.Now(),
		})
	}
	r, err := f.engine.Retirements.Save(f.ctx, bob, plan.Retirement{
		ExpenseID: expenseID,
		Entries:   entries,
	})
	require.NoError(t, err)
	return r
}

// approvedRetirement files, submits, fully accepts and approves a
// retirement with one entry per amount.
func (f *fixture) approvedRetirement(t *testing.T, expenseID plan.ExpenseID, amounts ...float64) *plan.Retirement {
	t.Helper()
	r := f.savedRetirement(t, expenseID, amounts...)
	require.NoError(t, f.engine.Retirements.Submit(f.ctx, bob, r.ID))
	require.NoError(t, f.engine.Retirements.AcceptEntries(f.ctx, carol, r.ID, entryIDs(r)))
	require.NoError(t, f.approvals.Approve(f.ctx, r.ApprovalRef(), carol, ""))

	approved, err := f.engine.Retirements.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.True(t, approved.IsApproved())
	return approved
}

func entryIDs(r *plan.Retirement) []string {
	ids := make([]string, 0, len(r.Entries))
	for _, entry := range r.Entries {
		ids = append(ids, entry.ID)
	}
	return ids
}
