package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/plan"
)

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestRequisitionLifecycle(t *testing.T) {
	// GIVEN: an approved requisition of 1000
	// WHEN: it is paid out in two installments
	// THEN: each payment produces an expense and the second one marks the
	//       requisition fulfilled
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	r := f.approvedRequisition(t, b.ID, 1000)

	status, err := f.engine.Requisitions.Status(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pending payment", status)

	first, err := f.engine.Requisitions.Pay(f.ctx, alice, r.ID, outgoing(400))
	require.NoError(t, err)
	assert.Equal(t, r.ID, first.RequisitionID)
	assert.True(t, first.PaidAmount().Equal(tzs(400)))

	status, err = f.engine.Requisitions.Status(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Partially paid", status)

	_, err = f.engine.Requisitions.Pay(f.ctx, alice, r.ID, outgoing(600))
	require.NoError(t, err)

	paid, err := f.engine.Requisitions.PaidAmount(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(tzs(1000)))

	fulfilled, err := f.engine.Requisitions.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, fulfilled.Fulfilled)

	// The line is exhausted
	balance, err := f.engine.Expenses.Balance(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	// A fulfilled requisition takes no further payments
	_, err = f.engine.Requisitions.Pay(f.ctx, alice, r.ID, outgoing(1))
	assert.ErrorIs(t, err, plan.ErrValidation)
}

func TestSubmitSetsApprovedAmount(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	r, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(600),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Requisitions.Submit(f.ctx, bob, r.ID))

	submitted, err := f.engine.Requisitions.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, submitted.ApprovedAmount.Equal(tzs(600)))
}

// ============================================================================
// BALANCE GATES
// ============================================================================

func TestRequisitionOverBalanceFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	_, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "too much", RequestedAmount: tzs(900),
	})
	assert.ErrorIs(t, err, plan.ErrInvariantViolation)

	var over *plan.OverAllocationError
	require.ErrorAs(t, err, &over)
	assert.True(t, over.Available.Equal(tzs(800)))
}

func TestRequisitionOverGrossBalanceFails(t *testing.T) {
	// GIVEN: a 1000 line with an approved, unfulfilled requisition of 800
	// WHEN: bob asks for another 300
	// THEN: the gross balance of 200 does not cover it, even though the
	//       plain balance of 1000 would
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	f.approvedRequisition(t, b.ID, 800)

	gross, err := f.engine.Requisitions.GrossBalance(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, gross.Equal(tzs(200)))

	_, err = f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "more hardware", RequestedAmount: tzs(300),
	})
	assert.ErrorIs(t, err, plan.ErrInvariantViolation)
}

func TestSimilarPendingRequisitionBlocked(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	first, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(400),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Requisitions.Submit(f.ctx, bob, first.ID))

	_, err = f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware again", RequestedAmount: tzs(100),
	})
	assert.ErrorIs(t, err, plan.ErrPendingExists)
}

func TestSubmitBlockedByOverduePendingReconciliation(t *testing.T) {
	// GIVEN: bob has an unreconciled expense older than the age limit
	// WHEN: he submits a new requisition
	// THEN: the submission is refused until he reconciles
	cfg := plan.DefaultConfig()
	cfg.PendingReconciliationMaxAgeDays = 0
	f := newFixture(t, cfg)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	f.directExpense(t, b.ID, 200)

	r, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(300),
	})
	require.NoError(t, err)

	err = f.engine.Requisitions.Submit(f.ctx, bob, r.ID)
	assert.ErrorIs(t, err, plan.ErrValidation)
}

func TestOverdueReconciliationGateChecksCreator(t *testing.T) {
	// GIVEN: alice is accountable for an unreconciled expense past the
	//        age limit
	// WHEN: she submits a requisition for consumer bob
	// THEN: the submission is refused even though bob owes nothing,
	//       while bob's own requisition still goes through
	cfg := plan.DefaultConfig()
	cfg.PendingReconciliationMaxAgeDays = 0
	f := newFixture(t, cfg)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	_, err := f.engine.Expenses.Create(f.ctx, plan.Expense{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		AssociatedUser: alice, Consumer: alice, Description: "advance", Creator: alice,
	}, outgoing(200))
	require.NoError(t, err)

	blocked, err := f.engine.Requisitions.Create(f.ctx, alice, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(300),
	})
	require.NoError(t, err)
	err = f.engine.Requisitions.Submit(f.ctx, alice, blocked.ID)
	assert.ErrorIs(t, err, plan.ErrValidation)

	clean, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(300),
	})
	require.NoError(t, err)
	assert.NoError(t, f.engine.Requisitions.Submit(f.ctx, bob, clean.ID))
}

// ============================================================================
// PAY EDGE CASES
// ============================================================================

func TestPayMoreThanPendingFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	r := f.approvedRequisition(t, b.ID, 500)

	_, err := f.engine.Requisitions.Pay(f.ctx, alice, r.ID, outgoing(600))
	assert.ErrorIs(t, err, plan.ErrInvalidAmount)
}

func TestPayDeclinedRequisitionFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	r, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(500),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Requisitions.Submit(f.ctx, bob, r.ID))
	require.NoError(t, f.approvals.Decline(f.ctx, r.ApprovalRef(), carol, "no"))

	_, err = f.engine.Requisitions.Pay(f.ctx, alice, r.ID, outgoing(500))
	assert.ErrorIs(t, err, plan.ErrNotApproved)
}

// ============================================================================
// DELETE
// ============================================================================

func TestDeleteRequisitionAfterPaymentFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	r := f.approvedRequisition(t, b.ID, 500)

	_, err := f.engine.Requisitions.Pay(f.ctx, alice, r.ID, outgoing(200))
	require.NoError(t, err)

	err = f.engine.Requisitions.Delete(f.ctx, bob, r.ID)
	assert.ErrorIs(t, err, plan.ErrPaymentProcessed)
}

func TestDeletePendingRequisitionWithdrawsApproval(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	r, err := f.engine.Requisitions.Create(f.ctx, bob, plan.Requisition{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "hardware", RequestedAmount: tzs(500),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Requisitions.Submit(f.ctx, bob, r.ID))

	require.NoError(t, f.engine.Requisitions.Delete(f.ctx, bob, r.ID))
	assert.False(t, f.approvals.IsRegistered(f.ctx, r.ApprovalRef()))

	_, err = f.engine.Requisitions.Get(f.ctx, r.ID)
	assert.ErrorIs(t, err, plan.ErrNotFound)
}
