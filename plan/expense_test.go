package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/plan"
)

// ============================================================================
// CREATE
// ============================================================================

func TestDirectExpenseReducesBalance(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	f.directExpense(t, b.ID, 300)

	balance, err := f.engine.Expenses.Balance(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, balance.Equal(tzs(500)))

	pct, err := f.engine.Expenses.BalancePercentage(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.InDelta(t, 62.5, pct, 0.001)
}

func TestDirectExpenseOverBalanceFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	_, err := f.engine.Expenses.Create(f.ctx, plan.Expense{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "too much", Creator: alice,
	}, outgoing(900))
	assert.ErrorIs(t, err, plan.ErrInvariantViolation)

	var over *plan.OverAllocationError
	require.ErrorAs(t, err, &over)
	assert.True(t, over.Available.Equal(tzs(800)))
}

func TestExpensePaymentMustBeOutgoing(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	_, err := f.engine.Expenses.Create(f.ctx, plan.Expense{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: bob, Description: "wrong way", Creator: alice,
	}, incoming(300))
	assert.ErrorIs(t, err, plan.ErrValidation)
}

func TestExpenseRequiresRoleMembership(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	_, err := f.engine.Expenses.Create(f.ctx, plan.Expense{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		Consumer: eve, Description: "outsider", Creator: alice,
	}, outgoing(100))
	assert.ErrorIs(t, err, plan.ErrNotAuthorized)
}

// ============================================================================
// SETTLEMENT
// ============================================================================

func TestSettlementDirectionAndReconciliation(t *testing.T) {
	// GIVEN: an expense paid at 500 with 400 retired, so the consumer
	//        owes 100 back
	// WHEN: the difference is settled
	// THEN: an outgoing settlement is refused, an incoming one of 100
	//       reconciles the expense
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)
	f.approvedRetirement(t, e.ID, 400)

	retired, err := f.engine.Expenses.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, retired.RetiredDifference().Equal(tzs(100)))
	assert.False(t, retired.RequiresPayment())

	err = f.engine.Expenses.Settle(f.ctx, e.ID, outgoing(100))
	assert.ErrorIs(t, err, plan.ErrValidation)

	require.NoError(t, f.engine.Expenses.Settle(f.ctx, e.ID, incoming(100)))

	settled, err := f.engine.Expenses.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, settled.Reconciled)
	assert.True(t, settled.PendingSettlement().IsZero())

	// A reconciled expense counts its retired amount against the budget
	assert.True(t, settled.ActualAmount().Equal(tzs(400)))
	balance, err := f.engine.Expenses.Balance(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, balance.Equal(tzs(600)))
}

func TestSettleOverDifferenceFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)
	f.approvedRetirement(t, e.ID, 400)

	err := f.engine.Expenses.Settle(f.ctx, e.ID, incoming(150))
	assert.ErrorIs(t, err, plan.ErrInvalidAmount)
}

func TestSettleWithoutRetirementsFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)

	err := f.engine.Expenses.Settle(f.ctx, e.ID, incoming(100))
	assert.ErrorIs(t, err, plan.ErrValidation)
}

// ============================================================================
// RECONCILIATION
// ============================================================================

func TestExactRetirementAutoReconciles(t *testing.T) {
	// GIVEN: an expense paid at 500
	// WHEN: a retirement of exactly 500 is approved
	// THEN: the expense reconciles without a settlement
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)

	f.approvedRetirement(t, e.ID, 300, 200)

	reconciled, err := f.engine.Expenses.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, reconciled.Reconciled)
	assert.Equal(t, "Reconciled", reconciled.Status())
}

func TestMarkReconciledWithUnsettledDifferenceFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)
	f.approvedRetirement(t, e.ID, 400)

	err := f.engine.Expenses.MarkReconciled(f.ctx, e.ID)
	assert.ErrorIs(t, err, plan.ErrValidation)
}

func TestMarkReconciledWithoutRetirementsFails(t *testing.T) {
	// GIVEN: an expense paid at 500 with nothing retired against it
	// WHEN: it is marked reconciled
	// THEN: the sealing is refused, the whole payment is unaccounted for
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)

	err := f.engine.Expenses.MarkReconciled(f.ctx, e.ID)
	assert.ErrorIs(t, err, plan.ErrValidation)

	open, err := f.engine.Expenses.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, open.Reconciled)
	assert.True(t, open.RetiredDifference().Equal(tzs(500)))
}

func TestMarkReconciledAfterExactRetirement(t *testing.T) {
	cfg := plan.DefaultConfig()
	cfg.AutoReconcileCompleteRetirement = false
	f := newFixture(t, cfg)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	e := f.directExpense(t, b.ID, 500)
	f.approvedRetirement(t, e.ID, 500)

	require.NoError(t, f.engine.Expenses.MarkReconciled(f.ctx, e.ID))

	err := f.engine.Expenses.MarkReconciled(f.ctx, e.ID)
	assert.ErrorIs(t, err, plan.ErrAlreadyReconciled)
}

func TestPendingReconciliation(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)
	open := f.directExpense(t, b.ID, 200)
	closed := f.directExpense(t, b.ID, 300)
	f.approvedRetirement(t, closed.ID, 300)

	pending, err := f.engine.Expenses.PendingReconciliation(f.ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)
}
