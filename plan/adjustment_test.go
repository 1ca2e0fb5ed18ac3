package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/plan"
)

// ============================================================================
// ALLOCATION ADJUSTMENTS
// ============================================================================

func TestAllocationAdjustmentAppliesOnApproval(t *testing.T) {
	// GIVEN: an approved budget with 800 allocated of a 1000 fund
	// WHEN: an adjustment of 150 is submitted, rewritten to 100 by the
	//       approver and approved
	// THEN: the line grows by the approver's amount, not the proposed one
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	a, err := f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		ProposedAmount: tzs(150), Description: "more laptops", Reason: "new hires",
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Adjustments.Submit(f.ctx, alice, a.ID))
	require.NoError(t, f.engine.Adjustments.ChangeAllocatedAmount(f.ctx, carol, a.ID, tzs(100)))
	require.NoError(t, f.approvals.Approve(f.ctx, a.ApprovalRef(), carol, "trimmed"))

	allocated, err := f.engine.Allocations.AllocatedAmount(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(tzs(900)))
}

func TestAllocationAdjustmentOverFundAbortsApproval(t *testing.T) {
	// GIVEN: a fully allocated budget
	// WHEN: an adjustment that would overrun the fund is approved
	// THEN: the approve fails and the tracker stays pending
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	a, err := f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops,
		ProposedAmount: tzs(200), Description: "overrun",
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Adjustments.Submit(f.ctx, alice, a.ID))

	err = f.approvals.Approve(f.ctx, a.ApprovalRef(), carol, "")
	assert.ErrorIs(t, err, plan.ErrInvariantViolation)
	assert.True(t, f.approvals.IsPending(f.ctx, a.ApprovalRef()))

	allocated, err := f.engine.Allocations.AllocatedAmount(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(tzs(1000)))
}

func TestAllocationAdjustmentRequiresApprovedBudget(t *testing.T) {
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)

	_, err := f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops, ProposedAmount: tzs(100),
	})
	assert.ErrorIs(t, err, plan.ErrNotApproved)
}

func TestDuplicatePendingAdjustmentBlocked(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	a, err := f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops, ProposedAmount: tzs(100),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Adjustments.Submit(f.ctx, alice, a.ID))

	_, err = f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops, ProposedAmount: tzs(50),
	})
	assert.ErrorIs(t, err, plan.ErrPendingExists)
}

func TestDeclinedAdjustmentChangesNothing(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	a, err := f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops, ProposedAmount: tzs(150),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Adjustments.Submit(f.ctx, alice, a.ID))
	require.NoError(t, f.approvals.Decline(f.ctx, a.ApprovalRef(), carol, "not now"))

	allocated, err := f.engine.Allocations.AllocatedAmount(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(tzs(800)))
}

func TestCancelledAdjustmentIsDeleted(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	a, err := f.engine.Adjustments.Create(f.ctx, alice, plan.AllocationAdjustment{
		BudgetID: b.ID, Role: roleEng, Resource: resLaptops, ProposedAmount: tzs(150),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Adjustments.Submit(f.ctx, alice, a.ID))

	require.NoError(t, f.approvals.Cancel(f.ctx, a.ApprovalRef()))

	_, err = f.engine.Adjustments.Get(f.ctx, a.ID)
	assert.ErrorIs(t, err, plan.ErrNotFound)
}

// ============================================================================
// PERIOD ADJUSTMENTS
// ============================================================================

func TestPeriodAdjustmentExtendsBudget(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)
	newEnd := b.Period.End.AddDate(0, 3, 0)

	p, err := f.engine.PeriodAdjustments.Create(f.ctx, alice, b.ID, newEnd, "project slipped")
	require.NoError(t, err)
	require.NoError(t, f.engine.PeriodAdjustments.Submit(f.ctx, alice, p.ID))
	require.NoError(t, f.approvals.Approve(f.ctx, p.ApprovalRef(), carol, ""))

	extended, err := f.engine.Budgets.Get(f.ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, extended.Period.End.Equal(newEnd))
}

func TestPeriodAdjustmentRequiresLaterDate(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	_, err := f.engine.PeriodAdjustments.Create(f.ctx, alice, b.ID, b.Period.End, "no-op")
	assert.ErrorIs(t, err, plan.ErrValidation)

	_, err = f.engine.PeriodAdjustments.Create(f.ctx, alice, b.ID, b.Period.End.AddDate(0, -1, 0), "backwards")
	assert.ErrorIs(t, err, plan.ErrValidation)
}

func TestUpdateProposedDate(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	p, err := f.engine.PeriodAdjustments.Create(f.ctx, alice, b.ID, b.Period.End.AddDate(0, 1, 0), "")
	require.NoError(t, err)

	later := b.Period.End.AddDate(0, 6, 0)
	require.NoError(t, f.engine.PeriodAdjustments.UpdateProposedDate(f.ctx, alice, p.ID, later))

	got, err := f.engine.PeriodAdjustments.Get(f.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.ProposedEndDate.Equal(later))
}

func TestDuplicatePendingPeriodAdjustmentBlocked(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	p, err := f.engine.PeriodAdjustments.Create(f.ctx, alice, b.ID, b.Period.End.AddDate(0, 1, 0), "")
	require.NoError(t, err)
	require.NoError(t, f.engine.PeriodAdjustments.Submit(f.ctx, alice, p.ID))

	_, err = f.engine.PeriodAdjustments.Create(f.ctx, alice, b.ID, b.Period.End.AddDate(0, 2, 0), "")
	assert.ErrorIs(t, err, plan.ErrPendingExists)
}
