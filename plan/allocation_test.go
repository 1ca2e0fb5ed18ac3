package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/plan"
)

// ============================================================================
// PROPOSE
// ============================================================================

func TestProposeOverwrites(t *testing.T) {
	// GIVEN: a line proposed at 500
	// WHEN: the planner proposes 300 for the same line
	// THEN: the proposed amount is 300, not 800
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)

	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(500), "first", ""))
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(300), "revised", ""))

	lines, err := f.engine.Allocations.Find(f.ctx, plan.AllocationFilter{BudgetID: b.ID, Role: roleEng, Resource: resLaptops})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].ProposedAmount.Equal(tzs(300)))

	// Both proposals are in the change log, newest first
	changes, err := f.engine.Allocations.Changes(f.ctx, lines[0].ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Amount.Equal(tzs(300)))
	assert.True(t, changes[1].Amount.Equal(tzs(500)))
}

func TestEqualReproposalWritesNoChangeEntry(t *testing.T) {
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)

	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(500), "first", ""))
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(500), "same again", ""))

	lines, err := f.engine.Allocations.Find(f.ctx, plan.AllocationFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, lines, 1)

	changes, err := f.engine.Allocations.Changes(f.ctx, lines[0].ID)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestProposeOverFundRollsBack(t *testing.T) {
	// GIVEN: a budget of 1000 with 800 already proposed
	// WHEN: a second line of 300 is proposed
	// THEN: the write fails with an over-budget error and the second
	//       line is not persisted
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(800), "", ""))

	err := f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resServers, tzs(300), "", "")
	assert.ErrorIs(t, err, plan.ErrInvariantViolation)

	var overBudget *plan.OverBudgetError
	require.ErrorAs(t, err, &overBudget)
	assert.True(t, overBudget.Total.Equal(tzs(1100)))
	assert.True(t, overBudget.Fund.Equal(tzs(1000)))

	lines, err := f.engine.Allocations.Find(f.ctx, plan.AllocationFilter{BudgetID: b.ID})
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestProposeAfterApprovalFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	err := f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resServers, tzs(100), "", "")
	assert.ErrorIs(t, err, plan.ErrAlreadyApproved)
}

func TestProposeRequiresPlannerMembership(t *testing.T) {
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)

	err := f.engine.Allocations.Propose(f.ctx, eve, b.ID, roleEng, resLaptops, tzs(100), "", "")
	assert.ErrorIs(t, err, plan.ErrNotAuthorized)
}

func TestCurrentApproverMayReviseProposals(t *testing.T) {
	// GIVEN: a budget under approval
	// WHEN: the current approver revises a line
	// THEN: the revision is accepted even though carol is no planner
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(800), "", ""))
	require.NoError(t, f.engine.Budgets.SubmitApproval(f.ctx, alice, b.ID))

	err := f.engine.Allocations.Propose(f.ctx, carol, b.ID, roleEng, resLaptops, tzs(700), "trimmed", "")
	assert.NoError(t, err)
}

// ============================================================================
// ADJUST
// ============================================================================

func TestAdjustAllocationAdds(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	require.NoError(t, f.engine.Allocations.AdjustAllocation(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(150), "more laptops", ""))

	allocated, err := f.engine.Allocations.AllocatedAmount(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(tzs(950)))
}

func TestAdjustAllocationOverFundFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	err := f.engine.Allocations.AdjustAllocation(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(200), "", "")
	assert.ErrorIs(t, err, plan.ErrInvariantViolation)

	// The failed adjustment left nothing behind
	allocated, err := f.engine.Allocations.AllocatedAmount(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(tzs(1000)))
}

func TestAdjustAllocationGrowsFundWhenConfigured(t *testing.T) {
	cfg := plan.DefaultConfig()
	cfg.AutoIncreaseFundDuringAdjustment = true
	f := newFixture(t, cfg)
	b := f.approvedBudget(t, "Ops 2026", 1000, 1000)

	require.NoError(t, f.engine.Allocations.AdjustAllocation(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(200), "", ""))

	grown, err := f.engine.Budgets.Get(f.ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, grown.Fund.Equal(tzs(1200)))

	allocated, err := f.engine.Allocations.AllocatedAmount(f.ctx, b.ID, roleEng, resLaptops)
	require.NoError(t, err)
	assert.True(t, allocated.Equal(tzs(1200)))
}

func TestAdjustAllocationBeforeApprovalFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)

	err := f.engine.Allocations.AdjustAllocation(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(100), "", "")
	assert.ErrorIs(t, err, plan.ErrNotApproved)
}

// ============================================================================
// EXPORT / REPLAY
// ============================================================================

func TestProposalExportAndReplay(t *testing.T) {
	// GIVEN: a plan with two lines
	// WHEN: the exported plan is replayed with one line zeroed out
	// THEN: the zeroed line is deleted and the other keeps its amount
	f := defaultFixture(t)
	b := f.createBudget(t, "Ops 2026", 1000)
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resLaptops, tzs(600), "", ""))
	require.NoError(t, f.engine.Allocations.Propose(f.ctx, alice, b.ID, roleEng, resServers, tzs(400), "", ""))

	proposals, err := f.engine.Allocations.Proposals(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	for i := range proposals {
		if proposals[i].Resource == resServers {
			proposals[i].Amount = tzs(0)
		}
	}
	require.NoError(t, f.engine.Allocations.ProposeAll(f.ctx, alice, b.ID, proposals, "replayed", ""))

	lines, err := f.engine.Allocations.Find(f.ctx, plan.AllocationFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, resLaptops, lines[0].Resource)
	assert.True(t, lines[0].ProposedAmount.Equal(tzs(600)))
}

func TestDeleteAllocationsAfterApprovalFails(t *testing.T) {
	f := defaultFixture(t)
	b := f.approvedBudget(t, "Ops 2026", 1000, 800)

	err := f.engine.Allocations.DeleteAllocations(f.ctx, alice, b.ID, roleEng, resLaptops)
	assert.ErrorIs(t, err, plan.ErrAlreadyApproved)
}
