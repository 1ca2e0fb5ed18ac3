package approval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/approval"
	"github.com/bonifacechacha/plan-lib/plan"
)

const criteria = plan.BudgetApprovalCriteria

var (
	lead = plan.UserID("lead")
	head = plan.UserID("head")
	boss = plan.UserID("boss")
)

type recorder struct {
	completed *bool
	cancelled bool
	failWith  error
}

func (r *recorder) hooks() plan.HookRegistry {
	return plan.HookRegistry{
		plan.TypeBudget: {
			OnComplete: func(ctx context.Context, id string, approved bool) error {
				if r.failWith != nil {
					return r.failWith
				}
				r.completed = &approved
				return nil
			},
			OnCancel: func(ctx context.Context, id string) error {
				if r.failWith != nil {
					return r.failWith
				}
				r.cancelled = true
				return nil
			},
		},
	}
}

func newService(rec *recorder, chain ...plan.UserID) *approval.Service {
	s := approval.NewService()
	s.SetChain(criteria, chain...)
	s.BindHooks(rec.hooks())
	return s
}

func ref(id string) plan.Ref {
	return plan.Ref{Type: plan.TypeBudget, ID: id}
}

// ============================================================================
// CHAIN PROGRESSION
// ============================================================================

func TestTwoLevelChain(t *testing.T) {
	// GIVEN: a two-level chain lead -> head
	// WHEN: both levels approve in order
	// THEN: only the last approval completes the tracker
	ctx := context.Background()
	rec := &recorder{}
	s := newService(rec, lead, head)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, "Budget Ops"))

	assert.True(t, s.CanApprove(ctx, ref("b1"), lead))
	assert.False(t, s.CanApprove(ctx, ref("b1"), head))

	require.NoError(t, s.Approve(ctx, ref("b1"), lead, "fine by me"))
	assert.True(t, s.IsPending(ctx, ref("b1")))
	assert.Nil(t, rec.completed)
	assert.True(t, s.CanApprove(ctx, ref("b1"), head))

	require.NoError(t, s.Approve(ctx, ref("b1"), head, "approved"))
	assert.False(t, s.IsPending(ctx, ref("b1")))
	require.NotNil(t, rec.completed)
	assert.True(t, *rec.completed)

	tracker, err := s.Get(ctx, ref("b1"))
	require.NoError(t, err)
	assert.True(t, tracker.Completed)
	require.Len(t, tracker.Decisions, 2)
	assert.Equal(t, lead, tracker.Decisions[0].User)
	assert.Equal(t, head, tracker.Decisions[1].User)
}

func TestOutOfTurnApproveFails(t *testing.T) {
	ctx := context.Background()
	s := newService(&recorder{}, lead, head)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	err := s.Approve(ctx, ref("b1"), head, "jumping the queue")
	assert.ErrorIs(t, err, plan.ErrNotAuthorized)
}

func TestDeclineAtFirstLevelCompletes(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := newService(rec, lead, head)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	require.NoError(t, s.Decline(ctx, ref("b1"), lead, "no"))
	assert.False(t, s.IsPending(ctx, ref("b1")))
	require.NotNil(t, rec.completed)
	assert.False(t, *rec.completed)

	// A completed tracker takes no further decisions
	err := s.Approve(ctx, ref("b1"), head, "")
	assert.ErrorIs(t, err, plan.ErrStateConflict)
}

// ============================================================================
// HOOK FAILURES
// ============================================================================

func TestFailingCompletionHookAbortsDecision(t *testing.T) {
	// GIVEN: a completion hook that fails
	// WHEN: the last level approves
	// THEN: the decision is not recorded and the tracker stays pending
	ctx := context.Background()
	boom := errors.New("application failed")
	rec := &recorder{failWith: boom}
	s := newService(rec, lead)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	err := s.Approve(ctx, ref("b1"), lead, "")
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.IsPending(ctx, ref("b1")))

	// Once the hook succeeds the same decision goes through
	rec.failWith = nil
	require.NoError(t, s.Approve(ctx, ref("b1"), lead, ""))
	assert.False(t, s.IsPending(ctx, ref("b1")))
}

func TestCancelRunsHookAndRemovesTracker(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := newService(rec, lead)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	require.NoError(t, s.Cancel(ctx, ref("b1")))
	assert.True(t, rec.cancelled)
	assert.False(t, s.IsRegistered(ctx, ref("b1")))
}

func TestFailingCancelHookKeepsTracker(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("cannot withdraw")
	rec := &recorder{failWith: boom}
	s := newService(rec, lead)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	err := s.Cancel(ctx, ref("b1"))
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.IsRegistered(ctx, ref("b1")))
}

// ============================================================================
// OVERRIDE
// ============================================================================

func TestOverrideUserMayDecideAnyLevel(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := newService(rec, lead, head)
	s.GrantOverride(boss)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	assert.False(t, s.CanApprove(ctx, ref("b1"), boss))
	assert.True(t, s.CanApproveOrOverride(ctx, ref("b1"), boss))

	require.NoError(t, s.Decline(ctx, ref("b1"), boss, "overruled"))
	assert.False(t, s.IsPending(ctx, ref("b1")))
}

// ============================================================================
// REGISTRATION / QUERIES
// ============================================================================

func TestRegisterWithoutChainFails(t *testing.T) {
	ctx := context.Background()
	s := approval.NewService()
	s.BindHooks((&recorder{}).hooks())

	err := s.Register(ctx, ref("b1"), "UnknownCriteria", "")
	assert.ErrorIs(t, err, plan.ErrValidation)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	ctx := context.Background()
	s := newService(&recorder{}, lead)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, ""))

	err := s.Register(ctx, ref("b1"), criteria, "again")
	assert.ErrorIs(t, err, plan.ErrStateConflict)
}

func TestPendingListsCurrentApproverAndOverride(t *testing.T) {
	ctx := context.Background()
	s := newService(&recorder{}, lead, head)
	s.GrantOverride(boss)
	require.NoError(t, s.Register(ctx, ref("b1"), criteria, "Budget Ops"))
	require.NoError(t, s.Register(ctx, ref("b2"), criteria, "Budget Marketing"))

	assert.Len(t, s.Pending(ctx, lead), 2)
	assert.Empty(t, s.Pending(ctx, head))
	assert.Len(t, s.Pending(ctx, boss), 2)

	require.NoError(t, s.Approve(ctx, ref("b1"), lead, ""))
	assert.Len(t, s.Pending(ctx, lead), 1)
	assert.Len(t, s.Pending(ctx, head), 1)
}
