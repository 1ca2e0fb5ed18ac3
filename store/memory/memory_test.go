package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonifacechacha/plan-lib/money"
	"github.com/bonifacechacha/plan-lib/plan"
	"github.com/bonifacechacha/plan-lib/store/memory"
)

func draftBudget(id, title string) *plan.Budget {
	return &plan.Budget{
		ID:         plan.BudgetID(id),
		Title:      title,
		CostCenter: "operations",
		Fund:       money.NewFromFloat(1000, "TZS"),
		Period: plan.Period{
			Start: time.Now().AddDate(0, -1, 0),
			End:   time.Now().AddDate(0, 11, 0),
		},
		TimeCreated: time.Now(),
	}
}

func TestOptimisticLocking(t *testing.T) {
	// GIVEN: a stored budget loaded by two writers
	// WHEN: both save their copy
	// THEN: the second save fails with a retryable conflict
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.Budgets().Save(ctx, draftBudget("b1", "Ops 2026")))

	first, err := s.Budgets().Get(ctx, "b1")
	require.NoError(t, err)
	second, err := s.Budgets().Get(ctx, "b1")
	require.NoError(t, err)

	first.Description = "writer one"
	require.NoError(t, s.Budgets().Save(ctx, first))

	second.Description = "writer two"
	err = s.Budgets().Save(ctx, second)
	assert.ErrorIs(t, err, plan.ErrConcurrentModification)
	assert.True(t, plan.IsRetryable(err))
}

func TestSaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	b := draftBudget("b1", "Ops 2026")
	require.NoError(t, s.Budgets().Save(ctx, b))
	assert.Equal(t, 0, b.Version)

	require.NoError(t, s.Budgets().Save(ctx, b))
	assert.Equal(t, 1, b.Version)

	stored, err := s.Budgets().Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestTxRollbackRestoresSnapshot(t *testing.T) {
	// GIVEN: a transaction that writes a budget and an allocation
	// WHEN: the transaction function fails after the writes
	// THEN: neither write survives
	ctx := context.Background()
	s := memory.NewStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx plan.Store) error {
		if err := tx.Budgets().Save(ctx, draftBudget("b1", "Ops 2026")); err != nil {
			return err
		}
		if err := tx.Allocations().Save(ctx, &plan.Allocation{
			ID: "a1", BudgetID: "b1", Role: "engineering", Resource: "laptops",
			ProposedAmount:  money.NewFromFloat(500, "TZS"),
			AllocatedAmount: money.Zero(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Budgets().Get(ctx, "b1")
	assert.ErrorIs(t, err, plan.ErrNotFound)
	_, err = s.Allocations().Get(ctx, "a1")
	assert.ErrorIs(t, err, plan.ErrNotFound)
}

func TestTxCommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	require.NoError(t, s.WithTx(ctx, func(tx plan.Store) error {
		return tx.Budgets().Save(ctx, draftBudget("b1", "Ops 2026"))
	}))

	b, err := s.Budgets().Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Ops 2026", b.Title)
}

func TestBudgetFilters(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	a := draftBudget("b1", "Ops 2026")
	require.NoError(t, s.Budgets().Save(ctx, a))

	b := draftBudget("b2", "Marketing 2026")
	b.CostCenter = "marketing"
	b.Archived = true
	require.NoError(t, s.Budgets().Save(ctx, b))

	byTitle, err := s.Budgets().Find(ctx, plan.BudgetFilter{Title: "Ops 2026"})
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, plan.BudgetID("b1"), byTitle[0].ID)

	archived := true
	byArchived, err := s.Budgets().Find(ctx, plan.BudgetFilter{Archived: &archived})
	require.NoError(t, err)
	require.Len(t, byArchived, 1)
	assert.Equal(t, plan.BudgetID("b2"), byArchived[0].ID)

	all, err := s.Budgets().Find(ctx, plan.BudgetFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoredEntitiesAreIsolated(t *testing.T) {
	// GIVEN: a stored budget
	// WHEN: the caller mutates the copy it got back
	// THEN: the store is unaffected
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.Budgets().Save(ctx, draftBudget("b1", "Ops 2026")))

	got, err := s.Budgets().Get(ctx, "b1")
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := s.Budgets().Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Ops 2026", again.Title)
}

func TestAllocationChangeLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	base := time.Now()
	ids := []string{"c1", "c2"}
	for i, amount := range []float64{500, 300} {
		require.NoError(t, s.Allocations().RecordChange(ctx, &plan.AllocationChange{
			ID:           ids[i],
			AllocationID: "a1",
			Amount:       money.NewFromFloat(amount, "TZS"),
			Time:         base.Add(time.Duration(i) * time.Second),
		}))
	}

	changes, err := s.Allocations().Changes(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Amount.Equal(money.NewFromFloat(300, "TZS")))
	assert.True(t, changes[1].Amount.Equal(money.NewFromFloat(500, "TZS")))
}
