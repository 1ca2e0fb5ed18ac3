/*
store.go - Repository contracts

PURPOSE:
  One repository per aggregate, bundled into Store, with WithTx for the
  multi-aggregate operations (approval completion, payment, proposal
  replay). Filters are conjunctive: every set field must match; nil
  pointer fields match anything.

SAVE SEMANTICS:
  Save inserts when the entity is unknown and updates when it is known,
  but only if the entity's Version equals the stored version; on success
  the store increments the version in place. A mismatch returns
  ErrConcurrentModification and the caller must reload and retry.

SEE ALSO:
  - store/memory: snapshot/rollback implementation
  - store/sqlite: versioned UPDATE implementation
*/

package plan

import (
	"context"
	"time"
)

// ============================================================================
// FILTERS
// ============================================================================

type BudgetFilter struct {
	Title       string
	CostCenter  CostCenterID
	Archived    *bool
	Approved    *bool
	HasDecision *bool
	EndBefore   *time.Time
}

type AllocationFilter struct {
	BudgetID BudgetID
	Role     RoleID
	Resource ResourceID
}

type AdjustmentFilter struct {
	BudgetID BudgetID
	Role     RoleID
	Resource ResourceID
	Pending  *bool
}

type PeriodAdjustmentFilter struct {
	BudgetID BudgetID
	Pending  *bool
}

type RequisitionFilter struct {
	BudgetID  BudgetID
	Role      RoleID
	Resource  ResourceID
	Creator   UserID
	Consumer  UserID
	Approved  *bool
	Pending   *bool
	Fulfilled *bool
}

type ExpenseFilter struct {
	BudgetID       BudgetID
	Role           RoleID
	Resource       ResourceID
	AssociatedUser UserID
	Consumer       UserID
	Creator        UserID
	RequisitionID  RequisitionID
	Reconciled     *bool
	Retired        *bool
	Settled        *bool
	From           *time.Time
	To             *time.Time
	CreatedBefore  *time.Time
}

type RetirementFilter struct {
	ExpenseID ExpenseID
	Creator   UserID
	Pending   *bool
}

// ============================================================================
// REPOSITORIES
// ============================================================================

type BudgetStore interface {
	Get(ctx context.Context, id BudgetID) (*Budget, error)
	Save(ctx context.Context, b *Budget) error
	Delete(ctx context.Context, id BudgetID) error
	Find(ctx context.Context, f BudgetFilter) ([]*Budget, error)
	Count(ctx context.Context, f BudgetFilter) (int, error)
}

type AllocationStore interface {
	Get(ctx context.Context, id AllocationID) (*Allocation, error)
	Save(ctx context.Context, a *Allocation) error
	Delete(ctx context.Context, id AllocationID) error
	Find(ctx context.Context, f AllocationFilter) ([]*Allocation, error)

	// RecordChange appends to the allocation's change log.
	RecordChange(ctx context.Context, c *AllocationChange) error

	// Changes lists the change log newest-first.
	Changes(ctx context.Context, id AllocationID) ([]*AllocationChange, error)
}

type AdjustmentStore interface {
	Get(ctx context.Context, id AdjustmentID) (*AllocationAdjustment, error)
	Save(ctx context.Context, a *AllocationAdjustment) error
	Delete(ctx context.Context, id AdjustmentID) error
	Find(ctx context.Context, f AdjustmentFilter) ([]*AllocationAdjustment, error)
}

type PeriodAdjustmentStore interface {
	Get(ctx context.Context, id PeriodAdjustmentID) (*PeriodAdjustment, error)
	Save(ctx context.Context, p *PeriodAdjustment) error
	Delete(ctx context.Context, id PeriodAdjustmentID) error
	Find(ctx context.Context, f PeriodAdjustmentFilter) ([]*PeriodAdjustment, error)
}

type RequisitionStore interface {
	Get(ctx context.Context, id RequisitionID) (*Requisition, error)
	Save(ctx context.Context, r *Requisition) error
	Delete(ctx context.Context, id RequisitionID) error
	Find(ctx context.Context, f RequisitionFilter) ([]*Requisition, error)
	Count(ctx context.Context, f RequisitionFilter) (int, error)
}

type ExpenseStore interface {
	Get(ctx context.Context, id ExpenseID) (*Expense, error)
	Save(ctx context.Context, e *Expense) error
	Delete(ctx context.Context, id ExpenseID) error
	Find(ctx context.Context, f ExpenseFilter) ([]*Expense, error)
	Count(ctx context.Context, f ExpenseFilter) (int, error)
}

type RetirementStore interface {
	Get(ctx context.Context, id RetirementID) (*Retirement, error)
	Save(ctx context.Context, r *Retirement) error
	Delete(ctx context.Context, id RetirementID) error
	Find(ctx context.Context, f RetirementFilter) ([]*Retirement, error)
}

// ============================================================================
// BUNDLE
// ============================================================================

// Store bundles the repositories of all aggregates.
type Store interface {
	Budgets() BudgetStore
	Allocations() AllocationStore
	Adjustments() AdjustmentStore
	PeriodAdjustments() PeriodAdjustmentStore
	Requisitions() RequisitionStore
	Expenses() ExpenseStore
	Retirements() RetirementStore
}

// TxStore adds transactions. The Store passed to fn sees uncommitted
// writes of the same transaction; an error from fn rolls everything
// back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
