/*
adjustment.go - Post-approval changes to an approved budget

PURPOSE:
  Two approvables that change an approved budget after the fact:
  AllocationAdjustment asks for extra money on one line,
  PeriodAdjustment asks for a later end date. Both go through the same
  approval round trip as the budget itself; approval applies the change
  inside the completion transaction, cancellation deletes the request.

  Adjustments are strictly incremental. A declined or cancelled
  adjustment never decrements anything.

SEE ALSO:
  - allocation.go: adjustAllocation applied on approval
  - budget.go: adjustEndDate applied on approval
*/

package plan

import (
	"context"
	"time"

	"github.com/bonifacechacha/plan-lib/money"
)

// ============================================================================
// ALLOCATION ADJUSTMENTS
// ============================================================================

// AllocationAdjustmentService manages allocation adjustments.
type AllocationAdjustmentService struct {
	store    TxStore
	dir      Directory
	approver Approver
	cfg      Config
	now      func() time.Time

	alloc *AllocationService
}

// Create stores a draft adjustment against an approved, current budget.
// Only one may be pending per line.
func (s *AllocationAdjustmentService) Create(ctx context.Context, creator UserID, draft AllocationAdjustment) (*AllocationAdjustment, error) {
	if !draft.ProposedAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	a := draft
	a.ID = AdjustmentID(newID())
	a.Version = 0
	a.Approved = nil
	a.Submitted = false
	a.AllocatedAmount = money.Zero()
	a.Creator = creator
	a.TimeCreated = s.now()

	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, a.BudgetID)
		if err != nil {
			return err
		}
		if !b.IsApproved() {
			return ErrNotApproved
		}
		if !b.IsUpToDate(s.now()) {
			return validationf("budget %s is out of date", b.ID)
		}
		pending := true
		others, err := tx.Adjustments().Find(ctx, AdjustmentFilter{
			BudgetID: a.BudgetID, Role: a.Role, Resource: a.Resource, Pending: &pending,
		})
		if err != nil {
			return err
		}
		if len(others) > 0 {
			return ErrPendingExists
		}
		return tx.Adjustments().Save(ctx, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Submit registers the adjustment for approval. The amount under
// approval starts as the proposed amount.
func (s *AllocationAdjustmentService) Submit(ctx context.Context, user UserID, id AdjustmentID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.Adjustments().Get(ctx, id)
		if err != nil {
			return err
		}
		if a.Submitted {
			return ErrApprovalStarted
		}
		if a.Creator != user {
			return denied(user, "submit adjustment "+string(id))
		}
		a.AllocatedAmount = a.ProposedAmount
		a.Submitted = true
		if err := tx.Adjustments().Save(ctx, a); err != nil {
			return err
		}
		return s.approver.Register(ctx, a.ApprovalRef(), AllocationAdjustmentApprovalCriteria, a.ApprovalDescription())
	})
}

// ChangeAllocatedAmount lets the current approver rewrite the amount
// that will be applied, before the decision.
func (s *AllocationAdjustmentService) ChangeAllocatedAmount(ctx context.Context, user UserID, id AdjustmentID, amount money.Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.Adjustments().Get(ctx, id)
		if err != nil {
			return err
		}
		if a.Approved != nil {
			return ErrAlreadyApproved
		}
		if !s.approver.CanApproveOrOverride(ctx, a.ApprovalRef(), user) {
			return denied(user, "change the amount of adjustment "+string(id))
		}
		a.AllocatedAmount = amount
		return tx.Adjustments().Save(ctx, a)
	})
}

// onComplete records the decision and, on approval, applies the
// increment to the allocation line. A failing application aborts the
// completion.
func (s *AllocationAdjustmentService) onComplete(ctx context.Context, id string, approved bool) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.Adjustments().Get(ctx, AdjustmentID(id))
		if err != nil {
			return err
		}
		a.Approved = &approved
		if err := tx.Adjustments().Save(ctx, a); err != nil {
			return err
		}
		if !approved {
			return nil
		}
		return s.alloc.adjustAllocation(ctx, tx, a.Creator, a.BudgetID, a.Role, a.Resource, a.AllocatedAmount, a.Description, a.Reason)
	})
}

// onCancel deletes the pending request.
func (s *AllocationAdjustmentService) onCancel(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.Adjustments().Get(ctx, AdjustmentID(id))
		if err != nil {
			return err
		}
		if a.IsApproved() {
			return ErrAlreadyApproved
		}
		return tx.Adjustments().Delete(ctx, a.ID)
	})
}

func (s *AllocationAdjustmentService) resolve(ctx context.Context, id string) (Approvable, error) {
	return s.Get(ctx, AdjustmentID(id))
}

func (s *AllocationAdjustmentService) Get(ctx context.Context, id AdjustmentID) (*AllocationAdjustment, error) {
	return s.store.Adjustments().Get(ctx, id)
}

func (s *AllocationAdjustmentService) Find(ctx context.Context, f AdjustmentFilter) ([]*AllocationAdjustment, error) {
	return s.store.Adjustments().Find(ctx, f)
}

// ============================================================================
// PERIOD ADJUSTMENTS
// ============================================================================

// PeriodAdjustmentService manages end-date extensions.
type PeriodAdjustmentService struct {
	store    TxStore
	approver Approver
	now      func() time.Time

	budget *BudgetService
}

// Create stores a draft extension of an approved budget. The proposed
// end date must lie strictly after the current one; only one extension
// may be pending per budget.
func (s *PeriodAdjustmentService) Create(ctx context.Context, creator UserID, budgetID BudgetID, proposedEnd time.Time, reason string) (*PeriodAdjustment, error) {
	p := PeriodAdjustment{
		ID:              PeriodAdjustmentID(newID()),
		BudgetID:        budgetID,
		ProposedEndDate: proposedEnd,
		Reason:          reason,
		Creator:         creator,
		TimeCreated:     s.now(),
	}
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, budgetID)
		if err != nil {
			return err
		}
		if !b.IsApproved() {
			return ErrNotApproved
		}
		if !proposedEnd.After(b.Period.End) {
			return validationf("proposed end date must be after the current end date")
		}
		pending := true
		others, err := tx.PeriodAdjustments().Find(ctx, PeriodAdjustmentFilter{BudgetID: budgetID, Pending: &pending})
		if err != nil {
			return err
		}
		if len(others) > 0 {
			return ErrPendingExists
		}
		return tx.PeriodAdjustments().Save(ctx, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Submit registers the extension for approval.
func (s *PeriodAdjustmentService) Submit(ctx context.Context, user UserID, id PeriodAdjustmentID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.PeriodAdjustments().Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Submitted {
			return ErrApprovalStarted
		}
		if p.Creator != user {
			return denied(user, "submit period adjustment "+string(id))
		}
		p.Submitted = true
		if err := tx.PeriodAdjustments().Save(ctx, p); err != nil {
			return err
		}
		return s.approver.Register(ctx, p.ApprovalRef(), PeriodAdjustmentApprovalCriteria, p.ApprovalDescription())
	})
}

// UpdateProposedDate rewrites the proposed end date before the
// decision.
func (s *PeriodAdjustmentService) UpdateProposedDate(ctx context.Context, user UserID, id PeriodAdjustmentID, proposedEnd time.Time) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.PeriodAdjustments().Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Approved != nil {
			return ErrAlreadyApproved
		}
		if p.Creator != user && !s.approver.CanApproveOrOverride(ctx, p.ApprovalRef(), user) {
			return denied(user, "update period adjustment "+string(id))
		}
		b, err := tx.Budgets().Get(ctx, p.BudgetID)
		if err != nil {
			return err
		}
		if !proposedEnd.After(b.Period.End) {
			return validationf("proposed end date must be after the current end date")
		}
		p.ProposedEndDate = proposedEnd
		return tx.PeriodAdjustments().Save(ctx, p)
	})
}

// onComplete records the decision and, on approval, extends the budget
// period in the same transaction.
func (s *PeriodAdjustmentService) onComplete(ctx context.Context, id string, approved bool) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.PeriodAdjustments().Get(ctx, PeriodAdjustmentID(id))
		if err != nil {
			return err
		}
		p.Approved = &approved
		if err := tx.PeriodAdjustments().Save(ctx, p); err != nil {
			return err
		}
		if !approved {
			return nil
		}
		return s.budget.adjustEndDate(ctx, tx, p.BudgetID, p.ProposedEndDate)
	})
}

// onCancel deletes the pending request.
func (s *PeriodAdjustmentService) onCancel(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.PeriodAdjustments().Get(ctx, PeriodAdjustmentID(id))
		if err != nil {
			return err
		}
		if p.IsApproved() {
			return ErrAlreadyApproved
		}
		return tx.PeriodAdjustments().Delete(ctx, p.ID)
	})
}

func (s *PeriodAdjustmentService) resolve(ctx context.Context, id string) (Approvable, error) {
	return s.Get(ctx, PeriodAdjustmentID(id))
}

func (s *PeriodAdjustmentService) Get(ctx context.Context, id PeriodAdjustmentID) (*PeriodAdjustment, error) {
	return s.store.PeriodAdjustments().Get(ctx, id)
}

func (s *PeriodAdjustmentService) Find(ctx context.Context, f PeriodAdjustmentFilter) ([]*PeriodAdjustment, error) {
	return s.store.PeriodAdjustments().Find(ctx, f)
}
