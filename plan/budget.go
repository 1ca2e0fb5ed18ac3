/*
budget.go - Budget lifecycle

PURPOSE:
  Creating, submitting, approving, adjusting, archiving and deleting
  budgets. A budget is editable until it is approved; after approval
  only fund and end-date adjustments (themselves approvables) may grow
  it. Approval completion copies every proposed allocation into its
  allocated amount in the same transaction.

SEE ALSO:
  - allocation.go: the allocate step run on approval
  - adjustment.go: post-approval fund and period changes
*/

package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/bonifacechacha/plan-lib/money"
)

// BudgetService manages budgets.
type BudgetService struct {
	store    TxStore
	dir      Directory
	approver Approver
	cfg      Config
	now      func() time.Time

	alloc *AllocationService
}

// ============================================================================
// CREATE / UPDATE
// ============================================================================

// Create validates and stores a draft budget for the given planner.
func (s *BudgetService) Create(ctx context.Context, creator UserID, draft Budget) (*Budget, error) {
	if !s.dir.CanPlan(draft.CostCenter, creator) {
		return nil, denied(creator, "plan for cost center "+string(draft.CostCenter))
	}
	if err := s.validate(&draft); err != nil {
		return nil, err
	}

	b := draft
	b.ID = BudgetID(newID())
	b.Version = 0
	b.Approved = nil
	b.Submitted = false
	b.Archived = false
	b.Creator = creator
	b.TimeCreated = s.now()

	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := s.checkTitleUnique(ctx, tx, b.Title, ""); err != nil {
			return err
		}
		return tx.Budgets().Save(ctx, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Update replaces the editable fields of an unarchived budget.
func (s *BudgetService) Update(ctx context.Context, user UserID, b *Budget) error {
	if !s.dir.CanPlan(b.CostCenter, user) {
		return denied(user, "plan for cost center "+string(b.CostCenter))
	}
	if b.Archived {
		return ErrArchived
	}
	if err := s.validate(b); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		if err := s.checkTitleUnique(ctx, tx, b.Title, b.ID); err != nil {
			return err
		}
		return tx.Budgets().Save(ctx, b)
	})
}

func (s *BudgetService) validate(b *Budget) error {
	if b.Title == "" {
		return validationf("budget title is required")
	}
	if !b.Period.IsValid() {
		return validationf("budget period ends before it starts")
	}
	if !b.Fund.IsPositive() {
		return ErrInvalidAmount
	}
	if !s.cfg.FundsMayExceedCost && !b.EstimatedCost.IsZero() && b.Fund.GreaterThan(b.EstimatedCost) {
		return validationf("fund %s exceeds estimated cost %s", b.Fund, b.EstimatedCost)
	}
	return nil
}

func (s *BudgetService) checkTitleUnique(ctx context.Context, tx Store, title string, self BudgetID) error {
	matches, err := tx.Budgets().Find(ctx, BudgetFilter{Title: title})
	if err != nil {
		return err
	}
	for _, other := range matches {
		if other.ID != self {
			return ErrDuplicateTitle
		}
	}
	return nil
}

// ============================================================================
// APPROVAL
// ============================================================================

// SubmitApproval registers the budget with the approval collaborator.
func (s *BudgetService) SubmitApproval(ctx context.Context, user UserID, id BudgetID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, id)
		if err != nil {
			return err
		}
		if !s.dir.CanPlan(b.CostCenter, user) {
			return denied(user, "submit budget "+string(id))
		}
		if b.Archived {
			return ErrArchived
		}
		if b.Submitted {
			return ErrApprovalStarted
		}
		b.Submitted = true
		if err := tx.Budgets().Save(ctx, b); err != nil {
			return err
		}
		return s.approver.Register(ctx, b.ApprovalRef(), BudgetApprovalCriteria, b.ApprovalDescription())
	})
}

// onComplete records the decision. Approval additionally promotes every
// proposed allocation to its allocated amount, atomically with the
// decision.
func (s *BudgetService) onComplete(ctx context.Context, id string, approved bool) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, BudgetID(id))
		if err != nil {
			return err
		}
		b.Approved = &approved
		if err := tx.Budgets().Save(ctx, b); err != nil {
			return err
		}
		if approved {
			return s.alloc.allocate(ctx, tx, b)
		}
		return nil
	})
}

// onCancel withdraws a pending approval. A decided budget, whether
// approved or declined, cannot go back to draft.
func (s *BudgetService) onCancel(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, BudgetID(id))
		if err != nil {
			return err
		}
		if b.Approved != nil {
			if b.IsApproved() {
				return ErrAlreadyApproved
			}
			return fmt.Errorf("%w: budget %s approval is already decided", ErrStateConflict, id)
		}
		b.Submitted = false
		return tx.Budgets().Save(ctx, b)
	})
}

func (s *BudgetService) resolve(ctx context.Context, id string) (Approvable, error) {
	return s.Get(ctx, BudgetID(id))
}

// ============================================================================
// ADJUSTMENTS
// ============================================================================

// AdjustFund grows the fund of an approved budget.
func (s *BudgetService) AdjustFund(ctx context.Context, user UserID, id BudgetID, amount money.Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		return s.adjustFund(ctx, tx, user, id, amount)
	})
}

func (s *BudgetService) adjustFund(ctx context.Context, tx Store, user UserID, id BudgetID, amount money.Money) error {
	b, err := tx.Budgets().Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.dir.CanPlan(b.CostCenter, user) {
		return denied(user, "adjust fund of budget "+string(id))
	}
	if b.Archived {
		return ErrArchived
	}
	if !b.IsApproved() {
		return ErrNotApproved
	}
	b.Fund = b.Fund.Add(amount)
	return tx.Budgets().Save(ctx, b)
}

// adjustEndDate extends the budget period, un-archiving first when the
// budget aged out while the extension was pending.
func (s *BudgetService) adjustEndDate(ctx context.Context, tx Store, id BudgetID, end time.Time) error {
	b, err := tx.Budgets().Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Archived {
		b.Archived = false
	}
	b.Period.End = end
	return tx.Budgets().Save(ctx, b)
}

// ============================================================================
// ARCHIVAL
// ============================================================================

// Archive takes the budget out of active use.
func (s *BudgetService) Archive(ctx context.Context, user UserID, id BudgetID) error {
	return s.setArchived(ctx, user, id, true)
}

// Retrieve brings an archived budget back.
func (s *BudgetService) Retrieve(ctx context.Context, user UserID, id BudgetID) error {
	return s.setArchived(ctx, user, id, false)
}

func (s *BudgetService) setArchived(ctx context.Context, user UserID, id BudgetID, archived bool) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, id)
		if err != nil {
			return err
		}
		if !s.dir.CanPlan(b.CostCenter, user) {
			return denied(user, "archive budget "+string(id))
		}
		if b.Archived == archived {
			return nil
		}
		b.Archived = archived
		return tx.Budgets().Save(ctx, b)
	})
}

// ArchiveOutdatedBudgets archives every unarchived budget whose end
// date passed longer than the configured grace period before at.
// Returns how many were archived.
func (s *BudgetService) ArchiveOutdatedBudgets(ctx context.Context, at time.Time) (int, error) {
	cutoff := at.AddDate(0, -s.cfg.ArchiveOutdatedAfterMonths, 0)
	archived := 0
	err := s.store.WithTx(ctx, func(tx Store) error {
		live := false
		outdated, err := tx.Budgets().Find(ctx, BudgetFilter{Archived: &live, EndBefore: &cutoff})
		if err != nil {
			return err
		}
		for _, b := range outdated {
			b.Archived = true
			if err := tx.Budgets().Save(ctx, b); err != nil {
				return err
			}
			archived++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return archived, nil
}

// ============================================================================
// QUERIES
// ============================================================================

func (s *BudgetService) Get(ctx context.Context, id BudgetID) (*Budget, error) {
	return s.store.Budgets().Get(ctx, id)
}

func (s *BudgetService) Find(ctx context.Context, f BudgetFilter) ([]*Budget, error) {
	return s.store.Budgets().Find(ctx, f)
}

func (s *BudgetService) Count(ctx context.Context, f BudgetFilter) (int, error) {
	return s.store.Budgets().Count(ctx, f)
}

// Status renders the budget's lifecycle state as of now.
func (s *BudgetService) Status(ctx context.Context, id BudgetID) (string, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return b.Status(s.now()), nil
}

// ============================================================================
// DELETE
// ============================================================================

// Delete removes an unapproved, unarchived budget together with its
// allocations, withdrawing any registered approval first.
func (s *BudgetService) Delete(ctx context.Context, user UserID, id BudgetID) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.dir.CanPlan(b.CostCenter, user) {
		return denied(user, "delete budget "+string(id))
	}
	if b.Archived {
		return ErrArchived
	}
	if b.IsApproved() {
		return ErrAlreadyApproved
	}
	if s.approver.IsPending(ctx, b.ApprovalRef()) {
		if err := s.approver.Cancel(ctx, b.ApprovalRef()); err != nil {
			return err
		}
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: id})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.Allocations().Delete(ctx, line.ID); err != nil {
				return err
			}
		}
		return tx.Budgets().Delete(ctx, id)
	})
}
