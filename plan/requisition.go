/*
requisition.go - Requisitions against allocation lines

PURPOSE:
  Asking for money from a budget line, the balance gates guarding the
  ask, the approval round trip, and paying an approved requisition out
  in installments. Every payment produces an Expense; the requisition is
  fulfilled once payments cover the approved amount.

BALANCE GATES (all checked at create and again at submit):
  1. line balance covers the requested amount
  2. gross balance (balance minus pending payments of other approved,
     unfulfilled requisitions on the line) covers it
  3. no other pending requisition exists for the same line
  Each gate can be waived individually through Config.

SEE ALSO:
  - expense.go: validateExpense and expense creation
*/

package plan

import (
	"context"
	"time"

	"github.com/bonifacechacha/plan-lib/money"
)

// RequisitionService manages the requisition lifecycle.
type RequisitionService struct {
	store    TxStore
	dir      Directory
	approver Approver
	cfg      Config
	now      func() time.Time

	expense *ExpenseService
}

// ============================================================================
// CREATE / UPDATE
// ============================================================================

// Create validates and stores a draft requisition.
func (s *RequisitionService) Create(ctx context.Context, creator UserID, draft Requisition) (*Requisition, error) {
	r := draft
	r.ID = RequisitionID(newID())
	r.Version = 0
	r.Approved = nil
	r.Submitted = false
	r.Fulfilled = false
	r.ApprovedAmount = money.Zero()
	r.Creator = creator
	r.TimeCreated = s.now()

	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := s.validateRequisition(ctx, tx, &r); err != nil {
			return err
		}
		return tx.Requisitions().Save(ctx, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Update replaces the editable fields: the creator may edit before
// submission, the current approver (or an override holder) after.
func (s *RequisitionService) Update(ctx context.Context, user UserID, r *Requisition) error {
	if r.Submitted {
		if !s.approver.CanApproveOrOverride(ctx, r.ApprovalRef(), user) {
			return denied(user, "update submitted requisition "+string(r.ID))
		}
	} else if r.Creator != user {
		return denied(user, "update requisition "+string(r.ID))
	}
	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := s.validateRequisition(ctx, tx, r); err != nil {
			return err
		}
		return tx.Requisitions().Save(ctx, r)
	})
	if err != nil {
		return err
	}
	if s.approver.IsPending(ctx, r.ApprovalRef()) {
		return s.approver.UpdateDescription(ctx, r.ApprovalRef(), r.ApprovalDescription())
	}
	return nil
}

func (s *RequisitionService) validateRequisition(ctx context.Context, tx Store, r *Requisition) error {
	if !r.RequestedAmount.IsPositive() {
		return ErrInvalidAmount
	}
	b, err := tx.Budgets().Get(ctx, r.BudgetID)
	if err != nil {
		return err
	}
	// The creator is accountable for the money, so the membership check
	// runs against them, not the consumer the money is asked for.
	now := s.now()
	if err := s.expense.validateExpense(ctx, b, r.Role, r.Resource, r.Creator, now); err != nil {
		return err
	}
	if !b.IsUpToDate(now) {
		return validationf("budget %s is out of date", b.ID)
	}

	if !s.cfg.AllowRequisitionOverBalance {
		balance, err := s.expense.balance(ctx, tx, r.BudgetID, r.Role, r.Resource)
		if err != nil {
			return err
		}
		if r.RequestedAmount.GreaterThan(balance) {
			return &OverAllocationError{BudgetID: r.BudgetID, Requested: r.RequestedAmount, Available: balance}
		}
	}
	if !s.cfg.AllowRequisitionOverGrossBalance {
		gross, err := s.grossBalance(ctx, tx, r.BudgetID, r.Role, r.Resource, r.ID)
		if err != nil {
			return err
		}
		if r.RequestedAmount.GreaterThan(gross) {
			return &OverAllocationError{BudgetID: r.BudgetID, Requested: r.RequestedAmount, Available: gross}
		}
	}
	if !s.cfg.AllowSimilarPendingRequisition {
		pending := true
		others, err := tx.Requisitions().Find(ctx, RequisitionFilter{
			BudgetID: r.BudgetID, Role: r.Role, Resource: r.Resource, Pending: &pending,
		})
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID != r.ID {
				return ErrPendingExists
			}
		}
	}
	return nil
}

// ============================================================================
// SUBMIT
// ============================================================================

// Submit re-validates and registers the requisition for approval. The
// approved amount starts as the requested amount; approvers may change
// it before completion.
func (s *RequisitionService) Submit(ctx context.Context, user UserID, id RequisitionID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Requisitions().Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Submitted {
			return ErrApprovalStarted
		}
		if r.Creator != user {
			return denied(user, "submit requisition "+string(id))
		}
		if err := s.validateRequisition(ctx, tx, r); err != nil {
			return err
		}
		if !s.cfg.AllowRequisitionPendingReconciliation {
			overdue, err := s.expense.countOverduePending(ctx, tx, r.Creator)
			if err != nil {
				return err
			}
			if overdue > 0 {
				return validationf("%s has %d expenses pending reconciliation past the age limit", r.Creator, overdue)
			}
		}
		r.ApprovedAmount = r.RequestedAmount
		r.Submitted = true
		if err := tx.Requisitions().Save(ctx, r); err != nil {
			return err
		}
		return s.approver.Register(ctx, r.ApprovalRef(), RequisitionApprovalCriteria, r.ApprovalDescription())
	})
}

// ============================================================================
// PAY
// ============================================================================

// Pay records one installment against an approved requisition and
// creates the backing expense in the same transaction.
func (s *RequisitionService) Pay(ctx context.Context, user UserID, id RequisitionID, payment Payment) (*Expense, error) {
	var created *Expense
	err := s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Requisitions().Get(ctx, id)
		if err != nil {
			return err
		}
		if !r.IsApproved() {
			return ErrNotApproved
		}
		if r.Fulfilled {
			return validationf("requisition %s is already completely paid", r.ID)
		}
		b, err := tx.Budgets().Get(ctx, r.BudgetID)
		if err != nil {
			return err
		}
		if b.Archived {
			return ErrArchived
		}
		paid, err := s.paidTotal(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if !payment.Amount.IsPositive() || payment.Amount.GreaterThan(r.PendingAmount(paid)) {
			return ErrInvalidAmount
		}

		created, err = s.expense.create(ctx, tx, Expense{
			BudgetID:       r.BudgetID,
			Role:           r.Role,
			Resource:       r.Resource,
			AssociatedUser: r.Creator,
			Consumer:       r.Consumer,
			Description:    r.Description,
			RequisitionID:  r.ID,
			Creator:        user,
		}, payment)
		if err != nil {
			return err
		}

		r.Fulfilled = r.IsCompletelyPaid(paid.Add(payment.Amount))
		return tx.Requisitions().Save(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ============================================================================
// APPROVAL HOOKS
// ============================================================================

func (s *RequisitionService) onComplete(ctx context.Context, id string, approved bool) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Requisitions().Get(ctx, RequisitionID(id))
		if err != nil {
			return err
		}
		r.Approved = &approved
		return tx.Requisitions().Save(ctx, r)
	})
}

// onCancel withdraws the approval. Impossible once a payment has been
// processed.
func (s *RequisitionService) onCancel(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Requisitions().Get(ctx, RequisitionID(id))
		if err != nil {
			return err
		}
		processed, err := s.isPaymentProcessed(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if processed {
			return ErrPaymentProcessed
		}
		r.Approved = nil
		r.ApprovedAmount = money.Zero()
		r.Submitted = false
		return tx.Requisitions().Save(ctx, r)
	})
}

func (s *RequisitionService) resolve(ctx context.Context, id string) (Approvable, error) {
	return s.Get(ctx, RequisitionID(id))
}

// ============================================================================
// QUERIES
// ============================================================================

func (s *RequisitionService) Get(ctx context.Context, id RequisitionID) (*Requisition, error) {
	return s.store.Requisitions().Get(ctx, id)
}

func (s *RequisitionService) Find(ctx context.Context, f RequisitionFilter) ([]*Requisition, error) {
	return s.store.Requisitions().Find(ctx, f)
}

func (s *RequisitionService) Count(ctx context.Context, f RequisitionFilter) (int, error) {
	return s.store.Requisitions().Count(ctx, f)
}

// ByExpense returns the requisition the expense was paid under.
func (s *RequisitionService) ByExpense(ctx context.Context, id ExpenseID) (*Requisition, error) {
	e, err := s.store.Expenses().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.RequisitionID == "" {
		return nil, notFound("requisition for expense", string(id))
	}
	return s.Get(ctx, e.RequisitionID)
}

// PaidAmount sums the payments made against the requisition.
func (s *RequisitionService) PaidAmount(ctx context.Context, id RequisitionID) (money.Money, error) {
	return s.paidTotal(ctx, s.store, id)
}

// Status renders the lifecycle state for display.
func (s *RequisitionService) Status(ctx context.Context, id RequisitionID) (string, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	paid, err := s.PaidAmount(ctx, id)
	if err != nil {
		return "", err
	}
	return r.Status(paid), nil
}

// GrossBalance is the line balance minus the pending payments of
// approved, unfulfilled requisitions on the line.
func (s *RequisitionService) GrossBalance(ctx context.Context, budgetID BudgetID, role RoleID, resource ResourceID) (money.Money, error) {
	return s.grossBalance(ctx, s.store, budgetID, role, resource, "")
}

func (s *RequisitionService) grossBalance(ctx context.Context, tx Store, budgetID BudgetID, role RoleID, resource ResourceID, exclude RequisitionID) (money.Money, error) {
	balance, err := s.expense.balance(ctx, tx, budgetID, role, resource)
	if err != nil {
		return money.Zero(), err
	}
	pending, err := s.pendingPayments(ctx, tx, budgetID, role, resource, exclude)
	if err != nil {
		return money.Zero(), err
	}
	return balance.Sub(pending), nil
}

// pendingPayments sums what approved, unfulfilled requisitions on the
// line are still owed.
func (s *RequisitionService) pendingPayments(ctx context.Context, tx Store, budgetID BudgetID, role RoleID, resource ResourceID, exclude RequisitionID) (money.Money, error) {
	approved, unfulfilled := true, false
	open, err := tx.Requisitions().Find(ctx, RequisitionFilter{
		BudgetID: budgetID, Role: role, Resource: resource,
		Approved: &approved, Fulfilled: &unfulfilled,
	})
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, r := range open {
		if r.ID == exclude {
			continue
		}
		paid, err := s.paidTotal(ctx, tx, r.ID)
		if err != nil {
			return money.Zero(), err
		}
		total = total.Add(r.PendingAmount(paid))
	}
	return total, nil
}

func (s *RequisitionService) paidTotal(ctx context.Context, tx Store, id RequisitionID) (money.Money, error) {
	expenses, err := tx.Expenses().Find(ctx, ExpenseFilter{RequisitionID: id})
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, e := range expenses {
		total = total.Add(e.PaidAmount())
	}
	return total, nil
}

func (s *RequisitionService) isPaymentProcessed(ctx context.Context, tx Store, id RequisitionID) (bool, error) {
	n, err := tx.Expenses().Count(ctx, ExpenseFilter{RequisitionID: id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ============================================================================
// DELETE
// ============================================================================

// Delete removes a requisition that has not produced any payment,
// withdrawing a registered approval first.
func (s *RequisitionService) Delete(ctx context.Context, user UserID, id RequisitionID) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Creator != user && !s.approver.CanApproveOrOverride(ctx, r.ApprovalRef(), user) {
		return denied(user, "delete requisition "+string(id))
	}
	processed, err := s.isPaymentProcessed(ctx, s.store, id)
	if err != nil {
		return err
	}
	if processed {
		return ErrPaymentProcessed
	}
	if s.approver.IsRegistered(ctx, r.ApprovalRef()) {
		if err := s.approver.Cancel(ctx, r.ApprovalRef()); err != nil {
			return err
		}
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		return tx.Requisitions().Delete(ctx, id)
	})
}
