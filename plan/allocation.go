/*
allocation.go - Allocation lines of a budget

PURPOSE:
  Planning (propose, before budget approval) and adjusting (additive,
  after approval) the money set aside per role and resource, plus the
  promotion of proposed amounts to allocated amounts when the budget is
  approved. Propose overwrites, adjust adds; the two are deliberately
  asymmetric.

INVARIANT:
  The sum of a budget's proposed amounts may never exceed the fund, and
  neither may the sum of allocated amounts. The check runs after the
  save inside the same transaction, so an excess rolls the whole write
  back.

SEE ALSO:
  - budget.go: calls allocate on approval completion
  - adjustment.go: calls adjustAllocation on adjustment approval
*/

package plan

import (
	"context"
	"time"

	"github.com/bonifacechacha/plan-lib/money"
)

// AllocationService manages the allocation lines of budgets.
type AllocationService struct {
	store    TxStore
	dir      Directory
	approver Approver
	cfg      Config
	now      func() time.Time
}

// ============================================================================
// PROPOSE
// ============================================================================

// Propose sets the proposed amount of the budget's line for the role
// and resource, creating the line if needed. Only legal before the
// budget is approved. Equal re-proposals save but write no change-log
// entry.
func (s *AllocationService) Propose(ctx context.Context, user UserID, budgetID BudgetID, role RoleID, resource ResourceID, amount money.Money, description, reason string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.IsApproved() {
			return ErrAlreadyApproved
		}
		if b.Archived {
			return ErrArchived
		}
		if !s.canPropose(ctx, b, role, user) {
			return denied(user, "propose allocations for budget "+string(budgetID))
		}

		line, err := s.findOrCreate(ctx, tx, budgetID, role, resource)
		if err != nil {
			return err
		}
		changed := !line.ProposedAmount.Equal(amount)
		line.ProposedAmount = amount
		if err := tx.Allocations().Save(ctx, line); err != nil {
			return err
		}
		if changed {
			if err := s.recordChange(ctx, tx, b, line, description, reason, user); err != nil {
				return err
			}
		}
		return s.checkProposedWithinFund(ctx, tx, b)
	})
}

// canPropose admits the budget's current approver or a planner who is a
// member of the role being planned for.
func (s *AllocationService) canPropose(ctx context.Context, b *Budget, role RoleID, user UserID) bool {
	ref := b.ApprovalRef()
	if s.approver.IsRegistered(ctx, ref) && s.approver.CanApprove(ctx, ref, user) {
		return true
	}
	return s.dir.CanPlan(b.CostCenter, user) && s.dir.IsMember(role, user)
}

// ============================================================================
// ADJUST
// ============================================================================

// AdjustAllocation adds amount to the allocated amount of an approved
// budget's line. Driven by approved allocation adjustments.
func (s *AllocationService) AdjustAllocation(ctx context.Context, user UserID, budgetID BudgetID, role RoleID, resource ResourceID, amount money.Money, description, reason string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		return s.adjustAllocation(ctx, tx, user, budgetID, role, resource, amount, description, reason)
	})
}

func (s *AllocationService) adjustAllocation(ctx context.Context, tx Store, user UserID, budgetID BudgetID, role RoleID, resource ResourceID, amount money.Money, description, reason string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	b, err := tx.Budgets().Get(ctx, budgetID)
	if err != nil {
		return err
	}
	if !b.IsApproved() {
		return ErrNotApproved
	}
	if b.Archived {
		return ErrArchived
	}
	if !s.dir.CanPlan(b.CostCenter, user) || !s.dir.IsMember(role, user) {
		return denied(user, "adjust allocations of budget "+string(budgetID))
	}

	line, err := s.findOrCreate(ctx, tx, budgetID, role, resource)
	if err != nil {
		return err
	}
	line.AllocatedAmount = line.AllocatedAmount.Add(amount)
	if err := tx.Allocations().Save(ctx, line); err != nil {
		return err
	}
	if err := s.recordChange(ctx, tx, b, line, description, reason, user); err != nil {
		return err
	}

	total, err := s.totalAllocated(ctx, tx, budgetID)
	if err != nil {
		return err
	}
	if total.GreaterThan(b.Fund) {
		if !s.cfg.AutoIncreaseFundDuringAdjustment {
			return &OverBudgetError{BudgetID: budgetID, Total: total, Fund: b.Fund}
		}
		b.Fund = b.Fund.Add(total.Sub(b.Fund))
		return tx.Budgets().Save(ctx, b)
	}
	return nil
}

// ============================================================================
// ALLOCATE ON APPROVAL
// ============================================================================

// allocate promotes every proposed amount to the allocated amount. Runs
// inside the budget approval transaction.
func (s *AllocationService) allocate(ctx context.Context, tx Store, b *Budget) error {
	if !b.IsApproved() {
		return ErrNotApproved
	}
	lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: b.ID})
	if err != nil {
		return err
	}
	total := money.Zero()
	for _, line := range lines {
		line.AllocatedAmount = line.ProposedAmount
		if err := tx.Allocations().Save(ctx, line); err != nil {
			return err
		}
		total = total.Add(line.AllocatedAmount)
	}
	if total.GreaterThan(b.Fund) {
		return &OverBudgetError{BudgetID: b.ID, Total: total, Fund: b.Fund}
	}
	return nil
}

// ============================================================================
// CHANGE LOG
// ============================================================================

// recordChange logs the post-change amount: the allocated amount once
// the budget is approved, the proposed amount before.
func (s *AllocationService) recordChange(ctx context.Context, tx Store, b *Budget, line *Allocation, description, reason string, user UserID) error {
	amount := line.ProposedAmount
	if b.IsApproved() {
		amount = line.AllocatedAmount
	}
	return tx.Allocations().RecordChange(ctx, &AllocationChange{
		ID:           newID(),
		AllocationID: line.ID,
		Amount:       amount,
		Description:  description,
		Reason:       reason,
		User:         user,
		Time:         s.now(),
	})
}

// Changes lists the change log of an allocation, newest first.
func (s *AllocationService) Changes(ctx context.Context, id AllocationID) ([]*AllocationChange, error) {
	return s.store.Allocations().Changes(ctx, id)
}

// ============================================================================
// PROPOSAL EXPORT / REPLAY
// ============================================================================

// Proposals exports the budget's plan as plain proposal lines.
func (s *AllocationService) Proposals(ctx context.Context, budgetID BudgetID) ([]AllocationProposal, error) {
	lines, err := s.store.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID})
	if err != nil {
		return nil, err
	}
	proposals := make([]AllocationProposal, 0, len(lines))
	for _, line := range lines {
		proposals = append(proposals, AllocationProposal{
			Role:     line.Role,
			Resource: line.Resource,
			Amount:   line.ProposedAmount,
		})
	}
	return proposals, nil
}

// ProposeAll replays an edited proposal list: a zero amount deletes the
// line, anything else proposes it.
func (s *AllocationService) ProposeAll(ctx context.Context, user UserID, budgetID BudgetID, proposals []AllocationProposal, description, reason string) error {
	for _, p := range proposals {
		if p.Amount.IsZero() {
			if err := s.DeleteAllocations(ctx, user, budgetID, p.Role, p.Resource); err != nil {
				return err
			}
			continue
		}
		if err := s.Propose(ctx, user, budgetID, p.Role, p.Resource, p.Amount, description, reason); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// DELETE
// ============================================================================

// DeleteAllocations removes the budget's line for the role and
// resource. Only legal before approval.
func (s *AllocationService) DeleteAllocations(ctx context.Context, user UserID, budgetID BudgetID, role RoleID, resource ResourceID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		b, err := tx.Budgets().Get(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.IsApproved() {
			return ErrAlreadyApproved
		}
		if b.Archived {
			return ErrArchived
		}
		if !s.canPropose(ctx, b, role, user) {
			return denied(user, "delete allocations of budget "+string(budgetID))
		}
		lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID, Role: role, Resource: resource})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.Allocations().Delete(ctx, line.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// QUERIES
// ============================================================================

func (s *AllocationService) Find(ctx context.Context, f AllocationFilter) ([]*Allocation, error) {
	return s.store.Allocations().Find(ctx, f)
}

// TotalProposed sums the proposed amounts of the budget's lines.
func (s *AllocationService) TotalProposed(ctx context.Context, budgetID BudgetID) (money.Money, error) {
	return s.totalProposed(ctx, s.store, budgetID)
}

// TotalAllocated sums the allocated amounts of the budget's lines.
func (s *AllocationService) TotalAllocated(ctx context.Context, budgetID BudgetID) (money.Money, error) {
	return s.totalAllocated(ctx, s.store, budgetID)
}

// AllocatedAmount is the allocated amount of one line, zero when the
// line does not exist.
func (s *AllocationService) AllocatedAmount(ctx context.Context, budgetID BudgetID, role RoleID, resource ResourceID) (money.Money, error) {
	lines, err := s.store.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID, Role: role, Resource: resource})
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, line := range lines {
		total = total.Add(line.AllocatedAmount)
	}
	return total, nil
}

func (s *AllocationService) totalProposed(ctx context.Context, tx Store, budgetID BudgetID) (money.Money, error) {
	lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID})
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, line := range lines {
		total = total.Add(line.ProposedAmount)
	}
	return total, nil
}

func (s *AllocationService) totalAllocated(ctx context.Context, tx Store, budgetID BudgetID) (money.Money, error) {
	lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID})
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, line := range lines {
		total = total.Add(line.AllocatedAmount)
	}
	return total, nil
}

func (s *AllocationService) checkProposedWithinFund(ctx context.Context, tx Store, b *Budget) error {
	total, err := s.totalProposed(ctx, tx, b.ID)
	if err != nil {
		return err
	}
	if total.GreaterThan(b.Fund) {
		return &OverBudgetError{BudgetID: b.ID, Total: total, Fund: b.Fund}
	}
	return nil
}

// findOrCreate returns the budget's line for the role and resource,
// creating an empty one when missing.
func (s *AllocationService) findOrCreate(ctx context.Context, tx Store, budgetID BudgetID, role RoleID, resource ResourceID) (*Allocation, error) {
	lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID, Role: role, Resource: resource})
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		return lines[0], nil
	}
	return &Allocation{
		ID:       AllocationID(newID()),
		BudgetID: budgetID,
		Role:     role,
		Resource: resource,
	}, nil
}
