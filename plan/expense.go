/*
expense.go - Expenditure and reconciliation

PURPOSE:
  Recording money paid out against allocation lines and closing each
  expense again: retirements account for what was spent, settlements
  move the leftover difference in either direction, and reconciliation
  seals the expense. A reconciled expense counts its retired amount
  against the budget instead of the paid amount.

SEE ALSO:
  - requisition.go: creates expenses through payments
  - retirement.go: attaches accepted retirement entries
*/

package plan

import (
	"context"
	"time"

	"github.com/bonifacechacha/plan-lib/money"
)

// ExpenseService records and reconciles expenses.
type ExpenseService struct {
	store TxStore
	dir   Directory
	cfg   Config
	now   func() time.Time
}

// ============================================================================
// CREATE
// ============================================================================

// Create records a direct expense backed by the given payment.
func (s *ExpenseService) Create(ctx context.Context, draft Expense, payment Payment) (*Expense, error) {
	var created *Expense
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		created, err = s.create(ctx, tx, draft, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *ExpenseService) create(ctx context.Context, tx Store, draft Expense, payment Payment) (*Expense, error) {
	if !payment.Paid {
		return nil, validationf("an expense payment must be an outgoing payment")
	}
	if !payment.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	e := draft
	if e.AssociatedUser == "" {
		e.AssociatedUser = e.Consumer
	}
	b, err := tx.Budgets().Get(ctx, e.BudgetID)
	if err != nil {
		return nil, err
	}
	if err := s.validateExpense(ctx, b, e.Role, e.Resource, e.AssociatedUser, payment.Time); err != nil {
		return nil, err
	}
	if !s.cfg.AllowExpenseOverBalance {
		balance, err := s.balance(ctx, tx, e.BudgetID, e.Role, e.Resource)
		if err != nil {
			return nil, err
		}
		if payment.Amount.GreaterThan(balance) {
			return nil, &OverAllocationError{BudgetID: e.BudgetID, Requested: payment.Amount, Available: balance}
		}
	}

	e.ID = ExpenseID(newID())
	e.Version = 0
	e.Payment = payment
	e.Retirements = nil
	e.Settlements = nil
	e.Reconciled = false
	e.TimeCreated = s.now()
	if err := tx.Expenses().Save(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// validateExpense checks that spending accountable to the user against
// the budget line is admissible at the given time.
func (s *ExpenseService) validateExpense(ctx context.Context, b *Budget, role RoleID, resource ResourceID, user UserID, at time.Time) error {
	if !b.IsApproved() {
		return ErrNotApproved
	}
	if at.Before(b.Period.Start) {
		return validationf("expense predates the budget period")
	}
	if !s.dir.IsMember(role, user) {
		return denied(user, "spend as a member of role "+string(role))
	}
	if !s.dir.IsResourceAllowed(role, resource) {
		return validationf("role %s may not consume resource %s", role, resource)
	}
	if !s.dir.AllowsResource(b.CostCenter, resource) {
		return validationf("cost center %s does not cover resource %s", b.CostCenter, resource)
	}
	if !s.dir.AllowsRole(b.CostCenter, role) {
		return validationf("cost center %s does not cover role %s", b.CostCenter, role)
	}
	return nil
}

// ============================================================================
// RETIREMENT ATTACHMENT
// ============================================================================

// retire attaches the accepted entries of an approved retirement to its
// expense. Runs inside the retirement approval transaction.
func (s *ExpenseService) retire(ctx context.Context, tx Store, r *Retirement) error {
	if !r.IsApproved() {
		return ErrNotApproved
	}
	e, err := tx.Expenses().Get(ctx, r.ExpenseID)
	if err != nil {
		return err
	}
	if e.Reconciled {
		return ErrAlreadyReconciled
	}
	if e.HasSettlements() {
		return validationf("expense %s already has settlements", e.ID)
	}
	e.Retirements = append(e.Retirements, r.AcceptedEntries()...)
	if s.cfg.AutoReconcileCompleteRetirement && e.HasRetirements() && e.RetiredDifference().IsZero() {
		e.Reconciled = true
	}
	return tx.Expenses().Save(ctx, e)
}

// cancelRetirements detaches the given entries, legal only while no
// settlement has been recorded against them.
func (s *ExpenseService) cancelRetirements(ctx context.Context, tx Store, expenseID ExpenseID, entries []RetirementEntry) error {
	e, err := tx.Expenses().Get(ctx, expenseID)
	if err != nil {
		return err
	}
	if e.HasSettlements() {
		return validationf("cannot cancel retirements of expense %s, settlements exist", e.ID)
	}
	remove := make(map[string]bool, len(entries))
	for _, entry := range entries {
		remove[entry.ID] = true
	}
	kept := e.Retirements[:0]
	for _, entry := range e.Retirements {
		if !remove[entry.ID] {
			kept = append(kept, entry)
		}
	}
	e.Retirements = kept
	return tx.Expenses().Save(ctx, e)
}

// ============================================================================
// SETTLEMENT
// ============================================================================

// Settle records a payment against the retired difference. The payment
// direction must match who owes whom; covering the difference exactly
// reconciles the expense in the same write.
func (s *ExpenseService) Settle(ctx context.Context, id ExpenseID, payment Payment) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		e, err := tx.Expenses().Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Reconciled {
			return ErrAlreadyReconciled
		}
		if !e.CanSettle() {
			return validationf("expense %s has nothing to settle", e.ID)
		}
		if !payment.Amount.IsPositive() || payment.Amount.GreaterThan(e.PendingSettlement()) {
			return ErrInvalidAmount
		}
		if payment.Paid != e.RequiresPayment() {
			return validationf("settlement direction is wrong for expense %s", e.ID)
		}
		e.Settlements = append(e.Settlements, payment)
		if e.IsCompletelySettled() {
			e.Reconciled = true
		}
		return tx.Expenses().Save(ctx, e)
	})
}

// ============================================================================
// RECONCILIATION
// ============================================================================

// MarkReconciled seals the expense.
func (s *ExpenseService) MarkReconciled(ctx context.Context, id ExpenseID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		e, err := tx.Expenses().Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Reconciled {
			return ErrAlreadyReconciled
		}
		if !e.CanReconcile() {
			return validationf("expense %s is not completely retired and settled", e.ID)
		}
		e.Reconciled = true
		return tx.Expenses().Save(ctx, e)
	})
}

// PendingReconciliation lists the unreconciled expenses the user is
// accountable for.
func (s *ExpenseService) PendingReconciliation(ctx context.Context, user UserID) ([]*Expense, error) {
	open := false
	return s.store.Expenses().Find(ctx, ExpenseFilter{AssociatedUser: user, Reconciled: &open})
}

// CountOverThresholdPendingReconciliations counts the unreconciled
// expenses of the user older than the configured age threshold.
func (s *ExpenseService) CountOverThresholdPendingReconciliations(ctx context.Context, user UserID) (int, error) {
	return s.countOverduePending(ctx, s.store, user)
}

func (s *ExpenseService) countOverduePending(ctx context.Context, tx Store, user UserID) (int, error) {
	open := false
	cutoff := s.now().AddDate(0, 0, -s.cfg.PendingReconciliationMaxAgeDays)
	return tx.Expenses().Count(ctx, ExpenseFilter{AssociatedUser: user, Reconciled: &open, CreatedBefore: &cutoff})
}

// ============================================================================
// QUERIES
// ============================================================================

func (s *ExpenseService) Get(ctx context.Context, id ExpenseID) (*Expense, error) {
	return s.store.Expenses().Get(ctx, id)
}

func (s *ExpenseService) Find(ctx context.Context, f ExpenseFilter) ([]*Expense, error) {
	return s.store.Expenses().Find(ctx, f)
}

func (s *ExpenseService) Count(ctx context.Context, f ExpenseFilter) (int, error) {
	return s.store.Expenses().Count(ctx, f)
}

// TotalExpenditure sums the actual amounts of the matching expenses.
func (s *ExpenseService) TotalExpenditure(ctx context.Context, f ExpenseFilter) (money.Money, error) {
	return s.totalExpenditure(ctx, s.store, f)
}

// Balance is the allocated amount of the line minus its expenditure.
func (s *ExpenseService) Balance(ctx context.Context, budgetID BudgetID, role RoleID, resource ResourceID) (money.Money, error) {
	return s.balance(ctx, s.store, budgetID, role, resource)
}

// BalancePercentage is the remaining balance of the line as a share of
// its allocated amount, rounded to two places.
func (s *ExpenseService) BalancePercentage(ctx context.Context, budgetID BudgetID, role RoleID, resource ResourceID) (float64, error) {
	allocated, err := s.allocated(ctx, s.store, budgetID, role, resource)
	if err != nil {
		return 0, err
	}
	balance, err := s.balance(ctx, s.store, budgetID, role, resource)
	if err != nil {
		return 0, err
	}
	pct := balance.PercentOf(allocated, 2)
	f, _ := pct.Float64()
	return f, nil
}

func (s *ExpenseService) totalExpenditure(ctx context.Context, tx Store, f ExpenseFilter) (money.Money, error) {
	expenses, err := tx.Expenses().Find(ctx, f)
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, e := range expenses {
		total = total.Add(e.ActualAmount())
	}
	return total, nil
}

func (s *ExpenseService) allocated(ctx context.Context, tx Store, budgetID BudgetID, role RoleID, resource ResourceID) (money.Money, error) {
	lines, err := tx.Allocations().Find(ctx, AllocationFilter{BudgetID: budgetID, Role: role, Resource: resource})
	if err != nil {
		return money.Zero(), err
	}
	total := money.Zero()
	for _, line := range lines {
		total = total.Add(line.AllocatedAmount)
	}
	return total, nil
}

func (s *ExpenseService) balance(ctx context.Context, tx Store, budgetID BudgetID, role RoleID, resource ResourceID) (money.Money, error) {
	allocated, err := s.allocated(ctx, tx, budgetID, role, resource)
	if err != nil {
		return money.Zero(), err
	}
	spent, err := s.totalExpenditure(ctx, tx, ExpenseFilter{BudgetID: budgetID, Role: role, Resource: resource})
	if err != nil {
		return money.Zero(), err
	}
	return allocated.Sub(spent), nil
}
