/*
types.go - Entities of the planning engine

PURPOSE:
  Defines the aggregate roots and their value types: Budget, Allocation
  (with its change log), AllocationAdjustment, PeriodAdjustment,
  Requisition, Expense (with payments, retirement entries and
  settlements) and Retirement.

DESIGN PRINCIPLES:
  1. Typed string IDs so a RequisitionID can never be passed where a
     BudgetID is expected.
  2. Every aggregate carries a Version counter for optimistic locking;
     stores reject a Save whose version does not match.
  3. Approval outcome is tri-state: nil pending, true approved, false
     declined.
  4. Derived financial quantities (actual amount, retired difference,
     pending settlement) are methods, never stored fields.

SEE ALSO:
  - money/money.go: the Money value type
  - store.go: repositories over these entities
*/

package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/bonifacechacha/plan-lib/money"
)

// ============================================================================
// IDENTIFIERS
// ============================================================================

type (
	BudgetID           string
	AllocationID       string
	AdjustmentID       string
	PeriodAdjustmentID string
	RequisitionID      string
	ExpenseID          string
	RetirementID       string

	// Directory-owned identifiers. The engine treats them as opaque.
	UserID       string
	RoleID       string
	ResourceID   string
	CostCenterID string
)

func newID() string { return uuid.NewString() }

// ============================================================================
// PERIOD
// ============================================================================

// Period is the inclusive date range a budget covers.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) IsValid() bool { return !p.End.Before(p.Start) }

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// IsUpToDate reports whether the period has not yet ended at t.
func (p Period) IsUpToDate(t time.Time) bool { return !p.End.Before(t) }

// ============================================================================
// BUDGET
// ============================================================================

// Budget is the root aggregate: a fund for a cost center over a period.
type Budget struct {
	ID            BudgetID
	Version       int
	Title         string
	Description   string
	CostCenter    CostCenterID
	Fund          money.Money
	EstimatedCost money.Money
	Period        Period

	// Approved is nil while no decision has been made.
	Approved  *bool
	Submitted bool
	Archived  bool

	Creator     UserID
	TimeCreated time.Time
}

func (b *Budget) IsApproved() bool { return b.Approved != nil && *b.Approved }
func (b *Budget) IsDeclined() bool { return b.Approved != nil && !*b.Approved }

// IsUpToDate reports whether the budget period has not ended at t.
func (b *Budget) IsUpToDate(t time.Time) bool { return b.Period.IsUpToDate(t) }

// IsActive reports whether expenditure against the budget is possible:
// approved, current and not archived.
func (b *Budget) IsActive(t time.Time) bool {
	return b.IsApproved() && b.IsUpToDate(t) && !b.Archived
}

// Status renders the lifecycle state for display.
func (b *Budget) Status(t time.Time) string {
	var s string
	switch {
	case b.IsApproved():
		s = "Approved"
	case b.IsDeclined():
		s = "Declined"
	case b.Submitted:
		s = "Waiting approval"
	default:
		s = "Draft"
	}
	switch {
	case b.Archived:
		s += ", Archived"
	case !b.IsUpToDate(t):
		s += ", Out of date"
	}
	return s
}

// ============================================================================
// ALLOCATION
// ============================================================================

// Allocation is one line of a budget: the money set aside for a role to
// spend on a resource. ProposedAmount is what planners ask for before
// approval; AllocatedAmount is what spending is measured against after.
type Allocation struct {
	ID       AllocationID
	Version  int
	BudgetID BudgetID
	Role     RoleID
	Resource ResourceID

	ProposedAmount  money.Money
	AllocatedAmount money.Money
}

// AllocationChange is one entry of the append-only change log kept per
// allocation.
type AllocationChange struct {
	ID           string
	AllocationID AllocationID
	Amount       money.Money
	Description  string
	Reason       string
	User         UserID
	Time         time.Time
}

// AllocationProposal is the exchange form of an allocation line, used
// to export a budget's plan and replay an edited plan back in.
type AllocationProposal struct {
	Role     RoleID
	Resource ResourceID
	Amount   money.Money
}

// ============================================================================
// ALLOCATION ADJUSTMENT
// ============================================================================

// AllocationAdjustment requests extra money for an allocation line of
// an already-approved budget. Adjustments are strictly incremental;
// the amount is added on approval and nothing is ever decremented.
type AllocationAdjustment struct {
	ID       AdjustmentID
	Version  int
	BudgetID BudgetID
	Role     RoleID
	Resource ResourceID

	ProposedAmount  money.Money
	AllocatedAmount money.Money
	Description     string
	Reason          string

	Approved  *bool
	Submitted bool

	Creator     UserID
	TimeCreated time.Time
}

func (a *AllocationAdjustment) IsApproved() bool { return a.Approved != nil && *a.Approved }
func (a *AllocationAdjustment) IsPending() bool  { return a.Submitted && a.Approved == nil }

// ============================================================================
// PERIOD ADJUSTMENT
// ============================================================================

// PeriodAdjustment requests extending the end date of an approved
// budget. At most one may be pending per budget.
type PeriodAdjustment struct {
	ID       PeriodAdjustmentID
	Version  int
	BudgetID BudgetID

	ProposedEndDate time.Time
	Reason          string

	Approved  *bool
	Submitted bool

	Creator     UserID
	TimeCreated time.Time
}

func (p *PeriodAdjustment) IsApproved() bool { return p.Approved != nil && *p.Approved }
func (p *PeriodAdjustment) IsPending() bool  { return p.Submitted && p.Approved == nil }

// ============================================================================
// REQUISITION
// ============================================================================

// Requisition asks for money from an allocation line on behalf of a
// consumer. Once approved it is paid out in one or more installments,
// each producing an Expense.
type Requisition struct {
	ID       RequisitionID
	Version  int
	BudgetID BudgetID
	Role     RoleID
	Resource ResourceID

	Consumer    UserID
	Description string
	Reason      string

	RequestedAmount money.Money
	ApprovedAmount  money.Money

	Approved  *bool
	Submitted bool

	// Fulfilled is set when payments have covered the approved amount.
	Fulfilled bool

	Creator     UserID
	TimeCreated time.Time
}

func (r *Requisition) IsApproved() bool { return r.Approved != nil && *r.Approved }
func (r *Requisition) IsDeclined() bool { return r.Approved != nil && !*r.Approved }
func (r *Requisition) IsPending() bool  { return r.Submitted && r.Approved == nil }

// IsPayable reports whether further payments may be recorded.
func (r *Requisition) IsPayable() bool { return r.IsApproved() && !r.Fulfilled }

// PendingAmount is what remains to be paid given the total paid so far.
func (r *Requisition) PendingAmount(paid money.Money) money.Money {
	return r.ApprovedAmount.Sub(paid)
}

// IsCompletelyPaid reports whether payments cover the approved amount.
func (r *Requisition) IsCompletelyPaid(paid money.Money) bool {
	return r.IsApproved() && paid.GreaterThanOrEqual(r.ApprovedAmount)
}

// Status renders the lifecycle state for display, given the total paid.
func (r *Requisition) Status(paid money.Money) string {
	switch {
	case r.IsDeclined():
		return "Declined"
	case r.IsApproved() && r.IsCompletelyPaid(paid):
		return "Completely paid"
	case r.IsApproved() && paid.IsPositive():
		return "Partially paid"
	case r.IsApproved():
		return "Pending payment"
	case r.Submitted:
		return "Waiting for approval"
	default:
		return "Draft"
	}
}

// ============================================================================
// PAYMENT
// ============================================================================

// Payment records money moving between the organization and a user.
// Paid true means the organization paid out; false means it received.
type Payment struct {
	Amount    money.Money
	Paid      bool
	Time      time.Time
	Method    string
	Reference string
}

// ============================================================================
// EXPENSE
// ============================================================================

// Expense is money actually spent against an allocation line. It owns
// the originating payment, the accepted retirement entries accounting
// for it, and the settlement payments that close any difference.
type Expense struct {
	ID       ExpenseID
	Version  int
	BudgetID BudgetID
	Role     RoleID
	Resource ResourceID

	// AssociatedUser is the user accountable for the money: membership
	// and overdue-reconciliation gates run against them and only they
	// may retire the expense. Payments against a requisition carry the
	// requisition creator here.
	AssociatedUser UserID

	// Consumer is the user or party the money was spent for.
	Consumer    UserID
	Description string

	// RequisitionID links back to the originating requisition, empty
	// for direct expenses.
	RequisitionID RequisitionID

	Payment     Payment
	Retirements []RetirementEntry
	Settlements []Payment

	Reconciled bool

	Creator     UserID
	TimeCreated time.Time
}

// PaidAmount is the amount originally paid out.
func (e *Expense) PaidAmount() money.Money { return e.Payment.Amount }

func (e *Expense) HasRetirements() bool { return len(e.Retirements) > 0 }
func (e *Expense) HasSettlements() bool { return len(e.Settlements) > 0 }

// TotalRetirement sums the retirement entries attached to the expense.
func (e *Expense) TotalRetirement() money.Money {
	total := money.Zero()
	for _, entry := range e.Retirements {
		total = total.Add(entry.Amount)
	}
	return total
}

// ActualAmount is what the expense counts as against the budget: the
// retired amount once reconciled with retirements, the paid amount
// otherwise.
func (e *Expense) ActualAmount() money.Money {
	if e.Reconciled && e.HasRetirements() {
		return e.TotalRetirement()
	}
	return e.PaidAmount()
}

// RetiredDifference is paid minus retired. Positive means the consumer
// owes money back; negative means the organization owes the consumer.
func (e *Expense) RetiredDifference() money.Money {
	return e.PaidAmount().Sub(e.TotalRetirement())
}

// RequiresPayment reports whether closing the difference needs the
// organization to pay out (the consumer spent more than was paid).
func (e *Expense) RequiresPayment() bool { return e.RetiredDifference().IsNegative() }

// TotalSettlement sums the settlement payments recorded so far.
func (e *Expense) TotalSettlement() money.Money {
	total := money.Zero()
	for _, p := range e.Settlements {
		total = total.Add(p.Amount)
	}
	return total
}

// PendingSettlement is what remains of the difference to settle.
func (e *Expense) PendingSettlement() money.Money {
	return e.RetiredDifference().Abs().Sub(e.TotalSettlement())
}

// IsCompletelySettled reports whether settlements cover the difference.
func (e *Expense) IsCompletelySettled() bool {
	return e.TotalSettlement().Equal(e.RetiredDifference().Abs())
}

// CanRetire reports whether a retirement may still be filed.
func (e *Expense) CanRetire() bool { return !e.Reconciled && !e.HasSettlements() }

// CanSettle reports whether a settlement payment may be recorded.
func (e *Expense) CanSettle() bool {
	return !e.Reconciled && e.HasRetirements() && !e.IsCompletelySettled()
}

// CanReconcile reports whether the expense may be closed: every paid
// unit is accounted for by retirements and no settlement is still owed.
// An expense with nothing retired can never reconcile.
func (e *Expense) CanReconcile() bool {
	return !e.Reconciled && e.RetiredDifference().IsZero() && e.IsCompletelySettled()
}

// Status renders the reconciliation state for display.
func (e *Expense) Status() string {
	switch {
	case e.Reconciled:
		return "Reconciled"
	case e.HasRetirements():
		return "Retired"
	default:
		return "Waiting retirement"
	}
}

// ============================================================================
// RETIREMENT
// ============================================================================

// RetirementEntry is one receipt line of a retirement. Approvers mark
// entries accepted; only accepted entries count against the expense.
type RetirementEntry struct {
	ID          string
	Description string
	Amount      money.Money
	Time        time.Time
	Reference   string
	Accepted    bool
}

// Retirement accounts for how the money of an expense was actually
// spent, entry by entry, and goes through approval before its accepted
// entries attach to the expense.
type Retirement struct {
	ID        RetirementID
	Version   int
	ExpenseID ExpenseID

	Entries []RetirementEntry

	Approved  *bool
	Submitted bool

	Creator     UserID
	TimeCreated time.Time
}

func (r *Retirement) IsApproved() bool { return r.Approved != nil && *r.Approved }
func (r *Retirement) IsPending() bool  { return r.Submitted && r.Approved == nil }

// TotalAmount sums every entry, accepted or not.
func (r *Retirement) TotalAmount() money.Money {
	total := money.Zero()
	for _, entry := range r.Entries {
		total = total.Add(entry.Amount)
	}
	return total
}

// AcceptedEntries returns the entries marked accepted by approvers.
func (r *Retirement) AcceptedEntries() []RetirementEntry {
	var accepted []RetirementEntry
	for _, entry := range r.Entries {
		if entry.Accepted {
			accepted = append(accepted, entry)
		}
	}
	return accepted
}

// AcceptedTotal sums the accepted entries.
func (r *Retirement) AcceptedTotal() money.Money {
	total := money.Zero()
	for _, entry := range r.AcceptedEntries() {
		total = total.Add(entry.Amount)
	}
	return total
}

// EntryPercentage is the entry's share of the retirement total, as a
// percentage rounded to two places.
func (r *Retirement) EntryPercentage(entry RetirementEntry) float64 {
	pct := entry.Amount.PercentOf(r.TotalAmount(), 2)
	f, _ := pct.Float64()
	return f
}
