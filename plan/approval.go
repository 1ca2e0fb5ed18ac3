/*
approval.go - Approval collaborator contract and hook wiring

PURPOSE:
  The engine does not decide approvals itself; it registers approvables
  with an external Approver and reacts when the Approver completes or
  cancels a tracker. Completion and cancellation run synchronously,
  inside the Approver's transaction boundary: if a hook fails, the
  decision does not stand.

  Every approvable is addressed by a Ref, encoded "<Type>:<id>". The
  Approver resolves refs back into entities through the HookRegistry
  the engine exposes.

SEE ALSO:
  - engine.go: builds the HookRegistry
  - approval/: the in-memory Approver implementation
*/

package plan

import (
	"context"
	"fmt"
	"strings"
)

// ============================================================================
// REFS
// ============================================================================

// ApprovableType tags the kind of entity behind an approval tracker.
type ApprovableType string

const (
	TypeBudget               ApprovableType = "Budget"
	TypeRequisition          ApprovableType = "Requisition"
	TypeRetirement           ApprovableType = "Retirement"
	TypeAllocationAdjustment ApprovableType = "AllocationAdjustment"
	TypePeriodAdjustment     ApprovableType = "PeriodAdjustment"
)

// Criteria names under which each approvable type registers. The
// Approver maps criteria to approver chains.
const (
	BudgetApprovalCriteria               = "BudgetApprovalCriteria"
	RequisitionApprovalCriteria          = "RequisitionApprovalCriteria"
	RetirementApprovalCriteria           = "RetirementApprovalCriteria"
	AllocationAdjustmentApprovalCriteria = "AllocationAdjustmentApprovalCriteria"
	PeriodAdjustmentApprovalCriteria     = "PeriodAdjustmentApprovalCriteria"
)

// Ref addresses one approvable entity.
type Ref struct {
	Type ApprovableType
	ID   string
}

func (r Ref) String() string { return string(r.Type) + ":" + r.ID }

// ParseRef decodes the "<Type>:<id>" form.
func ParseRef(s string) (Ref, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return Ref{}, fmt.Errorf("%w: malformed approvable reference %q", ErrValidation, s)
	}
	return Ref{Type: ApprovableType(typ), ID: id}, nil
}

// Approvable is implemented by every entity that goes through approval.
type Approvable interface {
	ApprovalRef() Ref
	ApprovalDescription() string
}

func (b *Budget) ApprovalRef() Ref { return Ref{Type: TypeBudget, ID: string(b.ID)} }
func (b *Budget) ApprovalDescription() string {
	return fmt.Sprintf("Budget %s (%s)", b.Title, b.Fund)
}

func (r *Requisition) ApprovalRef() Ref { return Ref{Type: TypeRequisition, ID: string(r.ID)} }
func (r *Requisition) ApprovalDescription() string {
	return fmt.Sprintf("Requisition of %s for %s", r.RequestedAmount, r.Consumer)
}

func (r *Retirement) ApprovalRef() Ref { return Ref{Type: TypeRetirement, ID: string(r.ID)} }
func (r *Retirement) ApprovalDescription() string {
	return fmt.Sprintf("Retirement of %s for expense %s", r.TotalAmount(), r.ExpenseID)
}

func (a *AllocationAdjustment) ApprovalRef() Ref {
	return Ref{Type: TypeAllocationAdjustment, ID: string(a.ID)}
}
func (a *AllocationAdjustment) ApprovalDescription() string {
	return fmt.Sprintf("Allocation adjustment of %s for %s/%s", a.AllocatedAmount, a.Role, a.Resource)
}

func (p *PeriodAdjustment) ApprovalRef() Ref {
	return Ref{Type: TypePeriodAdjustment, ID: string(p.ID)}
}
func (p *PeriodAdjustment) ApprovalDescription() string {
	return fmt.Sprintf("Period adjustment of budget %s to %s", p.BudgetID, p.ProposedEndDate.Format("2006-01-02"))
}

// ============================================================================
// APPROVER CONTRACT
// ============================================================================

// Approver is the external approval collaborator. Register opens a
// tracker; the Approver later drives the registered hooks when the
// tracker completes or is cancelled.
type Approver interface {
	// Register opens an approval tracker for the ref under the given
	// criteria.
	Register(ctx context.Context, ref Ref, criteria, description string) error

	// IsRegistered reports whether a tracker exists for the ref,
	// completed or not.
	IsRegistered(ctx context.Context, ref Ref) bool

	// IsPending reports whether a tracker exists and has no decision.
	IsPending(ctx context.Context, ref Ref) bool

	// CanApprove reports whether the user is the current approver of
	// the ref's pending tracker.
	CanApprove(ctx context.Context, ref Ref, user UserID) bool

	// CanApproveOrOverride additionally admits override holders.
	CanApproveOrOverride(ctx context.Context, ref Ref, user UserID) bool

	// Cancel withdraws the tracker, running the OnCancel hook first.
	Cancel(ctx context.Context, ref Ref) error

	// UpdateDescription refreshes the tracker description after the
	// underlying entity changed.
	UpdateDescription(ctx context.Context, ref Ref, description string) error
}

// ============================================================================
// HOOKS
// ============================================================================

// ApprovalHooks are the engine-side reactions to approval events for
// one approvable type. The Approver calls them synchronously; a non-nil
// error aborts the event.
type ApprovalHooks struct {
	// Resolve loads the entity behind a ref id, for display and
	// permission checks.
	Resolve func(ctx context.Context, id string) (Approvable, error)

	// OnApproveStep gates an individual approve decision before it is
	// recorded.
	OnApproveStep func(ctx context.Context, id string, approver UserID) error

	// OnComplete applies the final decision to the entity.
	OnComplete func(ctx context.Context, id string, approved bool) error

	// OnCancel reverts the entity to its unregistered state.
	OnCancel func(ctx context.Context, id string) error
}

// HookRegistry maps approvable types to their hooks. Built by
// NewEngine, consumed by the Approver.
type HookRegistry map[ApprovableType]ApprovalHooks

// Hooks looks up the hooks for a ref's type.
func (r HookRegistry) Hooks(ref Ref) (ApprovalHooks, error) {
	hooks, ok := r[ref.Type]
	if !ok {
		return ApprovalHooks{}, fmt.Errorf("%w: no hooks registered for approvable type %q", ErrValidation, ref.Type)
	}
	return hooks, nil
}
