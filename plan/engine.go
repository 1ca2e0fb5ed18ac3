/*
engine.go - Engine assembly

PURPOSE:
  Builds the service graph over one store, one directory and one
  approval collaborator, and exposes the hook registry the approval
  collaborator drives.
*/

package plan

import "time"

// Engine bundles the services of the planning core.
type Engine struct {
	Budgets           *BudgetService
	Allocations       *AllocationService
	Adjustments       *AllocationAdjustmentService
	PeriodAdjustments *PeriodAdjustmentService
	Requisitions      *RequisitionService
	Expenses          *ExpenseService
	Retirements       *RetirementService

	cfg Config
}

// NewEngine wires the services together.
func NewEngine(store TxStore, dir Directory, approver Approver, cfg Config) *Engine {
	now := time.Now

	alloc := &AllocationService{store: store, dir: dir, approver: approver, cfg: cfg, now: now}
	budget := &BudgetService{store: store, dir: dir, approver: approver, cfg: cfg, now: now, alloc: alloc}
	expense := &ExpenseService{store: store, dir: dir, cfg: cfg, now: now}
	requisition := &RequisitionService{store: store, dir: dir, approver: approver, cfg: cfg, now: now, expense: expense}
	retirement := &RetirementService{store: store, approver: approver, cfg: cfg, now: now, expense: expense}
	adjustment := &AllocationAdjustmentService{store: store, dir: dir, approver: approver, cfg: cfg, now: now, alloc: alloc}
	period := &PeriodAdjustmentService{store: store, approver: approver, now: now, budget: budget}

	return &Engine{
		Budgets:           budget,
		Allocations:       alloc,
		Adjustments:       adjustment,
		PeriodAdjustments: period,
		Requisitions:      requisition,
		Expenses:          expense,
		Retirements:       retirement,
		cfg:               cfg,
	}
}

// Config returns the policy the engine runs under.
func (e *Engine) Config() Config { return e.cfg }

// ApprovalHooks exposes the per-type reactions the approval
// collaborator must invoke on approval events.
func (e *Engine) ApprovalHooks() HookRegistry {
	return HookRegistry{
		TypeBudget: {
			Resolve:    e.Budgets.resolve,
			OnComplete: e.Budgets.onComplete,
			OnCancel:   e.Budgets.onCancel,
		},
		TypeRequisition: {
			Resolve:    e.Requisitions.resolve,
			OnComplete: e.Requisitions.onComplete,
			OnCancel:   e.Requisitions.onCancel,
		},
		TypeRetirement: {
			Resolve:       e.Retirements.resolve,
			OnApproveStep: e.Retirements.onApproveStep,
			OnComplete:    e.Retirements.onComplete,
			OnCancel:      e.Retirements.onCancel,
		},
		TypeAllocationAdjustment: {
			Resolve:    e.Adjustments.resolve,
			OnComplete: e.Adjustments.onComplete,
			OnCancel:   e.Adjustments.onCancel,
		},
		TypePeriodAdjustment: {
			Resolve:    e.PeriodAdjustments.resolve,
			OnComplete: e.PeriodAdjustments.onComplete,
			OnCancel:   e.PeriodAdjustments.onCancel,
		},
	}
}

// setClock replaces the time source of every service.
func (e *Engine) setClock(now func() time.Time) {
	e.Budgets.now = now
	e.Allocations.now = now
	e.Adjustments.now = now
	e.PeriodAdjustments.now = now
	e.Requisitions.now = now
	e.Expenses.now = now
	e.Retirements.now = now
}
