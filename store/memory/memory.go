/*
memory.go - In-memory store

PURPOSE:
  A plan.TxStore backed by maps, used by tests and the dev server.
  Transactions take the write lock for their whole duration, snapshot
  every table up front and restore the snapshot when the transaction
  function fails, so a failed multi-aggregate operation leaves no trace.

  Entities are cloned on the way in and out; callers never share memory
  with the store.

SEE ALSO:
  - store/sqlite: the durable implementation
*/

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bonifacechacha/plan-lib/plan"
)

// Store is an in-memory plan.TxStore.
type Store struct {
	mu   sync.RWMutex
	data *tables
}

type tables struct {
	budgets           map[plan.BudgetID]*plan.Budget
	allocations       map[plan.AllocationID]*plan.Allocation
	changes           map[plan.AllocationID][]*plan.AllocationChange
	adjustments       map[plan.AdjustmentID]*plan.AllocationAdjustment
	periodAdjustments map[plan.PeriodAdjustmentID]*plan.PeriodAdjustment
	requisitions      map[plan.RequisitionID]*plan.Requisition
	expenses          map[plan.ExpenseID]*plan.Expense
	retirements       map[plan.RetirementID]*plan.Retirement
}

func newTables() *tables {
	return &tables{
		budgets:           make(map[plan.BudgetID]*plan.Budget),
		allocations:       make(map[plan.AllocationID]*plan.Allocation),
		changes:           make(map[plan.AllocationID][]*plan.AllocationChange),
		adjustments:       make(map[plan.AdjustmentID]*plan.AllocationAdjustment),
		periodAdjustments: make(map[plan.PeriodAdjustmentID]*plan.PeriodAdjustment),
		requisitions:      make(map[plan.RequisitionID]*plan.Requisition),
		expenses:          make(map[plan.ExpenseID]*plan.Expense),
		retirements:       make(map[plan.RetirementID]*plan.Retirement),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for id, b := range t.budgets {
		c.budgets[id] = cloneBudget(b)
	}
	for id, a := range t.allocations {
		c.allocations[id] = cloneAllocation(a)
	}
	for id, list := range t.changes {
		cp := make([]*plan.AllocationChange, len(list))
		for i, ch := range list {
			cp[i] = cloneChange(ch)
		}
		c.changes[id] = cp
	}
	for id, a := range t.adjustments {
		c.adjustments[id] = cloneAdjustment(a)
	}
	for id, p := range t.periodAdjustments {
		c.periodAdjustments[id] = clonePeriodAdjustment(p)
	}
	for id, r := range t.requisitions {
		c.requisitions[id] = cloneRequisition(r)
	}
	for id, e := range t.expenses {
		c.expenses[id] = cloneExpense(e)
	}
	for id, r := range t.retirements {
		c.retirements[id] = cloneRetirement(r)
	}
	return c
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newTables()}
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// WithTx runs fn under the write lock. On error the pre-transaction
// snapshot is restored.
func (m *Store) WithTx(ctx context.Context, fn func(plan.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.data.clone()
	if err := fn(txView{m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// txView exposes the tables without re-locking; the transaction already
// holds the write lock.
type txView struct{ m *Store }

func (v txView) Budgets() plan.BudgetStore                     { return budgetStore{v.m, true} }
func (v txView) Allocations() plan.AllocationStore             { return allocationStore{v.m, true} }
func (v txView) Adjustments() plan.AdjustmentStore             { return adjustmentStore{v.m, true} }
func (v txView) PeriodAdjustments() plan.PeriodAdjustmentStore { return periodStore{v.m, true} }
func (v txView) Requisitions() plan.RequisitionStore           { return requisitionStore{v.m, true} }
func (v txView) Expenses() plan.ExpenseStore                   { return expenseStore{v.m, true} }
func (v txView) Retirements() plan.RetirementStore             { return retirementStore{v.m, true} }

func (m *Store) Budgets() plan.BudgetStore                     { return budgetStore{m, false} }
func (m *Store) Allocations() plan.AllocationStore             { return allocationStore{m, false} }
func (m *Store) Adjustments() plan.AdjustmentStore             { return adjustmentStore{m, false} }
func (m *Store) PeriodAdjustments() plan.PeriodAdjustmentStore { return periodStore{m, false} }
func (m *Store) Requisitions() plan.RequisitionStore           { return requisitionStore{m, false} }
func (m *Store) Expenses() plan.ExpenseStore                   { return expenseStore{m, false} }
func (m *Store) Retirements() plan.RetirementStore             { return retirementStore{m, false} }

func (m *Store) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Store) rlock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func conflict(kind, id string, expected, actual int) error {
	return &plan.ConflictError{Kind: kind, ID: id, Expected: expected, Actual: actual}
}

func missing(kind, id string) error {
	return &plan.NotFoundError{Kind: kind, ID: id}
}

// ============================================================================
// BUDGETS
// ============================================================================

type budgetStore struct {
	m    *Store
	inTx bool
}

func (s budgetStore) Get(ctx context.Context, id plan.BudgetID) (*plan.Budget, error) {
	defer s.m.rlock(s.inTx)()
	b, ok := s.m.data.budgets[id]
	if !ok {
		return nil, missing("budget", string(id))
	}
	return cloneBudget(b), nil
}

func (s budgetStore) Save(ctx context.Context, b *plan.Budget) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.budgets[b.ID]; ok {
		if current.Version != b.Version {
			return conflict("budget", string(b.ID), b.Version, current.Version)
		}
		b.Version++
	}
	s.m.data.budgets[b.ID] = cloneBudget(b)
	return nil
}

func (s budgetStore) Delete(ctx context.Context, id plan.BudgetID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.budgets, id)
	return nil
}

func (s budgetStore) Find(ctx context.Context, f plan.BudgetFilter) ([]*plan.Budget, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.Budget
	for _, b := range s.m.data.budgets {
		if matchBudget(b, f) {
			out = append(out, cloneBudget(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated.After(out[j].TimeCreated) })
	return out, nil
}

func (s budgetStore) Count(ctx context.Context, f plan.BudgetFilter) (int, error) {
	defer s.m.rlock(s.inTx)()
	n := 0
	for _, b := range s.m.data.budgets {
		if matchBudget(b, f) {
			n++
		}
	}
	return n, nil
}

func matchBudget(b *plan.Budget, f plan.BudgetFilter) bool {
	if f.Title != "" && b.Title != f.Title {
		return false
	}
	if f.CostCenter != "" && b.CostCenter != f.CostCenter {
		return false
	}
	if f.Archived != nil && b.Archived != *f.Archived {
		return false
	}
	if f.HasDecision != nil && (b.Approved != nil) != *f.HasDecision {
		return false
	}
	if f.Approved != nil && !(b.Approved != nil && *b.Approved == *f.Approved) {
		return false
	}
	if f.EndBefore != nil && !b.Period.End.Before(*f.EndBefore) {
		return false
	}
	return true
}

// ============================================================================
// ALLOCATIONS
// ============================================================================

type allocationStore struct {
	m    *Store
	inTx bool
}

func (s allocationStore) Get(ctx context.Context, id plan.AllocationID) (*plan.Allocation, error) {
	defer s.m.rlock(s.inTx)()
	a, ok := s.m.data.allocations[id]
	if !ok {
		return nil, missing("allocation", string(id))
	}
	return cloneAllocation(a), nil
}

func (s allocationStore) Save(ctx context.Context, a *plan.Allocation) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.allocations[a.ID]; ok {
		if current.Version != a.Version {
			return conflict("allocation", string(a.ID), a.Version, current.Version)
		}
		a.Version++
	}
	s.m.data.allocations[a.ID] = cloneAllocation(a)
	return nil
}

func (s allocationStore) Delete(ctx context.Context, id plan.AllocationID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.allocations, id)
	delete(s.m.data.changes, id)
	return nil
}

func (s allocationStore) Find(ctx context.Context, f plan.AllocationFilter) ([]*plan.Allocation, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.Allocation
	for _, a := range s.m.data.allocations {
		if matchAllocation(a, f) {
			out = append(out, cloneAllocation(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s allocationStore) RecordChange(ctx context.Context, c *plan.AllocationChange) error {
	defer s.m.lock(s.inTx)()
	s.m.data.changes[c.AllocationID] = append(s.m.data.changes[c.AllocationID], cloneChange(c))
	return nil
}

func (s allocationStore) Changes(ctx context.Context, id plan.AllocationID) ([]*plan.AllocationChange, error) {
	defer s.m.rlock(s.inTx)()
	list := s.m.data.changes[id]
	out := make([]*plan.AllocationChange, len(list))
	for i, c := range list {
		out[i] = cloneChange(c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func matchAllocation(a *plan.Allocation, f plan.AllocationFilter) bool {
	if f.BudgetID != "" && a.BudgetID != f.BudgetID {
		return false
	}
	if f.Role != "" && a.Role != f.Role {
		return false
	}
	if f.Resource != "" && a.Resource != f.Resource {
		return false
	}
	return true
}

// ============================================================================
// ALLOCATION ADJUSTMENTS
// ============================================================================

type adjustmentStore struct {
	m    *Store
	inTx bool
}

func (s adjustmentStore) Get(ctx context.Context, id plan.AdjustmentID) (*plan.AllocationAdjustment, error) {
	defer s.m.rlock(s.inTx)()
	a, ok := s.m.data.adjustments[id]
	if !ok {
		return nil, missing("adjustment", string(id))
	}
	return cloneAdjustment(a), nil
}

func (s adjustmentStore) Save(ctx context.Context, a *plan.AllocationAdjustment) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.adjustments[a.ID]; ok {
		if current.Version != a.Version {
			return conflict("adjustment", string(a.ID), a.Version, current.Version)
		}
		a.Version++
	}
	s.m.data.adjustments[a.ID] = cloneAdjustment(a)
	return nil
}

func (s adjustmentStore) Delete(ctx context.Context, id plan.AdjustmentID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.adjustments, id)
	return nil
}

func (s adjustmentStore) Find(ctx context.Context, f plan.AdjustmentFilter) ([]*plan.AllocationAdjustment, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.AllocationAdjustment
	for _, a := range s.m.data.adjustments {
		if matchAdjustment(a, f) {
			out = append(out, cloneAdjustment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated.After(out[j].TimeCreated) })
	return out, nil
}

func matchAdjustment(a *plan.AllocationAdjustment, f plan.AdjustmentFilter) bool {
	if f.BudgetID != "" && a.BudgetID != f.BudgetID {
		return false
	}
	if f.Role != "" && a.Role != f.Role {
		return false
	}
	if f.Resource != "" && a.Resource != f.Resource {
		return false
	}
	if f.Pending != nil && a.IsPending() != *f.Pending {
		return false
	}
	return true
}

// ============================================================================
// PERIOD ADJUSTMENTS
// ============================================================================

type periodStore struct {
	m    *Store
	inTx bool
}

func (s periodStore) Get(ctx context.Context, id plan.PeriodAdjustmentID) (*plan.PeriodAdjustment, error) {
	defer s.m.rlock(s.inTx)()
	p, ok := s.m.data.periodAdjustments[id]
	if !ok {
		return nil, missing("period adjustment", string(id))
	}
	return clonePeriodAdjustment(p), nil
}

func (s periodStore) Save(ctx context.Context, p *plan.PeriodAdjustment) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.periodAdjustments[p.ID]; ok {
		if current.Version != p.Version {
			return conflict("period adjustment", string(p.ID), p.Version, current.Version)
		}
		p.Version++
	}
	s.m.data.periodAdjustments[p.ID] = clonePeriodAdjustment(p)
	return nil
}

func (s periodStore) Delete(ctx context.Context, id plan.PeriodAdjustmentID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.periodAdjustments, id)
	return nil
}

func (s periodStore) Find(ctx context.Context, f plan.PeriodAdjustmentFilter) ([]*plan.PeriodAdjustment, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.PeriodAdjustment
	for _, p := range s.m.data.periodAdjustments {
		if matchPeriodAdjustment(p, f) {
			out = append(out, clonePeriodAdjustment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated.After(out[j].TimeCreated) })
	return out, nil
}

func matchPeriodAdjustment(p *plan.PeriodAdjustment, f plan.PeriodAdjustmentFilter) bool {
	if f.BudgetID != "" && p.BudgetID != f.BudgetID {
		return false
	}
	if f.Pending != nil && p.IsPending() != *f.Pending {
		return false
	}
	return true
}

// ============================================================================
// REQUISITIONS
// ============================================================================

type requisitionStore struct {
	m    *Store
	inTx bool
}

func (s requisitionStore) Get(ctx context.Context, id plan.RequisitionID) (*plan.Requisition, error) {
	defer s.m.rlock(s.inTx)()
	r, ok := s.m.data.requisitions[id]
	if !ok {
		return nil, missing("requisition", string(id))
	}
	return cloneRequisition(r), nil
}

func (s requisitionStore) Save(ctx context.Context, r *plan.Requisition) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.requisitions[r.ID]; ok {
		if current.Version != r.Version {
			return conflict("requisition", string(r.ID), r.Version, current.Version)
		}
		r.Version++
	}
	s.m.data.requisitions[r.ID] = cloneRequisition(r)
	return nil
}

func (s requisitionStore) Delete(ctx context.Context, id plan.RequisitionID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.requisitions, id)
	return nil
}

func (s requisitionStore) Find(ctx context.Context, f plan.RequisitionFilter) ([]*plan.Requisition, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.Requisition
	for _, r := range s.m.data.requisitions {
		if matchRequisition(r, f) {
			out = append(out, cloneRequisition(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated.After(out[j].TimeCreated) })
	return out, nil
}

func (s requisitionStore) Count(ctx context.Context, f plan.RequisitionFilter) (int, error) {
	defer s.m.rlock(s.inTx)()
	n := 0
	for _, r := range s.m.data.requisitions {
		if matchRequisition(r, f) {
			n++
		}
	}
	return n, nil
}

func matchRequisition(r *plan.Requisition, f plan.RequisitionFilter) bool {
	if f.BudgetID != "" && r.BudgetID != f.BudgetID {
		return false
	}
	if f.Role != "" && r.Role != f.Role {
		return false
	}
	if f.Resource != "" && r.Resource != f.Resource {
		return false
	}
	if f.Creator != "" && r.Creator != f.Creator {
		return false
	}
	if f.Consumer != "" && r.Consumer != f.Consumer {
		return false
	}
	if f.Approved != nil && !(r.Approved != nil && *r.Approved == *f.Approved) {
		return false
	}
	if f.Pending != nil && r.IsPending() != *f.Pending {
		return false
	}
	if f.Fulfilled != nil && r.Fulfilled != *f.Fulfilled {
		return false
	}
	return true
}

// ============================================================================
// EXPENSES
// ============================================================================

type expenseStore struct {
	m    *Store
	inTx bool
}

func (s expenseStore) Get(ctx context.Context, id plan.ExpenseID) (*plan.Expense, error) {
	defer s.m.rlock(s.inTx)()
	e, ok := s.m.data.expenses[id]
	if !ok {
		return nil, missing("expense", string(id))
	}
	return cloneExpense(e), nil
}

func (s expenseStore) Save(ctx context.Context, e *plan.Expense) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.expenses[e.ID]; ok {
		if current.Version != e.Version {
			return conflict("expense", string(e.ID), e.Version, current.Version)
		}
		e.Version++
	}
	s.m.data.expenses[e.ID] = cloneExpense(e)
	return nil
}

func (s expenseStore) Delete(ctx context.Context, id plan.ExpenseID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.expenses, id)
	return nil
}

func (s expenseStore) Find(ctx context.Context, f plan.ExpenseFilter) ([]*plan.Expense, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.Expense
	for _, e := range s.m.data.expenses {
		if matchExpense(e, f) {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated.After(out[j].TimeCreated) })
	return out, nil
}

func (s expenseStore) Count(ctx context.Context, f plan.ExpenseFilter) (int, error) {
	defer s.m.rlock(s.inTx)()
	n := 0
	for _, e := range s.m.data.expenses {
		if matchExpense(e, f) {
			n++
		}
	}
	return n, nil
}

func matchExpense(e *plan.Expense, f plan.ExpenseFilter) bool {
	if f.BudgetID != "" && e.BudgetID != f.BudgetID {
		return false
	}
	if f.Role != "" && e.Role != f.Role {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.AssociatedUser != "" && e.AssociatedUser != f.AssociatedUser {
		return false
	}
	if f.Consumer != "" && e.Consumer != f.Consumer {
		return false
	}
	if f.Creator != "" && e.Creator != f.Creator {
		return false
	}
	if f.RequisitionID != "" && e.RequisitionID != f.RequisitionID {
		return false
	}
	if f.Reconciled != nil && e.Reconciled != *f.Reconciled {
		return false
	}
	if f.Retired != nil && e.HasRetirements() != *f.Retired {
		return false
	}
	if f.Settled != nil && e.HasSettlements() != *f.Settled {
		return false
	}
	if f.From != nil && e.Payment.Time.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Payment.Time.After(*f.To) {
		return false
	}
	if f.CreatedBefore != nil && !e.TimeCreated.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// ============================================================================
// RETIREMENTS
// ============================================================================

type retirementStore struct {
	m    *Store
	inTx bool
}

func (s retirementStore) Get(ctx context.Context, id plan.RetirementID) (*plan.Retirement, error) {
	defer s.m.rlock(s.inTx)()
	r, ok := s.m.data.retirements[id]
	if !ok {
		return nil, missing("retirement", string(id))
	}
	return cloneRetirement(r), nil
}

func (s retirementStore) Save(ctx context.Context, r *plan.Retirement) error {
	defer s.m.lock(s.inTx)()
	if current, ok := s.m.data.retirements[r.ID]; ok {
		if current.Version != r.Version {
			return conflict("retirement", string(r.ID), r.Version, current.Version)
		}
		r.Version++
	}
	s.m.data.retirements[r.ID] = cloneRetirement(r)
	return nil
}

func (s retirementStore) Delete(ctx context.Context, id plan.RetirementID) error {
	defer s.m.lock(s.inTx)()
	delete(s.m.data.retirements, id)
	return nil
}

func (s retirementStore) Find(ctx context.Context, f plan.RetirementFilter) ([]*plan.Retirement, error) {
	defer s.m.rlock(s.inTx)()
	var out []*plan.Retirement
	for _, r := range s.m.data.retirements {
		if matchRetirement(r, f) {
			out = append(out, cloneRetirement(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeCreated.After(out[j].TimeCreated) })
	return out, nil
}

func matchRetirement(r *plan.Retirement, f plan.RetirementFilter) bool {
	if f.ExpenseID != "" && r.ExpenseID != f.ExpenseID {
		return false
	}
	if f.Creator != "" && r.Creator != f.Creator {
		return false
	}
	if f.Pending != nil && r.IsPending() != *f.Pending {
		return false
	}
	return true
}

// ============================================================================
// CLONES
// ============================================================================

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneBudget(b *plan.Budget) *plan.Budget {
	c := *b
	c.Approved = cloneBool(b.Approved)
	return &c
}

func cloneAllocation(a *plan.Allocation) *plan.Allocation {
	c := *a
	return &c
}

func cloneChange(ch *plan.AllocationChange) *plan.AllocationChange {
	c := *ch
	return &c
}

func cloneAdjustment(a *plan.AllocationAdjustment) *plan.AllocationAdjustment {
	c := *a
	c.Approved = cloneBool(a.Approved)
	return &c
}

func clonePeriodAdjustment(p *plan.PeriodAdjustment) *plan.PeriodAdjustment {
	c := *p
	c.Approved = cloneBool(p.Approved)
	return &c
}

func cloneRequisition(r *plan.Requisition) *plan.Requisition {
	c := *r
	c.Approved = cloneBool(r.Approved)
	return &c
}

func cloneExpense(e *plan.Expense) *plan.Expense {
	c := *e
	c.Retirements = append([]plan.RetirementEntry(nil), e.Retirements...)
	c.Settlements = append([]plan.Payment(nil), e.Settlements...)
	return &c
}

func cloneRetirement(r *plan.Retirement) *plan.Retirement {
	c := *r
	c.Approved = cloneBool(r.Approved)
	c.Entries = append([]plan.RetirementEntry(nil), r.Entries...)
	return &c
}
