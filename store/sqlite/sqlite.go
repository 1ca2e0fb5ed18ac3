/*
Package sqlite provides the SQLite-backed implementation of the plan
storage interfaces.

PURPOSE:
  Implements plan.TxStore using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

OPTIMISTIC LOCKING:
  Every aggregate table carries a version column. Save updates with
  WHERE id = ? AND version = ?; zero affected rows means the entity was
  modified since it was loaded and the caller gets
  plan.ErrConcurrentModification.

CHILD ROWS:
  Expense retirement entries, expense settlements and retirement
  entries live in child tables and are rewritten whole on every
  aggregate save. The aggregates are small; rewriting keeps the save
  path to one shape.

MONEY ENCODING:
  Amounts are stored as decimal strings, never floats, alongside their
  currency code and valuation date.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency: multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/plan.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - plan/store.go: interface definitions
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bonifacechacha/plan-lib/money"
	"github.com/bonifacechacha/plan-lib/plan"
)

// Store implements plan.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		description TEXT,
		cost_center TEXT NOT NULL,
		fund_amount TEXT NOT NULL,
		fund_currency TEXT NOT NULL,
		fund_date TEXT NOT NULL,
		cost_amount TEXT NOT NULL,
		cost_currency TEXT NOT NULL,
		cost_date TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		approved INTEGER,
		submitted INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		creator TEXT NOT NULL,
		time_created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_budgets_title ON budgets(title);
	CREATE INDEX IF NOT EXISTS idx_budgets_cost_center ON budgets(cost_center);
	CREATE INDEX IF NOT EXISTS idx_budgets_period_end ON budgets(period_end);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		role TEXT NOT NULL,
		resource TEXT NOT NULL,
		proposed_amount TEXT NOT NULL,
		proposed_currency TEXT NOT NULL,
		proposed_date TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		allocated_currency TEXT NOT NULL,
		allocated_date TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_line
		ON allocations(budget_id, role, resource);

	CREATE TABLE IF NOT EXISTS allocation_changes (
		id TEXT PRIMARY KEY,
		allocation_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_date TEXT NOT NULL,
		description TEXT,
		reason TEXT,
		user TEXT NOT NULL,
		time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_changes_allocation
		ON allocation_changes(allocation_id, time DESC);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		role TEXT NOT NULL,
		resource TEXT NOT NULL,
		proposed_amount TEXT NOT NULL,
		proposed_currency TEXT NOT NULL,
		proposed_date TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		allocated_currency TEXT NOT NULL,
		allocated_date TEXT NOT NULL,
		description TEXT,
		reason TEXT,
		approved INTEGER,
		submitted INTEGER NOT NULL DEFAULT 0,
		creator TEXT NOT NULL,
		time_created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_line
		ON adjustments(budget_id, role, resource);

	CREATE TABLE IF NOT EXISTS period_adjustments (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		proposed_end TEXT NOT NULL,
		reason TEXT,
		approved INTEGER,
		submitted INTEGER NOT NULL DEFAULT 0,
		creator TEXT NOT NULL,
		time_created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_period_adjustments_budget
		ON period_adjustments(budget_id);

	CREATE TABLE IF NOT EXISTS requisitions (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		role TEXT NOT NULL,
		resource TEXT NOT NULL,
		consumer TEXT NOT NULL,
		description TEXT,
		reason TEXT,
		requested_amount TEXT NOT NULL,
		requested_currency TEXT NOT NULL,
		requested_date TEXT NOT NULL,
		approved_amount TEXT NOT NULL,
		approved_currency TEXT NOT NULL,
		approved_date TEXT NOT NULL,
		approved INTEGER,
		submitted INTEGER NOT NULL DEFAULT 0,
		fulfilled INTEGER NOT NULL DEFAULT 0,
		creator TEXT NOT NULL,
		time_created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requisitions_line
		ON requisitions(budget_id, role, resource);
	CREATE INDEX IF NOT EXISTS idx_requisitions_consumer
		ON requisitions(consumer);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		budget_id TEXT NOT NULL REFERENCES budgets(id),
		role TEXT NOT NULL,
		resource TEXT NOT NULL,
		associated_user TEXT NOT NULL,
		consumer TEXT NOT NULL,
		description TEXT,
		requisition_id TEXT,
		payment_amount TEXT NOT NULL,
		payment_currency TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		payment_paid INTEGER NOT NULL,
		payment_time TEXT NOT NULL,
		payment_method TEXT,
		payment_reference TEXT,
		reconciled INTEGER NOT NULL DEFAULT 0,
		creator TEXT NOT NULL,
		time_created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_line
		ON expenses(budget_id, role, resource);
	CREATE INDEX IF NOT EXISTS idx_expenses_requisition
		ON expenses(requisition_id) WHERE requisition_id != '';
	CREATE INDEX IF NOT EXISTS idx_expenses_user_reconciled
		ON expenses(associated_user, reconciled);

	CREATE TABLE IF NOT EXISTS expense_retirements (
		expense_id TEXT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		description TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_date TEXT NOT NULL,
		time TEXT NOT NULL,
		reference TEXT,
		accepted INTEGER NOT NULL,
		PRIMARY KEY (expense_id, position)
	);

	CREATE TABLE IF NOT EXISTS expense_settlements (
		expense_id TEXT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_date TEXT NOT NULL,
		paid INTEGER NOT NULL,
		time TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		PRIMARY KEY (expense_id, position)
	);

	CREATE TABLE IF NOT EXISTS retirements (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		expense_id TEXT NOT NULL REFERENCES expenses(id),
		approved INTEGER,
		submitted INTEGER NOT NULL DEFAULT 0,
		creator TEXT NOT NULL,
		time_created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retirements_expense
		ON retirements(expense_id);

	CREATE TABLE IF NOT EXISTS retirement_entries (
		retirement_id TEXT NOT NULL REFERENCES retirements(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		description TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_date TEXT NOT NULL,
		time TEXT NOT NULL,
		reference TEXT,
		accepted INTEGER NOT NULL,
		PRIMARY KEY (retirement_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(plan.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(view{tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// view binds the repositories to either the database or an open
// transaction.
type view struct{ q querier }

func (v view) Budgets() plan.BudgetStore                     { return budgetStore{v.q} }
func (v view) Allocations() plan.AllocationStore             { return allocationStore{v.q} }
func (v view) Adjustments() plan.AdjustmentStore             { return adjustmentStore{v.q} }
func (v view) PeriodAdjustments() plan.PeriodAdjustmentStore { return periodStore{v.q} }
func (v view) Requisitions() plan.RequisitionStore           { return requisitionStore{v.q} }
func (v view) Expenses() plan.ExpenseStore                   { return expenseStore{v.q} }
func (v view) Retirements() plan.RetirementStore             { return retirementStore{v.q} }

func (s *Store) Budgets() plan.BudgetStore                     { return budgetStore{s.db} }
func (s *Store) Allocations() plan.AllocationStore             { return allocationStore{s.db} }
func (s *Store) Adjustments() plan.AdjustmentStore             { return adjustmentStore{s.db} }
func (s *Store) PeriodAdjustments() plan.PeriodAdjustmentStore { return periodStore{s.db} }
func (s *Store) Requisitions() plan.RequisitionStore           { return requisitionStore{s.db} }
func (s *Store) Expenses() plan.ExpenseStore                   { return expenseStore{s.db} }
func (s *Store) Retirements() plan.RetirementStore             { return retirementStore{s.db} }

// ============================================================================
// ENCODING HELPERS
// ============================================================================

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func encodeBoolPtr(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func decodeBoolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

// moneyCols expands a Money into its three column values.
func moneyCols(m money.Money) (string, string, string) {
	return m.Amount.String(), m.Currency, encodeTime(m.Date)
}

func decodeMoney(amount, currency, date string) money.Money {
	m, err := money.Parse(amount, currency)
	if err != nil {
		return money.Zero()
	}
	m.Date = decodeTime(date)
	return m
}

// checkVersion turns a missed optimistic update into the right error.
func checkVersion(ctx context.Context, q querier, table, kind, id string, expected int) error {
	var actual int
	err := q.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&actual)
	if err == sql.ErrNoRows {
		return &plan.NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return err
	}
	return &plan.ConflictError{Kind: kind, ID: id, Expected: expected, Actual: actual}
}

// where builds a conjunctive WHERE clause.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// ============================================================================
// BUDGETS
// ============================================================================

type budgetStore struct{ q querier }

const budgetCols = `id, version, title, description, cost_center,
	fund_amount, fund_currency, fund_date,
	cost_amount, cost_currency, cost_date,
	period_start, period_end, approved, submitted, archived, creator, time_created`

func scanBudget(row interface{ Scan(...any) error }) (*plan.Budget, error) {
	var b plan.Budget
	var fundA, fundC, fundD, costA, costC, costD string
	var start, end, created string
	var approved sql.NullInt64
	err := row.Scan(&b.ID, &b.Version, &b.Title, &b.Description, &b.CostCenter,
		&fundA, &fundC, &fundD, &costA, &costC, &costD,
		&start, &end, &approved, &b.Submitted, &b.Archived, &b.Creator, &created)
	if err != nil {
		return nil, err
	}
	b.Fund = decodeMoney(fundA, fundC, fundD)
	b.EstimatedCost = decodeMoney(costA, costC, costD)
	b.Period = plan.Period{Start: decodeTime(start), End: decodeTime(end)}
	b.Approved = decodeBoolPtr(approved)
	b.TimeCreated = decodeTime(created)
	return &b, nil
}

func (s budgetStore) Get(ctx context.Context, id plan.BudgetID) (*plan.Budget, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+budgetCols+" FROM budgets WHERE id = ?", string(id))
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "budget", ID: string(id)}
	}
	return b, err
}

func (s budgetStore) Save(ctx context.Context, b *plan.Budget) error {
	fundA, fundC, fundD := moneyCols(b.Fund)
	costA, costC, costD := moneyCols(b.EstimatedCost)
	res, err := s.q.ExecContext(ctx, `
		UPDATE budgets SET version = version + 1, title = ?, description = ?, cost_center = ?,
			fund_amount = ?, fund_currency = ?, fund_date = ?,
			cost_amount = ?, cost_currency = ?, cost_date = ?,
			period_start = ?, period_end = ?, approved = ?, submitted = ?, archived = ?
		WHERE id = ? AND version = ?`,
		b.Title, b.Description, string(b.CostCenter),
		fundA, fundC, fundD, costA, costC, costD,
		encodeTime(b.Period.Start), encodeTime(b.Period.End),
		encodeBoolPtr(b.Approved), b.Submitted, b.Archived,
		string(b.ID), b.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		b.Version++
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO budgets (`+budgetCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), b.Version, b.Title, b.Description, string(b.CostCenter),
		fundA, fundC, fundD, costA, costC, costD,
		encodeTime(b.Period.Start), encodeTime(b.Period.End),
		encodeBoolPtr(b.Approved), b.Submitted, b.Archived,
		string(b.Creator), encodeTime(b.TimeCreated))
	if err != nil && isConstraintError(err) {
		return checkVersion(ctx, s.q, "budgets", "budget", string(b.ID), b.Version)
	}
	return err
}

func (s budgetStore) Delete(ctx context.Context, id plan.BudgetID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM budgets WHERE id = ?", string(id))
	return err
}

func budgetWhere(f plan.BudgetFilter) *where {
	w := &where{}
	if f.Title != "" {
		w.add("title = ?", f.Title)
	}
	if f.CostCenter != "" {
		w.add("cost_center = ?", string(f.CostCenter))
	}
	if f.Archived != nil {
		w.add("archived = ?", *f.Archived)
	}
	if f.HasDecision != nil {
		if *f.HasDecision {
			w.clauses = append(w.clauses, "approved IS NOT NULL")
		} else {
			w.clauses = append(w.clauses, "approved IS NULL")
		}
	}
	if f.Approved != nil {
		w.add("approved = ?", *f.Approved)
	}
	if f.EndBefore != nil {
		w.add("period_end < ?", encodeTime(*f.EndBefore))
	}
	return w
}

func (s budgetStore) Find(ctx context.Context, f plan.BudgetFilter) ([]*plan.Budget, error) {
	w := budgetWhere(f)
	rows, err := s.q.QueryContext(ctx, "SELECT "+budgetCols+" FROM budgets"+w.sql()+" ORDER BY time_created DESC", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*plan.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s budgetStore) Count(ctx context.Context, f plan.BudgetFilter) (int, error) {
	w := budgetWhere(f)
	var n int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM budgets"+w.sql(), w.args...).Scan(&n)
	return n, err
}

// ============================================================================
// ALLOCATIONS
// ============================================================================

type allocationStore struct{ q querier }

const allocationCols = `id, version, budget_id, role, resource,
	proposed_amount, proposed_currency, proposed_date,
	allocated_amount, allocated_currency, allocated_date`

func scanAllocation(row interface{ Scan(...any) error }) (*plan.Allocation, error) {
	var a plan.Allocation
	var pA, pC, pD, aA, aC, aD string
	err := row.Scan(&a.ID, &a.Version, &a.BudgetID, &a.Role, &a.Resource,
		&pA, &pC, &pD, &aA, &aC, &aD)
	if err != nil {
		return nil, err
	}
	a.ProposedAmount = decodeMoney(pA, pC, pD)
	a.AllocatedAmount = decodeMoney(aA, aC, aD)
	return &a, nil
}

func (s allocationStore) Get(ctx context.Context, id plan.AllocationID) (*plan.Allocation, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+allocationCols+" FROM allocations WHERE id = ?", string(id))
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "allocation", ID: string(id)}
	}
	return a, err
}

func (s allocationStore) Save(ctx context.Context, a *plan.Allocation) error {
	pA, pC, pD := moneyCols(a.ProposedAmount)
	aA, aC, aD := moneyCols(a.AllocatedAmount)
	res, err := s.q.ExecContext(ctx, `
		UPDATE allocations SET version = version + 1,
			proposed_amount = ?, proposed_currency = ?, proposed_date = ?,
			allocated_amount = ?, allocated_currency = ?, allocated_date = ?
		WHERE id = ? AND version = ?`,
		pA, pC, pD, aA, aC, aD, string(a.ID), a.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		a.Version++
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO allocations (`+allocationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Version, string(a.BudgetID), string(a.Role), string(a.Resource),
		pA, pC, pD, aA, aC, aD)
	if err != nil && isConstraintError(err) {
		return checkVersion(ctx, s.q, "allocations", "allocation", string(a.ID), a.Version)
	}
	return err
}

func (s allocationStore) Delete(ctx context.Context, id plan.AllocationID) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM allocation_changes WHERE allocation_id = ?", string(id)); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, "DELETE FROM allocations WHERE id = ?", string(id))
	return err
}

func (s allocationStore) Find(ctx context.Context, f plan.AllocationFilter) ([]*plan.Allocation, error) {
	w := &where{}
	if f.BudgetID != "" {
		w.add("budget_id = ?", string(f.BudgetID))
	}
	if f.Role != "" {
		w.add("role = ?", string(f.Role))
	}
	if f.Resource != "" {
		w.add("resource = ?", string(f.Resource))
	}
	rows, err := s.q.QueryContext(ctx, "SELECT "+allocationCols+" FROM allocations"+w.sql()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*plan.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s allocationStore) RecordChange(ctx context.Context, c *plan.AllocationChange) error {
	amount, currency, date := moneyCols(c.Amount)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO allocation_changes (id, allocation_id, amount, currency, amount_date, description, reason, user, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.AllocationID), amount, currency, date,
		c.Description, c.Reason, string(c.User), encodeTime(c.Time))
	return err
}

func (s allocationStore) Changes(ctx context.Context, id plan.AllocationID) ([]*plan.AllocationChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, allocation_id, amount, currency, amount_date, description, reason, user, time
		FROM allocation_changes WHERE allocation_id = ? ORDER BY time DESC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*plan.AllocationChange
	for rows.Next() {
		var c plan.AllocationChange
		var amount, currency, date, at string
		if err := rows.Scan(&c.ID, &c.AllocationID, &amount, &currency, &date,
			&c.Description, &c.Reason, &c.User, &at); err != nil {
			return nil, err
		}
		c.Amount = decodeMoney(amount, currency, date)
		c.Time = decodeTime(at)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ============================================================================
// ALLOCATION ADJUSTMENTS
// ============================================================================

type adjustmentStore struct{ q querier }

const adjustmentCols = `id, version, budget_id, role, resource,
	proposed_amount, proposed_currency, proposed_date,
	allocated_amount, allocated_currency, allocated_date,
	description, reason, approved, submitted, creator, time_created`

func scanAdjustment(row interface{ Scan(...any) error }) (*plan.AllocationAdjustment, error) {
	var a plan.AllocationAdjustment
	var pA, pC, pD, aA, aC, aD, created string
	var approved sql.NullInt64
	err := row.Scan(&a.ID, &a.Version, &a.BudgetID, &a.Role, &a.Resource,
		&pA, &pC, &pD, &aA, &aC, &aD,
		&a.Description, &a.Reason, &approved, &a.Submitted, &a.Creator, &created)
	if err != nil {
		return nil, err
	}
	a.ProposedAmount = decodeMoney(pA, pC, pD)
	a.AllocatedAmount = decodeMoney(aA, aC, aD)
	a.Approved = decodeBoolPtr(approved)
	a.TimeCreated = decodeTime(created)
	return &a, nil
}

func (s adjustmentStore) Get(ctx context.Context, id plan.AdjustmentID) (*plan.AllocationAdjustment, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+adjustmentCols+" FROM adjustments WHERE id = ?", string(id))
	a, err := scanAdjustment(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "adjustment", ID: string(id)}
	}
	return a, err
}

func (s adjustmentStore) Save(ctx context.Context, a *plan.AllocationAdjustment) error {
	pA, pC, pD := moneyCols(a.ProposedAmount)
	aA, aC, aD := moneyCols(a.AllocatedAmount)
	res, err := s.q.ExecContext(ctx, `
		UPDATE adjustments SET version = version + 1,
			proposed_amount = ?, proposed_currency = ?, proposed_date = ?,
			allocated_amount = ?, allocated_currency = ?, allocated_date = ?,
			description = ?, reason = ?, approved = ?, submitted = ?
		WHERE id = ? AND version = ?`,
		pA, pC, pD, aA, aC, aD,
		a.Description, a.Reason, encodeBoolPtr(a.Approved), a.Submitted,
		string(a.ID), a.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		a.Version++
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO adjustments (`+adjustmentCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Version, string(a.BudgetID), string(a.Role), string(a.Resource),
		pA, pC, pD, aA, aC, aD,
		a.Description, a.Reason, encodeBoolPtr(a.Approved), a.Submitted,
		string(a.Creator), encodeTime(a.TimeCreated))
	if err != nil && isConstraintError(err) {
		return checkVersion(ctx, s.q, "adjustments", "adjustment", string(a.ID), a.Version)
	}
	return err
}

func (s adjustmentStore) Delete(ctx context.Context, id plan.AdjustmentID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM adjustments WHERE id = ?", string(id))
	return err
}

func (s adjustmentStore) Find(ctx context.Context, f plan.AdjustmentFilter) ([]*plan.AllocationAdjustment, error) {
	w := &where{}
	if f.BudgetID != "" {
		w.add("budget_id = ?", string(f.BudgetID))
	}
	if f.Role != "" {
		w.add("role = ?", string(f.Role))
	}
	if f.Resource != "" {
		w.add("resource = ?", string(f.Resource))
	}
	if f.Pending != nil {
		if *f.Pending {
			w.clauses = append(w.clauses, "submitted = 1 AND approved IS NULL")
		} else {
			w.clauses = append(w.clauses, "NOT (submitted = 1 AND approved IS NULL)")
		}
	}
	rows, err := s.q.QueryContext(ctx, "SELECT "+adjustmentCols+" FROM adjustments"+w.sql()+" ORDER BY time_created DESC", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*plan.AllocationAdjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ============================================================================
// PERIOD ADJUSTMENTS
// ============================================================================

type periodStore struct{ q querier }

const periodCols = `id, version, budget_id, proposed_end, reason, approved, submitted, creator, time_created`

func scanPeriodAdjustment(row interface{ Scan(...any) error }) (*plan.PeriodAdjustment, error) {
	var p plan.PeriodAdjustment
	var end, created string
	var approved sql.NullInt64
	err := row.Scan(&p.ID, &p.Version, &p.BudgetID, &end, &p.Reason,
		&approved, &p.Submitted, &p.Creator, &created)
	if err != nil {
		return nil, err
	}
	p.ProposedEndDate = decodeTime(end)
	p.Approved = decodeBoolPtr(approved)
	p.TimeCreated = decodeTime(created)
	return &p, nil
}

func (s periodStore) Get(ctx context.Context, id plan.PeriodAdjustmentID) (*plan.PeriodAdjustment, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+periodCols+" FROM period_adjustments WHERE id = ?", string(id))
	p, err := scanPeriodAdjustment(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "period adjustment", ID: string(id)}
	}
	return p, err
}

func (s periodStore) Save(ctx context.Context, p *plan.PeriodAdjustment) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE period_adjustments SET version = version + 1,
			proposed_end = ?, reason = ?, approved = ?, submitted = ?
		WHERE id = ? AND version = ?`,
		encodeTime(p.ProposedEndDate), p.Reason, encodeBoolPtr(p.Approved), p.Submitted,
		string(p.ID), p.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		p.Version++
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO period_adjustments (`+periodCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), p.Version, string(p.BudgetID), encodeTime(p.ProposedEndDate), p.Reason,
		encodeBoolPtr(p.Approved), p.Submitted, string(p.Creator), encodeTime(p.TimeCreated))
	if err != nil && isConstraintError(err) {
		return checkVersion(ctx, s.q, "period_adjustments", "period adjustment", string(p.ID), p.Version)
	}
	return err
}

func (s periodStore) Delete(ctx context.Context, id plan.PeriodAdjustmentID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM period_adjustments WHERE id = ?", string(id))
	return err
}

func (s periodStore) Find(ctx context.Context, f plan.PeriodAdjustmentFilter) ([]*plan.PeriodAdjustment, error) {
	w := &where{}
	if f.BudgetID != "" {
		w.add("budget_id = ?", string(f.BudgetID))
	}
	if f.Pending != nil {
		if *f.Pending {
			w.clauses = append(w.clauses, "submitted = 1 AND approved IS NULL")
		} else {
			w.clauses = append(w.clauses, "NOT (submitted = 1 AND approved IS NULL)")
		}
	}
	rows, err := s.q.QueryContext(ctx, "SELECT "+periodCols+" FROM period_adjustments"+w.sql()+" ORDER BY time_created DESC", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*plan.PeriodAdjustment
	for rows.Next() {
		p, err := scanPeriodAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================================================================
// REQUISITIONS
// ============================================================================

type requisitionStore struct{ q querier }

const requisitionCols = `id, version, budget_id, role, resource, consumer, description, reason,
	requested_amount, requested_currency, requested_date,
	approved_amount, approved_currency, approved_date,
	approved, submitted, fulfilled, creator, time_created`

func scanRequisition(row interface{ Scan(...any) error }) (*plan.Requisition, error) {
	var r plan.Requisition
	var reqA, reqC, reqD, appA, appC, appD, created string
	var approved sql.NullInt64
	err := row.Scan(&r.ID, &r.Version, &r.BudgetID, &r.Role, &r.Resource, &r.Consumer,
		&r.Description, &r.Reason,
		&reqA, &reqC, &reqD, &appA, &appC, &appD,
		&approved, &r.Submitted, &r.Fulfilled, &r.Creator, &created)
	if err != nil {
		return nil, err
	}
	r.RequestedAmount = decodeMoney(reqA, reqC, reqD)
	r.ApprovedAmount = decodeMoney(appA, appC, appD)
	r.Approved = decodeBoolPtr(approved)
	r.TimeCreated = decodeTime(created)
	return &r, nil
}

func (s requisitionStore) Get(ctx context.Context, id plan.RequisitionID) (*plan.Requisition, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+requisitionCols+" FROM requisitions WHERE id = ?", string(id))
	r, err := scanRequisition(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "requisition", ID: string(id)}
	}
	return r, err
}

func (s requisitionStore) Save(ctx context.Context, r *plan.Requisition) error {
	reqA, reqC, reqD := moneyCols(r.RequestedAmount)
	appA, appC, appD := moneyCols(r.ApprovedAmount)
	res, err := s.q.ExecContext(ctx, `
		UPDATE requisitions SET version = version + 1,
			description = ?, reason = ?,
			requested_amount = ?, requested_currency = ?, requested_date = ?,
			approved_amount = ?, approved_currency = ?, approved_date = ?,
			approved = ?, submitted = ?, fulfilled = ?
		WHERE id = ? AND version = ?`,
		r.Description, r.Reason,
		reqA, reqC, reqD, appA, appC, appD,
		encodeBoolPtr(r.Approved), r.Submitted, r.Fulfilled,
		string(r.ID), r.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.Version++
		return nil
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO requisitions (`+requisitionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), r.Version, string(r.BudgetID), string(r.Role), string(r.Resource),
		string(r.Consumer), r.Description, r.Reason,
		reqA, reqC, reqD, appA, appC, appD,
		encodeBoolPtr(r.Approved), r.Submitted, r.Fulfilled,
		string(r.Creator), encodeTime(r.TimeCreated))
	if err != nil && isConstraintError(err) {
		return checkVersion(ctx, s.q, "requisitions", "requisition", string(r.ID), r.Version)
	}
	return err
}

func (s requisitionStore) Delete(ctx context.Context, id plan.RequisitionID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM requisitions WHERE id = ?", string(id))
	return err
}

func requisitionWhere(f plan.RequisitionFilter) *where {
	w := &where{}
	if f.BudgetID != "" {
		w.add("budget_id = ?", string(f.BudgetID))
	}
	if f.Role != "" {
		w.add("role = ?", string(f.Role))
	}
	if f.Resource != "" {
		w.add("resource = ?", string(f.Resource))
	}
	if f.Creator != "" {
		w.add("creator = ?", string(f.Creator))
	}
	if f.Consumer != "" {
		w.add("consumer = ?", string(f.Consumer))
	}
	if f.Approved != nil {
		w.add("approved = ?", *f.Approved)
	}
	if f.Pending != nil {
		if *f.Pending {
			w.clauses = append(w.clauses, "submitted = 1 AND approved IS NULL")
		} else {
			w.clauses = append(w.clauses, "NOT (submitted = 1 AND approved IS NULL)")
		}
	}
	if f.Fulfilled != nil {
		w.add("fulfilled = ?", *f.Fulfilled)
	}
	return w
}

func (s requisitionStore) Find(ctx context.Context, f plan.RequisitionFilter) ([]*plan.Requisition, error) {
	w := requisitionWhere(f)
	rows, err := s.q.QueryContext(ctx, "SELECT "+requisitionCols+" FROM requisitions"+w.sql()+" ORDER BY time_created DESC", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*plan.Requisition
	for rows.Next() {
		r, err := scanRequisition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s requisitionStore) Count(ctx context.Context, f plan.RequisitionFilter) (int, error) {
	w := requisitionWhere(f)
	var n int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM requisitions"+w.sql(), w.args...).Scan(&n)
	return n, err
}

// ============================================================================
// EXPENSES
// ============================================================================

type expenseStore struct{ q querier }

const expenseCols = `id, version, budget_id, role, resource, associated_user, consumer, description, requisition_id,
	payment_amount, payment_currency, payment_date, payment_paid, payment_time, payment_method, payment_reference,
	reconciled, creator, time_created`

func scanExpense(row interface{ Scan(...any) error }) (*plan.Expense, error) {
	var e plan.Expense
	var payA, payC, payD, payT, created string
	err := row.Scan(&e.ID, &e.Version, &e.BudgetID, &e.Role, &e.Resource, &e.AssociatedUser, &e.Consumer,
		&e.Description, &e.RequisitionID,
		&payA, &payC, &payD, &e.Payment.Paid, &payT, &e.Payment.Method, &e.Payment.Reference,
		&e.Reconciled, &e.Creator, &created)
	if err != nil {
		return nil, err
	}
	e.Payment.Amount = decodeMoney(payA, payC, payD)
	e.Payment.Time = decodeTime(payT)
	e.TimeCreated = decodeTime(created)
	return &e, nil
}

func (s expenseStore) Get(ctx context.Context, id plan.ExpenseID) (*plan.Expense, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+expenseCols+" FROM expenses WHERE id = ?", string(id))
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "expense", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s expenseStore) loadChildren(ctx context.Context, e *plan.Expense) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT entry_id, description, amount, currency, amount_date, time, reference, accepted
		FROM expense_retirements WHERE expense_id = ? ORDER BY position`, string(e.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entry plan.RetirementEntry
		var amount, currency, date, at string
		if err := rows.Scan(&entry.ID, &entry.Description, &amount, &currency, &date, &at, &entry.Reference, &entry.Accepted); err != nil {
			return err
		}
		entry.Amount = decodeMoney(amount, currency, date)
		entry.Time = decodeTime(at)
		e.Retirements = append(e.Retirements, entry)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	srows, err := s.q.QueryContext(ctx, `
		SELECT amount, currency, amount_date, paid, time, method, reference
		FROM expense_settlements WHERE expense_id = ? ORDER BY position`, string(e.ID))
	if err != nil {
		return err
	}
	defer srows.Close()
	for srows.Next() {
		var p plan.Payment
		var amount, currency, date, at string
		if err := srows.Scan(&amount, &currency, &date, &p.Paid, &at, &p.Method, &p.Reference); err != nil {
			return err
		}
		p.Amount = decodeMoney(amount, currency, date)
		p.Time = decodeTime(at)
		e.Settlements = append(e.Settlements, p)
	}
	return srows.Err()
}

func (s expenseStore) Save(ctx context.Context, e *plan.Expense) error {
	payA, payC, payD := moneyCols(e.Payment.Amount)
	res, err := s.q.ExecContext(ctx, `
		UPDATE expenses SET version = version + 1,
			description = ?,
			payment_amount = ?, payment_currency = ?, payment_date = ?,
			payment_paid = ?, payment_time = ?, payment_method = ?, payment_reference = ?,
			reconciled = ?
		WHERE id = ? AND version = ?`,
		e.Description,
		payA, payC, payD, e.Payment.Paid, encodeTime(e.Payment.Time), e.Payment.Method, e.Payment.Reference,
		e.Reconciled,
		string(e.ID), e.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		e.Version++
		return s.saveChildren(ctx, e)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), e.Version, string(e.BudgetID), string(e.Role), string(e.Resource),
		string(e.AssociatedUser), string(e.Consumer), e.Description, string(e.RequisitionID),
		payA, payC, payD, e.Payment.Paid, encodeTime(e.Payment.Time), e.Payment.Method, e.Payment.Reference,
		e.Reconciled, string(e.Creator), encodeTime(e.TimeCreated))
	if err != nil {
		if isConstraintError(err) {
			return checkVersion(ctx, s.q, "expenses", "expense", string(e.ID), e.Version)
		}
		return err
	}
	return s.saveChildren(ctx, e)
}

// saveChildren rewrites the retirement entry and settlement rows.
func (s expenseStore) saveChildren(ctx context.Context, e *plan.Expense) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM expense_retirements WHERE expense_id = ?", string(e.ID)); err != nil {
		return err
	}
	for i, entry := range e.Retirements {
		amount, currency, date := moneyCols(entry.Amount)
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO expense_retirements (expense_id, position, entry_id, description, amount, currency, amount_date, time, reference, accepted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), i, entry.ID, entry.Description, amount, currency, date,
			encodeTime(entry.Time), entry.Reference, entry.Accepted)
		if err != nil {
			return err
		}
	}
	if _, err := s.q.ExecContext(ctx, "DELETE FROM expense_settlements WHERE expense_id = ?", string(e.ID)); err != nil {
		return err
	}
	for i, p := range e.Settlements {
		amount, currency, date := moneyCols(p.Amount)
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO expense_settlements (expense_id, position, amount, currency, amount_date, paid, time, method, reference)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), i, amount, currency, date, p.Paid, encodeTime(p.Time), p.Method, p.Reference)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s expenseStore) Delete(ctx context.Context, id plan.ExpenseID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", string(id))
	return err
}

func expenseWhere(f plan.ExpenseFilter) *where {
	w := &where{}
	if f.BudgetID != "" {
		w.add("budget_id = ?", string(f.BudgetID))
	}
	if f.Role != "" {
		w.add("role = ?", string(f.Role))
	}
	if f.Resource != "" {
		w.add("resource = ?", string(f.Resource))
	}
	if f.AssociatedUser != "" {
		w.add("associated_user = ?", string(f.AssociatedUser))
	}
	if f.Consumer != "" {
		w.add("consumer = ?", string(f.Consumer))
	}
	if f.Creator != "" {
		w.add("creator = ?", string(f.Creator))
	}
	if f.RequisitionID != "" {
		w.add("requisition_id = ?", string(f.RequisitionID))
	}
	if f.Reconciled != nil {
		w.add("reconciled = ?", *f.Reconciled)
	}
	if f.Retired != nil {
		if *f.Retired {
			w.clauses = append(w.clauses, "EXISTS (SELECT 1 FROM expense_retirements er WHERE er.expense_id = expenses.id)")
		} else {
			w.clauses = append(w.clauses, "NOT EXISTS (SELECT 1 FROM expense_retirements er WHERE er.expense_id = expenses.id)")
		}
	}
	if f.Settled != nil {
		if *f.Settled {
			w.clauses = append(w.clauses, "EXISTS (SELECT 1 FROM expense_settlements es WHERE es.expense_id = expenses.id)")
		} else {
			w.clauses = append(w.clauses, "NOT EXISTS (SELECT 1 FROM expense_settlements es WHERE es.expense_id = expenses.id)")
		}
	}
	if f.From != nil {
		w.add("payment_time >= ?", encodeTime(*f.From))
	}
	if f.To != nil {
		w.add("payment_time <= ?", encodeTime(*f.To))
	}
	if f.CreatedBefore != nil {
		w.add("time_created < ?", encodeTime(*f.CreatedBefore))
	}
	return w
}

func (s expenseStore) Find(ctx context.Context, f plan.ExpenseFilter) ([]*plan.Expense, error) {
	w := expenseWhere(f)
	rows, err := s.q.QueryContext(ctx, "SELECT "+expenseCols+" FROM expenses"+w.sql()+" ORDER BY time_created DESC", w.args...)
	if err != nil {
		return nil, err
	}
	var out []*plan.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for _, e := range out {
		if err := s.loadChildren(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s expenseStore) Count(ctx context.Context, f plan.ExpenseFilter) (int, error) {
	w := expenseWhere(f)
	var n int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM expenses"+w.sql(), w.args...).Scan(&n)
	return n, err
}

// ============================================================================
// RETIREMENTS
// ============================================================================

type retirementStore struct{ q querier }

const retirementCols = `id, version, expense_id, approved, submitted, creator, time_created`

func scanRetirement(row interface{ Scan(...any) error }) (*plan.Retirement, error) {
	var r plan.Retirement
	var created string
	var approved sql.NullInt64
	err := row.Scan(&r.ID, &r.Version, &r.ExpenseID, &approved, &r.Submitted, &r.Creator, &created)
	if err != nil {
		return nil, err
	}
	r.Approved = decodeBoolPtr(approved)
	r.TimeCreated = decodeTime(created)
	return &r, nil
}

func (s retirementStore) Get(ctx context.Context, id plan.RetirementID) (*plan.Retirement, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+retirementCols+" FROM retirements WHERE id = ?", string(id))
	r, err := scanRetirement(row)
	if err == sql.ErrNoRows {
		return nil, &plan.NotFoundError{Kind: "retirement", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s retirementStore) loadEntries(ctx context.Context, r *plan.Retirement) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT entry_id, description, amount, currency, amount_date, time, reference, accepted
		FROM retirement_entries WHERE retirement_id = ? ORDER BY position`, string(r.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entry plan.RetirementEntry
		var amount, currency, date, at string
		if err := rows.Scan(&entry.ID, &entry.Description, &amount, &currency, &date, &at, &entry.Reference, &entry.Accepted); err != nil {
			return err
		}
		entry.Amount = decodeMoney(amount, currency, date)
		entry.Time = decodeTime(at)
		r.Entries = append(r.Entries, entry)
	}
	return rows.Err()
}

func (s retirementStore) Save(ctx context.Context, r *plan.Retirement) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE retirements SET version = version + 1, approved = ?, submitted = ?
		WHERE id = ? AND version = ?`,
		encodeBoolPtr(r.Approved), r.Submitted, string(r.ID), r.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.Version++
		return s.saveEntries(ctx, r)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO retirements (`+retirementCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), r.Version, string(r.ExpenseID),
		encodeBoolPtr(r.Approved), r.Submitted, string(r.Creator), encodeTime(r.TimeCreated))
	if err != nil {
		if isConstraintError(err) {
			return checkVersion(ctx, s.q, "retirements", "retirement", string(r.ID), r.Version)
		}
		return err
	}
	return s.saveEntries(ctx, r)
}

func (s retirementStore) saveEntries(ctx context.Context, r *plan.Retirement) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM retirement_entries WHERE retirement_id = ?", string(r.ID)); err != nil {
		return err
	}
	for i, entry := range r.Entries {
		amount, currency, date := moneyCols(entry.Amount)
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO retirement_entries (retirement_id, position, entry_id, description, amount, currency, amount_date, time, reference, accepted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(r.ID), i, entry.ID, entry.Description, amount, currency, date,
			encodeTime(entry.Time), entry.Reference, entry.Accepted)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s retirementStore) Delete(ctx context.Context, id plan.RetirementID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM retirements WHERE id = ?", string(id))
	return err
}

func (s retirementStore) Find(ctx context.Context, f plan.RetirementFilter) ([]*plan.Retirement, error) {
	w := &where{}
	if f.ExpenseID != "" {
		w.add("expense_id = ?", string(f.ExpenseID))
	}
	if f.Creator != "" {
		w.add("creator = ?", string(f.Creator))
	}
	if f.Pending != nil {
		if *f.Pending {
			w.clauses = append(w.clauses, "submitted = 1 AND approved IS NULL")
		} else {
			w.clauses = append(w.clauses, "NOT (submitted = 1 AND approved IS NULL)")
		}
	}
	rows, err := s.q.QueryContext(ctx, "SELECT "+retirementCols+" FROM retirements"+w.sql()+" ORDER BY time_created DESC", w.args...)
	if err != nil {
		return nil, err
	}
	var out []*plan.Retirement
	for rows.Next() {
		r, err := scanRetirement(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for _, r := range out {
		if err := s.loadEntries(ctx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ============================================================================
// ERRORS
// ============================================================================

func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
