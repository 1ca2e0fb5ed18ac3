/*
errors.go - Error taxonomy for the planning engine

PURPOSE:
  Defines every error the engine returns, grouped into six categories:

  1. Validation      - the request itself is malformed or out of range
  2. StateConflict   - the operation is legal but the entity is in the
                       wrong lifecycle state for it
  3. Authorization   - the acting user may not perform the operation
  4. Invariant       - a save would break a financial invariant; the
                       surrounding transaction must roll back
  5. Concurrency     - optimistic version check failed; retryable
  6. NotFound        - the referenced entity does not exist

  Callers match with errors.Is / errors.As. Only concurrency conflicts
  are retryable.

SEE ALSO:
  - store.go: Save returns ErrConcurrentModification
  - api/handlers.go: maps categories onto HTTP status codes
*/

package plan

import (
	"errors"
	"fmt"

	"github.com/bonifacechacha/plan-lib/money"
)

// ============================================================================
// CATEGORY SENTINELS
// ============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict is the root of all wrong-lifecycle-state failures.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotAuthorized is returned when the acting user lacks the
	// required planning, membership or approval standing.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvariantViolation is the root of the financial invariant
	// failures. When returned from inside a transaction the whole
	// transaction rolls back.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConcurrentModification is returned by Save when the entity was
	// changed since it was loaded. The only retryable category.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ============================================================================
// SPECIFIC SENTINELS
// ============================================================================

var (
	// ErrInvalidAmount rejects zero or negative money on operations
	// that require a strictly positive amount.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)

	// ErrDuplicateTitle rejects a second budget with the same title.
	ErrDuplicateTitle = fmt.Errorf("%w: a budget with that title already exists", ErrValidation)

	// ErrAlreadyApproved rejects mutations that are only legal before
	// the approval decision.
	ErrAlreadyApproved = fmt.Errorf("%w: already approved", ErrStateConflict)

	// ErrNotApproved rejects operations that require a completed
	// approval first.
	ErrNotApproved = fmt.Errorf("%w: not approved", ErrStateConflict)

	// ErrArchived rejects any mutation of an archived budget.
	ErrArchived = fmt.Errorf("%w: budget is archived", ErrStateConflict)

	// ErrApprovalStarted rejects edits once an approval is registered.
	ErrApprovalStarted = fmt.Errorf("%w: approval already started", ErrStateConflict)

	// ErrAlreadyReconciled rejects further reconciliation activity on a
	// closed expense.
	ErrAlreadyReconciled = fmt.Errorf("%w: expense already reconciled", ErrStateConflict)

	// ErrPaymentProcessed rejects cancellation or deletion of a
	// requisition that already produced expenses.
	ErrPaymentProcessed = fmt.Errorf("%w: payment already processed", ErrStateConflict)

	// ErrPendingExists rejects a second pending approvable where only
	// one may be in flight per subject.
	ErrPendingExists = fmt.Errorf("%w: a pending request already exists", ErrStateConflict)
)

// ============================================================================
// STRUCTURED ERRORS
// ============================================================================

// OverBudgetError reports that the sum of allocations would exceed the
// budget fund. It aborts the transaction that produced the excess.
type OverBudgetError struct {
	BudgetID BudgetID
	Total    money.Money
	Fund     money.Money
}

func (e *OverBudgetError) Error() string {
	return fmt.Sprintf("budget %s: total allocations %s exceed fund %s", e.BudgetID, e.Total, e.Fund)
}

func (e *OverBudgetError) Unwrap() error { return ErrInvariantViolation }

// OverAllocationError reports that an expense or payment would exceed
// the balance available to its line.
type OverAllocationError struct {
	BudgetID  BudgetID
	Requested money.Money
	Available money.Money
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("budget %s: requested %s exceeds available balance %s", e.BudgetID, e.Requested, e.Available)
}

func (e *OverAllocationError) Unwrap() error { return ErrInvariantViolation }

// AuthorizationError carries who was denied what.
type AuthorizationError struct {
	User      UserID
	Operation string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s may not %s", e.User, e.Operation)
}

func (e *AuthorizationError) Unwrap() error { return ErrNotAuthorized }

// NotFoundError carries the kind and id of the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError carries the versions that collided on Save.
type ConflictError struct {
	Kind     string
	ID       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s modified concurrently (loaded version %d, stored version %d)", e.Kind, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// ============================================================================
// CLASSIFICATION HELPERS
// ============================================================================

// IsRetryable reports whether the caller may reload and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError reports whether the failure was caused by the request
// rather than by the engine or its stores.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvariantViolation)
}

func notFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func denied(user UserID, operation string) error {
	return &AuthorizationError{User: user, Operation: operation}
}
