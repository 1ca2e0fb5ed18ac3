/*
retirement.go - Retirements of expenses

PURPOSE:
  Filing, approving and applying retirements. The user associated with
  the expense files entries accounting for the money; approvers mark
  entries accepted while the tracker is pending; on approval the
  accepted entries attach to the expense, on decline every acceptance
  is dropped, on cancellation any attached entries are detached again.

SEE ALSO:
  - expense.go: retire and cancelRetirements
*/

package plan

import (
	"context"
	"fmt"
	"time"
)

// RetirementService manages the retirement lifecycle.
type RetirementService struct {
	store    TxStore
	approver Approver
	cfg      Config
	now      func() time.Time

	expense *ExpenseService
}

// ============================================================================
// SAVE / SUBMIT
// ============================================================================

// Save stores a new or edited retirement. Edits are rejected once the
// approval has started.
func (s *RetirementService) Save(ctx context.Context, user UserID, draft Retirement) (*Retirement, error) {
	r := draft
	err := s.store.WithTx(ctx, func(tx Store) error {
		if r.ID == "" {
			r.ID = RetirementID(newID())
			r.Version = 0
			r.Approved = nil
			r.Submitted = false
			r.Creator = user
			r.TimeCreated = s.now()
		} else {
			current, err := tx.Retirements().Get(ctx, r.ID)
			if err != nil {
				return err
			}
			if current.Submitted {
				return ErrApprovalStarted
			}
			r.Approved = current.Approved
			r.Submitted = current.Submitted
			r.Creator = current.Creator
			r.TimeCreated = current.TimeCreated
		}
		for i := range r.Entries {
			if r.Entries[i].ID == "" {
				r.Entries[i].ID = newID()
			}
		}
		if err := s.validate(ctx, tx, &r, user); err != nil {
			return err
		}
		return tx.Retirements().Save(ctx, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Submit registers the retirement for approval. Only one retirement may
// be pending per expense.
func (s *RetirementService) Submit(ctx context.Context, user UserID, id RetirementID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Retirements().Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Submitted {
			return ErrApprovalStarted
		}
		if err := s.validate(ctx, tx, r, user); err != nil {
			return err
		}
		pending := true
		others, err := tx.Retirements().Find(ctx, RetirementFilter{ExpenseID: r.ExpenseID, Pending: &pending})
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID != r.ID {
				return ErrPendingExists
			}
		}
		r.Submitted = true
		if err := tx.Retirements().Save(ctx, r); err != nil {
			return err
		}
		return s.approver.Register(ctx, r.ApprovalRef(), RetirementApprovalCriteria, r.ApprovalDescription())
	})
}

// validate checks the retirement against its expense. Only the user
// the expense is associated with may retire, and only while the expense
// is open.
func (s *RetirementService) validate(ctx context.Context, tx Store, r *Retirement, user UserID) error {
	if len(r.Entries) == 0 {
		return validationf("a retirement needs at least one entry")
	}
	e, err := tx.Expenses().Get(ctx, r.ExpenseID)
	if err != nil {
		return err
	}
	if e.AssociatedUser != user || r.Creator != user {
		return denied(user, "retire expense "+string(e.ID))
	}
	if e.Reconciled {
		return ErrAlreadyReconciled
	}
	for _, entry := range r.Entries {
		if entry.Amount.IsNegative() {
			return ErrInvalidAmount
		}
	}
	return nil
}

// ============================================================================
// ENTRY ACCEPTANCE
// ============================================================================

// AcceptEntries replaces the accepted set of a pending retirement: the
// given entries become accepted, every other entry is cleared.
func (s *RetirementService) AcceptEntries(ctx context.Context, user UserID, id RetirementID, entryIDs []string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Retirements().Get(ctx, id)
		if err != nil {
			return err
		}
		if !s.approver.IsPending(ctx, r.ApprovalRef()) {
			return fmt.Errorf("%w: retirement %s is not pending approval", ErrStateConflict, id)
		}
		if !s.approver.CanApproveOrOverride(ctx, r.ApprovalRef(), user) {
			return denied(user, "accept entries of retirement "+string(id))
		}
		accept := make(map[string]bool, len(entryIDs))
		for _, entryID := range entryIDs {
			accept[entryID] = true
		}
		known := make(map[string]bool, len(r.Entries))
		for i := range r.Entries {
			known[r.Entries[i].ID] = true
		}
		for entryID := range accept {
			if !known[entryID] {
				return validationf("entry %s does not belong to retirement %s", entryID, id)
			}
		}
		for i := range r.Entries {
			r.Entries[i].Accepted = accept[r.Entries[i].ID]
		}
		return tx.Retirements().Save(ctx, r)
	})
}

// ============================================================================
// APPROVAL HOOKS
// ============================================================================

// onApproveStep refuses an approve decision while no entry is accepted.
func (s *RetirementService) onApproveStep(ctx context.Context, id string, approver UserID) error {
	r, err := s.Get(ctx, RetirementID(id))
	if err != nil {
		return err
	}
	if len(r.AcceptedEntries()) == 0 {
		return validationf("cannot approve retirement %s without accepted entries", id)
	}
	return nil
}

func (s *RetirementService) onComplete(ctx context.Context, id string, approved bool) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Retirements().Get(ctx, RetirementID(id))
		if err != nil {
			return err
		}
		r.Approved = &approved
		if !approved {
			for i := range r.Entries {
				r.Entries[i].Accepted = false
			}
			return tx.Retirements().Save(ctx, r)
		}
		if err := tx.Retirements().Save(ctx, r); err != nil {
			return err
		}
		return s.expense.retire(ctx, tx, r)
	})
}

// onCancel detaches anything the retirement attached to the expense and
// reopens the retirement.
func (s *RetirementService) onCancel(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		r, err := tx.Retirements().Get(ctx, RetirementID(id))
		if err != nil {
			return err
		}
		if len(r.AcceptedEntries()) > 0 {
			if err := s.expense.cancelRetirements(ctx, tx, r.ExpenseID, r.AcceptedEntries()); err != nil {
				return err
			}
		}
		r.Approved = nil
		r.Submitted = false
		return tx.Retirements().Save(ctx, r)
	})
}

func (s *RetirementService) resolve(ctx context.Context, id string) (Approvable, error) {
	return s.Get(ctx, RetirementID(id))
}

// ============================================================================
// QUERIES
// ============================================================================

func (s *RetirementService) Get(ctx context.Context, id RetirementID) (*Retirement, error) {
	return s.store.Retirements().Get(ctx, id)
}

func (s *RetirementService) Find(ctx context.Context, f RetirementFilter) ([]*Retirement, error) {
	return s.store.Retirements().Find(ctx, f)
}

// PendingByExpense returns the expense's pending retirement, or nil
// when none is in flight.
func (s *RetirementService) PendingByExpense(ctx context.Context, id ExpenseID) (*Retirement, error) {
	pending := true
	matches, err := s.store.Retirements().Find(ctx, RetirementFilter{ExpenseID: id, Pending: &pending})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// ============================================================================
// DELETE
// ============================================================================

// Delete removes an unapproved retirement, withdrawing a registered
// approval first.
func (s *RetirementService) Delete(ctx context.Context, user UserID, id RetirementID) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Creator != user {
		return denied(user, "delete retirement "+string(id))
	}
	if s.approver.IsRegistered(ctx, r.ApprovalRef()) {
		if err := s.approver.Cancel(ctx, r.ApprovalRef()); err != nil {
			return err
		}
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		return tx.Retirements().Delete(ctx, id)
	})
}
