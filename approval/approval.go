/*
approval.go - In-memory approval collaborator

PURPOSE:
  Implements plan.Approver: one tracker per registered approvable, an
  approver chain per criteria, level-by-level approval. An approve at
  the last level completes the tracker approved; a decline at any level
  completes it declined; cancellation withdraws it.

  Engine hooks run synchronously. The step hook gates each approve
  decision before it is recorded, and the completion or cancellation
  hook runs before the tracker state changes, so a failing hook leaves
  the tracker untouched. Hooks run outside the service lock because
  they open their own store transactions.

SEE ALSO:
  - plan/approval.go: the Approver contract and hook registry
*/

package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bonifacechacha/plan-lib/plan"
)

// Decision is one recorded approve or decline.
type Decision struct {
	User     plan.UserID
	Approved bool
	Comment  string
	Time     time.Time
}

// Tracker is the approval state of one approvable.
type Tracker struct {
	Ref         plan.Ref
	Criteria    string
	Description string

	// Level indexes the approver chain; decisions so far equal Level.
	Level     int
	Decisions []Decision

	Completed bool
	Approved  *bool

	TimeRegistered time.Time
}

func (t *Tracker) IsPending() bool { return !t.Completed }

// Service is the in-memory plan.Approver.
type Service struct {
	mu       sync.RWMutex
	chains   map[string][]plan.UserID
	override map[plan.UserID]bool
	trackers map[string]*Tracker
	hooks    plan.HookRegistry
	now      func() time.Time
}

// NewService creates an empty approval service. BindHooks must be
// called before any tracker completes or cancels.
func NewService() *Service {
	return &Service{
		chains:   make(map[string][]plan.UserID),
		override: make(map[plan.UserID]bool),
		trackers: make(map[string]*Tracker),
		now:      time.Now,
	}
}

// BindHooks attaches the engine's reactions. Separate from NewService
// because the engine is constructed with the Approver already in hand.
func (s *Service) BindHooks(hooks plan.HookRegistry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = hooks
}

// SetChain configures the approver chain for a criteria, first level
// first.
func (s *Service) SetChain(criteria string, approvers ...plan.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[criteria] = append([]plan.UserID(nil), approvers...)
}

// GrantOverride lets the user decide any pending tracker regardless of
// the chain.
func (s *Service) GrantOverride(user plan.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override[user] = true
}

// ============================================================================
// plan.Approver
// ============================================================================

func (s *Service) Register(ctx context.Context, ref plan.Ref, criteria, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers[ref.String()]; ok && t.IsPending() {
		return fmt.Errorf("%w: %s is already registered for approval", plan.ErrStateConflict, ref)
	}
	chain, ok := s.chains[criteria]
	if !ok || len(chain) == 0 {
		return fmt.Errorf("%w: no approver chain configured for %s", plan.ErrValidation, criteria)
	}
	s.trackers[ref.String()] = &Tracker{
		Ref:            ref,
		Criteria:       criteria,
		Description:    description,
		TimeRegistered: s.now(),
	}
	return nil
}

func (s *Service) IsRegistered(ctx context.Context, ref plan.Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trackers[ref.String()]
	return ok
}

func (s *Service) IsPending(ctx context.Context, ref plan.Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trackers[ref.String()]
	return ok && t.IsPending()
}

func (s *Service) CanApprove(ctx context.Context, ref plan.Ref, user plan.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canApprove(ref, user)
}

func (s *Service) CanApproveOrOverride(ctx context.Context, ref plan.Ref, user plan.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canApprove(ref, user) || (s.override[user] && s.isPending(ref))
}

func (s *Service) canApprove(ref plan.Ref, user plan.UserID) bool {
	t, ok := s.trackers[ref.String()]
	if !ok || t.Completed {
		return false
	}
	chain := s.chains[t.Criteria]
	return t.Level < len(chain) && chain[t.Level] == user
}

func (s *Service) isPending(ref plan.Ref) bool {
	t, ok := s.trackers[ref.String()]
	return ok && t.IsPending()
}

// Cancel withdraws a tracker, running the cancellation hook first.
func (s *Service) Cancel(ctx context.Context, ref plan.Ref) error {
	s.mu.RLock()
	_, ok := s.trackers[ref.String()]
	hooks, hookErr := s.hooks.Hooks(ref)
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s has no approval tracker", plan.ErrNotFound, ref)
	}
	if hookErr != nil {
		return hookErr
	}
	if hooks.OnCancel != nil {
		if err := hooks.OnCancel(ctx, ref.ID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, ref.String())
	return nil
}

func (s *Service) UpdateDescription(ctx context.Context, ref plan.Ref, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[ref.String()]
	if !ok {
		return fmt.Errorf("%w: %s has no approval tracker", plan.ErrNotFound, ref)
	}
	t.Description = description
	return nil
}

// ============================================================================
// DECISIONS
// ============================================================================

// Approve records the user's approval at the current level. The last
// level's approval completes the tracker and applies the entity's
// completion hook; a failing hook aborts the decision.
func (s *Service) Approve(ctx context.Context, ref plan.Ref, user plan.UserID, comment string) error {
	s.mu.RLock()
	t, ok := s.trackers[ref.String()]
	if !ok || t.Completed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s is not pending approval", plan.ErrStateConflict, ref)
	}
	if !s.canApprove(ref, user) && !s.override[user] {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s may not approve %s", plan.ErrNotAuthorized, user, ref)
	}
	chain := s.chains[t.Criteria]
	completing := t.Level+1 >= len(chain)
	hooks, err := s.hooks.Hooks(ref)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if hooks.OnApproveStep != nil {
		if err := hooks.OnApproveStep(ctx, ref.ID, user); err != nil {
			return err
		}
	}
	if completing && hooks.OnComplete != nil {
		if err := hooks.OnComplete(ctx, ref.ID, true); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t.Decisions = append(t.Decisions, Decision{User: user, Approved: true, Comment: comment, Time: s.now()})
	t.Level++
	if completing {
		approved := true
		t.Completed = true
		t.Approved = &approved
	}
	return nil
}

// Decline completes the tracker declined at any level.
func (s *Service) Decline(ctx context.Context, ref plan.Ref, user plan.UserID, comment string) error {
	s.mu.RLock()
	t, ok := s.trackers[ref.String()]
	if !ok || t.Completed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s is not pending approval", plan.ErrStateConflict, ref)
	}
	if !s.canApprove(ref, user) && !s.override[user] {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s may not decline %s", plan.ErrNotAuthorized, user, ref)
	}
	hooks, err := s.hooks.Hooks(ref)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if hooks.OnComplete != nil {
		if err := hooks.OnComplete(ctx, ref.ID, false); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t.Decisions = append(t.Decisions, Decision{User: user, Approved: false, Comment: comment, Time: s.now()})
	approved := false
	t.Completed = true
	t.Approved = &approved
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// Get returns a copy of the tracker for the ref.
func (s *Service) Get(ctx context.Context, ref plan.Ref) (*Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trackers[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no approval tracker", plan.ErrNotFound, ref)
	}
	return copyTracker(t), nil
}

// Pending lists the trackers currently waiting on the user.
func (s *Service) Pending(ctx context.Context, user plan.UserID) []*Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Tracker
	for _, t := range s.trackers {
		if !t.IsPending() {
			continue
		}
		chain := s.chains[t.Criteria]
		current := t.Level < len(chain) && chain[t.Level] == user
		if current || s.override[user] {
			out = append(out, copyTracker(t))
		}
	}
	return out
}

func copyTracker(t *Tracker) *Tracker {
	c := *t
	c.Decisions = append([]Decision(nil), t.Decisions...)
	if t.Approved != nil {
		v := *t.Approved
		c.Approved = &v
	}
	return &c
}
