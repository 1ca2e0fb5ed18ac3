/*
handlers.go - HTTP request handlers

PURPOSE:
  Translates HTTP requests into engine calls and engine results back
  into JSON. The acting user comes from the X-User-ID header; every
  mutating route requires it.

ERROR MAPPING:
  - validation errors         -> 400
  - authorization errors      -> 403
  - not found                 -> 404
  - state and version errors  -> 409 (version conflicts are retryable)
  - everything else           -> 500

SEE ALSO:
  - server.go: routes these handlers
  - dto.go: the wire shapes
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bonifacechacha/plan-lib/approval"
	"github.com/bonifacechacha/plan-lib/plan"
)

// Handler holds the engine and its collaborators for the HTTP layer.
type Handler struct {
	engine    *plan.Engine
	approvals *approval.Service
	log       *zap.Logger
}

// NewHandler creates a handler around the engine.
func NewHandler(engine *plan.Engine, approvals *approval.Service, log *zap.Logger) *Handler {
	return &Handler{engine: engine, approvals: approvals, log: log}
}

// ============================================================================
// HELPERS
// ============================================================================

func userID(r *http.Request) plan.UserID {
	return plan.UserID(r.Header.Get("X-User-ID"))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(plan.ErrValidation, err)
	}
	return nil
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, plan.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, plan.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, plan.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, plan.ErrStateConflict),
		errors.Is(err, plan.ErrInvariantViolation),
		errors.Is(err, plan.ErrConcurrentModification):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respond(w, status, ErrorResponse{Error: err.Error(), Retryable: plan.IsRetryable(err)})
}

// boolParam reads an optional true/false query parameter.
func boolParam(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.Join(plan.ErrValidation, err)
	}
	return &v, nil
}

// ============================================================================
// BUDGETS
// ============================================================================

func (h *Handler) createBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fund, err := req.Fund.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := plan.Budget{
		Title:       req.Title,
		Description: req.Description,
		CostCenter:  plan.CostCenterID(req.CostCenter),
		Fund:        fund,
		Period:      plan.Period{Start: req.PeriodStart, End: req.PeriodEnd},
	}
	if req.EstimatedCost != nil {
		cost, err := req.EstimatedCost.toMoney()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		draft.EstimatedCost = cost
	}
	b, err := h.engine.Budgets.Create(r.Context(), userID(r), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toBudgetResponse(b, time.Now()))
}

func (h *Handler) listBudgets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	archived, err := boolParam(r, "archived")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	approved, err := boolParam(r, "approved")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := plan.BudgetFilter{
		Title:      q.Get("title"),
		CostCenter: plan.CostCenterID(q.Get("cost_center")),
		Archived:   archived,
		Approved:   approved,
	}
	budgets, err := h.engine.Budgets.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	at := time.Now()
	out := make([]BudgetResponse, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, toBudgetResponse(b, at))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) getBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Budgets.Get(r.Context(), plan.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toBudgetResponse(b, time.Now()))
}

func (h *Handler) updateBudget(w http.ResponseWriter, r *http.Request) {
	var req UpdateBudgetRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fund, err := req.Fund.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.engine.Budgets.Get(r.Context(), plan.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b.Version = req.Version
	b.Title = req.Title
	b.Description = req.Description
	b.Fund = fund
	b.Period = plan.Period{Start: req.PeriodStart, End: req.PeriodEnd}
	if req.EstimatedCost != nil {
		cost, err := req.EstimatedCost.toMoney()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		b.EstimatedCost = cost
	}
	if err := h.engine.Budgets.Update(r.Context(), userID(r), b); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toBudgetResponse(b, time.Now()))
}

func (h *Handler) deleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Budgets.Delete(r.Context(), userID(r), plan.BudgetID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) submitBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Budgets.SubmitApproval(r.Context(), userID(r), plan.BudgetID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) archiveBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Budgets.Archive(r.Context(), userID(r), plan.BudgetID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) retrieveBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Budgets.Retrieve(r.Context(), userID(r), plan.BudgetID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) adjustBudgetFund(w http.ResponseWriter, r *http.Request) {
	var req AdjustFundRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.Budgets.AdjustFund(r.Context(), userID(r), plan.BudgetID(chi.URLParam(r, "id")), amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) budgetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Budgets.Status(r.Context(), plan.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": status})
}

// ============================================================================
// ALLOCATIONS
// ============================================================================

func (h *Handler) proposeAllocation(w http.ResponseWriter, r *http.Request) {
	var req ProposeAllocationRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.engine.Allocations.Propose(r.Context(), userID(r),
		plan.BudgetID(chi.URLParam(r, "id")),
		plan.RoleID(req.Role), plan.ResourceID(req.Resource),
		amount, req.Description, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) adjustAllocation(w http.ResponseWriter, r *http.Request) {
	var req ProposeAllocationRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.engine.Allocations.AdjustAllocation(r.Context(), userID(r),
		plan.BudgetID(chi.URLParam(r, "id")),
		plan.RoleID(req.Role), plan.ResourceID(req.Resource),
		amount, req.Description, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := plan.AllocationFilter{
		BudgetID: plan.BudgetID(chi.URLParam(r, "id")),
		Role:     plan.RoleID(q.Get("role")),
		Resource: plan.ResourceID(q.Get("resource")),
	}
	allocations, err := h.engine.Allocations.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AllocationResponse, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, toAllocationResponse(a))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) deleteAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.engine.Allocations.DeleteAllocations(r.Context(), userID(r),
		plan.BudgetID(chi.URLParam(r, "id")),
		plan.RoleID(q.Get("role")), plan.ResourceID(q.Get("resource")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) allocationChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.engine.Allocations.Changes(r.Context(), plan.AllocationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AllocationChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, AllocationChangeResponse{
			ID:          c.ID,
			Amount:      toMoneyDTO(c.Amount),
			Description: c.Description,
			Reason:      c.Reason,
			User:        string(c.User),
			Time:        c.Time,
		})
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) exportProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.engine.Allocations.Proposals(r.Context(), plan.BudgetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ProposalDTO, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, ProposalDTO{
			Role:     string(p.Role),
			Resource: string(p.Resource),
			Amount:   toMoneyDTO(p.Amount),
		})
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) replayProposals(w http.ResponseWriter, r *http.Request) {
	var req ProposeAllRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	proposals := make([]plan.AllocationProposal, 0, len(req.Proposals))
	for _, p := range req.Proposals {
		amount, err := p.Amount.toMoney()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		proposals = append(proposals, plan.AllocationProposal{
			Role:     plan.RoleID(p.Role),
			Resource: plan.ResourceID(p.Resource),
			Amount:   amount,
		})
	}
	err := h.engine.Allocations.ProposeAll(r.Context(), userID(r),
		plan.BudgetID(chi.URLParam(r, "id")), proposals, req.Description, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

// ============================================================================
// ALLOCATION ADJUSTMENTS
// ============================================================================

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := plan.AllocationAdjustment{
		BudgetID:       plan.BudgetID(req.BudgetID),
		Role:           plan.RoleID(req.Role),
		Resource:       plan.ResourceID(req.Resource),
		ProposedAmount: amount,
		Description:    req.Description,
		Reason:         req.Reason,
	}
	a, err := h.engine.Adjustments.Create(r.Context(), userID(r), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toAdjustmentResponse(a))
}

func (h *Handler) submitAdjustment(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Adjustments.Submit(r.Context(), userID(r), plan.AdjustmentID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) changeAdjustmentAmount(w http.ResponseWriter, r *http.Request) {
	var req ChangeAmountRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.Adjustments.ChangeAllocatedAmount(r.Context(), userID(r), plan.AdjustmentID(chi.URLParam(r, "id")), amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) getAdjustment(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Adjustments.Get(r.Context(), plan.AdjustmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toAdjustmentResponse(a))
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pending, err := boolParam(r, "pending")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := plan.AdjustmentFilter{
		BudgetID: plan.BudgetID(q.Get("budget_id")),
		Role:     plan.RoleID(q.Get("role")),
		Resource: plan.ResourceID(q.Get("resource")),
		Pending:  pending,
	}
	adjustments, err := h.engine.Adjustments.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AdjustmentResponse, 0, len(adjustments))
	for _, a := range adjustments {
		out = append(out, toAdjustmentResponse(a))
	}
	respond(w, http.StatusOK, out)
}

// ============================================================================
// PERIOD ADJUSTMENTS
// ============================================================================

func (h *Handler) createPeriodAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodAdjustmentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.engine.PeriodAdjustments.Create(r.Context(), userID(r),
		plan.BudgetID(req.BudgetID), req.ProposedEndDate, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toPeriodAdjustmentResponse(p))
}

func (h *Handler) submitPeriodAdjustment(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PeriodAdjustments.Submit(r.Context(), userID(r), plan.PeriodAdjustmentID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) updateProposedDate(w http.ResponseWriter, r *http.Request) {
	var req UpdateProposedDateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.PeriodAdjustments.UpdateProposedDate(r.Context(), userID(r), plan.PeriodAdjustmentID(chi.URLParam(r, "id")), req.ProposedEndDate); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) getPeriodAdjustment(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.PeriodAdjustments.Get(r.Context(), plan.PeriodAdjustmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toPeriodAdjustmentResponse(p))
}

func (h *Handler) listPeriodAdjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pending, err := boolParam(r, "pending")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := plan.PeriodAdjustmentFilter{
		BudgetID: plan.BudgetID(q.Get("budget_id")),
		Pending:  pending,
	}
	adjustments, err := h.engine.PeriodAdjustments.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]PeriodAdjustmentResponse, 0, len(adjustments))
	for _, p := range adjustments {
		out = append(out, toPeriodAdjustmentResponse(p))
	}
	respond(w, http.StatusOK, out)
}

// ============================================================================
// REQUISITIONS
// ============================================================================

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	var req CreateRequisitionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := plan.Requisition{
		BudgetID:        plan.BudgetID(req.BudgetID),
		Role:            plan.RoleID(req.Role),
		Resource:        plan.ResourceID(req.Resource),
		Consumer:        plan.UserID(req.Consumer),
		Description:     req.Description,
		Reason:          req.Reason,
		RequestedAmount: amount,
	}
	created, err := h.engine.Requisitions.Create(r.Context(), userID(r), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondRequisition(w, r, created, http.StatusCreated)
}

func (h *Handler) respondRequisition(w http.ResponseWriter, r *http.Request, req *plan.Requisition, code int) {
	status, err := h.engine.Requisitions.Status(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, code, toRequisitionResponse(req, status))
}

func (h *Handler) listRequisitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approved, err := boolParam(r, "approved")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pending, err := boolParam(r, "pending")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fulfilled, err := boolParam(r, "fulfilled")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := plan.RequisitionFilter{
		BudgetID:  plan.BudgetID(q.Get("budget_id")),
		Role:      plan.RoleID(q.Get("role")),
		Resource:  plan.ResourceID(q.Get("resource")),
		Creator:   plan.UserID(q.Get("creator")),
		Consumer:  plan.UserID(q.Get("consumer")),
		Approved:  approved,
		Pending:   pending,
		Fulfilled: fulfilled,
	}
	requisitions, err := h.engine.Requisitions.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]RequisitionResponse, 0, len(requisitions))
	for _, req := range requisitions {
		status, err := h.engine.Requisitions.Status(r.Context(), req.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, toRequisitionResponse(req, status))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) getRequisition(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.Requisitions.Get(r.Context(), plan.RequisitionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondRequisition(w, r, req, http.StatusOK)
}

func (h *Handler) updateRequisition(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequisitionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.toMoney()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	current, err := h.engine.Requisitions.Get(r.Context(), plan.RequisitionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	current.Version = req.Version
	current.Role = plan.RoleID(req.Role)
	current.Resource = plan.ResourceID(req.Resource)
	current.Consumer = plan.UserID(req.Consumer)
	current.RequestedAmount = amount
	current.Description = req.Description
	current.Reason = req.Reason
	if err := h.engine.Requisitions.Update(r.Context(), userID(r), current); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondRequisition(w, r, current, http.StatusOK)
}

func (h *Handler) deleteRequisition(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Requisitions.Delete(r.Context(), userID(r), plan.RequisitionID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) submitRequisition(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Requisitions.Submit(r.Context(), userID(r), plan.RequisitionID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) payRequisition(w http.ResponseWriter, r *http.Request) {
	var req PaymentDTO
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	payment, err := req.toPayment()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expense, err := h.engine.Requisitions.Pay(r.Context(), userID(r), plan.RequisitionID(chi.URLParam(r, "id")), payment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toExpenseResponse(expense))
}

func (h *Handler) grossBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	budgetID := plan.BudgetID(q.Get("budget_id"))
	role := plan.RoleID(q.Get("role"))
	resource := plan.ResourceID(q.Get("resource"))
	balance, err := h.engine.Requisitions.GrossBalance(r.Context(), budgetID, role, resource)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, BalanceResponse{
		BudgetID: string(budgetID),
		Role:     string(role),
		Resource: string(resource),
		Balance:  toMoneyDTO(balance),
	})
}

// ============================================================================
// EXPENSES
// ============================================================================

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	payment, err := req.Payment.toPayment()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := plan.Expense{
		BudgetID:       plan.BudgetID(req.BudgetID),
		Role:           plan.RoleID(req.Role),
		Resource:       plan.ResourceID(req.Resource),
		AssociatedUser: plan.UserID(req.AssociatedUser),
		Consumer:       plan.UserID(req.Consumer),
		Description:    req.Description,
		Creator:        userID(r),
	}
	expense, err := h.engine.Expenses.Create(r.Context(), draft, payment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toExpenseResponse(expense))
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reconciled, err := boolParam(r, "reconciled")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	retired, err := boolParam(r, "retired")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := plan.ExpenseFilter{
		BudgetID:       plan.BudgetID(q.Get("budget_id")),
		Role:           plan.RoleID(q.Get("role")),
		Resource:       plan.ResourceID(q.Get("resource")),
		AssociatedUser: plan.UserID(q.Get("associated_user")),
		Consumer:       plan.UserID(q.Get("consumer")),
		Creator:        plan.UserID(q.Get("creator")),
		RequisitionID:  plan.RequisitionID(q.Get("requisition_id")),
		Reconciled:     reconciled,
		Retired:        retired,
	}
	expenses, err := h.engine.Expenses.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ExpenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) getExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.engine.Expenses.Get(r.Context(), plan.ExpenseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toExpenseResponse(e))
}

func (h *Handler) settleExpense(w http.ResponseWriter, r *http.Request) {
	var req PaymentDTO
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	payment, err := req.toPayment()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.Expenses.Settle(r.Context(), plan.ExpenseID(chi.URLParam(r, "id")), payment); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) reconcileExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Expenses.MarkReconciled(r.Context(), plan.ExpenseID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) pendingReconciliation(w http.ResponseWriter, r *http.Request) {
	user := plan.UserID(r.URL.Query().Get("user"))
	if user == "" {
		user = userID(r)
	}
	expenses, err := h.engine.Expenses.PendingReconciliation(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ExpenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) budgetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	budgetID := plan.BudgetID(chi.URLParam(r, "id"))
	role := plan.RoleID(q.Get("role"))
	resource := plan.ResourceID(q.Get("resource"))
	balance, err := h.engine.Expenses.Balance(r.Context(), budgetID, role, resource)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	percentage, err := h.engine.Expenses.BalancePercentage(r.Context(), budgetID, role, resource)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, BalanceResponse{
		BudgetID:          string(budgetID),
		Role:              string(role),
		Resource:          string(resource),
		Balance:           toMoneyDTO(balance),
		BalancePercentage: percentage,
	})
}

// ============================================================================
// RETIREMENTS
// ============================================================================

func (h *Handler) saveRetirement(w http.ResponseWriter, r *http.Request) {
	var req SaveRetirementRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := plan.Retirement{
		ID:        plan.RetirementID(req.ID),
		Version:   req.Version,
		ExpenseID: plan.ExpenseID(req.ExpenseID),
	}
	for _, e := range req.Entries {
		amount, err := e.Amount.toMoney()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		t := e.Time
		if t.IsZero() {
			t = time.Now()
		}
		draft.Entries = append(draft.Entries, plan.RetirementEntry{
			ID:          e.ID,
			Description: e.Description,
			Amount:      amount,
			Time:        t,
			Reference:   e.Reference,
		})
	}
	saved, err := h.engine.Retirements.Save(r.Context(), userID(r), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toRetirementResponse(saved))
}

func (h *Handler) submitRetirement(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Retirements.Submit(r.Context(), userID(r), plan.RetirementID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) acceptRetirementEntries(w http.ResponseWriter, r *http.Request) {
	var req AcceptEntriesRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.Retirements.AcceptEntries(r.Context(), userID(r), plan.RetirementID(chi.URLParam(r, "id")), req.EntryIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) getRetirement(w http.ResponseWriter, r *http.Request) {
	ret, err := h.engine.Retirements.Get(r.Context(), plan.RetirementID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toRetirementResponse(ret))
}

func (h *Handler) listRetirements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pending, err := boolParam(r, "pending")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f := plan.RetirementFilter{
		ExpenseID: plan.ExpenseID(q.Get("expense_id")),
		Creator:   plan.UserID(q.Get("creator")),
		Pending:   pending,
	}
	retirements, err := h.engine.Retirements.Find(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]RetirementResponse, 0, len(retirements))
	for _, ret := range retirements {
		out = append(out, toRetirementResponse(ret))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) pendingRetirement(w http.ResponseWriter, r *http.Request) {
	ret, err := h.engine.Retirements.PendingByExpense(r.Context(), plan.ExpenseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ret == nil {
		respond(w, http.StatusOK, nil)
		return
	}
	respond(w, http.StatusOK, toRetirementResponse(ret))
}

func (h *Handler) deleteRetirement(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Retirements.Delete(r.Context(), userID(r), plan.RetirementID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

// ============================================================================
// APPROVALS
// ============================================================================

func approvalRef(r *http.Request) (plan.Ref, error) {
	return plan.ParseRef(chi.URLParam(r, "type") + ":" + chi.URLParam(r, "id"))
}

func toTrackerResponse(t *approval.Tracker) TrackerResponse {
	return TrackerResponse{
		Ref:         t.Ref.String(),
		Criteria:    t.Criteria,
		Description: t.Description,
		Level:       t.Level,
		Completed:   t.Completed,
		Approved:    t.Approved,
		Registered:  t.TimeRegistered,
	}
}

func (h *Handler) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	trackers := h.approvals.Pending(r.Context(), userID(r))
	out := make([]TrackerResponse, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, toTrackerResponse(t))
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) getApproval(w http.ResponseWriter, r *http.Request) {
	ref, err := approvalRef(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.approvals.Get(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toTrackerResponse(t))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	ref, err := approvalRef(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req DecisionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.approvals.Approve(r.Context(), ref, userID(r), req.Comment); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) decline(w http.ResponseWriter, r *http.Request) {
	ref, err := approvalRef(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req DecisionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.approvals.Decline(r.Context(), ref, userID(r), req.Comment); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}
