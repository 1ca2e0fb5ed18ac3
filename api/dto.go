/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.
  Amounts travel as decimal strings with a currency code, never as
  floats.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response: response types returned to clients

SEE ALSO:
  - handlers.go: uses these shapes
*/

package api

import (
	"time"

	"github.com/bonifacechacha/plan-lib/money"
	"github.com/bonifacechacha/plan-lib/plan"
)

// MoneyDTO is the wire form of a money.Money.
type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoneyDTO(m money.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Amount.String(), Currency: m.Currency}
}

func (d MoneyDTO) toMoney() (money.Money, error) {
	return money.Parse(d.Amount, d.Currency)
}

// ============================================================================
// BUDGETS
// ============================================================================

type CreateBudgetRequest struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CostCenter    string    `json:"cost_center"`
	Fund          MoneyDTO  `json:"fund"`
	EstimatedCost *MoneyDTO `json:"estimated_cost,omitempty"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

type AdjustFundRequest struct {
	Amount MoneyDTO `json:"amount"`
}

type UpdateBudgetRequest struct {
	Version       int       `json:"version"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Fund          MoneyDTO  `json:"fund"`
	EstimatedCost *MoneyDTO `json:"estimated_cost,omitempty"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

type BudgetResponse struct {
	ID            string    `json:"id"`
	Version       int       `json:"version"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	CostCenter    string    `json:"cost_center"`
	Fund          MoneyDTO  `json:"fund"`
	EstimatedCost MoneyDTO  `json:"estimated_cost"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	Status        string    `json:"status"`
	Approved      *bool     `json:"approved,omitempty"`
	Archived      bool      `json:"archived"`
	Creator       string    `json:"creator"`
	TimeCreated   time.Time `json:"time_created"`
}

func toBudgetResponse(b *plan.Budget, at time.Time) BudgetResponse {
	return BudgetResponse{
		ID:            string(b.ID),
		Version:       b.Version,
		Title:         b.Title,
		Description:   b.Description,
		CostCenter:    string(b.CostCenter),
		Fund:          toMoneyDTO(b.Fund),
		EstimatedCost: toMoneyDTO(b.EstimatedCost),
		PeriodStart:   b.Period.Start,
		PeriodEnd:     b.Period.End,
		Status:        b.Status(at),
		Approved:      b.Approved,
		Archived:      b.Archived,
		Creator:       string(b.Creator),
		TimeCreated:   b.TimeCreated,
	}
}

// ============================================================================
// ALLOCATIONS
// ============================================================================

type ProposeAllocationRequest struct {
	Role        string   `json:"role"`
	Resource    string   `json:"resource"`
	Amount      MoneyDTO `json:"amount"`
	Description string   `json:"description"`
	Reason      string   `json:"reason"`
}

type AllocationResponse struct {
	ID              string   `json:"id"`
	BudgetID        string   `json:"budget_id"`
	Role            string   `json:"role"`
	Resource        string   `json:"resource"`
	ProposedAmount  MoneyDTO `json:"proposed_amount"`
	AllocatedAmount MoneyDTO `json:"allocated_amount"`
}

func toAllocationResponse(a *plan.Allocation) AllocationResponse {
	return AllocationResponse{
		ID:              string(a.ID),
		BudgetID:        string(a.BudgetID),
		Role:            string(a.Role),
		Resource:        string(a.Resource),
		ProposedAmount:  toMoneyDTO(a.ProposedAmount),
		AllocatedAmount: toMoneyDTO(a.AllocatedAmount),
	}
}

type AllocationChangeResponse struct {
	ID          string    `json:"id"`
	Amount      MoneyDTO  `json:"amount"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	User        string    `json:"user"`
	Time        time.Time `json:"time"`
}

type ProposalDTO struct {
	Role     string   `json:"role"`
	Resource string   `json:"resource"`
	Amount   MoneyDTO `json:"amount"`
}

type ProposeAllRequest struct {
	Proposals   []ProposalDTO `json:"proposals"`
	Description string        `json:"description"`
	Reason      string        `json:"reason"`
}

// ============================================================================
// ADJUSTMENTS
// ============================================================================

type CreateAdjustmentRequest struct {
	BudgetID    string   `json:"budget_id"`
	Role        string   `json:"role"`
	Resource    string   `json:"resource"`
	Amount      MoneyDTO `json:"amount"`
	Description string   `json:"description"`
	Reason      string   `json:"reason"`
}

type ChangeAmountRequest struct {
	Amount MoneyDTO `json:"amount"`
}

type AdjustmentResponse struct {
	ID              string   `json:"id"`
	BudgetID        string   `json:"budget_id"`
	Role            string   `json:"role"`
	Resource        string   `json:"resource"`
	ProposedAmount  MoneyDTO `json:"proposed_amount"`
	AllocatedAmount MoneyDTO `json:"allocated_amount"`
	Approved        *bool    `json:"approved,omitempty"`
	Creator         string   `json:"creator"`
}

func toAdjustmentResponse(a *plan.AllocationAdjustment) AdjustmentResponse {
	return AdjustmentResponse{
		ID:              string(a.ID),
		BudgetID:        string(a.BudgetID),
		Role:            string(a.Role),
		Resource:        string(a.Resource),
		ProposedAmount:  toMoneyDTO(a.ProposedAmount),
		AllocatedAmount: toMoneyDTO(a.AllocatedAmount),
		Approved:        a.Approved,
		Creator:         string(a.Creator),
	}
}

type CreatePeriodAdjustmentRequest struct {
	BudgetID        string    `json:"budget_id"`
	ProposedEndDate time.Time `json:"proposed_end_date"`
	Reason          string    `json:"reason"`
}

type UpdateProposedDateRequest struct {
	ProposedEndDate time.Time `json:"proposed_end_date"`
}

type PeriodAdjustmentResponse struct {
	ID              string    `json:"id"`
	BudgetID        string    `json:"budget_id"`
	ProposedEndDate time.Time `json:"proposed_end_date"`
	Reason          string    `json:"reason,omitempty"`
	Approved        *bool     `json:"approved,omitempty"`
	Creator         string    `json:"creator"`
}

func toPeriodAdjustmentResponse(p *plan.PeriodAdjustment) PeriodAdjustmentResponse {
	return PeriodAdjustmentResponse{
		ID:              string(p.ID),
		BudgetID:        string(p.BudgetID),
		ProposedEndDate: p.ProposedEndDate,
		Reason:          p.Reason,
		Approved:        p.Approved,
		Creator:         string(p.Creator),
	}
}

// ============================================================================
// REQUISITIONS
// ============================================================================

type CreateRequisitionRequest struct {
	BudgetID    string   `json:"budget_id"`
	Role        string   `json:"role"`
	Resource    string   `json:"resource"`
	Consumer    string   `json:"consumer"`
	Amount      MoneyDTO `json:"amount"`
	Description string   `json:"description"`
	Reason      string   `json:"reason"`
}

type UpdateRequisitionRequest struct {
	Version     int      `json:"version"`
	Role        string   `json:"role"`
	Resource    string   `json:"resource"`
	Consumer    string   `json:"consumer"`
	Amount      MoneyDTO `json:"amount"`
	Description string   `json:"description"`
	Reason      string   `json:"reason"`
}

type RequisitionResponse struct {
	ID              string    `json:"id"`
	BudgetID        string    `json:"budget_id"`
	Role            string    `json:"role"`
	Resource        string    `json:"resource"`
	Consumer        string    `json:"consumer"`
	Description     string    `json:"description,omitempty"`
	RequestedAmount MoneyDTO  `json:"requested_amount"`
	ApprovedAmount  MoneyDTO  `json:"approved_amount"`
	Status          string    `json:"status"`
	Approved        *bool     `json:"approved,omitempty"`
	Fulfilled       bool      `json:"fulfilled"`
	Creator         string    `json:"creator"`
	TimeCreated     time.Time `json:"time_created"`
}

func toRequisitionResponse(r *plan.Requisition, status string) RequisitionResponse {
	return RequisitionResponse{
		ID:              string(r.ID),
		BudgetID:        string(r.BudgetID),
		Role:            string(r.Role),
		Resource:        string(r.Resource),
		Consumer:        string(r.Consumer),
		Description:     r.Description,
		RequestedAmount: toMoneyDTO(r.RequestedAmount),
		ApprovedAmount:  toMoneyDTO(r.ApprovedAmount),
		Status:          status,
		Approved:        r.Approved,
		Fulfilled:       r.Fulfilled,
		Creator:         string(r.Creator),
		TimeCreated:     r.TimeCreated,
	}
}

// ============================================================================
// PAYMENTS / EXPENSES
// ============================================================================

type PaymentDTO struct {
	Amount    MoneyDTO  `json:"amount"`
	Paid      bool      `json:"paid"`
	Time      time.Time `json:"time"`
	Method    string    `json:"method,omitempty"`
	Reference string    `json:"reference,omitempty"`
}

func (d PaymentDTO) toPayment() (plan.Payment, error) {
	amount, err := d.Amount.toMoney()
	if err != nil {
		return plan.Payment{}, err
	}
	t := d.Time
	if t.IsZero() {
		t = time.Now()
	}
	return plan.Payment{Amount: amount, Paid: d.Paid, Time: t, Method: d.Method, Reference: d.Reference}, nil
}

type CreateExpenseRequest struct {
	BudgetID       string     `json:"budget_id"`
	Role           string     `json:"role"`
	Resource       string     `json:"resource"`
	AssociatedUser string     `json:"associated_user"`
	Consumer       string     `json:"consumer"`
	Description    string     `json:"description"`
	Payment        PaymentDTO `json:"payment"`
}

type ExpenseResponse struct {
	ID                string    `json:"id"`
	BudgetID          string    `json:"budget_id"`
	Role              string    `json:"role"`
	Resource          string    `json:"resource"`
	AssociatedUser    string    `json:"associated_user"`
	Consumer          string    `json:"consumer"`
	Description       string    `json:"description,omitempty"`
	RequisitionID     string    `json:"requisition_id,omitempty"`
	PaidAmount        MoneyDTO  `json:"paid_amount"`
	ActualAmount      MoneyDTO  `json:"actual_amount"`
	TotalRetirement   MoneyDTO  `json:"total_retirement"`
	RetiredDifference MoneyDTO  `json:"retired_difference"`
	TotalSettlement   MoneyDTO  `json:"total_settlement"`
	PendingSettlement MoneyDTO  `json:"pending_settlement"`
	RequiresPayment   bool      `json:"requires_payment"`
	Status            string    `json:"status"`
	Reconciled        bool      `json:"reconciled"`
	TimeCreated       time.Time `json:"time_created"`
}

func toExpenseResponse(e *plan.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:                string(e.ID),
		BudgetID:          string(e.BudgetID),
		Role:              string(e.Role),
		Resource:          string(e.Resource),
		AssociatedUser:    string(e.AssociatedUser),
		Consumer:          string(e.Consumer),
		Description:       e.Description,
		RequisitionID:     string(e.RequisitionID),
		PaidAmount:        toMoneyDTO(e.PaidAmount()),
		ActualAmount:      toMoneyDTO(e.ActualAmount()),
		TotalRetirement:   toMoneyDTO(e.TotalRetirement()),
		RetiredDifference: toMoneyDTO(e.RetiredDifference()),
		TotalSettlement:   toMoneyDTO(e.TotalSettlement()),
		PendingSettlement: toMoneyDTO(e.PendingSettlement()),
		RequiresPayment:   e.RequiresPayment(),
		Status:            e.Status(),
		Reconciled:        e.Reconciled,
		TimeCreated:       e.TimeCreated,
	}
}

type BalanceResponse struct {
	BudgetID          string   `json:"budget_id"`
	Role              string   `json:"role"`
	Resource          string   `json:"resource"`
	Balance           MoneyDTO `json:"balance"`
	BalancePercentage float64  `json:"balance_percentage"`
}

// ============================================================================
// RETIREMENTS
// ============================================================================

type RetirementEntryDTO struct {
	ID          string    `json:"id,omitempty"`
	Description string    `json:"description"`
	Amount      MoneyDTO  `json:"amount"`
	Time        time.Time `json:"time"`
	Reference   string    `json:"reference,omitempty"`
	Accepted    bool      `json:"accepted"`
}

type SaveRetirementRequest struct {
	ID        string               `json:"id,omitempty"`
	Version   int                  `json:"version,omitempty"`
	ExpenseID string               `json:"expense_id"`
	Entries   []RetirementEntryDTO `json:"entries"`
}

type AcceptEntriesRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

type RetirementResponse struct {
	ID          string               `json:"id"`
	ExpenseID   string               `json:"expense_id"`
	Entries     []RetirementEntryDTO `json:"entries"`
	TotalAmount MoneyDTO             `json:"total_amount"`
	Approved    *bool                `json:"approved,omitempty"`
	Creator     string               `json:"creator"`
}

func toRetirementResponse(r *plan.Retirement) RetirementResponse {
	entries := make([]RetirementEntryDTO, 0, len(r.Entries))
	for _, entry := range r.Entries {
		entries = append(entries, RetirementEntryDTO{
			ID:          entry.ID,
			Description: entry.Description,
			Amount:      toMoneyDTO(entry.Amount),
			Time:        entry.Time,
			Reference:   entry.Reference,
			Accepted:    entry.Accepted,
		})
	}
	return RetirementResponse{
		ID:          string(r.ID),
		ExpenseID:   string(r.ExpenseID),
		Entries:     entries,
		TotalAmount: toMoneyDTO(r.TotalAmount()),
		Approved:    r.Approved,
		Creator:     string(r.Creator),
	}
}

// ============================================================================
// APPROVALS
// ============================================================================

type DecisionRequest struct {
	Comment string `json:"comment"`
}

type TrackerResponse struct {
	Ref         string    `json:"ref"`
	Criteria    string    `json:"criteria"`
	Description string    `json:"description"`
	Level       int       `json:"level"`
	Completed   bool      `json:"completed"`
	Approved    *bool     `json:"approved,omitempty"`
	Registered  time.Time `json:"registered"`
}

// ============================================================================
// ERRORS
// ============================================================================

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}
