/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/budgets/*             Budget lifecycle and allocation planning
  /api/allocations/*         Allocation change history
  /api/adjustments/*         Allocation adjustments
  /api/period-adjustments/*  Period extensions
  /api/requisitions/*        Requisitions and payments
  /api/expenses/*            Expenses, settlement, reconciliation
  /api/retirements/*         Retirement drafting and review
  /api/approvals/*           Approval trackers and decisions

SECURITY NOTE:
  The acting user is taken from the X-User-ID header without
  verification. Put an authenticating proxy in front for production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Budget routes
		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.listBudgets)
			r.Post("/", h.createBudget)
			r.Get("/{id}", h.getBudget)
			r.Put("/{id}", h.updateBudget)
			r.Delete("/{id}", h.deleteBudget)
			r.Post("/{id}/submit", h.submitBudget)
			r.Post("/{id}/archive", h.archiveBudget)
			r.Post("/{id}/retrieve", h.retrieveBudget)
			r.Post("/{id}/fund", h.adjustBudgetFund)
			r.Get("/{id}/status", h.budgetStatus)
			r.Get("/{id}/balance", h.budgetBalance)

			// Allocation planning nested under the budget
			r.Get("/{id}/allocations", h.listAllocations)
			r.Post("/{id}/allocations", h.proposeAllocation)
			r.Delete("/{id}/allocations", h.deleteAllocations)
			r.Post("/{id}/allocations/adjust", h.adjustAllocation)
			r.Get("/{id}/proposals", h.exportProposals)
			r.Put("/{id}/proposals", h.replayProposals)
		})

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Get("/{id}/changes", h.allocationChanges)
		})

		// Allocation adjustment routes
		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", h.listAdjustments)
			r.Post("/", h.createAdjustment)
			r.Get("/{id}", h.getAdjustment)
			r.Post("/{id}/submit", h.submitAdjustment)
			r.Put("/{id}/amount", h.changeAdjustmentAmount)
		})

		// Period adjustment routes
		r.Route("/period-adjustments", func(r chi.Router) {
			r.Get("/", h.listPeriodAdjustments)
			r.Post("/", h.createPeriodAdjustment)
			r.Get("/{id}", h.getPeriodAdjustment)
			r.Post("/{id}/submit", h.submitPeriodAdjustment)
			r.Put("/{id}/date", h.updateProposedDate)
		})

		// Requisition routes
		r.Route("/requisitions", func(r chi.Router) {
			r.Get("/", h.listRequisitions)
			r.Post("/", h.createRequisition)
			r.Get("/gross-balance", h.grossBalance)
			r.Get("/{id}", h.getRequisition)
			r.Put("/{id}", h.updateRequisition)
			r.Delete("/{id}", h.deleteRequisition)
			r.Post("/{id}/submit", h.submitRequisition)
			r.Post("/{id}/payments", h.payRequisition)
		})

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.listExpenses)
			r.Post("/", h.createExpense)
			r.Get("/pending-reconciliation", h.pendingReconciliation)
			r.Get("/{id}", h.getExpense)
			r.Post("/{id}/settlements", h.settleExpense)
			r.Post("/{id}/reconcile", h.reconcileExpense)
			r.Get("/{id}/pending-retirement", h.pendingRetirement)
		})

		// Retirement routes
		r.Route("/retirements", func(r chi.Router) {
			r.Get("/", h.listRetirements)
			r.Post("/", h.saveRetirement)
			r.Get("/{id}", h.getRetirement)
			r.Delete("/{id}", h.deleteRetirement)
			r.Post("/{id}/submit", h.submitRetirement)
			r.Post("/{id}/entries/accept", h.acceptRetirementEntries)
		})

		// Approval routes
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.pendingApprovals)
			r.Get("/{type}/{id}", h.getApproval)
			r.Post("/{type}/{id}/approve", h.approve)
			r.Post("/{type}/{id}/decline", h.decline)
		})
	})

	return r
}
