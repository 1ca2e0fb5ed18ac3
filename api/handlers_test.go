package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bonifacechacha/plan-lib/api"
	"github.com/bonifacechacha/plan-lib/approval"
	"github.com/bonifacechacha/plan-lib/directory"
	"github.com/bonifacechacha/plan-lib/plan"
	"github.com/bonifacechacha/plan-lib/store/memory"
)

// ============================================================================
// TEST HARNESS
// ============================================================================

type testServer struct {
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := directory.New()
	dir.AddPlanner("operations", "alice")
	dir.AddMember("engineering", "alice")
	dir.AddMember("engineering", "bob")
	dir.AllowRoleResource("engineering", "laptops")
	dir.AllowCostCenterResource("operations", "laptops")
	dir.AllowCostCenterRole("operations", "engineering")

	approvals := approval.NewService()
	for _, criteria := range []string{
		plan.BudgetApprovalCriteria,
		plan.RequisitionApprovalCriteria,
		plan.RetirementApprovalCriteria,
		plan.AllocationAdjustmentApprovalCriteria,
		plan.PeriodAdjustmentApprovalCriteria,
	} {
		approvals.SetChain(criteria, "carol")
	}

	engine := plan.NewEngine(memory.NewStore(), dir, approvals, plan.DefaultConfig())
	approvals.BindHooks(engine.ApprovalHooks())

	h := api.NewHandler(engine, approvals, zap.NewNop())
	return &testServer{router: api.NewRouter(h)}
}

// do performs a request as the given user and returns the recorder.
func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func tzs(amount string) api.MoneyDTO {
	return api.MoneyDTO{Amount: amount, Currency: "TZS"}
}

func budgetBody(title string) api.CreateBudgetRequest {
	return api.CreateBudgetRequest{
		Title:       title,
		CostCenter:  "operations",
		Fund:        tzs("1000"),
		PeriodStart: time.Now().AddDate(0, -1, 0),
		PeriodEnd:   time.Now().AddDate(0, 11, 0),
	}
}

// ============================================================================
// BUDGET FLOW
// ============================================================================

func TestBudgetApprovalFlow(t *testing.T) {
	// GIVEN: alice plans a budget with one allocation line
	// WHEN: she submits it and carol approves over the API
	// THEN: the budget reads approved and the line balance is live
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/budgets", "alice", budgetBody("Ops 2026"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created api.BudgetResponse
	decodeBody(t, rec, &created)
	assert.Equal(t, "Draft", created.Status)
	require.NotEmpty(t, created.ID)

	rec = s.do(t, http.MethodPost, "/api/budgets/"+created.ID+"/allocations", "alice", api.ProposeAllocationRequest{
		Role: "engineering", Resource: "laptops", Amount: tzs("600"), Description: "laptops",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/budgets/"+created.ID+"/submit", "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The submission lands in carol's queue
	rec = s.do(t, http.MethodGet, "/api/approvals/pending", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []api.TrackerResponse
	decodeBody(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "Budget:"+created.ID, pending[0].Ref)

	rec = s.do(t, http.MethodPost, "/api/approvals/Budget/"+created.ID+"/approve", "carol", api.DecisionRequest{Comment: "ok"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/budgets/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var approved api.BudgetResponse
	decodeBody(t, rec, &approved)
	require.NotNil(t, approved.Approved)
	assert.True(t, *approved.Approved)
	assert.Equal(t, "Approved", approved.Status)

	rec = s.do(t, http.MethodGet, "/api/budgets/"+created.ID+"/balance?role=engineering&resource=laptops", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance api.BalanceResponse
	decodeBody(t, rec, &balance)
	assert.Equal(t, "600", balance.Balance.Amount)
	assert.InDelta(t, 100, balance.BalancePercentage, 0.001)
}

func TestListBudgets(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/budgets", "alice", budgetBody("Ops 2026")).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/budgets", "alice", budgetBody("Lab 2026")).Code)

	rec := s.do(t, http.MethodGet, "/api/budgets", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var budgets []api.BudgetResponse
	decodeBody(t, rec, &budgets)
	assert.Len(t, budgets, 2)

	rec = s.do(t, http.MethodGet, "/api/budgets?title=Lab+2026", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &budgets)
	require.Len(t, budgets, 1)
	assert.Equal(t, "Lab 2026", budgets[0].Title)
}

// ============================================================================
// ERROR MAPPING
// ============================================================================

func TestUnknownBudgetIs404(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/budgets/nope", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBodyIs400(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/budgets", bytes.NewBufferString("{not json"))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnauthorizedCreatorIs403(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/budgets", "eve", budgetBody("Sneaky"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body api.ErrorResponse
	decodeBody(t, rec, &body)
	assert.False(t, body.Retryable)
	assert.NotEmpty(t, body.Error)
}

func TestStaleUpdateIs409Retryable(t *testing.T) {
	// GIVEN: a stored budget
	// WHEN: an update carries an outdated version
	// THEN: the API answers 409 and marks the error retryable
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/budgets", "alice", budgetBody("Ops 2026"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created api.BudgetResponse
	decodeBody(t, rec, &created)

	update := api.UpdateBudgetRequest{
		Version: created.Version, Title: "Ops 2026 v2",
		Fund:        tzs("1000"),
		PeriodStart: created.PeriodStart, PeriodEnd: created.PeriodEnd,
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/budgets/"+created.ID, "alice", update).Code)

	// Replaying the same version must conflict
	rec = s.do(t, http.MethodPut, "/api/budgets/"+created.ID, "alice", update)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body api.ErrorResponse
	decodeBody(t, rec, &body)
	assert.True(t, body.Retryable)
}
