package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/cache"
	"github.com/warp/commission-engine/paymentplan"
	"github.com/warp/commission-engine/store/memory"
)

// =============================================================================
// TEST SERVER
// =============================================================================

var today = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*chi.Mux, *api.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := paymentplan.NewService(memory.New(), cache.NewMemory(0))
	svc.Logger = logger

	h := api.NewHandler(svc, logger)
	h.Clock = func() time.Time { return today }
	return api.NewRouter(h, nil), h
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const planBody = `{
	"agency_id": "agency-1",
	"college_id": "c1",
	"student_id": "s1",
	"as_of": "2025-01-01",
	"plan": {
		"total_course_value": "3000",
		"commission_rate": "0.15",
		"installment_count": 3,
		"frequency": "monthly",
		"first_due_date": "2025-02-01",
		"student_lead_time_days": 7
	}
}`

func createCollegeAndPlan(t *testing.T, router http.Handler) api.PlanResponse {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/colleges", `{"id": "c1", "agency_id": "agency-1", "name": "Harbour College"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/plans", planBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.PlanResponse](t, rec)
}

// =============================================================================
// COLLEGES
// =============================================================================

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestColleges(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/colleges", `{"agency_id": "agency-1", "name": "Harbour College"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[paymentplan.College](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = do(t, router, http.MethodGet, "/api/colleges", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[api.ErrorResponse](t, rec).Fields, "agency_id")

	rec = do(t, router, http.MethodGet, "/api/colleges?agency_id=agency-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	colleges := decodeBody[[]paymentplan.College](t, rec)
	require.Len(t, colleges, 1)
	assert.Equal(t, "Harbour College", colleges[0].Name)

	rec = do(t, router, http.MethodPost, "/api/colleges", `{"agency_id": "agency-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[api.ErrorResponse](t, rec).Fields, "name")
}

// =============================================================================
// PLANS
// =============================================================================

func TestCreatePlan(t *testing.T) {
	router, _ := newTestRouter(t)

	// WHEN: a plan is created as of 2025-01-01
	plan := createCollegeAndPlan(t, router)

	// THEN: the schedule and its summary come back
	require.Len(t, plan.Installments, 3)
	assert.Equal(t, "1000.00", plan.Installments[0].Amount.String())
	assert.Equal(t, "2025-01-25", plan.Installments[0].StudentDueDate.String())
	assert.Equal(t, paymentplan.StatusPending, plan.Installments[0].Status)
	assert.Equal(t, "450.00", plan.Summary.ExpectedCommission.String())
	assert.Equal(t, "3000.00", plan.Summary.CommissionableValue.String())

	// AND: the plan can be fetched and listed
	rec := do(t, router, http.MethodGet, "/api/plans/"+string(plan.ID)+"?as_of=2025-03-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decodeBody[api.PlanResponse](t, rec)
	assert.Equal(t, 2, fetched.Summary.OverdueInstallments)

	rec = do(t, router, http.MethodGet, "/api/plans?agency_id=agency-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]api.PlanResponse](t, rec), 1)
}

func TestCreatePlan_ValidationFieldsByJSONPath(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/plans", `{
		"college_id": "c1",
		"student_id": "s1",
		"plan": {
			"total_course_value": "-10",
			"commission_rate": "0.15",
			"installment_count": 3,
			"frequency": "monthly",
			"first_due_date": "2025-02-01"
		}
	}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[api.ErrorResponse](t, rec)
	assert.Contains(t, resp.Fields, "agency_id")
	assert.Contains(t, resp.Fields, "plan.total_course_value")
}

func TestCreatePlan_UnknownFieldAndMissingCollege(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/plans", `{"agency": "agency-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/plans", planBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewPlan(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/plans/preview", `{
		"as_of": "2025-01-12",
		"plan": {
			"total_course_value": "10000",
			"fees": {"materials": "500", "admin": "300", "other": "200"},
			"commission_rate": "0.15",
			"gst_inclusive": true,
			"initial_payment": {"amount": "1000", "due_date": "2025-01-15"},
			"installment_count": 11,
			"frequency": "monthly",
			"first_due_date": "2025-02-01",
			"student_lead_time_days": 7
		}
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[api.PreviewResponse](t, rec)
	require.Len(t, preview.Installments, 12)
	assert.Equal(t, paymentplan.StatusDueSoon, preview.Installments[0].Status)
	assert.Equal(t, "727.30", preview.Installments[11].Amount.String())
	assert.Equal(t, "1227.27", preview.Summary.ExpectedCommission.String())
}

func TestGetPlan_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/api/plans/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/plans/missing/summary?as_of=2025-13-01", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[api.ErrorResponse](t, rec).Fields, "as_of")
}

// =============================================================================
// PAYMENTS AND SCHEDULE LOCK
// =============================================================================

func TestRecordPayment_LocksSchedule(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createCollegeAndPlan(t, router)

	// GIVEN: an unpaid plan can be rescheduled
	replace := `{"as_of": "2025-01-01", "plan": {"total_course_value": "3000", "commission_rate": "0.15", "installment_count": 2, "frequency": "monthly", "first_due_date": "2025-02-01", "student_lead_time_days": 7}}`
	rec := do(t, router, http.MethodPut, "/api/plans/"+string(plan.ID)+"/schedule", replace)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan = decodeBody[api.PlanResponse](t, rec)
	require.Len(t, plan.Installments, 2)
	first := string(plan.Installments[0].ID)

	// WHEN: half of installment 1 is paid
	rec = do(t, router, http.MethodPost, "/api/installments/"+first+"/payments", `{"amount": "750", "paid_date": "2025-01-20"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inst := decodeBody[paymentplan.Installment](t, rec)
	assert.Equal(t, paymentplan.StatusPartial, inst.Status)

	// THEN: the schedule is locked
	rec = do(t, router, http.MethodPut, "/api/plans/"+string(plan.ID)+"/schedule", replace)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: the summary reflects the payment
	rec = do(t, router, http.MethodGet, "/api/plans/"+string(plan.ID)+"/summary?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[paymentplan.PlanSummary](t, rec)
	assert.Equal(t, "750.00", summary.TotalPaid.String())
	assert.Equal(t, 25, summary.ProgressPercent)
}

func TestRecordPayment_Rejects(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createCollegeAndPlan(t, router)
	first := string(plan.Installments[0].ID)

	rec := do(t, router, http.MethodPost, "/api/installments/"+first+"/payments", `{"amount": "-1", "paid_date": "2025-01-20"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[api.ErrorResponse](t, rec).Fields, "amount")

	rec = do(t, router, http.MethodPost, "/api/installments/"+first+"/payments", `{"amount": "0", "paid_date": "2025-01-20"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/installments/missing/payments", `{"amount": "10", "paid_date": "2025-01-20"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignDueDates(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/api/colleges", `{"id": "c1", "agency_id": "agency-1", "name": "Harbour College"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/plans", `{
		"agency_id": "agency-1", "college_id": "c1", "student_id": "s1",
		"plan": {"total_course_value": "3000", "commission_rate": "0.1", "installment_count": 2, "frequency": "custom", "student_lead_time_days": 14}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	plan := decodeBody[api.PlanResponse](t, rec)
	assert.Equal(t, paymentplan.StatusDraft, plan.Installments[0].Status)

	rec = do(t, router, http.MethodPost, "/api/plans/"+string(plan.ID)+"/due-dates",
		`{"as_of": "2025-03-01", "assignments": [{"number": 1, "institution_due_date": "2025-04-01"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan = decodeBody[api.PlanResponse](t, rec)
	assert.Equal(t, "2025-03-18", plan.Installments[0].StudentDueDate.String())
	assert.Equal(t, paymentplan.StatusPending, plan.Installments[0].Status)

	rec = do(t, router, http.MethodPost, "/api/plans/"+string(plan.ID)+"/due-dates", `{"assignments": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// DASHBOARD AND ADMIN
// =============================================================================

func TestDashboard(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createCollegeAndPlan(t, router)
	rec := do(t, router, http.MethodPost, "/api/installments/"+string(plan.Installments[0].ID)+"/payments", `{"amount": "1000", "paid_date": "2025-01-25"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// as_of defaults to the handler's today (2025-03-01)
	rec = do(t, router, http.MethodGet, "/api/agencies/agency-1/dashboard?days=30&top=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	agg := decodeBody[paymentplan.AgencyAggregate](t, rec)

	assert.Equal(t, "2025-03-01", agg.AsOf.String())
	assert.Equal(t, "1000.00", agg.OverdueTotal.String())
	assert.Equal(t, "1000.00", agg.ProjectedCashFlow.String())
	assert.Equal(t, "150.00", agg.EarnedTotal.String())
	require.Len(t, agg.TopColleges, 1)
	assert.Equal(t, "Harbour College", agg.TopColleges[0].Name)

	rec = do(t, router, http.MethodGet, "/api/agencies/agency-1/dashboard?days=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[api.ErrorResponse](t, rec).Fields, "days")
}

func TestTriggerReevaluation(t *testing.T) {
	router, _ := newTestRouter(t)
	createCollegeAndPlan(t, router)

	rec := do(t, router, http.MethodPost, "/api/admin/reevaluate?as_of=2025-02-26", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[paymentplan.ReevaluationResult](t, rec)
	assert.Equal(t, 1, result.PlansScanned)
	assert.Len(t, result.Transitions, 2)

	rec = do(t, router, http.MethodPost, "/api/admin/reevaluate?as_of=2025-02-26", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transitions":[]`)
}

func TestSchedulerStatus_WithoutScheduler(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/api/admin/scheduler", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[api.SchedulerStatusDTO](t, rec).Running)
}
