/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes paymentplan.Service via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the service.

ENDPOINTS:
  Colleges:
    POST   /api/colleges                    Register a college
    GET    /api/colleges?agency_id=         List an agency's colleges

  Plans:
    POST   /api/plans/preview               Generate a schedule, save nothing
    POST   /api/plans                       Create plan
    GET    /api/plans?agency_id=            List plans
    GET    /api/plans/{id}?as_of=           Plan + summary
    PUT    /api/plans/{id}/schedule         Replace schedule (unpaid plans only)
    GET    /api/plans/{id}/summary?as_of=   Summary only
    POST   /api/plans/{id}/due-dates        Date custom-frequency placeholders

  Payments:
    POST   /api/installments/{id}/payments  Record a payment

  Dashboard:
    GET    /api/agencies/{id}/dashboard?as_of=&days=&top=

  Admin:
    POST   /api/admin/reevaluate?as_of=     Re-derive every installment status

AS-OF DATES:
  Every time-dependent endpoint takes an explicit as_of (body field or query
  parameter, body wins). Missing means today in UTC.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (fields keyed by JSON path)
  - 404: Plan, installment or college not found
  - 409: Schedule locked by a payment, duplicate record
  - 500: Internal errors (logged, details hidden)

SECURITY NOTE:
  No authentication or authorization. Agency scoping is by parameter only.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *paymentplan.Service
	Plans   *factory.PlanFactory
	Logger  *slog.Logger
	Clock   func() time.Time

	// Scheduler is optional; it only feeds GET /api/admin/scheduler.
	Scheduler *StatusScheduler

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around svc.
func NewHandler(svc *paymentplan.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service: svc,
		Plans:   factory.NewPlanFactory(),
		Logger:  logger,
		Clock:   time.Now,
	}
}

func (h *Handler) today() generic.Date {
	now := time.Now
	if h.Clock != nil {
		now = h.Clock
	}
	return generic.DateOf(now().UTC())
}

// =============================================================================
// COLLEGE HANDLERS
// =============================================================================

// CreateCollege registers a college for an agency.
func (h *Handler) CreateCollege(w http.ResponseWriter, r *http.Request) {
	var req CreateCollegeRequest
	if !h.decode(w, r, &req) {
		return
	}

	college, err := h.Service.SaveCollege(r.Context(), paymentplan.College{
		ID:       paymentplan.CollegeID(req.ID),
		AgencyID: paymentplan.AgencyID(req.AgencyID),
		Name:     req.Name,
	})
	if err != nil {
		h.writeServiceError(w, "Failed to save college", err)
		return
	}

	writeJSON(w, http.StatusCreated, college)
}

// ListColleges returns the colleges of one agency.
func (h *Handler) ListColleges(w http.ResponseWriter, r *http.Request) {
	agencyID := r.URL.Query().Get("agency_id")
	if agencyID == "" {
		h.writeServiceError(w, "Invalid query", generic.NewValidationError("agency_id", "is required"))
		return
	}

	colleges, err := h.Service.ListColleges(r.Context(), paymentplan.AgencyID(agencyID))
	if err != nil {
		h.writeServiceError(w, "Failed to list colleges", err)
		return
	}
	if colleges == nil {
		colleges = []paymentplan.College{}
	}

	writeJSON(w, http.StatusOK, colleges)
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// PreviewPlan generates and evaluates a schedule without persisting it.
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	var req PreviewPlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := h.asOf(r, req.AsOf)
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}
	params, err := h.Plans.FromJSON(req.Plan)
	if err != nil {
		h.writeServiceError(w, "Invalid plan", err)
		return
	}

	installments, summary, err := h.Service.PreviewPlan(params, asOf)
	if err != nil {
		h.writeServiceError(w, "Failed to generate schedule", err)
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{Installments: installments, Summary: summary})
}

// CreatePlan validates, generates and persists a plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := h.asOf(r, req.AsOf)
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}
	params, err := h.Plans.FromJSON(req.Plan)
	if err != nil {
		h.writeServiceError(w, "Invalid plan", err)
		return
	}

	plan, err := h.Service.CreatePlan(r.Context(), paymentplan.NewPlan{
		AgencyID:  paymentplan.AgencyID(req.AgencyID),
		CollegeID: paymentplan.CollegeID(req.CollegeID),
		StudentID: paymentplan.StudentID(req.StudentID),
		Params:    params,
	}, asOf)
	if err != nil {
		h.writeServiceError(w, "Failed to create plan", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.planResponse(plan, asOf))
}

// ListPlans returns plans, optionally filtered by agency.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r, "")
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}

	plans, err := h.Service.ListPlans(r.Context(), paymentplan.AgencyID(r.URL.Query().Get("agency_id")))
	if err != nil {
		h.writeServiceError(w, "Failed to list plans", err)
		return
	}

	resp := make([]PlanResponse, len(plans))
	for i, p := range plans {
		resp[i] = h.planResponse(p, asOf)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPlan returns a single plan with its summary.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r, "")
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}

	plan, err := h.Service.GetPlan(r.Context(), paymentplan.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "Failed to get plan", err)
		return
	}

	writeJSON(w, http.StatusOK, h.planResponse(plan, asOf))
}

// ReplaceSchedule regenerates a plan's schedule from new parameters.
func (h *Handler) ReplaceSchedule(w http.ResponseWriter, r *http.Request) {
	var req ReplaceScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := h.asOf(r, req.AsOf)
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}
	params, err := h.Plans.FromJSON(req.Plan)
	if err != nil {
		h.writeServiceError(w, "Invalid plan", err)
		return
	}

	plan, err := h.Service.ReplaceSchedule(r.Context(), paymentplan.PlanID(chi.URLParam(r, "id")), params, asOf)
	if err != nil {
		h.writeServiceError(w, "Failed to replace schedule", err)
		return
	}

	writeJSON(w, http.StatusOK, h.planResponse(plan, asOf))
}

// GetSummary returns the derived progress view of a plan.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r, "")
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}

	summary, err := h.Service.Summary(r.Context(), paymentplan.PlanID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		h.writeServiceError(w, "Failed to summarize plan", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// AssignDueDates dates the placeholders of a custom-frequency plan.
func (h *Handler) AssignDueDates(w http.ResponseWriter, r *http.Request) {
	var req AssignDueDatesRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := h.asOf(r, req.AsOf)
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}

	// Shape validation guarantees the dates parse.
	assignments := make([]paymentplan.DueDateAssignment, len(req.Assignments))
	for i, a := range req.Assignments {
		assignments[i] = paymentplan.DueDateAssignment{
			Number:             a.Number,
			InstitutionDueDate: generic.MustParseDate(a.InstitutionDueDate),
		}
	}

	plan, err := h.Service.AssignDueDates(r.Context(), paymentplan.PlanID(chi.URLParam(r, "id")), assignments, asOf)
	if err != nil {
		h.writeServiceError(w, "Failed to assign due dates", err)
		return
	}

	writeJSON(w, http.StatusOK, h.planResponse(plan, asOf))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records money received against one installment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	inst, err := h.Service.RecordPayment(
		r.Context(),
		paymentplan.InstallmentID(chi.URLParam(r, "id")),
		generic.MustParseMoney(req.Amount.String()),
		generic.MustParseDate(req.PaidDate),
	)
	if err != nil {
		h.writeServiceError(w, "Failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusOK, inst)
}

// =============================================================================
// DASHBOARD & ADMIN HANDLERS
// =============================================================================

// GetDashboard returns the agency aggregate.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r, "")
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}
	verr := &generic.ValidationError{}
	days := intQuery(r, "days", verr)
	top := intQuery(r, "top", verr)
	if err := verr.OrNil(); err != nil {
		h.writeServiceError(w, "Invalid query", err)
		return
	}

	agg, err := h.Service.Dashboard(r.Context(), paymentplan.AgencyID(chi.URLParam(r, "id")), asOf,
		paymentplan.AggregateOptions{ProjectionDays: days, TopN: top})
	if err != nil {
		h.writeServiceError(w, "Failed to build dashboard", err)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// TriggerReevaluation re-derives every installment status as of the given day.
func (h *Handler) TriggerReevaluation(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r, "")
	if err != nil {
		h.writeServiceError(w, "Invalid as_of", err)
		return
	}

	result, err := h.Service.ReevaluateStatuses(r.Context(), asOf)
	if err != nil {
		h.writeServiceError(w, "Re-evaluation failed", err)
		return
	}
	if result.Transitions == nil {
		result.Transitions = []paymentplan.StatusTransition{}
	}

	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) planResponse(plan paymentplan.Plan, asOf generic.Date) PlanResponse {
	return PlanResponse{
		Plan:    plan,
		Summary: paymentplan.AggregateInstallments(plan.Params, plan.Installments, asOf, h.Service.Resolver),
	}
}

// decode reads a JSON body into dst and validates it. It writes the 400
// itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.Plans.Validator.Struct(dst); err != nil {
		h.writeServiceError(w, "Validation failed", err)
		return false
	}
	return true
}

// asOf resolves the evaluation day: body value, then ?as_of=, then today.
func (h *Handler) asOf(r *http.Request, body string) (generic.Date, error) {
	s := body
	if s == "" {
		s = r.URL.Query().Get("as_of")
	}
	if s == "" {
		return h.today(), nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		var de *generic.InvalidDateError
		if errors.As(err, &de) {
			de.Field = "as_of"
		}
		return generic.Date{}, err
	}
	return d, nil
}

// intQuery reads an optional non-negative integer query parameter. Missing
// means zero.
func intQuery(r *http.Request, name string, verr *generic.ValidationError) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		verr.Add(name, "must be a non-negative integer")
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   message,
			Details: err.Error(),
			Fields:  fieldsOf(err),
		})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Logger.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

// fieldsOf extracts per-field messages from a client error.
func fieldsOf(err error) map[string]string {
	var verr *generic.ValidationError
	if errors.As(err, &verr) {
		return verr.FieldMap()
	}
	var derr *generic.InvalidDateError
	if errors.As(err, &derr) && derr.Field != "" {
		return map[string]string{derr.Field: fmt.Sprintf("%s: %s", derr.Value, derr.Reason)}
	}
	var aerr *generic.InvalidAmountError
	if errors.As(err, &aerr) && aerr.Field != "" {
		return map[string]string{aerr.Field: aerr.Reason}
	}
	return nil
}
