/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	agencies, colleges, plans and payments. Dates are relative to the day the
	scenario is loaded, so the demo always shows a mix of paid, overdue and
	upcoming installments.

AVAILABLE SCENARIOS:

	monthly-plan:     One GST-inclusive monthly plan with an initial payment
	custom-schedule:  Custom frequency, placeholders dated after creation
	agency-dashboard: Three colleges, several students, mixed payment history

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Register colleges
 3. Create plans from JSON via the factory
 4. Record payments and assign due dates through the service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "agency-dashboard"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared helpers
  - factory/plan.go: Plan JSON definitions
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// DemoAgency owns every plan the scenarios create.
const DemoAgency paymentplan.AgencyID = "agency-demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "monthly-plan",
		Name:        "Monthly Plan",
		Description: "GST-inclusive course with fees, an initial payment and 11 monthly installments",
	},
	{
		ID:          "custom-schedule",
		Name:        "Custom Schedule",
		Description: "Custom frequency: installments start as drafts and are dated afterwards",
	},
	{
		ID:          "agency-dashboard",
		Name:        "Agency Dashboard",
		Description: "Three colleges, five students, paid, partial and overdue installments",
	},
}

// resetter is implemented by stores that can be wiped for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(ctx context.Context, today generic.Date) error
	switch req.ScenarioID {
	case "monthly-plan":
		load = h.loadMonthlyPlanScenario
	case "custom-schedule":
		load = h.loadCustomScheduleScenario
	case "agency-dashboard":
		load = h.loadAgencyDashboardScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeServiceError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h.today()); err != nil {
		h.writeServiceError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears all data.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		h.writeServiceError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Service.Store.(resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	// Reset wipes every agency; the demo agency is the only one we know of.
	h.Service.InvalidateDashboard(ctx, DemoAgency)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMonthlyPlanScenario(ctx context.Context, today generic.Date) error {
	college, err := h.createCollege(ctx, "college-sce", "Sydney College of English")
	if err != nil {
		return err
	}

	// Started three months ago: initial payment and two installments settled.
	start := today.StartOfMonth().AddMonths(-3)
	plan, err := h.createPlanFromJSON(ctx, college.ID, "student-ana", today, fmt.Sprintf(`{
		"total_course_value": "10000.00",
		"fees": {"materials": "500", "admin": "300", "other": "200"},
		"commission_rate": "0.15",
		"gst_inclusive": true,
		"initial_payment": {"amount": "1000", "due_date": "%s", "paid": true},
		"installment_count": 11,
		"frequency": "monthly",
		"first_due_date": "%s",
		"student_lead_time_days": 7
	}`, start, start.AddMonths(1)))
	if err != nil {
		return err
	}

	return h.payInstallments(ctx, plan, 1, 2)
}

func (h *Handler) loadCustomScheduleScenario(ctx context.Context, today generic.Date) error {
	college, err := h.createCollege(ctx, "college-mit", "Melbourne Institute of Technology")
	if err != nil {
		return err
	}

	plan, err := h.createPlanFromJSON(ctx, college.ID, "student-ben", today, `{
		"total_course_value": "24000",
		"fees": {"materials": "1200"},
		"commission_rate": "0.20",
		"gst_inclusive": false,
		"installment_count": 4,
		"frequency": "custom",
		"student_lead_time_days": 14
	}`)
	if err != nil {
		return err
	}

	// The college confirmed the first two census dates; the rest stay drafts.
	census := today.StartOfMonth().AddMonths(1)
	_, err = h.Service.AssignDueDates(ctx, plan.ID, []paymentplan.DueDateAssignment{
		{Number: 1, InstitutionDueDate: census},
		{Number: 2, InstitutionDueDate: census.AddMonths(4)},
	}, today)
	return err
}

func (h *Handler) loadAgencyDashboardScenario(ctx context.Context, today generic.Date) error {
	colleges := []struct {
		id, name string
	}{
		{"college-sce", "Sydney College of English"},
		{"college-mit", "Melbourne Institute of Technology"},
		{"college-bba", "Brisbane Business Academy"},
	}
	for _, c := range colleges {
		if _, err := h.createCollege(ctx, paymentplan.CollegeID(c.id), c.name); err != nil {
			return err
		}
	}

	start := today.StartOfMonth()
	plans := []struct {
		college paymentplan.CollegeID
		student paymentplan.StudentID
		json    string
		paid    []int
		partial int
	}{
		{
			college: "college-sce", student: "student-ana", paid: []int{1, 2, 3},
			json: monthlyPlanJSON("12000", "0.15", 6, start.AddMonths(-4)),
		},
		{
			// Only the first installment paid; the rest that fell due are overdue.
			college: "college-sce", student: "student-caio", paid: []int{1},
			json: monthlyPlanJSON("6000", "0.15", 6, start.AddMonths(-3)),
		},
		{
			college: "college-mit", student: "student-dana", paid: []int{1, 2}, partial: 3,
			json: monthlyPlanJSON("30000", "0.20", 10, start.AddMonths(-3)),
		},
		{
			college: "college-bba", student: "student-eli", paid: []int{1, 2, 3, 4},
			json: monthlyPlanJSON("8000", "0.10", 4, start.AddMonths(-5)),
		},
		{
			college: "college-bba", student: "student-fay",
			json: quarterlyPlanJSON("16000", "0.12", 4, start.AddMonths(1)),
		},
	}

	for _, p := range plans {
		plan, err := h.createPlanFromJSON(ctx, p.college, p.student, today, p.json)
		if err != nil {
			return fmt.Errorf("plan for %s: %w", p.student, err)
		}
		if err := h.payInstallments(ctx, plan, p.paid...); err != nil {
			return err
		}
		if p.partial > 0 {
			inst, ok := installmentNumber(plan, p.partial)
			if !ok {
				return fmt.Errorf("plan %s has no installment %d", plan.ID, p.partial)
			}
			half, _ := inst.Amount.SplitFloor(2)
			if _, err := h.Service.RecordPayment(ctx, inst.ID, half, *inst.StudentDueDate); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func monthlyPlanJSON(total, rate string, count int, firstDue generic.Date) string {
	return fmt.Sprintf(`{
		"total_course_value": "%s",
		"commission_rate": "%s",
		"installment_count": %d,
		"frequency": "monthly",
		"first_due_date": "%s",
		"student_lead_time_days": 7
	}`, total, rate, count, firstDue)
}

func quarterlyPlanJSON(total, rate string, count int, firstDue generic.Date) string {
	return fmt.Sprintf(`{
		"total_course_value": "%s",
		"commission_rate": "%s",
		"installment_count": %d,
		"frequency": "quarterly",
		"first_due_date": "%s",
		"student_lead_time_days": 10
	}`, total, rate, count, firstDue)
}

func (h *Handler) createCollege(ctx context.Context, id paymentplan.CollegeID, name string) (paymentplan.College, error) {
	return h.Service.SaveCollege(ctx, paymentplan.College{ID: id, AgencyID: DemoAgency, Name: name})
}

func (h *Handler) createPlanFromJSON(ctx context.Context, college paymentplan.CollegeID, student paymentplan.StudentID, asOf generic.Date, jsonStr string) (paymentplan.Plan, error) {
	params, err := h.Plans.ParsePlan(jsonStr)
	if err != nil {
		return paymentplan.Plan{}, err
	}
	return h.Service.CreatePlan(ctx, paymentplan.NewPlan{
		AgencyID:  DemoAgency,
		CollegeID: college,
		StudentID: student,
		Params:    params,
	}, asOf)
}

// payInstallments settles the given regular installments in full on their
// student due date.
func (h *Handler) payInstallments(ctx context.Context, plan paymentplan.Plan, numbers ...int) error {
	for _, n := range numbers {
		inst, ok := installmentNumber(plan, n)
		if !ok {
			return fmt.Errorf("plan %s has no installment %d", plan.ID, n)
		}
		if _, err := h.Service.RecordPayment(ctx, inst.ID, inst.Amount, *inst.StudentDueDate); err != nil {
			return err
		}
	}
	return nil
}

func installmentNumber(plan paymentplan.Plan, n int) (paymentplan.Installment, bool) {
	for _, inst := range plan.Installments {
		if inst.Number == n && !inst.IsInitialPayment {
			return inst, true
		}
	}
	return paymentplan.Installment{}, false
}
