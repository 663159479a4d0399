/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validate tags checked by factory.Validator, so a bad body is reported as
  one 400 with every offending field keyed by its JSON path.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers around domain values
  - *DTO: Small standalone response types

TYPES:
  Colleges:   CreateCollegeRequest
  Plans:      CreatePlanRequest, PreviewPlanRequest, ReplaceScheduleRequest,
              PlanResponse, PreviewResponse
  Schedule:   AssignDueDatesRequest, DueDateDTO
  Payments:   RecordPaymentRequest
  Scenarios:  ScenarioDTO, LoadScenarioRequest
  Errors:     ErrorResponse

MONEY AND DATES:
  Money travels as a decimal string ("1234.50") and dates as YYYY-MM-DD, in
  both directions. Domain types marshal themselves that way.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON type
*/
package api

import (
	"encoding/json"

	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// COLLEGES
// =============================================================================

// CreateCollegeRequest registers a college. ID is optional.
type CreateCollegeRequest struct {
	ID       string `json:"id,omitempty"`
	AgencyID string `json:"agency_id" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
}

// =============================================================================
// PLANS
// =============================================================================

// CreatePlanRequest is the request to create and persist a plan. AsOf
// defaults to today.
type CreatePlanRequest struct {
	AgencyID  string           `json:"agency_id" validate:"required"`
	CollegeID string           `json:"college_id" validate:"required"`
	StudentID string           `json:"student_id" validate:"required"`
	Plan      factory.PlanJSON `json:"plan"`
	AsOf      string           `json:"as_of,omitempty" validate:"omitempty,isodate"`
}

// PreviewPlanRequest generates a schedule without saving it.
type PreviewPlanRequest struct {
	Plan factory.PlanJSON `json:"plan"`
	AsOf string           `json:"as_of,omitempty" validate:"omitempty,isodate"`
}

// ReplaceScheduleRequest regenerates the schedule of an unpaid plan.
type ReplaceScheduleRequest struct {
	Plan factory.PlanJSON `json:"plan"`
	AsOf string           `json:"as_of,omitempty" validate:"omitempty,isodate"`
}

// PlanResponse is a plan with its derived summary.
type PlanResponse struct {
	paymentplan.Plan
	Summary paymentplan.PlanSummary `json:"summary"`
}

// PreviewResponse is an unsaved schedule with its derived summary.
type PreviewResponse struct {
	Installments []paymentplan.Installment `json:"installments"`
	Summary      paymentplan.PlanSummary   `json:"summary"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// DueDateDTO supplies the institution due date of one installment.
type DueDateDTO struct {
	Number             int    `json:"number" validate:"min=0"`
	InstitutionDueDate string `json:"institution_due_date" validate:"required,isodate"`
}

// AssignDueDatesRequest dates the placeholders of a custom-frequency plan.
type AssignDueDatesRequest struct {
	Assignments []DueDateDTO `json:"assignments" validate:"required,min=1,dive"`
	AsOf        string       `json:"as_of,omitempty" validate:"omitempty,isodate"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentRequest records money received against an installment.
type RecordPaymentRequest struct {
	Amount   json.Number `json:"amount" validate:"required,money"`
	PaidDate string      `json:"paid_date" validate:"required,isodate"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Fields is set for
// validation failures.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
