/*
Package paymentplan implements installment generation and commission
calculation for education-agency payment plans.

PURPOSE:
  An agency enrols a student in a college course. The college pays the agency a
  commission on the tuition it collects. This package turns the commercial terms
  of that enrolment (course value, fees, commission rate, cadence, lead time)
  into a reconciled installment schedule, then derives the live view of it:
  installment statuses, plan progress, earned commission and agency-wide
  dashboard figures.

KEY CONCEPTS IN THIS FILE (types.go):
  - PlanParameters: the immutable inputs of one schedule generation
  - Installment: one row of the schedule (number 0 = initial payment)
  - Status: derived installment lifecycle state
  - Plan: parameters + installments + ownership (agency, college, student)
  - PlanSummary / AgencyAggregate: read-side projections

PURITY:
  Calculators in this package (commission.go, schedule.go, status.go,
  aggregate.go) perform no I/O and never read the clock. The caller passes
  "now". Only service.go talks to a Store.

SEE ALSO:
  - params.go: validation of PlanParameters
  - schedule.go: GenerateInstallmentSchedule
  - status.go: ResolveInstallmentStatus
  - aggregate.go: AggregatePlan, AggregateAgency
*/
package paymentplan

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlanID string
type InstallmentID string
type AgencyID string
type CollegeID string
type StudentID string

// =============================================================================
// PLAN PARAMETERS - Inputs of one generation call
// =============================================================================

type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyCustom    Frequency = "custom"
)

// Valid reports whether f is one of the known cadences.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyCustom:
		return true
	}
	return false
}

// Fees are the non-commissionable components of the course price.
type Fees struct {
	Materials generic.Money `json:"materials"`
	Admin     generic.Money `json:"admin"`
	Other     generic.Money `json:"other"`
}

// Total returns materials + admin + other.
func (f Fees) Total() generic.Money {
	return generic.Sum(f.Materials, f.Admin, f.Other)
}

// InitialPayment is an optional up-front installment with its own negotiated
// due date.
type InitialPayment struct {
	Amount  generic.Money `json:"amount"`
	DueDate generic.Date  `json:"due_date"`
	Paid    bool          `json:"paid"`
}

// PlanParameters are the commercial terms a schedule is generated from.
type PlanParameters struct {
	TotalCourseValue    generic.Money   `json:"total_course_value"`
	Fees                Fees            `json:"fees"`
	CommissionRate      decimal.Decimal `json:"commission_rate"`
	GSTInclusive        bool            `json:"gst_inclusive"`
	InitialPayment      *InitialPayment `json:"initial_payment,omitempty"`
	InstallmentCount    int             `json:"installment_count"`
	Frequency           Frequency       `json:"frequency"`
	FirstDueDate        generic.Date    `json:"first_due_date"`
	StudentLeadTimeDays int             `json:"student_lead_time_days"`
}

// =============================================================================
// INSTALLMENT - One row of a schedule
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusDueSoon   Status = "due_soon"
	StatusOverdue   Status = "overdue"
	StatusPaid      Status = "paid"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
)

// IsSettled returns true for statuses that carry recorded money.
func (s Status) IsSettled() bool {
	return s == StatusPaid || s == StatusPartial
}

// Installment is one scheduled payment. Amount, number and due dates are fixed
// at generation; only the payment fields change afterwards. Status is derived
// from the other fields and is stored only as a cache of the last evaluation.
type Installment struct {
	ID                  InstallmentID  `json:"id,omitempty"`
	PlanID              PlanID         `json:"plan_id,omitempty"`
	Number              int            `json:"number"`
	Amount              generic.Money  `json:"amount"`
	StudentDueDate      *generic.Date  `json:"student_due_date"`
	InstitutionDueDate  *generic.Date  `json:"institution_due_date"`
	IsInitialPayment    bool           `json:"is_initial_payment"`
	GeneratesCommission bool           `json:"generates_commission"`
	PaidDate            *generic.Date  `json:"paid_date"`
	PaidAmount          *generic.Money `json:"paid_amount"`
	Status              Status         `json:"status"`
}

// Paid returns the recorded payment, or zero when none is recorded.
func (i Installment) Paid() generic.Money {
	if i.PaidAmount == nil {
		return generic.Zero
	}
	return *i.PaidAmount
}

// Credited returns the part of the recorded payment that counts towards the
// plan: the payment capped at the installment amount.
func (i Installment) Credited() generic.Money {
	return i.Paid().Min(i.Amount)
}

// Outstanding returns amount minus recorded payment, never below zero.
func (i Installment) Outstanding() generic.Money {
	return i.Amount.Sub(i.Paid()).Max(generic.Zero)
}

// HasPayment reports whether any payment was recorded.
func (i Installment) HasPayment() bool {
	return i.PaidAmount != nil && i.PaidAmount.IsPositive()
}

// =============================================================================
// PLAN - Ownership + parameters + schedule
// =============================================================================

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
)

// Plan is a persisted schedule together with who it belongs to.
type Plan struct {
	ID           PlanID         `json:"id"`
	AgencyID     AgencyID       `json:"agency_id"`
	CollegeID    CollegeID      `json:"college_id"`
	StudentID    StudentID      `json:"student_id"`
	Params       PlanParameters `json:"params"`
	Installments []Installment  `json:"installments"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// College is a registry entry used to label agency aggregates.
type College struct {
	ID        CollegeID `json:"id"`
	AgencyID  AgencyID  `json:"agency_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// READ-SIDE PROJECTIONS
// =============================================================================

// PlanSummary is the derived progress view of one plan. Never persisted.
type PlanSummary struct {
	CommissionableValue generic.Money `json:"commissionable_value"`
	ExpectedCommission  generic.Money `json:"expected_commission"`
	EarnedCommission    generic.Money `json:"earned_commission"`
	TotalPaid           generic.Money `json:"total_paid"`
	Outstanding         generic.Money `json:"outstanding"`
	TotalInstallments   int           `json:"total_installments"`
	PaidInstallments    int           `json:"paid_installments"`
	OverdueInstallments int           `json:"overdue_installments"`
	ProgressPercent     int           `json:"progress_percent"`
	Status              PlanStatus    `json:"status"`
	NextDueDate         *generic.Date `json:"next_due_date"`
}

// CollegeRevenue is one row of the top-colleges ranking.
type CollegeRevenue struct {
	CollegeID        CollegeID     `json:"college_id"`
	Name             string        `json:"name,omitempty"`
	EarnedCommission generic.Money `json:"earned_commission"`
	Plans            int           `json:"plans"`
}

// CashFlowBucket is the projected inflow for one calendar month.
type CashFlowBucket struct {
	Month  generic.Date  `json:"month"`
	Amount generic.Money `json:"amount"`
}

// AgencyAggregate is the dashboard view across every plan of an agency.
type AgencyAggregate struct {
	AsOf              generic.Date     `json:"as_of"`
	OverdueTotal      generic.Money    `json:"overdue_total"`
	ProjectedCashFlow generic.Money    `json:"projected_cash_flow"`
	ProjectionWindow  generic.Window   `json:"projection_window"`
	TopColleges       []CollegeRevenue `json:"top_colleges"`
	CashFlowByMonth   []CashFlowBucket `json:"cash_flow_by_month"`
	ActivePlans       int              `json:"active_plans"`
	CompletedPlans    int              `json:"completed_plans"`
	ExpectedTotal     generic.Money    `json:"expected_commission_total"`
	EarnedTotal       generic.Money    `json:"earned_commission_total"`
}
