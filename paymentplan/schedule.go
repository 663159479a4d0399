/*
schedule.go - Installment schedule generation

PURPOSE:
  Turns PlanParameters into the ordered list of installments the agency will
  track. Generation happens once, at plan creation (or on a wholesale
  regenerate-and-replace edit).

ALGORITHM:
  1. commissionable = total - fees                       (commission.go)
  2. remaining      = commissionable - initial payment   (fails if negative)
  3. base           = floor(remaining / count) to the cent
  4. remainder      = remaining - base x count
  5. installments 1..count get base; the LAST one gets base + remainder
  6. the optional initial payment is installment 0
  7. due dates: institution date steps from FirstDueDate by the cadence, the
     student date is the institution date minus the lead time; the initial
     payment uses its own date for both; custom cadence leaves dates nil

INVARIANTS:
  - sum(amount) == commissionable value, to the cent
  - numbers are {0..N} with an initial payment, {1..N} without
  - only installment N differs from base
  - failure returns no installments at all

EXAMPLE:
  course 10000, fees 500/300/200, initial 1000, 11 monthly from 2025-02-01,
  lead time 7:
    #0  1000.00  due 2025-01-15 / 2025-01-15
    #1   727.27  due 2025-01-25 / 2025-02-01
    ...
    #11  727.30  due 2025-11-24 / 2025-12-01

SEE ALSO:
  - params.go: Validate, called first
  - status.go: what happens to the rows afterwards
*/
package paymentplan

import (
	"fmt"

	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// CADENCE - Where regular installments fall on the calendar
// =============================================================================

// Cadence places regular installments on the calendar.
type Cadence interface {
	// InstitutionDueDate returns the institution-facing due date of regular
	// installment n (1-based). ok is false when the cadence leaves dates to be
	// assigned later.
	InstitutionDueDate(first generic.Date, n int) (due generic.Date, ok bool)
}

type monthlyCadence struct {
	step int // months between installments
}

func (c monthlyCadence) InstitutionDueDate(first generic.Date, n int) (generic.Date, bool) {
	return first.AddMonths((n - 1) * c.step), true
}

type customCadence struct{}

func (customCadence) InstitutionDueDate(generic.Date, int) (generic.Date, bool) {
	return generic.Date{}, false
}

// CadenceFor returns the cadence of a frequency.
func CadenceFor(f Frequency) (Cadence, error) {
	switch f {
	case FrequencyMonthly:
		return monthlyCadence{step: 1}, nil
	case FrequencyQuarterly:
		return monthlyCadence{step: 3}, nil
	case FrequencyCustom:
		return customCadence{}, nil
	default:
		return nil, generic.NewValidationError("frequency", fmt.Sprintf("unknown frequency %q", f))
	}
}

// =============================================================================
// GENERATOR
// =============================================================================

// GenerateInstallmentSchedule produces the reconciled installment list for p.
// It validates p first and returns a *generic.ValidationError (and no
// installments) on any bad input.
func GenerateInstallmentSchedule(p PlanParameters) ([]Installment, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cadence, err := CadenceFor(p.Frequency)
	if err != nil {
		return nil, err
	}

	commissionable, err := CalculateCommissionableValue(p.TotalCourseValue, p.Fees.Materials, p.Fees.Admin, p.Fees.Other)
	if err != nil {
		return nil, err
	}

	remaining := commissionable
	if p.InitialPayment != nil {
		remaining = remaining.Sub(p.InitialPayment.Amount)
	}
	if remaining.IsNegative() {
		return nil, generic.NewValidationError("initial_payment.amount", "exceeds the commissionable value")
	}

	base, remainder := remaining.SplitFloor(p.InstallmentCount)

	installments := make([]Installment, 0, p.InstallmentCount+1)
	if ip := p.InitialPayment; ip != nil {
		installments = append(installments, initialInstallment(*ip))
	}

	for n := 1; n <= p.InstallmentCount; n++ {
		amount := base
		if n == p.InstallmentCount {
			amount = base.Add(remainder)
		}
		inst := Installment{
			Number:              n,
			Amount:              amount,
			GeneratesCommission: true,
			Status:              StatusDraft,
		}
		if due, ok := cadence.InstitutionDueDate(p.FirstDueDate, n); ok {
			student := due.SubtractDays(p.StudentLeadTimeDays)
			inst.InstitutionDueDate = &due
			inst.StudentDueDate = &student
		}
		installments = append(installments, inst)
	}

	return installments, nil
}

// initialInstallment builds installment 0. A payment marked paid at creation is
// recorded in full on its due date so the status resolver agrees it is Paid.
func initialInstallment(ip InitialPayment) Installment {
	inst := Installment{
		Number:              0,
		Amount:              ip.Amount,
		StudentDueDate:      generic.DatePtr(ip.DueDate),
		InstitutionDueDate:  generic.DatePtr(ip.DueDate),
		IsInitialPayment:    true,
		GeneratesCommission: true,
		Status:              StatusDraft,
	}
	if ip.Paid {
		amount := ip.Amount
		inst.PaidAmount = &amount
		inst.PaidDate = generic.DatePtr(ip.DueDate)
		inst.Status = StatusPaid
	}
	return inst
}

// ScheduleTotal sums the amounts of a schedule.
func ScheduleTotal(installments []Installment) generic.Money {
	total := generic.Zero
	for _, inst := range installments {
		total = total.Add(inst.Amount)
	}
	return total
}
