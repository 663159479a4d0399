package paymentplan

import (
	"fmt"

	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment adds amount to the installment's recorded payment. Several
// partial payments accumulate; the paid date tracks the latest one. The
// returned installment carries its re-derived status (Partial or Paid).
func RecordPayment(inst Installment, amount generic.Money, paidDate generic.Date) (Installment, error) {
	if !amount.IsPositive() {
		return inst, &generic.InvalidAmountError{Field: "amount", Value: amount.String(), Reason: "must be greater than zero"}
	}
	if paidDate.IsZero() {
		return inst, &generic.InvalidDateError{Field: "paid_date", Reason: "is required"}
	}

	paid := inst.Paid().Add(amount)
	inst.PaidAmount = &paid
	if inst.PaidDate == nil || paidDate.After(*inst.PaidDate) {
		inst.PaidDate = generic.DatePtr(paidDate)
	}
	inst.Status = ResolveInstallmentStatus(inst, paidDate)
	return inst, nil
}

// =============================================================================
// CUSTOM DUE DATES
// =============================================================================

// DueDateAssignment gives one custom-cadence placeholder its institution due
// date.
type DueDateAssignment struct {
	Number             int          `json:"number"`
	InstitutionDueDate generic.Date `json:"institution_due_date"`
}

// AssignDueDates fills in the dates of placeholder installments (those without
// a student due date). The student date is the institution date minus
// leadTimeDays. Installments that already have dates are refused, as are
// unknown or repeated numbers. Either every assignment applies or none does;
// the input slice is never modified.
func AssignDueDates(installments []Installment, assignments []DueDateAssignment, leadTimeDays int) ([]Installment, error) {
	verr := &generic.ValidationError{}
	if len(assignments) == 0 {
		verr.Add("assignments", "must not be empty")
	}
	if leadTimeDays < 0 {
		verr.Add("student_lead_time_days", "must not be negative")
	}

	byNumber := make(map[int]int, len(installments))
	for i, inst := range installments {
		byNumber[inst.Number] = i
	}

	out := make([]Installment, len(installments))
	copy(out, installments)

	seen := make(map[int]bool, len(assignments))
	for _, a := range assignments {
		field := fmt.Sprintf("assignments[%d]", a.Number)
		if seen[a.Number] {
			verr.Add(field, "installment assigned twice")
			continue
		}
		seen[a.Number] = true

		i, ok := byNumber[a.Number]
		if !ok {
			verr.Add(field, "no such installment")
			continue
		}
		if out[i].StudentDueDate != nil {
			verr.Add(field, "installment already has due dates")
			continue
		}
		if a.InstitutionDueDate.IsZero() {
			verr.Fields = append(verr.Fields, generic.FieldError{
				Field: field + ".institution_due_date", Message: "is required", Kind: generic.ErrInvalidDate,
			})
			continue
		}

		due := a.InstitutionDueDate
		student := due.SubtractDays(leadTimeDays)
		out[i].InstitutionDueDate = &due
		out[i].StudentDueDate = &student
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
