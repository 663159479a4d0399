package paymentplan

import (
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// MaxInstallmentCount bounds a single schedule.
const MaxInstallmentCount = 1000

// NewPlanParameters validates p and returns it unchanged on success. Every
// field problem is collected into one *generic.ValidationError, so a form can
// show all of them at once.
func NewPlanParameters(p PlanParameters) (PlanParameters, error) {
	if err := p.Validate(); err != nil {
		return PlanParameters{}, err
	}
	return p, nil
}

// Validate checks ranges and cross-field rules:
//   - total_course_value > 0, each fee >= 0
//   - commissionable value (total - fees) >= 0
//   - 0 <= commission_rate <= 1
//   - 1 <= installment_count <= MaxInstallmentCount
//   - frequency known; first_due_date required unless custom
//   - student_lead_time_days >= 0
//   - initial payment: amount >= 0, due date set, amount <= commissionable value
func (p PlanParameters) Validate() error {
	verr := &generic.ValidationError{}

	if !p.TotalCourseValue.IsPositive() {
		verr.Fields = append(verr.Fields, generic.FieldError{
			Field: "total_course_value", Message: "must be greater than zero", Kind: generic.ErrInvalidAmount,
		})
	}
	nonNegative(verr, "fees.materials", p.Fees.Materials)
	nonNegative(verr, "fees.admin", p.Fees.Admin)
	nonNegative(verr, "fees.other", p.Fees.Other)

	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		verr.Add("commission_rate", "must be between 0 and 1")
	}
	if p.InstallmentCount <= 0 {
		verr.Add("installment_count", "must be at least 1")
	} else if p.InstallmentCount > MaxInstallmentCount {
		verr.Add("installment_count", "must be at most 1000")
	}
	if !p.Frequency.Valid() {
		verr.Add("frequency", "must be one of monthly, quarterly, custom")
	} else if p.Frequency != FrequencyCustom && p.FirstDueDate.IsZero() {
		verr.Fields = append(verr.Fields, generic.FieldError{
			Field: "first_due_date", Message: "is required for monthly and quarterly plans", Kind: generic.ErrInvalidDate,
		})
	}
	if p.StudentLeadTimeDays < 0 {
		verr.Add("student_lead_time_days", "must not be negative")
	}

	if ip := p.InitialPayment; ip != nil {
		nonNegative(verr, "initial_payment.amount", ip.Amount)
		if ip.DueDate.IsZero() {
			verr.Fields = append(verr.Fields, generic.FieldError{
				Field: "initial_payment.due_date", Message: "is required", Kind: generic.ErrInvalidDate,
			})
		}
	}

	// Cross-field rules only make sense once the amounts themselves are sane.
	if verr.HasErrors() {
		return verr
	}

	cv, err := CalculateCommissionableValue(p.TotalCourseValue, p.Fees.Materials, p.Fees.Admin, p.Fees.Other)
	if err != nil {
		return err
	}
	if ip := p.InitialPayment; ip != nil && ip.Amount.GreaterThan(cv) {
		verr.Add("initial_payment.amount", "must not exceed the commissionable value "+cv.String())
	}
	return verr.OrNil()
}

func nonNegative(verr *generic.ValidationError, field string, m generic.Money) {
	if m.IsNegative() {
		verr.Fields = append(verr.Fields, generic.FieldError{
			Field: field, Message: "must not be negative", Kind: generic.ErrInvalidAmount,
		})
	}
}
