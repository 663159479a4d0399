package paymentplan

import (
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// COMMISSION CALCULATOR
// =============================================================================

// GSTDivisor strips the 10% GST component from a GST-inclusive amount.
var GSTDivisor = decimal.RequireFromString("1.10")

// CalculateCommissionableValue returns total - materials - admin - other.
//
// Negative inputs fail with *generic.InvalidAmountError; fees that exceed the
// course value fail with *generic.ValidationError.
func CalculateCommissionableValue(total, materials, admin, other generic.Money) (generic.Money, error) {
	for _, in := range []struct {
		field string
		value generic.Money
	}{
		{"total_course_value", total},
		{"fees.materials", materials},
		{"fees.admin", admin},
		{"fees.other", other},
	} {
		if in.value.IsNegative() {
			return generic.Zero, &generic.InvalidAmountError{Field: in.field, Value: in.value.String(), Reason: "must not be negative"}
		}
	}

	cv := total.Sub(materials).Sub(admin).Sub(other)
	if cv.IsNegative() {
		return generic.Zero, generic.NewValidationError("fees", "fees exceed the total course value by "+cv.Neg().String())
	}
	return cv, nil
}

// CommissionBase is the amount the rate applies to: the commissionable value,
// with GST stripped (rounded to the cent) when it is GST-inclusive.
func CommissionBase(commissionable generic.Money, gstInclusive bool) generic.Money {
	if gstInclusive {
		return commissionable.DivRate(GSTDivisor)
	}
	return commissionable
}

// CalculateExpectedCommission returns base x rate rounded to the cent.
//
// Each step rounds to the cent, so for any V:
//
//	CalculateExpectedCommission(V, r, true) == CalculateExpectedCommission(CommissionBase(V, true), r, false)
func CalculateExpectedCommission(commissionable generic.Money, rate decimal.Decimal, gstInclusive bool) generic.Money {
	return CommissionBase(commissionable, gstInclusive).MulRate(rate)
}

// CalculateEarnedCommission prorates the expected commission by how much of the
// commissionable value has been paid:
//
//	earned = expected x totalPaid / commissionable
//
// rounded once, at the end. A zero commissionable value earns nothing.
func CalculateEarnedCommission(expected, commissionable, totalPaid generic.Money) generic.Money {
	if !commissionable.IsPositive() {
		return generic.Zero
	}
	return generic.NewMoney(
		expected.Decimal().Mul(totalPaid.Decimal()).DivRound(commissionable.Decimal(), 16),
	)
}

// EarnedCommissionFromInstallments is the per-installment formulation of
// earned commission. Each installment that generates commission earns
// expected x credited / commissionable; the shares are summed unrounded and
// rounded to the cent once, so the result equals CalculateEarnedCommission
// over the same payments.
func EarnedCommissionFromInstallments(p PlanParameters, installments []Installment) generic.Money {
	cv := commissionableOrTotal(p, installments)
	if !cv.IsPositive() {
		return generic.Zero
	}
	expected := CalculateExpectedCommission(cv, p.CommissionRate, p.GSTInclusive).Decimal()

	shares := decimal.Zero
	for _, inst := range installments {
		if !inst.GeneratesCommission || !inst.HasPayment() {
			continue
		}
		shares = shares.Add(expected.Mul(inst.Credited().Decimal()))
	}
	return generic.NewMoney(shares.DivRound(cv.Decimal(), 16))
}

// commissionableOrTotal is the commissionable value of p, or the schedule
// total when p no longer validates.
func commissionableOrTotal(p PlanParameters, installments []Installment) generic.Money {
	cv, err := CalculateCommissionableValue(p.TotalCourseValue, p.Fees.Materials, p.Fees.Admin, p.Fees.Other)
	if err != nil {
		return ScheduleTotal(installments)
	}
	return cv
}
