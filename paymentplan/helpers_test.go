package paymentplan_test

import (
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) generic.Date { return generic.MustParseDate(s) }

func m(s string) generic.Money { return generic.MustParseMoney(s) }

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// enrolment is the reference plan: $10,000 course, $1,000 of fees, a $1,000
// initial payment and 11 monthly installments from 2025-02-01, 7 days lead.
func enrolment() paymentplan.PlanParameters {
	return paymentplan.PlanParameters{
		TotalCourseValue: m("10000"),
		Fees:             paymentplan.Fees{Materials: m("500"), Admin: m("300"), Other: m("200")},
		CommissionRate:   rate("0.15"),
		GSTInclusive:     true,
		InitialPayment: &paymentplan.InitialPayment{
			Amount:  m("1000"),
			DueDate: d("2025-01-15"),
		},
		InstallmentCount:    11,
		Frequency:           paymentplan.FrequencyMonthly,
		FirstDueDate:        d("2025-02-01"),
		StudentLeadTimeDays: 7,
	}
}

// simple is a fee-free plan without an initial payment.
func simple(total string, count int) paymentplan.PlanParameters {
	return paymentplan.PlanParameters{
		TotalCourseValue:    m(total),
		CommissionRate:      rate("0.15"),
		InstallmentCount:    count,
		Frequency:           paymentplan.FrequencyMonthly,
		FirstDueDate:        d("2025-02-01"),
		StudentLeadTimeDays: 7,
	}
}

// planOf generates params into a Plan with stable IDs.
func planOf(id string, college paymentplan.CollegeID, params paymentplan.PlanParameters) paymentplan.Plan {
	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	if err != nil {
		panic(err)
	}
	for i := range installments {
		installments[i].ID = paymentplan.InstallmentID(id + "-" + string(rune('a'+installments[i].Number)))
		installments[i].PlanID = paymentplan.PlanID(id)
	}
	return paymentplan.Plan{
		ID:           paymentplan.PlanID(id),
		AgencyID:     "agency-1",
		CollegeID:    college,
		StudentID:    paymentplan.StudentID("student-" + id),
		Params:       params,
		Installments: installments,
	}
}

// pay records a full or partial payment on installment n of plan.
func pay(plan *paymentplan.Plan, n int, amount generic.Money, on generic.Date) {
	for i, inst := range plan.Installments {
		if inst.Number != n {
			continue
		}
		updated, err := paymentplan.RecordPayment(inst, amount, on)
		if err != nil {
			panic(err)
		}
		plan.Installments[i] = updated
		return
	}
	panic("no such installment")
}
