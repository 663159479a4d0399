package paymentplan_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// REFERENCE SCENARIOS
// =============================================================================

func TestSchedule_EnrolmentWithInitialPayment(t *testing.T) {
	// GIVEN: $10,000 course, $1,000 fees, $1,000 initial, 11 monthly, 7 days lead
	params := enrolment()

	// WHEN: generating the schedule
	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	require.NoError(t, err)

	// THEN: 12 rows that add up to the commissionable value
	require.Len(t, installments, 12)
	assert.Equal(t, "9000.00", paymentplan.ScheduleTotal(installments).String())

	initial := installments[0]
	assert.True(t, initial.IsInitialPayment)
	assert.Equal(t, 0, initial.Number)
	assert.Equal(t, "1000.00", initial.Amount.String())
	assert.Equal(t, "2025-01-15", initial.StudentDueDate.String())
	assert.Equal(t, "2025-01-15", initial.InstitutionDueDate.String())
	assert.Equal(t, paymentplan.StatusDraft, initial.Status)
	assert.Nil(t, initial.PaidAmount)

	first := installments[1]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "727.27", first.Amount.String())
	assert.Equal(t, "2025-02-01", first.InstitutionDueDate.String())
	assert.Equal(t, "2025-01-25", first.StudentDueDate.String())
	assert.True(t, first.GeneratesCommission)

	last := installments[11]
	assert.Equal(t, 11, last.Number)
	assert.Equal(t, "727.30", last.Amount.String())
	assert.Equal(t, "2025-12-01", last.InstitutionDueDate.String())
	assert.Equal(t, "2025-11-24", last.StudentDueDate.String())

	// Expected commission on the GST-inclusive plan
	cv, err := paymentplan.CalculateCommissionableValue(params.TotalCourseValue, params.Fees.Materials, params.Fees.Admin, params.Fees.Other)
	require.NoError(t, err)
	assert.Equal(t, "1227.27", paymentplan.CalculateExpectedCommission(cv, params.CommissionRate, true).String())
	assert.Equal(t, "1350.00", paymentplan.CalculateExpectedCommission(cv, params.CommissionRate, false).String())
}

func TestSchedule_RemainderOnLastInstallment(t *testing.T) {
	// GIVEN: $10,000 in three installments, no fees, no initial payment
	installments, err := paymentplan.GenerateInstallmentSchedule(simple("10000", 3))
	require.NoError(t, err)

	// THEN: 3333.33 + 3333.33 + 3333.34
	require.Len(t, installments, 3)
	assert.Equal(t, "3333.33", installments[0].Amount.String())
	assert.Equal(t, "3333.33", installments[1].Amount.String())
	assert.Equal(t, "3333.34", installments[2].Amount.String())
	assert.Equal(t, []int{1, 2, 3}, numbers(installments))
}

func TestSchedule_PaidInitialPayment(t *testing.T) {
	params := enrolment()
	params.InitialPayment.Paid = true

	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	require.NoError(t, err)

	initial := installments[0]
	assert.Equal(t, paymentplan.StatusPaid, initial.Status)
	require.NotNil(t, initial.PaidAmount)
	assert.Equal(t, "1000.00", initial.PaidAmount.String())
	assert.Equal(t, "2025-01-15", initial.PaidDate.String())
}

func TestSchedule_QuarterlyClampsMonthEnd(t *testing.T) {
	params := simple("4000", 4)
	params.Frequency = paymentplan.FrequencyQuarterly
	params.FirstDueDate = d("2025-01-31")
	params.StudentLeadTimeDays = 0

	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	require.NoError(t, err)

	var dates []string
	for _, inst := range installments {
		dates = append(dates, inst.InstitutionDueDate.String())
	}
	assert.Equal(t, []string{"2025-01-31", "2025-04-30", "2025-07-31", "2025-10-31"}, dates)
}

func TestSchedule_CustomFrequencyLeavesDatesEmpty(t *testing.T) {
	// GIVEN: custom frequency
	params := simple("6000", 3)
	params.Frequency = paymentplan.FrequencyCustom
	params.FirstDueDate = generic.Date{}

	// WHEN: generating
	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	require.NoError(t, err)

	// THEN: placeholders with no dates, Draft whatever the day
	for _, inst := range installments {
		assert.Nil(t, inst.StudentDueDate)
		assert.Nil(t, inst.InstitutionDueDate)
		for _, now := range []string{"2000-01-01", "2025-06-01", "2099-12-31"} {
			assert.Equal(t, paymentplan.StatusDraft, paymentplan.ResolveInstallmentStatus(inst, d(now)))
		}
	}
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestSchedule_ExactReconciliationForEveryCount(t *testing.T) {
	totals := []struct {
		total, fees string
	}{
		{"10000", "0"},
		{"12345.67", "345.67"},
		{"9999.99", "1234.56"},
		{"0.01", "0"},
		{"1000000", "0.01"},
	}
	for _, tc := range totals {
		for count := 1; count <= paymentplan.MaxInstallmentCount; count++ {
			params := simple(tc.total, count)
			params.Fees.Other = m(tc.fees)

			installments, err := paymentplan.GenerateInstallmentSchedule(params)
			require.NoError(t, err)
			require.Len(t, installments, count)

			want := m(tc.total).Sub(m(tc.fees))
			if !assert.Equal(t, want, paymentplan.ScheduleTotal(installments), "total=%s count=%d", tc.total, count) {
				return
			}

			// Only the last installment may differ from the base.
			base := installments[0].Amount
			for _, inst := range installments[:count-1] {
				if !assert.Equal(t, base, inst.Amount, "total=%s count=%d n=%d", tc.total, count, inst.Number) {
					return
				}
			}
			last := installments[count-1].Amount
			assert.False(t, last.LessThan(base))
			assert.True(t, last.Sub(base).Cents() < int64(count), "remainder below one cent per installment")
		}
	}
}

func TestSchedule_InitialPaymentEqualToCommissionableValue(t *testing.T) {
	// GIVEN: an initial payment covering the whole commissionable value
	params := simple("5000", 4)
	params.InitialPayment = &paymentplan.InitialPayment{Amount: m("5000"), DueDate: d("2025-01-15"), Paid: true}

	// WHEN: generating
	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	require.NoError(t, err)

	// THEN: four zero-amount regular installments that need no payment
	require.Len(t, installments, 5)
	assert.Equal(t, "5000.00", paymentplan.ScheduleTotal(installments).String())
	for _, inst := range installments[1:] {
		assert.True(t, inst.Amount.IsZero())
		assert.Equal(t, paymentplan.StatusPaid, paymentplan.ResolveInstallmentStatus(inst, d("2026-01-01")))
	}

	plan := paymentplan.Plan{Params: params, Installments: installments}
	summary := paymentplan.AggregatePlan(plan, d("2025-02-01"))
	assert.Equal(t, paymentplan.PlanCompleted, summary.Status)
	assert.Equal(t, 100, summary.ProgressPercent)
}

func TestSchedule_InitialPaymentCoversCustomPlan(t *testing.T) {
	// GIVEN: a custom plan whose initial payment covers everything
	params := simple("1000", 3)
	params.Frequency = paymentplan.FrequencyCustom
	params.FirstDueDate = generic.Date{}
	params.InitialPayment = &paymentplan.InitialPayment{Amount: m("1000"), DueDate: d("2025-01-15")}

	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	require.NoError(t, err)
	require.Len(t, installments, 4)

	// THEN: the zero-amount placeholders stay Draft until they are dated
	for _, inst := range installments[1:] {
		assert.True(t, inst.Amount.IsZero())
		assert.Nil(t, inst.PaidAmount)
		for _, now := range []string{"2025-01-01", "2099-12-31"} {
			assert.Equal(t, paymentplan.StatusDraft, paymentplan.ResolveInstallmentStatus(inst, d(now)))
		}
	}
	plan := paymentplan.Plan{Params: params, Installments: installments}
	assert.Equal(t, paymentplan.PlanActive, paymentplan.AggregatePlan(plan, d("2025-02-01")).Status)

	// WHEN: the college dates them
	dated, err := paymentplan.AssignDueDates(installments, []paymentplan.DueDateAssignment{
		{Number: 1, InstitutionDueDate: d("2025-03-01")},
		{Number: 2, InstitutionDueDate: d("2025-06-01")},
		{Number: 3, InstitutionDueDate: d("2025-09-01")},
	}, params.StudentLeadTimeDays)
	require.NoError(t, err)

	// THEN: nothing is owed on them
	for _, inst := range dated[1:] {
		assert.Equal(t, paymentplan.StatusPaid, paymentplan.ResolveInstallmentStatus(inst, d("2025-02-01")))
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSchedule_ValidationFailuresProduceNothing(t *testing.T) {
	cases := map[string]struct {
		mutate func(p *paymentplan.PlanParameters)
		field  string
	}{
		"zero count":           {func(p *paymentplan.PlanParameters) { p.InstallmentCount = 0 }, "installment_count"},
		"too many":             {func(p *paymentplan.PlanParameters) { p.InstallmentCount = 1001 }, "installment_count"},
		"rate above one":       {func(p *paymentplan.PlanParameters) { p.CommissionRate = rate("1.01") }, "commission_rate"},
		"negative rate":        {func(p *paymentplan.PlanParameters) { p.CommissionRate = rate("-0.01") }, "commission_rate"},
		"negative fee":         {func(p *paymentplan.PlanParameters) { p.Fees.Materials = m("-5") }, "fees.materials"},
		"zero total":           {func(p *paymentplan.PlanParameters) { p.TotalCourseValue = generic.Zero }, "total_course_value"},
		"unknown frequency":    {func(p *paymentplan.PlanParameters) { p.Frequency = "weekly" }, "frequency"},
		"missing first due":    {func(p *paymentplan.PlanParameters) { p.FirstDueDate = generic.Date{} }, "first_due_date"},
		"negative lead time":   {func(p *paymentplan.PlanParameters) { p.StudentLeadTimeDays = -1 }, "student_lead_time_days"},
		"initial above cv":     {func(p *paymentplan.PlanParameters) { p.InitialPayment.Amount = m("9000.01") }, "initial_payment.amount"},
		"initial without date": {func(p *paymentplan.PlanParameters) { p.InitialPayment.DueDate = generic.Date{} }, "initial_payment.due_date"},
		"negative initial":     {func(p *paymentplan.PlanParameters) { p.InitialPayment.Amount = m("-1") }, "initial_payment.amount"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			params := enrolment()
			tc.mutate(&params)

			installments, err := paymentplan.GenerateInstallmentSchedule(params)
			assert.Nil(t, installments)
			require.Error(t, err)
			assert.True(t, generic.IsClientError(err))

			var verr *generic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.FieldMap(), tc.field)
		})
	}
}

func TestSchedule_FeesAboveTotal(t *testing.T) {
	params := enrolment()
	params.Fees.Other = m("9500")

	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	assert.Nil(t, installments)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestNewPlanParameters_CollectsEveryProblem(t *testing.T) {
	params := enrolment()
	params.InstallmentCount = 0
	params.CommissionRate = rate("2")
	params.StudentLeadTimeDays = -3

	_, err := paymentplan.NewPlanParameters(params)

	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3, fmt.Sprint(verr.Fields))
}

func numbers(installments []paymentplan.Installment) []int {
	out := make([]int, len(installments))
	for i, inst := range installments {
		out[i] = inst.Number
	}
	return out
}
