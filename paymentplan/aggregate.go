/*
aggregate.go - Read-side rollups of installments

PURPOSE:
  Turns stored installments plus "now" into the numbers dashboards show:
  per-plan progress and earned commission, and per-agency overdue totals,
  projected cash flow and the top colleges by earned commission.

KEY INSIGHT:
  Nothing here trusts the stored status column. Every rollup re-resolves each
  installment against the same "now" first, so a plan is always summarised
  from one consistent snapshot even if the nightly re-evaluation has not run.

PLAN SUMMARY:
  totalPaid  = sum(min(paid, amount)) over installments with a payment
  progress   = round(totalPaid / commissionable x 100), clamped to 0..100
  expected   = CalculateExpectedCommission(commissionable, rate, gst)
  earned     = expected x totalPaid / commissionable
  status     = Completed when every installment is Paid, else Active

AGENCY AGGREGATE:
  overdueTotal      = sum(amount) over Overdue installments
  projectedCashFlow = sum(amount - paid) over installments whose student due
                      date falls in [asOf, asOf+ProjectionDays]
  topColleges       = earned commission grouped by college, descending,
                      ties broken by college ID, first TopN

DEGENERATE INPUTS:
  A zero commissionable value yields 0% progress and zero earned commission.
  No plans yields an all-zero aggregate.

SEE ALSO:
  - status.go: StatusResolver
  - commission.go: expected/earned formulas
*/
package paymentplan

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// OPTIONS
// =============================================================================

const (
	DefaultProjectionDays = 90
	DefaultTopColleges    = 5
)

// AggregateOptions tunes the agency rollup.
type AggregateOptions struct {
	DueSoonWindowDays int
	ProjectionDays    int
	TopN              int
}

// DefaultAggregateOptions returns the dashboard defaults: a 5-day due-soon
// window, a 90-day projection and the top 5 colleges.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{
		DueSoonWindowDays: DefaultDueSoonWindowDays,
		ProjectionDays:    DefaultProjectionDays,
		TopN:              DefaultTopColleges,
	}
}

func (o AggregateOptions) withDefaults() AggregateOptions {
	if o.DueSoonWindowDays < 0 {
		o.DueSoonWindowDays = DefaultDueSoonWindowDays
	}
	if o.ProjectionDays <= 0 {
		o.ProjectionDays = DefaultProjectionDays
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopColleges
	}
	return o
}

// =============================================================================
// PLAN SUMMARY
// =============================================================================

// AggregatePlan summarises one plan as of now with the default due-soon window.
func AggregatePlan(plan Plan, now generic.Date) PlanSummary {
	return AggregateInstallments(plan.Params, plan.Installments, now, NewStatusResolver(DefaultDueSoonWindowDays))
}

// AggregateInstallments summarises a schedule generated from params. It never
// fails: parameters that no longer validate fall back to the schedule total as
// the commissionable value.
func AggregateInstallments(params PlanParameters, installments []Installment, now generic.Date, resolver StatusResolver) PlanSummary {
	cv := commissionableOrTotal(params, installments)
	expected := CalculateExpectedCommission(cv, params.CommissionRate, params.GSTInclusive)

	summary := PlanSummary{
		CommissionableValue: cv,
		ExpectedCommission:  expected,
		TotalPaid:           generic.Zero,
		Outstanding:         generic.Zero,
		TotalInstallments:   len(installments),
		Status:              PlanActive,
	}

	for _, inst := range installments {
		status := resolver.Resolve(inst, now)
		if inst.HasPayment() {
			summary.TotalPaid = summary.TotalPaid.Add(inst.Credited())
		}
		summary.Outstanding = summary.Outstanding.Add(inst.Outstanding())

		switch status {
		case StatusPaid:
			summary.PaidInstallments++
			continue
		case StatusOverdue:
			summary.OverdueInstallments++
		}
		if inst.StudentDueDate != nil && !inst.StudentDueDate.IsZero() {
			if summary.NextDueDate == nil || inst.StudentDueDate.Before(*summary.NextDueDate) {
				summary.NextDueDate = generic.DatePtr(*inst.StudentDueDate)
			}
		}
	}

	summary.EarnedCommission = CalculateEarnedCommission(expected, cv, summary.TotalPaid)
	summary.ProgressPercent = progressPercent(summary.TotalPaid, cv)
	if len(installments) > 0 && summary.PaidInstallments == len(installments) {
		summary.Status = PlanCompleted
	}
	return summary
}

func progressPercent(paid, commissionable generic.Money) int {
	if !commissionable.IsPositive() {
		return 0
	}
	pct := paid.Ratio(commissionable).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}

// =============================================================================
// AGENCY AGGREGATE
// =============================================================================

// AggregateAgency rolls every plan of an agency up as of asOf with the default
// options.
func AggregateAgency(plans []Plan, asOf generic.Date) AgencyAggregate {
	return AggregateAgencyWithOptions(plans, asOf, DefaultAggregateOptions())
}

// AggregateAgencyWithOptions is AggregateAgency with explicit options.
func AggregateAgencyWithOptions(plans []Plan, asOf generic.Date, opts AggregateOptions) AgencyAggregate {
	opts = opts.withDefaults()
	resolver := NewStatusResolver(opts.DueSoonWindowDays)
	window := generic.NextDays(asOf, opts.ProjectionDays)

	agg := AgencyAggregate{
		AsOf:              asOf,
		OverdueTotal:      generic.Zero,
		ProjectedCashFlow: generic.Zero,
		ProjectionWindow:  window,
		ExpectedTotal:     generic.Zero,
		EarnedTotal:       generic.Zero,
	}

	byCollege := make(map[CollegeID]*CollegeRevenue)
	for _, plan := range plans {
		summary := AggregateInstallments(plan.Params, plan.Installments, asOf, resolver)
		if summary.Status == PlanCompleted {
			agg.CompletedPlans++
		} else {
			agg.ActivePlans++
		}
		agg.ExpectedTotal = agg.ExpectedTotal.Add(summary.ExpectedCommission)
		agg.EarnedTotal = agg.EarnedTotal.Add(summary.EarnedCommission)

		rev, ok := byCollege[plan.CollegeID]
		if !ok {
			rev = &CollegeRevenue{CollegeID: plan.CollegeID, EarnedCommission: generic.Zero}
			byCollege[plan.CollegeID] = rev
		}
		rev.EarnedCommission = rev.EarnedCommission.Add(summary.EarnedCommission)
		rev.Plans++

		for _, inst := range plan.Installments {
			if resolver.Resolve(inst, asOf) == StatusOverdue {
				agg.OverdueTotal = agg.OverdueTotal.Add(inst.Amount)
			}
		}
	}

	agg.ProjectedCashFlow = ProjectCashFlow(plans, window)
	agg.CashFlowByMonth = ProjectCashFlowByMonth(plans, window)
	agg.TopColleges = topColleges(byCollege, opts.TopN)
	return agg
}

// ProjectCashFlow sums what is still owed on installments whose student due
// date falls inside window.
func ProjectCashFlow(plans []Plan, window generic.Window) generic.Money {
	total := generic.Zero
	for _, plan := range plans {
		for _, inst := range plan.Installments {
			if inst.StudentDueDate == nil || !window.Contains(*inst.StudentDueDate) {
				continue
			}
			total = total.Add(inst.Outstanding())
		}
	}
	return total
}

// ProjectCashFlowByMonth splits ProjectCashFlow into calendar-month buckets.
// Every month the window touches gets a bucket, empty ones included.
func ProjectCashFlowByMonth(plans []Plan, window generic.Window) []CashFlowBucket {
	months := window.Months()
	buckets := make([]CashFlowBucket, len(months))
	index := make(map[string]int, len(months))
	for i, m := range months {
		buckets[i] = CashFlowBucket{Month: m, Amount: generic.Zero}
		index[m.String()] = i
	}
	for _, plan := range plans {
		for _, inst := range plan.Installments {
			if inst.StudentDueDate == nil || !window.Contains(*inst.StudentDueDate) {
				continue
			}
			i := index[inst.StudentDueDate.StartOfMonth().String()]
			buckets[i].Amount = buckets[i].Amount.Add(inst.Outstanding())
		}
	}
	return buckets
}

func topColleges(byCollege map[CollegeID]*CollegeRevenue, n int) []CollegeRevenue {
	ranked := make([]CollegeRevenue, 0, len(byCollege))
	for _, rev := range byCollege {
		ranked = append(ranked, *rev)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].EarnedCommission.Cmp(ranked[j].EarnedCommission); c != 0 {
			return c > 0
		}
		return ranked[i].CollegeID < ranked[j].CollegeID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
