// Package storetest is the behaviour every paymentplan.TxStore must share.
// Each store package runs it against its own constructor.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// Resetter is implemented by stores that can drop all their data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Run exercises newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) paymentplan.TxStore) {
	t.Run("SaveAndGetPlan", func(t *testing.T) { testSaveAndGetPlan(t, newStore(t)) })
	t.Run("DuplicatePlan", func(t *testing.T) { testDuplicatePlan(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ListPlansByAgency", func(t *testing.T) { testListPlans(t, newStore(t)) })
	t.Run("ReplaceInstallments", func(t *testing.T) { testReplaceInstallments(t, newStore(t)) })
	t.Run("UpdateInstallments", func(t *testing.T) { testUpdateInstallments(t, newStore(t)) })
	t.Run("WithTxRollsBack", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("Colleges", func(t *testing.T) { testColleges(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

var created = time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

// Plan generates a plan with a paid initial payment and stable IDs.
func Plan(id paymentplan.PlanID, agency paymentplan.AgencyID) paymentplan.Plan {
	params := paymentplan.PlanParameters{
		TotalCourseValue: generic.MustParseMoney("10000"),
		Fees:             paymentplan.Fees{Materials: generic.MustParseMoney("500"), Admin: generic.MustParseMoney("300"), Other: generic.MustParseMoney("200")},
		CommissionRate:   decimal.RequireFromString("0.15"),
		GSTInclusive:     true,
		InitialPayment: &paymentplan.InitialPayment{
			Amount:  generic.MustParseMoney("1000"),
			DueDate: generic.MustParseDate("2025-01-15"),
			Paid:    true,
		},
		InstallmentCount:    3,
		Frequency:           paymentplan.FrequencyMonthly,
		FirstDueDate:        generic.MustParseDate("2025-02-01"),
		StudentLeadTimeDays: 7,
	}
	return planWith(id, agency, params)
}

// CustomPlan generates a plan whose regular installments have no dates yet.
func CustomPlan(id paymentplan.PlanID, agency paymentplan.AgencyID) paymentplan.Plan {
	params := paymentplan.PlanParameters{
		TotalCourseValue:    generic.MustParseMoney("3000"),
		CommissionRate:      decimal.RequireFromString("0.10"),
		InstallmentCount:    2,
		Frequency:           paymentplan.FrequencyCustom,
		StudentLeadTimeDays: 14,
	}
	return planWith(id, agency, params)
}

func planWith(id paymentplan.PlanID, agency paymentplan.AgencyID, params paymentplan.PlanParameters) paymentplan.Plan {
	installments, err := paymentplan.GenerateInstallmentSchedule(params)
	if err != nil {
		panic(err)
	}
	for i := range installments {
		installments[i].ID = paymentplan.InstallmentID(fmt.Sprintf("%s-%d", id, installments[i].Number))
		installments[i].PlanID = id
		installments[i].Status = paymentplan.ResolveInstallmentStatus(installments[i], generic.DateOf(created))
	}
	return paymentplan.Plan{
		ID:           id,
		AgencyID:     agency,
		CollegeID:    "college-1",
		StudentID:    paymentplan.StudentID("student-" + string(id)),
		Params:       params,
		Installments: installments,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// Rows renders installments in a form that compares across stores.
func Rows(installments []paymentplan.Installment) []string {
	out := make([]string, len(installments))
	for i, inst := range installments {
		out[i] = fmt.Sprintf("%s #%d %s student=%s institution=%s initial=%t commission=%t paid=%s on %s %s",
			inst.ID, inst.Number, inst.Amount,
			dateString(inst.StudentDueDate), dateString(inst.InstitutionDueDate),
			inst.IsInitialPayment, inst.GeneratesCommission,
			moneyString(inst.PaidAmount), dateString(inst.PaidDate), inst.Status)
	}
	return out
}

func dateString(d *generic.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func moneyString(m *generic.Money) string {
	if m == nil {
		return "-"
	}
	return m.String()
}

// =============================================================================
// PLANS
// =============================================================================

func testSaveAndGetPlan(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	for _, plan := range []paymentplan.Plan{Plan("p1", "agency-1"), CustomPlan("p2", "agency-1")} {
		// WHEN: the plan is saved and read back
		require.NoError(t, store.SavePlan(ctx, plan))
		got, err := store.GetPlan(ctx, plan.ID)
		require.NoError(t, err)

		// THEN: every field survives, NULL columns included
		assert.Equal(t, plan.AgencyID, got.AgencyID)
		assert.Equal(t, plan.CollegeID, got.CollegeID)
		assert.Equal(t, plan.StudentID, got.StudentID)
		assert.True(t, plan.CreatedAt.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
		assert.Equal(t, Rows(plan.Installments), Rows(got.Installments))

		assert.Equal(t, plan.Params.TotalCourseValue, got.Params.TotalCourseValue)
		assert.Equal(t, plan.Params.Fees, got.Params.Fees)
		assert.True(t, plan.Params.CommissionRate.Equal(got.Params.CommissionRate))
		assert.Equal(t, plan.Params.Frequency, got.Params.Frequency)
		assert.Equal(t, plan.Params.FirstDueDate.String(), got.Params.FirstDueDate.String())
		assert.Equal(t, plan.Params.InitialPayment != nil, got.Params.InitialPayment != nil)
	}

	inst, err := store.GetInstallment(ctx, "p1-0")
	require.NoError(t, err)
	assert.True(t, inst.IsInitialPayment)
	assert.Equal(t, paymentplan.PlanID("p1"), inst.PlanID)
	assert.Equal(t, paymentplan.StatusPaid, inst.Status)
	require.NotNil(t, inst.PaidAmount)
	assert.Equal(t, "1000.00", inst.PaidAmount.String())
}

func testDuplicatePlan(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, Plan("p1", "agency-1")))

	err := store.SavePlan(ctx, Plan("p1", "agency-1"))
	assert.True(t, errors.Is(err, generic.ErrDuplicate), "got %v", err)
}

func testNotFound(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()

	_, err := store.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrPlanNotFound)

	_, err = store.GetInstallment(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrInstallmentNotFound)

	_, err = store.GetCollege(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrCollegeNotFound)

	err = store.ReplaceInstallments(ctx, "missing", Plan("x", "a").Params, nil, created)
	assert.ErrorIs(t, err, generic.ErrPlanNotFound)

	err = store.UpdateInstallments(ctx, []paymentplan.Installment{{ID: "missing", Status: paymentplan.StatusPaid}})
	assert.ErrorIs(t, err, generic.ErrInstallmentNotFound)
}

func testListPlans(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, Plan("p1", "agency-1")))
	require.NoError(t, store.SavePlan(ctx, Plan("p2", "agency-2")))
	later := Plan("p3", "agency-1")
	later.CreatedAt = created.Add(time.Hour)
	require.NoError(t, store.SavePlan(ctx, later))

	plans, err := store.ListPlans(ctx, "agency-1")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, paymentplan.PlanID("p1"), plans[0].ID)
	assert.Equal(t, paymentplan.PlanID("p3"), plans[1].ID)
	assert.Len(t, plans[1].Installments, 4)

	all, err := store.ListPlans(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.ListPlans(ctx, "agency-9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testReplaceInstallments(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	original := Plan("p1", "agency-1")
	require.NoError(t, store.SavePlan(ctx, original))

	// WHEN: the schedule is swapped for a two-installment custom one
	replacement := CustomPlan("p1", "agency-1")
	for i := range replacement.Installments {
		replacement.Installments[i].ID = paymentplan.InstallmentID(fmt.Sprintf("p1-v2-%d", i))
	}
	updatedAt := created.Add(24 * time.Hour)
	require.NoError(t, store.ReplaceInstallments(ctx, "p1", replacement.Params, replacement.Installments, updatedAt))

	// THEN: the old rows are gone and the parameters follow
	got, err := store.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Rows(replacement.Installments), Rows(got.Installments))
	assert.Equal(t, paymentplan.FrequencyCustom, got.Params.Frequency)
	assert.True(t, updatedAt.Equal(got.UpdatedAt))

	_, err = store.GetInstallment(ctx, "p1-1")
	assert.ErrorIs(t, err, generic.ErrInstallmentNotFound)
}

func testUpdateInstallments(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, CustomPlan("p1", "agency-1")))

	inst, err := store.GetInstallment(ctx, "p1-1")
	require.NoError(t, err)

	// WHEN: dates and a payment are written
	due := generic.MustParseDate("2025-03-01")
	student := due.SubtractDays(14)
	paid := generic.MustParseMoney("250.50")
	inst.InstitutionDueDate = &due
	inst.StudentDueDate = &student
	inst.PaidAmount = &paid
	inst.PaidDate = generic.DatePtr(generic.MustParseDate("2025-02-10"))
	inst.Status = paymentplan.StatusPartial
	inst.Amount = generic.MustParseMoney("1") // not a mutable column
	require.NoError(t, store.UpdateInstallments(ctx, []paymentplan.Installment{inst}))

	// THEN: the mutable columns changed, the amount did not
	got, err := store.GetInstallment(ctx, "p1-1")
	require.NoError(t, err)
	assert.Equal(t, "1500.00", got.Amount.String())
	assert.Equal(t, "2025-02-15", got.StudentDueDate.String())
	assert.Equal(t, "2025-03-01", got.InstitutionDueDate.String())
	assert.Equal(t, "250.50", got.PaidAmount.String())
	assert.Equal(t, "2025-02-10", got.PaidDate.String())
	assert.Equal(t, paymentplan.StatusPartial, got.Status)
}

func testWithTxRollback(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, Plan("p1", "agency-1")))
	boom := errors.New("boom")

	// WHEN: a transaction writes and then fails
	err := store.WithTx(ctx, func(tx paymentplan.Store) error {
		inst, err := tx.GetInstallment(ctx, "p1-1")
		if err != nil {
			return err
		}
		inst.Status = paymentplan.StatusOverdue
		if err := tx.UpdateInstallments(ctx, []paymentplan.Installment{inst}); err != nil {
			return err
		}
		if err := tx.SavePlan(ctx, Plan("p2", "agency-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN: nothing it wrote is visible
	inst, err := store.GetInstallment(ctx, "p1-1")
	require.NoError(t, err)
	assert.Equal(t, paymentplan.StatusPending, inst.Status)
	_, err = store.GetPlan(ctx, "p2")
	assert.ErrorIs(t, err, generic.ErrPlanNotFound)

	// AND: a successful transaction commits
	err = store.WithTx(ctx, func(tx paymentplan.Store) error {
		return tx.SavePlan(ctx, Plan("p3", "agency-1"))
	})
	require.NoError(t, err)
	_, err = store.GetPlan(ctx, "p3")
	assert.NoError(t, err)
}

// =============================================================================
// COLLEGES
// =============================================================================

func testColleges(t *testing.T, store paymentplan.TxStore) {
	ctx := context.Background()
	require.NoError(t, store.SaveCollege(ctx, paymentplan.College{ID: "c2", AgencyID: "agency-1", Name: "Westbrook Institute", CreatedAt: created}))
	require.NoError(t, store.SaveCollege(ctx, paymentplan.College{ID: "c1", AgencyID: "agency-1", Name: "Harbour College", CreatedAt: created}))
	require.NoError(t, store.SaveCollege(ctx, paymentplan.College{ID: "c3", AgencyID: "agency-2", Name: "Elsewhere", CreatedAt: created}))

	colleges, err := store.ListColleges(ctx, "agency-1")
	require.NoError(t, err)
	require.Len(t, colleges, 2)
	assert.Equal(t, "Harbour College", colleges[0].Name)
	assert.Equal(t, "Westbrook Institute", colleges[1].Name)

	// Saving again renames and keeps the creation time
	require.NoError(t, store.SaveCollege(ctx, paymentplan.College{ID: "c1", AgencyID: "agency-1", Name: "Harbour Polytechnic", CreatedAt: created.Add(time.Hour)}))
	got, err := store.GetCollege(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Harbour Polytechnic", got.Name)
	assert.True(t, created.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
}

func testReset(t *testing.T, store paymentplan.TxStore) {
	r, ok := store.(Resetter)
	if !ok {
		t.Skip("store cannot reset")
	}
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, Plan("p1", "agency-1")))
	require.NoError(t, store.SaveCollege(ctx, paymentplan.College{ID: "c1", AgencyID: "agency-1", Name: "Harbour College", CreatedAt: created}))

	require.NoError(t, r.Reset(ctx))

	plans, err := store.ListPlans(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, plans)
	colleges, err := store.ListColleges(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, colleges)
}
