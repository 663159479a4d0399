package paymentplan_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/cache"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
	"github.com/warp/commission-engine/store/memory"
)

// =============================================================================
// SERVICE FIXTURE
// =============================================================================

func newService(t *testing.T) (*paymentplan.Service, *memory.Memory) {
	t.Helper()
	store := memory.New()
	svc := paymentplan.NewService(store, cache.NewMemory(0))

	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.Clock = func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store
}

func withCollege(t *testing.T, svc *paymentplan.Service, id paymentplan.CollegeID, name string) {
	t.Helper()
	_, err := svc.SaveCollege(context.Background(), paymentplan.College{ID: id, AgencyID: "agency-1", Name: name})
	require.NoError(t, err)
}

func createSimple(t *testing.T, svc *paymentplan.Service, total string, count int, asOf string) paymentplan.Plan {
	t.Helper()
	plan, err := svc.CreatePlan(context.Background(), paymentplan.NewPlan{
		AgencyID:  "agency-1",
		CollegeID: "c1",
		StudentID: "s1",
		Params:    simple(total, count),
	}, d(asOf))
	require.NoError(t, err)
	return plan
}

// =============================================================================
// CREATE / PREVIEW
// =============================================================================

func TestService_CreatePlanPersistsEvaluatedSchedule(t *testing.T) {
	// GIVEN: a registered college
	ctx := context.Background()
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")

	// WHEN: creating a $3,000 plan in three installments as of 2025-01-01
	plan := createSimple(t, svc, "3000", 3, "2025-01-01")

	// THEN: rows carry IDs and statuses, and the store returns the same plan
	require.Len(t, plan.Installments, 3)
	for _, inst := range plan.Installments {
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, plan.ID, inst.PlanID)
		assert.Equal(t, paymentplan.StatusPending, inst.Status)
	}

	stored, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Installments, stored.Installments)
	assert.Equal(t, "3000.00", paymentplan.ScheduleTotal(stored.Installments).String())
}

func TestService_CreatePlanRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")

	// Missing identifiers
	_, err := svc.CreatePlan(ctx, paymentplan.NewPlan{Params: simple("1000", 2)}, d("2025-01-01"))
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)

	// Invalid parameters
	params := simple("1000", 2)
	params.InstallmentCount = 0
	_, err = svc.CreatePlan(ctx, paymentplan.NewPlan{AgencyID: "agency-1", CollegeID: "c1", StudentID: "s1", Params: params}, d("2025-01-01"))
	assert.ErrorIs(t, err, generic.ErrValidation)

	// College of another agency
	_, err = svc.CreatePlan(ctx, paymentplan.NewPlan{AgencyID: "agency-2", CollegeID: "c1", StudentID: "s1", Params: simple("1000", 2)}, d("2025-01-01"))
	assert.ErrorIs(t, err, generic.ErrCollegeNotFound)

	// Nothing was persisted
	plans, err := svc.ListPlans(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestService_PreviewPersistsNothing(t *testing.T) {
	svc, _ := newService(t)

	installments, summary, err := svc.PreviewPlan(enrolment(), d("2025-01-12"))
	require.NoError(t, err)

	assert.Len(t, installments, 12)
	assert.Equal(t, paymentplan.StatusDueSoon, installments[0].Status)
	assert.Equal(t, "1227.27", summary.ExpectedCommission.String())

	plans, err := svc.ListPlans(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, plans)
}

// =============================================================================
// SCHEDULE CHANGES
// =============================================================================

func TestService_ReplaceScheduleLockedAfterPayment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")
	plan := createSimple(t, svc, "3000", 3, "2025-01-01")

	// GIVEN: no payment yet, the schedule can be replaced
	replaced, err := svc.ReplaceSchedule(ctx, plan.ID, simple("6000", 2), d("2025-01-01"))
	require.NoError(t, err)
	require.Len(t, replaced.Installments, 2)
	assert.Equal(t, "3000.00", replaced.Installments[0].Amount.String())

	// WHEN: a payment is recorded
	_, err = svc.RecordPayment(ctx, replaced.Installments[0].ID, m("100"), d("2025-01-20"))
	require.NoError(t, err)

	// THEN: the schedule is locked and unchanged
	_, err = svc.ReplaceSchedule(ctx, plan.ID, simple("6000", 4), d("2025-01-01"))
	assert.ErrorIs(t, err, generic.ErrScheduleLocked)

	stored, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Installments, 2)
	assert.Equal(t, "6000.00", stored.Params.TotalCourseValue.String())
}

func TestService_AssignDueDates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")

	params := simple("3000", 3)
	params.Frequency = paymentplan.FrequencyCustom
	params.FirstDueDate = generic.Date{}
	plan, err := svc.CreatePlan(ctx, paymentplan.NewPlan{AgencyID: "agency-1", CollegeID: "c1", StudentID: "s1", Params: params}, d("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, paymentplan.StatusDraft, plan.Installments[0].Status)

	// WHEN: #1 is confirmed for 2025-03-01 and evaluated on 2025-02-26
	updated, err := svc.AssignDueDates(ctx, plan.ID, []paymentplan.DueDateAssignment{
		{Number: 1, InstitutionDueDate: d("2025-03-01")},
	}, d("2025-02-26"))
	require.NoError(t, err)

	// THEN: student date 02-22 has passed
	assert.Equal(t, paymentplan.StatusOverdue, updated.Installments[0].Status)
	stored, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-22", stored.Installments[0].StudentDueDate.String())
	assert.Equal(t, paymentplan.StatusDraft, stored.Installments[1].Status)

	// A second assignment of the same row is refused
	_, err = svc.AssignDueDates(ctx, plan.ID, []paymentplan.DueDateAssignment{
		{Number: 1, InstitutionDueDate: d("2025-04-01")},
	}, d("2025-02-26"))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestService_RecordPayment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")
	plan := createSimple(t, svc, "3000", 3, "2025-01-01")
	first := plan.Installments[0].ID

	inst, err := svc.RecordPayment(ctx, first, m("400"), d("2025-01-20"))
	require.NoError(t, err)
	assert.Equal(t, paymentplan.StatusPartial, inst.Status)

	inst, err = svc.RecordPayment(ctx, first, m("600"), d("2025-01-22"))
	require.NoError(t, err)
	assert.Equal(t, paymentplan.StatusPaid, inst.Status)

	summary, err := svc.Summary(ctx, plan.ID, d("2025-01-22"))
	require.NoError(t, err)
	assert.Equal(t, "1000.00", summary.TotalPaid.String())
	assert.Equal(t, "150.00", summary.EarnedCommission.String())

	_, err = svc.RecordPayment(ctx, first, m("-1"), d("2025-01-22"))
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = svc.RecordPayment(ctx, "missing", m("1"), d("2025-01-22"))
	assert.ErrorIs(t, err, generic.ErrInstallmentNotFound)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestService_DashboardCachedUntilWrite(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	withCollege(t, svc, "c1", "Harbour College")
	plan := createSimple(t, svc, "3000", 3, "2025-01-01")

	// GIVEN: a computed dashboard (#1 and #2 overdue on 03-01)
	first, err := svc.Dashboard(ctx, "agency-1", d("2025-03-01"), paymentplan.AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2000.00", first.OverdueTotal.String())
	require.Len(t, first.TopColleges, 1)
	assert.Equal(t, "Harbour College", first.TopColleges[0].Name)

	// WHEN: a plan is written behind the service's back
	require.NoError(t, store.SavePlan(ctx, planOf("x", "c1", simple("3000", 3))))

	// THEN: the cached aggregate is served
	cached, err := svc.Dashboard(ctx, "agency-1", d("2025-03-01"), paymentplan.AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2000.00", cached.OverdueTotal.String())

	// WHEN: a payment goes through the service
	_, err = svc.RecordPayment(ctx, plan.Installments[0].ID, m("1000"), d("2025-01-25"))
	require.NoError(t, err)

	// THEN: the entry is invalidated and both plans are counted
	fresh, err := svc.Dashboard(ctx, "agency-1", d("2025-03-01"), paymentplan.AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "3000.00", fresh.OverdueTotal.String())
	assert.Equal(t, 2, fresh.ActivePlans)
}

// gatedStore holds the first ListPlans call until release is closed.
type gatedStore struct {
	paymentplan.TxStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListPlans(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	plans, err := g.TxStore.ListPlans(ctx, agencyID)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return plans, err
}

func TestService_DashboardDoesNotCacheAggregateOlderThanWrite(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	withCollege(t, svc, "c1", "Harbour College")
	plan := createSimple(t, svc, "3000", 3, "2025-01-01")

	gate := &gatedStore{TxStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	svc.Store = gate

	// GIVEN: a dashboard request that has read the plans but not cached yet
	type result struct {
		agg paymentplan.AgencyAggregate
		err error
	}
	done := make(chan result, 1)
	go func() {
		agg, err := svc.Dashboard(ctx, "agency-1", d("2025-03-01"), paymentplan.AggregateOptions{})
		done <- result{agg, err}
	}()
	<-gate.entered

	// WHEN: a payment lands before it fills the cache
	_, err := svc.RecordPayment(ctx, plan.Installments[0].ID, m("1000"), d("2025-01-25"))
	require.NoError(t, err)
	close(gate.release)

	stale := <-done
	require.NoError(t, stale.err)
	assert.Equal(t, "2000.00", stale.agg.OverdueTotal.String())

	// THEN: the next read sees the payment
	fresh, err := svc.Dashboard(ctx, "agency-1", d("2025-03-01"), paymentplan.AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", fresh.OverdueTotal.String())
	assert.Equal(t, "150.00", fresh.EarnedTotal.String())
}

func TestService_DashboardRequiresAgency(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Dashboard(context.Background(), "", d("2025-03-01"), paymentplan.AggregateOptions{})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// RE-EVALUATION
// =============================================================================

func TestService_ReevaluateStatuses(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")
	plan := createSimple(t, svc, "3000", 3, "2025-01-01")

	// WHEN: re-evaluating on 2025-02-26
	result, err := svc.ReevaluateStatuses(ctx, d("2025-02-26"))
	require.NoError(t, err)

	// THEN: #1 and #2 moved to overdue and were persisted
	assert.Equal(t, 1, result.PlansScanned)
	require.Len(t, result.Transitions, 2)
	assert.Equal(t, paymentplan.StatusOverdue, result.Transitions[1].To)

	stored, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentplan.StatusOverdue, stored.Installments[0].Status)
	assert.Equal(t, paymentplan.StatusOverdue, stored.Installments[1].Status)
	assert.Equal(t, paymentplan.StatusPending, stored.Installments[2].Status)

	// A second pass on the same day changes nothing
	again, err := svc.ReevaluateStatuses(ctx, d("2025-02-26"))
	require.NoError(t, err)
	assert.Empty(t, again.Transitions)
}

func TestService_ReevaluateStopsOnCancelledContext(t *testing.T) {
	svc, _ := newService(t)
	withCollege(t, svc, "c1", "Harbour College")
	createSimple(t, svc, "3000", 3, "2025-01-01")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.ReevaluateStatuses(ctx, d("2025-02-26"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.PlansScanned)
}

// =============================================================================
// COLLEGES
// =============================================================================

func TestService_SaveCollege(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.SaveCollege(ctx, paymentplan.College{})
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.FieldMap(), "agency_id")
	assert.Contains(t, verr.FieldMap(), "name")

	saved, err := svc.SaveCollege(ctx, paymentplan.College{AgencyID: "agency-1", Name: "Northside TAFE"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	colleges, err := svc.ListColleges(ctx, "agency-1")
	require.NoError(t, err)
	require.Len(t, colleges, 1)
	assert.Equal(t, "Northside TAFE", colleges[0].Name)
}
