package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/cache"
	"github.com/warp/commission-engine/paymentplan"
	"github.com/warp/commission-engine/store/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusScheduler_RunNow(t *testing.T) {
	// GIVEN: a plan created on 2025-01-01 with every row pending
	router, h := newTestRouter(t)
	createCollegeAndPlan(t, router)

	s := api.NewStatusScheduler(h.Service, "", quietLogger())
	s.Clock = func() time.Time { return time.Date(2025, 2, 26, 2, 15, 0, 0, time.UTC) }

	// WHEN: a pass runs on 2025-02-26
	result, err := s.RunNow(context.Background())
	require.NoError(t, err)

	// THEN: #1 and #2 became overdue and the result is kept
	assert.Equal(t, "2025-02-26", result.AsOf.String())
	assert.Len(t, result.Transitions, 2)

	last, ok := s.LastRun()
	require.True(t, ok)
	assert.Equal(t, result.PlansScanned, last.PlansScanned)
}

func TestStatusScheduler_StartStop(t *testing.T) {
	_, h := newTestRouter(t)
	s := api.NewStatusScheduler(h.Service, "0 3 * * *", quietLogger())
	s.RunOnStart = false
	assert.Equal(t, time.Time{}, s.NextRunTime())

	require.NoError(t, s.Start())
	next := s.NextRunTime()
	assert.False(t, next.IsZero())
	assert.Equal(t, 3, next.UTC().Hour())

	s.Stop()
	assert.True(t, s.NextRunTime().IsZero())
	s.Stop() // idempotent
}

func TestStatusScheduler_RunOnStart(t *testing.T) {
	_, h := newTestRouter(t)
	s := api.NewStatusScheduler(h.Service, "", quietLogger())

	require.NoError(t, s.Start())
	s.Stop() // waits for the start-up pass

	_, ok := s.LastRun()
	assert.True(t, ok)
}

// slowStore makes every plan scan take hold and records how many overlap.
type slowStore struct {
	paymentplan.TxStore
	hold time.Duration

	mu     sync.Mutex
	active int
	peak   int
	scans  int
}

func (s *slowStore) ListPlans(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	s.mu.Lock()
	s.active++
	s.scans++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	time.Sleep(s.hold)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return s.TxStore.ListPlans(ctx, agencyID)
}

func TestStatusScheduler_TickSkippedWhileStartupPassRuns(t *testing.T) {
	// GIVEN: a pass that outlasts the first one-second tick
	store := &slowStore{TxStore: memory.New(), hold: 1500 * time.Millisecond}
	svc := paymentplan.NewService(store, cache.Noop{})
	s := api.NewStatusScheduler(svc, "@every 1s", quietLogger())

	// WHEN: starting with a start-up pass
	require.NoError(t, s.Start())
	time.Sleep(1700 * time.Millisecond)
	s.Stop()

	// THEN: the tick did not run alongside it
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.GreaterOrEqual(t, store.scans, 1)
	assert.Equal(t, 1, store.peak)
}

func TestStatusScheduler_BadSpecAndDisabled(t *testing.T) {
	_, h := newTestRouter(t)

	s := api.NewStatusScheduler(h.Service, "every tuesday", quietLogger())
	assert.Error(t, s.Start())

	s = api.NewStatusScheduler(h.Service, "", quietLogger())
	s.Enabled = false
	require.NoError(t, s.Start())
	assert.True(t, s.NextRunTime().IsZero())
}

func TestSchedulerStatus_Endpoint(t *testing.T) {
	router, h := newTestRouter(t)
	s := api.NewStatusScheduler(h.Service, "0 3 * * *", quietLogger())
	s.RunOnStart = false
	h.Scheduler = s

	require.NoError(t, s.Start())
	defer s.Stop()
	_, err := s.RunNow(context.Background())
	require.NoError(t, err)

	rec := do(t, router, http.MethodGet, "/api/admin/scheduler", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[api.SchedulerStatusDTO](t, rec)
	assert.True(t, status.Running)
	assert.Equal(t, "0 3 * * *", status.Spec)
	require.NotNil(t, status.NextRun)
	require.NotNil(t, status.LastRun)
}
