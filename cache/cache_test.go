package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

func aggregate(overdue string) paymentplan.AgencyAggregate {
	return paymentplan.AgencyAggregate{
		AsOf:         generic.MustParseDate("2025-03-01"),
		OverdueTotal: generic.MustParseMoney(overdue),
		TopColleges:  []paymentplan.CollegeRevenue{{CollegeID: "c1", Name: "Harbour College", Plans: 2}},
	}
}

func TestMemory_GetSetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)

	_, ok, err := c.Get(ctx, "agency-1", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "agency-1", "k", aggregate("100")))
	require.NoError(t, c.Set(ctx, "agency-1", "k2", aggregate("200")))
	require.NoError(t, c.Set(ctx, "agency-2", "k", aggregate("300")))

	got, ok, err := c.Get(ctx, "agency-1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100.00", got.OverdueTotal.String())

	// Invalidate drops every key of one agency only
	require.NoError(t, c.Invalidate(ctx, "agency-1"))
	_, ok, _ = c.Get(ctx, "agency-1", "k2")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "agency-2", "k")
	assert.True(t, ok)
}

func TestMemory_Expires(t *testing.T) {
	// GIVEN: a one-minute TTL and a controllable clock
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "agency-1", "k", aggregate("100")))

	// WHEN / THEN: fresh within the TTL, gone after it
	now = now.Add(59 * time.Second)
	_, ok, _ := c.Get(ctx, "agency-1", "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = c.Get(ctx, "agency-1", "k")
	assert.False(t, ok)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c paymentplan.DashboardCache = Noop{}
	require.NoError(t, c.Set(ctx, "agency-1", "k", aggregate("100")))
	_, ok, err := c.Get(ctx, "agency-1", "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, "agency-1"))
}

func TestConnectRedis_EmptyAddrDisables(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Nil(t, ConnectRedis(context.Background(), "", time.Minute, logger))
}

// Set PAYPLAN_TEST_REDIS_ADDR to a disposable Redis to run this test.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("PAYPLAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PAYPLAN_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := NewRedis(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	t.Cleanup(func() { c.Close() })
	agency := paymentplan.AgencyID("test-" + t.Name())
	require.NoError(t, c.Invalidate(ctx, agency))

	require.NoError(t, c.Set(ctx, agency, "2025-03-01|90|5|5", aggregate("1234.56")))
	got, ok, err := c.Get(ctx, agency, "2025-03-01|90|5|5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1234.56", got.OverdueTotal.String())
	assert.Equal(t, "2025-03-01", got.AsOf.String())
	assert.Equal(t, "Harbour College", got.TopColleges[0].Name)

	require.NoError(t, c.Invalidate(ctx, agency))
	_, ok, err = c.Get(ctx, agency, "2025-03-01|90|5|5")
	require.NoError(t, err)
	assert.False(t, ok)
}
