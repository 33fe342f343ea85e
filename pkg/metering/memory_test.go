package metering_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atprouter/core/pkg/metering"
)

func TestInMemoryMeter_RecordAndGetUsage(t *testing.T) {
	m := metering.NewInMemoryMeter()
	ctx := context.Background()
	period := metering.DailyPeriod()
	now := time.Now().UTC()

	require.NoError(t, m.Record(ctx, metering.Event{TenantID: "tenant-a", EventType: metering.EventRequest, Quantity: 1, Timestamp: now}))
	require.NoError(t, m.Record(ctx, metering.Event{TenantID: "tenant-a", EventType: metering.EventLLMToken, Quantity: 120, Timestamp: now}))
	require.NoError(t, m.Record(ctx, metering.Event{TenantID: "tenant-b", EventType: metering.EventRequest, Quantity: 1, Timestamp: now}))

	usage, err := m.GetUsage(ctx, "tenant-a", period)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Totals[metering.EventRequest])
	assert.Equal(t, int64(120), usage.Totals[metering.EventLLMToken])

	usageB, err := m.GetUsage(ctx, "tenant-b", period)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usageB.Totals[metering.EventRequest])
	_, hasTokens := usageB.Totals[metering.EventLLMToken]
	assert.False(t, hasTokens, "tenant-a events must not leak into tenant-b totals")
}

func TestInMemoryMeter_RecordBatch(t *testing.T) {
	m := metering.NewInMemoryMeter()
	ctx := context.Background()
	now := time.Now().UTC()

	err := m.RecordBatch(ctx, []metering.Event{
		{TenantID: "tenant-a", EventType: metering.EventRequest, Quantity: 3, Timestamp: now},
		{TenantID: "tenant-a", EventType: metering.EventRequest, Quantity: 2, Timestamp: now},
	})
	require.NoError(t, err)

	total, err := m.GetUsageByType(ctx, "tenant-a", metering.EventRequest, metering.DailyPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestInMemoryMeter_RejectsInvalidEvents(t *testing.T) {
	m := metering.NewInMemoryMeter()
	ctx := context.Background()

	err := m.Record(ctx, metering.Event{EventType: metering.EventRequest, Quantity: 1})
	assert.ErrorIs(t, err, metering.ErrEmptyTenantID)

	err = m.Record(ctx, metering.Event{TenantID: "tenant-a", EventType: metering.EventRequest, Quantity: -1})
	assert.ErrorIs(t, err, metering.ErrNegativeQuantity)
}

func TestInMemoryMeter_GetUsageExcludesOutsidePeriod(t *testing.T) {
	m := metering.NewInMemoryMeter()
	ctx := context.Background()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, m.Record(ctx, metering.Event{TenantID: "tenant-a", EventType: metering.EventRequest, Quantity: 10, Timestamp: yesterday}))

	usage, err := m.GetUsage(ctx, "tenant-a", metering.DailyPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Totals[metering.EventRequest])
}
