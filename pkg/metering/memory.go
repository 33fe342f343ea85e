package metering

import (
	"context"
	"sync"
	"time"
)

// InMemoryMeter is a thread-safe, process-local Meter. It backs lite mode
// (no DATABASE_URL configured); PostgresMeter replaces it when a database
// is available.
type InMemoryMeter struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryMeter creates an empty in-memory meter.
func NewInMemoryMeter() *InMemoryMeter {
	return &InMemoryMeter{}
}

func (m *InMemoryMeter) Record(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *InMemoryMeter) RecordBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := m.Record(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *InMemoryMeter) GetUsage(_ context.Context, tenantID string, period Period) (*Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := &Usage{
		TenantID:   tenantID,
		Period:     period,
		Totals:     make(map[EventType]int64),
		LastUpdate: time.Now().UTC(),
	}
	for _, e := range m.events {
		if e.TenantID == tenantID && !e.Timestamp.Before(period.Start) && e.Timestamp.Before(period.End) {
			usage.Totals[e.EventType] += e.Quantity
		}
	}
	return usage, nil
}

func (m *InMemoryMeter) GetUsageByType(ctx context.Context, tenantID string, eventType EventType, period Period) (int64, error) {
	usage, err := m.GetUsage(ctx, tenantID, period)
	if err != nil {
		return 0, err
	}
	return usage.Totals[eventType], nil
}
