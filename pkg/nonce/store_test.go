package nonce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atprouter/core/pkg/events"
)

func TestStore_CheckAndStore_RejectsDuplicate(t *testing.T) {
	s := New(10, time.Minute)
	now := time.Unix(0, 0)

	assert.True(t, s.CheckAndStore("n1", now))
	assert.False(t, s.CheckAndStore("n1", now))
}

func TestStore_CheckAndStore_AllowsDistinctNonces(t *testing.T) {
	s := New(10, time.Minute)
	now := time.Unix(0, 0)

	assert.True(t, s.CheckAndStore("n1", now))
	assert.True(t, s.CheckAndStore("n2", now))
	assert.Equal(t, 2, s.Len())
}

func TestStore_PrunesExpiredEntries(t *testing.T) {
	s := New(10, time.Minute)
	base := time.Unix(0, 0)

	assert.True(t, s.CheckAndStore("n1", base))
	later := base.Add(2 * time.Minute)

	// n1 has expired, so it should be both prunable and re-insertable.
	assert.True(t, s.CheckAndStore("n1", later))
	assert.Equal(t, 1, s.Len())
}

func TestStore_EvictsOldestPastCapacity(t *testing.T) {
	s := New(2, time.Hour)
	now := time.Unix(0, 0)

	assert.True(t, s.CheckAndStore("n1", now))
	assert.True(t, s.CheckAndStore("n2", now))
	assert.True(t, s.CheckAndStore("n3", now))

	assert.Equal(t, 2, s.Len())
	// n1 was oldest and should have been evicted, so it's insertable again.
	assert.True(t, s.CheckAndStore("n1", now))
}

func TestStore_EmitsReplayRejectionEvent(t *testing.T) {
	bus := events.New(nil)
	var got events.RejectionEvent
	bus.OnRejection(func(e events.RejectionEvent) { got = e })

	s := New(10, time.Minute, WithEventBus(bus))
	now := time.Unix(0, 0)

	s.CheckAndStore("n1", now)
	s.CheckAndStore("n1", now)

	assert.Equal(t, events.ReasonReplayDetected, got.Reason)
	assert.Equal(t, "nonce-store", got.Component)
}
