package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitRejection_InvokesAllSubscribers(t *testing.T) {
	b := New(nil)

	var got1, got2 RejectionEvent
	b.OnRejection(func(e RejectionEvent) { got1 = e })
	b.OnRejection(func(e RejectionEvent) { got2 = e })

	event := RejectionEvent{Reason: ReasonReplayDetected, Component: "nonce-store", RequestID: "r1", Timestamp: time.Unix(1, 0)}
	b.EmitRejection(event)

	assert.Equal(t, event, got1)
	assert.Equal(t, event, got2)
}

func TestBus_EmitRejection_IsolatesPanickingSubscriber(t *testing.T) {
	b := New(nil)

	var called int32
	b.OnRejection(func(e RejectionEvent) { panic("boom") })
	b.OnRejection(func(e RejectionEvent) { atomic.AddInt32(&called, 1) })

	require.NotPanics(t, func() {
		b.EmitRejection(RejectionEvent{Reason: ReasonMalformed})
	})
	assert.Equal(t, int32(1), called)
}

func TestBus_Unsubscribe_StopsDelivery(t *testing.T) {
	b := New(nil)

	var calls int32
	unsub := b.OnRejection(func(e RejectionEvent) { atomic.AddInt32(&calls, 1) })
	b.EmitRejection(RejectionEvent{Reason: ReasonAuthFailed})
	unsub()
	b.EmitRejection(RejectionEvent{Reason: ReasonAuthFailed})

	assert.Equal(t, int32(1), calls)
}

func TestBus_EmitSpeculative_InvokesSubscribers(t *testing.T) {
	b := New(nil)

	var got SpeculativeEvent
	b.OnSpeculative(func(e SpeculativeEvent) { got = e })

	latency := 42.5
	event := SpeculativeEvent{Outcome: SpeculativeAccepted, ModelName: "draft-7b", LatencySavedMs: &latency}
	b.EmitSpeculative(event)

	assert.Equal(t, SpeculativeAccepted, got.Outcome)
	require.NotNil(t, got.LatencySavedMs)
	assert.Equal(t, 42.5, *got.LatencySavedMs)
}

func TestBus_ConcurrentEmit_DoesNotRace(t *testing.T) {
	b := New(nil)

	var count int64
	b.OnRejection(func(e RejectionEvent) { atomic.AddInt64(&count, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.EmitRejection(RejectionEvent{Reason: ReasonRateLimitExceeded})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), count)
}

func TestBus_SubscriberCount(t *testing.T) {
	b := New(nil)
	assert.Equal(t, 0, b.SubscriberCount())

	unsub := b.OnRejection(func(RejectionEvent) {})
	b.OnSpeculative(func(SpeculativeEvent) {})
	assert.Equal(t, 2, b.SubscriberCount())

	unsub()
	assert.Equal(t, 1, b.SubscriberCount())
}
