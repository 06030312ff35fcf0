package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

func TestCodec(t *testing.T) {
	events := []shared.Event{
		shared.NewPaymentConfirmedEvent("enr-1", "learner-1", "prog-1", "visa"),
		shared.NewActivityCompletedEvent("enr-1", "unit-1", "quiz", true),
		shared.NewResultSubmittedEvent("res-1", "enr-1", "ACK-0007"),
	}
	for _, want := range events {
		t.Run(string(want.EventType()), func(t *testing.T) {
			raw, err := Encode("instance-a", want)
			require.NoError(t, err)

			got, instance, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, "instance-a", instance)
			assert.IsType(t, want, got)
			assert.Equal(t, want.AggregateID(), got.AggregateID())
			assert.Equal(t, want.Payload(), got.Payload())
			assert.True(t, want.OccurredAt().Equal(got.OccurredAt()))
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		_, instance, err := Decode([]byte(`{"instance_id":"b","type":"leaderboard.updated","data":{}}`))
		assert.ErrorIs(t, err, ErrEventNotSupported)
		assert.Equal(t, "b", instance)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := Decode([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestInMemoryEventBus(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	t.Cleanup(func() { _ = bus.Close() })

	var typed, all int32
	require.NoError(t, bus.Subscribe(shared.EventPaymentConfirmed, func(shared.Event) error {
		atomic.AddInt32(&typed, 1)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		atomic.AddInt32(&all, 1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventPaymentFailed, func(shared.Event) error {
		panic("boom")
	}))

	require.NoError(t, bus.Publish(shared.NewPaymentConfirmedEvent("enr-1", "learner-1", "prog-1", "visa")))
	require.NoError(t, bus.Publish(shared.NewPaymentFailedEvent("enr-2", "declined")))

	assert.EqualValues(t, 1, atomic.LoadInt32(&typed))
	assert.EqualValues(t, 2, atomic.LoadInt32(&all))

	assert.Equal(t, BusStats{Published: 2, Delivered: 3, Failed: 1}, bus.Stats())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewPaymentFailedEvent("enr-3", "declined")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventPaymentFailed, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBusAsync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Async: true, Workers: 2})
	t.Cleanup(func() { _ = bus.Close() })

	var n int32
	require.NoError(t, bus.Subscribe(shared.EventActivityCompleted, func(shared.Event) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewActivityCompletedEvent("enr-1", "unit-1", "reading", false)))
	}
	bus.Drain()
	assert.EqualValues(t, 10, atomic.LoadInt32(&n))
	assert.EqualValues(t, 10, bus.Stats().Delivered)
}

func TestDispatcher(t *testing.T) {
	newDispatcher := func(t *testing.T) (*InMemoryEventBus, *Dispatcher) {
		bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
		t.Cleanup(func() { _ = bus.Close() })
		d := NewDispatcher(DispatcherConfig{
			Bus:                 bus,
			MaxAttempts:         3,
			InitialBackoff:      time.Millisecond,
			MaxBackoff:          2 * time.Millisecond,
			DeadLetterQueueSize: 2,
		})
		return bus, d
	}

	t.Run("retries transient failures", func(t *testing.T) {
		bus, d := newDispatcher(t)
		var calls int32
		require.NoError(t, d.Register(shared.EventResultSubmitted, "flaky", func(shared.Event) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("smtp timeout")
			}
			return nil
		}))

		require.NoError(t, bus.Publish(shared.NewResultSubmittedEvent("res-1", "enr-1", "ACK-1")))
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
		assert.Zero(t, d.DeadLetterQueue().Size())
	})

	t.Run("not found is not retried", func(t *testing.T) {
		bus, d := newDispatcher(t)
		var calls int32
		require.NoError(t, d.Register(shared.EventResultSubmitted, "lookup", func(shared.Event) error {
			atomic.AddInt32(&calls, 1)
			return shared.ErrResultNotFound
		}))

		require.NoError(t, bus.Publish(shared.NewResultSubmittedEvent("res-1", "enr-1", "ACK-1")))
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

		entry, ok := d.DeadLetterQueue().Pop()
		require.True(t, ok)
		assert.Equal(t, "lookup", entry.Handler)
		assert.Equal(t, 1, entry.Attempts)
	})

	t.Run("panics land in the dead letter queue", func(t *testing.T) {
		bus, d := newDispatcher(t)
		require.NoError(t, d.Register(shared.EventPaymentFailed, "panicky", func(shared.Event) error {
			panic("nil map")
		}))
		for i := 0; i < 3; i++ {
			require.NoError(t, bus.Publish(shared.NewPaymentFailedEvent("enr-1", "declined")))
		}

		entries := d.DeadLetterQueue().Entries()
		require.Len(t, entries, 2)
		assert.Contains(t, entries[0].Error, "handler panicked")
	})

	t.Run("nil handler", func(t *testing.T) {
		_, d := newDispatcher(t)
		assert.Error(t, d.Register(shared.EventPaymentFailed, "nil", nil))
	})
}
