package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()
	chA, unsubA := bus.Subscribe(4)
	defer unsubA()
	chB, unsubB := bus.Subscribe(4)
	defer unsubB()

	n := bus.Publish(Event{Kind: KindStarted, ServerID: "s1"})
	assert.Equal(t, 2, n)

	select {
	case evt := <-chA:
		assert.Equal(t, KindStarted, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received event")
	}
	select {
	case evt := <-chB:
		assert.Equal(t, KindStarted, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber B never received event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(4)
	unsub()

	bus.Publish(Event{Kind: KindStopped})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestLaggingSubscriberGetsDroppedMarker(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Kind: KindConsoleOutput, Line: "first"})
	bus.Publish(Event{Kind: KindConsoleOutput, Line: "second"})

	first := <-ch
	assert.Equal(t, "first", first.Line)

	marker := <-ch
	require.Equal(t, KindDropped, marker.Kind)
	assert.Equal(t, 1, marker.DroppedCount)
}

func TestPublishDoesNotBlockOnFullChannel(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Kind: KindConsoleOutput})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}
