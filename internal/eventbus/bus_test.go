package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	received := make(chan Event, 1)
	unsub := bus.Subscribe(func(e Event) { received <- e })
	defer unsub()

	bus.Publish(DeviceAdded{Serial: "ABC123", At: time.Now()})

	select {
	case e := <-received:
		da, ok := e.(DeviceAdded)
		require.True(t, ok)
		assert.Equal(t, "ABC123", da.Serial)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	received := make(chan Event, 4)
	unsub := bus.Subscribe(func(e Event) { received <- e })
	unsub()

	bus.Publish(DeviceRemoved{Serial: "ABC123"})

	select {
	case <-received:
		t.Fatal("handler should not have received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusDoesNotBlockOnFullBuffer(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	// No subscribers draining; publishing more than the buffer size must
	// not block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Warning{Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}
