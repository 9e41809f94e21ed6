package registry

import (
	"testing"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/device"
	"droidfleet/internal/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDiscoveryAddsNewDevice(t *testing.T) {
	bus := eventbus.NewBus(8)
	defer bus.Close()

	received := make(chan eventbus.Event, 8)
	bus.Subscribe(func(e eventbus.Event) { received <- e })

	r := New(bus)
	diff := r.ApplyDiscovery([]adbproc.DiscoveredDevice{
		{Serial: "ABC123", State: device.StateDevice, Model: "Pixel_6"},
	})

	assert.Equal(t, []string{"ABC123"}, diff.Added)
	assert.Empty(t, diff.RemovedNow)

	select {
	case e := <-received:
		added, ok := e.(eventbus.DeviceAdded)
		require.True(t, ok)
		assert.Equal(t, "ABC123", added.Serial)
	case <-time.After(time.Second):
		t.Fatal("expected DeviceAdded")
	}

	got, ok := r.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "Pixel_6", got.Model)
}

func TestApplyDiscoveryHysteresisBeforeRemoval(t *testing.T) {
	r := New(nil)
	r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice}})

	// First missing poll: not yet removed.
	diff := r.ApplyDiscovery(nil)
	assert.Empty(t, diff.RemovedNow)
	_, ok := r.Get("ABC123")
	assert.True(t, ok, "device should survive a single missed poll")

	// Second consecutive missing poll: removal hysteresis exhausted.
	diff = r.ApplyDiscovery(nil)
	assert.Equal(t, []string{"ABC123"}, diff.RemovedNow)
	_, ok = r.Get("ABC123")
	assert.False(t, ok)
}

func TestApplyDiscoveryHysteresisResetsOnReappearance(t *testing.T) {
	r := New(nil)
	r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice}})
	r.ApplyDiscovery(nil) // one miss, still present

	diff := r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice}})
	assert.Empty(t, diff.Added, "reappearance within hysteresis window is not a new add")

	diff = r.ApplyDiscovery(nil)
	assert.Empty(t, diff.RemovedNow, "miss counter should have reset on reappearance")
}

func TestApplyDiscoveryEmitsDebouncedChange(t *testing.T) {
	bus := eventbus.NewBus(8)
	defer bus.Close()

	received := make(chan eventbus.Event, 8)
	bus.Subscribe(func(e eventbus.Event) { received <- e })

	r := New(bus)
	r.SetDebounceWindow(10 * time.Millisecond)

	r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice, Model: "A"}})
	// drain the DeviceAdded
	<-received

	r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice, Model: "B"}})
	r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice, Model: "B", USB: "1-1"}})

	select {
	case e := <-received:
		changed, ok := e.(eventbus.DeviceChanged)
		require.True(t, ok)
		assert.Equal(t, "ABC123", changed.Serial)
		assert.Contains(t, changed.FieldsChanged, "model")
		assert.Contains(t, changed.FieldsChanged, "usb")
	case <-time.After(time.Second):
		t.Fatal("expected a single coalesced DeviceChanged")
	}

	select {
	case e := <-received:
		t.Fatalf("unexpected second event: %#v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyAttrsNeverBlanksKnownValue(t *testing.T) {
	r := New(nil)
	r.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice}})
	r.ApplyAttrs("ABC123", map[string]string{"battery": "87"})
	r.ApplyAttrs("ABC123", map[string]string{"battery": "unknown"})

	got, ok := r.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "87", got.ExtendedAttrs["battery"])
}

func TestUsableFiltersUnusableStates(t *testing.T) {
	r := New(nil)
	r.ApplyDiscovery([]adbproc.DiscoveredDevice{
		{Serial: "ABC123", State: device.StateDevice},
		{Serial: "DEF456", State: device.StateUnauthorized},
	})

	ok, unavailable := r.Usable([]string{"ABC123", "DEF456", "ZZZ999"})
	require.Len(t, ok, 1)
	assert.Equal(t, "ABC123", ok[0].Serial)
	assert.ElementsMatch(t, []string{"DEF456", "ZZZ999"}, unavailable)
}
