package discovery

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/device"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor replays scripted output for each successive `devices -l`
// invocation; identity probes get probeLines (empty by default).
type fakeExecutor struct {
	calls      int
	outputs    []string
	probeLines string
}

func (f *fakeExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	// `sh -c` lets us fabricate combined stdout without a real adb binary.
	for _, a := range arg {
		if a == "-l" {
			idx := f.calls
			if idx >= len(f.outputs) {
				idx = len(f.outputs) - 1
			}
			f.calls++
			return exec.CommandContext(ctx, "sh", "-c", `printf '%s' "$1"`, "_", f.outputs[idx])
		}
	}
	return exec.CommandContext(ctx, "sh", "-c", `printf '%s' "$1"`, "_", f.probeLines)
}

func newTestClient(outputs ...string) *adbproc.Client {
	c := adbproc.NewClient("adb")
	c.SetExecutor(&fakeExecutor{outputs: outputs})
	return c
}

func TestPollerAddsDiscoveredDevice(t *testing.T) {
	bus := eventbus.NewBus(8)
	defer bus.Close()
	reg := registry.New(bus)

	received := make(chan eventbus.Event, 8)
	bus.Subscribe(func(e eventbus.Event) { received <- e })

	client := newTestClient("List of devices attached\nemulator-5554\tdevice product:sdk model:sdk\n")
	p := NewPoller(client, reg, bus)
	p.SetInterval(time.Hour) // only the initial immediate poll should fire

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	select {
	case e := <-received:
		added, ok := e.(eventbus.DeviceAdded)
		require.True(t, ok)
		assert.Equal(t, "emulator-5554", added.Serial)
	case <-time.After(2 * time.Second):
		t.Fatal("expected DeviceAdded from initial poll")
	}
}

func TestPollOnceAttachesIdentityProbe(t *testing.T) {
	reg := registry.New(nil)
	client := adbproc.NewClient("adb")
	client.SetExecutor(&fakeExecutor{
		outputs:    []string{"List of devices attached\nABC123\tdevice\n"},
		probeLines: "14\n34\ngoogle/raven/raven:14/UQ1A/123:user/release-keys\n1\n0\n    versionName=23.45.12\n",
	})

	p := NewPoller(client, reg, nil)
	p.pollOnce(context.Background())

	d, ok := reg.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "14", d.AndroidVersion)
	assert.Equal(t, 34, d.APILevel)
	assert.Equal(t, "google/raven/raven:14/UQ1A/123:user/release-keys", d.BuildFingerprint)
	assert.Equal(t, "23.45.12", d.GmsVersion)
	assert.Equal(t, device.TriOn, d.WifiOn)
	assert.Equal(t, device.TriOff, d.BtOn)
}

func TestTriggerNowForcesImmediatePoll(t *testing.T) {
	reg := registry.New(nil)
	client := newTestClient(
		"List of devices attached\n",
		"List of devices attached\nABC123\tdevice\n",
	)
	p := NewPoller(client, reg, nil)
	p.SetInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	time.Sleep(50 * time.Millisecond) // let the initial poll land
	p.TriggerNow()
	time.Sleep(200 * time.Millisecond)

	_, ok := reg.Get("ABC123")
	assert.True(t, ok)
}
