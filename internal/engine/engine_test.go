package engine

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/config"
	"droidfleet/internal/device"
	"droidfleet/internal/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExecutor struct{}

func (scriptedExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	for _, a := range arg {
		if a == "-l" {
			return exec.CommandContext(ctx, "sh", "-c", `printf 'ABC123\tdevice usb:1-1 product:sdk_gphone model:Pixel_6\n'`)
		}
	}
	return exec.CommandContext(ctx, "true")
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	c := New("adb")
	c.client.SetExecutor(scriptedExecutor{})
	c.registry.ApplyDiscovery([]adbproc.DiscoveredDevice{
		{Serial: "ABC123", State: device.StateDevice},
		{Serial: "DEF456", State: device.StateDevice},
	})
	return c
}

func TestStartFailsWhenAdbMissing(t *testing.T) {
	c := New("/no/such/adb/binary")
	err := c.Start(context.Background())
	require.Error(t, err)
}

func TestRunShellBatchCompletesSuccessfully(t *testing.T) {
	c := newTestCore(t)
	handles := c.RunShell(context.Background(), []string{"ABC123"}, "getprop ro.build.version.release")
	require.Len(t, handles, 1)
	<-handles[0].Done()
	assert.NoError(t, handles[0].Err())
}

func TestTakeScreenshotBatchWaitReportsSuccess(t *testing.T) {
	c := newTestCore(t)
	dir := t.TempDir()
	batch := c.TakeScreenshot(context.Background(), []string{"ABC123", "DEF456"}, dir)

	summary := batch.Wait()
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 0, summary.Failed)
}

func TestMirrorLaunchFailureReportsOperationFailed(t *testing.T) {
	c := newTestCore(t)
	ScrcpyPath = "/no/such/scrcpy/binary"
	defer func() { ScrcpyPath = "scrcpy" }()

	err := c.Mirror("ABC123")
	require.Error(t, err)
}

func TestShutdownRespectsTimeoutBudget(t *testing.T) {
	c := newTestCore(t)
	require.NoError(t, c.Start(context.Background()))

	start := time.Now()
	require.NoError(t, c.Shutdown(50*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWatchConfigFilePublishesOnExternalEdit(t *testing.T) {
	c := newTestCore(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	store := config.New(cfgPath)
	require.NoError(t, store.Save())
	require.NoError(t, c.WatchConfigFile(store))
	defer store.StopWatch()

	events := make(chan eventbus.Event, 8)
	unsubscribe := c.Subscribe(func(e eventbus.Event) { events <- e })
	defer unsubscribe()

	writer := config.New(cfgPath)
	require.NoError(t, writer.Load())
	writer.SetGroup(device.Group{Name: "lab", Serials: []string{"ABC123"}})
	require.NoError(t, writer.Save())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if reloaded, ok := e.(eventbus.ConfigReloaded); ok {
				assert.Equal(t, []string{"lab"}, reloaded.GroupNames)
				return
			}
		case <-deadline:
			t.Fatal("expected a ConfigReloaded event")
		}
	}
}

func TestResolveADBPathFallsBackToBareName(t *testing.T) {
	t.Setenv("ANDROID_HOME", "")
	t.Setenv("ANDROID_SDK_ROOT", "")
	assert.Equal(t, "adb", ResolveADBPath(""))
	assert.Equal(t, "/custom/adb", ResolveADBPath("/custom/adb"))
}
