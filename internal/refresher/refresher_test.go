package refresher

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/device"
	"droidfleet/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor returns canned output keyed by a substring of the
// invoked adb arguments, so one fake client can answer every probe a
// refresh pass issues.
type scriptedExecutor struct {
	byKeyword map[string]string
}

func (s *scriptedExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	joined := strings.Join(arg, " ")
	for kw, out := range s.byKeyword {
		if strings.Contains(joined, kw) {
			return exec.CommandContext(ctx, "sh", "-c", `printf '%s' "$1"`, "_", out)
		}
	}
	return exec.CommandContext(ctx, "sh", "-c", `printf ''`)
}

func TestRefreshOnePopulatesExtendedAttrs(t *testing.T) {
	reg := registry.New(nil)
	reg.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice}})

	client := adbproc.NewClient("adb")
	client.SetExecutor(&scriptedExecutor{byKeyword: map[string]string{
		"battery": "level: 55\n",
		"wm size": "Physical size: 1080x2400\n",
		"wlan0":   "inet 192.168.1.20/24 scope global wlan0\n",
	}})

	r := New(client, reg)
	r.refreshOne(context.Background(), "ABC123")

	got, ok := reg.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "55", got.ExtendedAttrs["battery"])
	assert.Equal(t, "1080x2400", got.ExtendedAttrs["screen_size"])
	assert.Equal(t, "192.168.1.20", got.ExtendedAttrs["wifi_ip"])
}

func TestRunPassSkipsOverlap(t *testing.T) {
	reg := registry.New(nil)
	reg.ApplyDiscovery([]adbproc.DiscoveredDevice{{Serial: "ABC123", State: device.StateDevice}})

	client := adbproc.NewClient("adb")
	client.SetExecutor(&scriptedExecutor{byKeyword: map[string]string{"battery": "level: 10\n"}})

	r := New(client, reg)
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	r.runPass(context.Background())

	got, ok := reg.Get("ABC123")
	require.True(t, ok)
	_, hasBattery := got.ExtendedAttrs["battery"]
	assert.False(t, hasBattery, "a pass started while one is already running must be a no-op")
}
