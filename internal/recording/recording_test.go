package recording

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/operations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor simulates a real device: `screenrecord` is a
// long-lived process that terminates on SIGINT (like the real binary
// does); pull/rm are instantaneous successes.
type recordingExecutor struct{}

func (recordingExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	joined := strings.Join(arg, " ")
	switch {
	case strings.Contains(joined, "screenrecord"):
		return exec.CommandContext(ctx, "sleep", "30")
	default:
		return exec.CommandContext(ctx, "true")
	}
}

func newCoordinator(t *testing.T) (*Coordinator, *eventbus.Bus, chan eventbus.Event) {
	t.Helper()
	bus := eventbus.NewBus(32)
	t.Cleanup(bus.Close)

	received := make(chan eventbus.Event, 32)
	bus.Subscribe(func(e eventbus.Event) { received <- e })

	ops := operations.New(bus)
	client := adbproc.NewClient("adb")
	client.SetExecutor(recordingExecutor{})

	c := New(client, bus, ops)
	c.SetSegmentDuration(150 * time.Millisecond)
	c.SetPollInterval(10 * time.Millisecond)
	return c, bus, received
}

// drainSegment skips heartbeats and unrelated bus traffic until a
// SEGMENT_COMPLETED progress event arrives.
func drainSegment(t *testing.T, ch chan eventbus.Event, timeout time.Duration) eventbus.RecordingProgressEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if v, ok := e.(eventbus.RecordingProgressEvent); ok && v.Type == eventbus.SegmentCompleted {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for a SEGMENT_COMPLETED event")
			return eventbus.RecordingProgressEvent{}
		}
	}
}

func TestStartProducesSegmentCompletedOnCapElapsed(t *testing.T) {
	c, _, received := newCoordinator(t)

	err := c.Start(context.Background(), map[string]string{"ABC123": "Pixel"}, t.TempDir())
	require.NoError(t, err)

	ev := drainSegment(t, received, 2*time.Second)
	assert.Equal(t, 1, ev.SegmentIndex)
	assert.Equal(t, eventbus.OriginInternal, ev.RequestOrigin)

	require.NoError(t, c.Stop([]string{"ABC123"}))
	ev2 := drainSegment(t, received, 2*time.Second)
	assert.Equal(t, 2, ev2.SegmentIndex)
	assert.Equal(t, eventbus.OriginUser, ev2.RequestOrigin)
}

func TestStartRejectsAlreadyRecordingDevice(t *testing.T) {
	c, _, _ := newCoordinator(t)

	require.NoError(t, c.Start(context.Background(), map[string]string{"ABC123": "Pixel"}, t.TempDir()))

	err := c.Start(context.Background(), map[string]string{"ABC123": "Pixel"}, t.TempDir())
	var inProgress *OperationInProgressError
	require.ErrorAs(t, err, &inProgress)
	assert.Contains(t, inProgress.Serials, "ABC123")

	_ = c.Stop([]string{"ABC123"})
}

func TestDisplaySecondsNeverRegresses(t *testing.T) {
	c, _, received := newCoordinator(t)

	require.NoError(t, c.Start(context.Background(), map[string]string{"ABC123": "Pixel"}, t.TempDir()))
	_ = drainSegment(t, received, 2*time.Second)

	c.mu.Lock()
	session := c.sessions["ABC123"]
	c.mu.Unlock()

	snap := session.Snapshot()
	assert.GreaterOrEqual(t, snap.DisplaySeconds, 0.1)

	require.NoError(t, c.Stop([]string{"ABC123"}))
	_ = drainSegment(t, received, 2*time.Second)

	finalSnap := session.Snapshot()
	assert.GreaterOrEqual(t, finalSnap.DisplaySeconds, snap.DisplaySeconds)
}
