package bluetooth

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constantExecutor struct{ output string }

func (c constantExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", `printf '%s' "$1"`, "_", c.output)
}

func TestSnapshotLoopPublishesOnStart(t *testing.T) {
	bus := eventbus.NewBus(8)
	defer bus.Close()

	received := make(chan eventbus.Event, 8)
	bus.Subscribe(func(e eventbus.Event) { received <- e })

	client := adbproc.NewClient("adb")
	client.SetExecutor(constantExecutor{output: "state=on\n"})

	svc := NewService(client, bus, "ABC123")
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	defer func() { cancel(); svc.Stop(true) }()

	var sawSnapshot bool
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-received:
			switch ev := e.(type) {
			case eventbus.BTSnapshotParsed:
				assert.Equal(t, "ABC123", ev.Serial)
				assert.True(t, ev.AdapterEnabled)
				sawSnapshot = true
			case eventbus.BTStateUpdate:
				require.True(t, sawSnapshot, "snapshot_parsed should precede state_updated")
				assert.Equal(t, "ABC123", ev.Serial)
				assert.Contains(t, ev.ActiveStates, string(StateIdle))
				return
			}
		case <-deadline:
			t.Fatal("expected a BTSnapshotParsed followed by a BTStateUpdate")
		}
	}
}

func TestSnapshotFailurePublishesError(t *testing.T) {
	bus := eventbus.NewBus(8)
	defer bus.Close()

	received := make(chan eventbus.Event, 8)
	bus.Subscribe(func(e eventbus.Event) { received <- e })

	client := adbproc.NewClient("adb")
	client.SetExecutor(failingExecutor{})

	svc := NewService(client, bus, "ABC123")
	svc.takeSnapshot(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-received:
			if btErr, ok := e.(eventbus.BTError); ok {
				assert.Equal(t, "ABC123", btErr.Serial)
				assert.NotEmpty(t, btErr.Message)
				return
			}
		case <-deadline:
			t.Fatal("expected a BTError after a failed snapshot command")
		}
	}
}

type failingExecutor struct{}

func (failingExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "false")
}

func TestStopJoinsWithinBudget(t *testing.T) {
	client := adbproc.NewClient("adb")
	client.SetExecutor(constantExecutor{output: "state=off\n"})

	svc := NewService(client, nil, "ABC123")
	svc.Start(context.Background())

	start := time.Now()
	svc.Stop(true)
	assert.Less(t, time.Since(start), StopJoinBudget+500*time.Millisecond)
}
