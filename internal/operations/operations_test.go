package operations

import (
	"strconv"
	"testing"
	"time"

	"droidfleet/internal/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddThenUpdateToCompleted(t *testing.T) {
	bus := eventbus.NewBus(16)
	defer bus.Close()
	m := New(bus)

	ev := m.Add("op1", "ABC123", eventbus.OpScreenshot, false, nil)
	assert.Equal(t, eventbus.OpPending, ev.Status)

	m.Update("op1", eventbus.OpCompleted, nil, "saved", "")

	got, ok := m.Get("op1")
	require.True(t, ok)
	assert.Equal(t, eventbus.OpCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRecordingCoalescesOntoActiveEntry(t *testing.T) {
	m := New(nil)
	first := m.Add("seg1", "ABC123", eventbus.OpRecording, true, nil)
	second := m.Add("seg2", "ABC123", eventbus.OpRecording, true, nil)

	assert.Equal(t, first.OperationID, second.OperationID, "a second segment on the same serial should coalesce")
	assert.Len(t, m.List(), 1)
}

func TestRecordingDoesNotCoalesceAfterTerminal(t *testing.T) {
	m := New(nil)
	m.Add("seg1", "ABC123", eventbus.OpRecording, true, nil)
	m.Update("seg1", eventbus.OpCompleted, nil, "", "")

	second := m.Add("seg2", "ABC123", eventbus.OpRecording, true, nil)
	assert.Equal(t, "seg2", second.OperationID)
	assert.Len(t, m.List(), 2)
}

func TestCancelInvokesCallbackAndTransitions(t *testing.T) {
	m := New(nil)
	var cancelled bool
	m.Add("op1", "ABC123", eventbus.OpRecording, true, func() { cancelled = true })

	m.Cancel("op1")

	assert.True(t, cancelled)
	got, _ := m.Get("op1")
	assert.Equal(t, eventbus.OpCancelled, got.Status)
}

func TestCancelIsNoOpOnTerminalOrNonCancellable(t *testing.T) {
	m := New(nil)
	var cancelled bool
	m.Add("op1", "ABC123", eventbus.OpScreenshot, false, func() { cancelled = true })
	m.Cancel("op1")
	assert.False(t, cancelled, "non-cancellable operation must ignore Cancel")

	m.Add("op2", "DEF456", eventbus.OpRecording, true, func() { cancelled = true })
	m.Update("op2", eventbus.OpCompleted, nil, "", "")
	m.Cancel("op2")
	assert.False(t, cancelled, "terminal operation must ignore Cancel")
}

func TestAutoDismissRemovesTerminalEntry(t *testing.T) {
	m := New(nil)
	m.Add("op1", "ABC123", eventbus.OpScreenshot, false, nil)
	m.Update("op1", eventbus.OpCompleted, nil, "", "")

	_, ok := m.Get("op1")
	require.True(t, ok, "still visible immediately after completion")

	time.Sleep(AutoDismissDelay + 200*time.Millisecond)
	_, ok = m.Get("op1")
	assert.False(t, ok, "should be auto-dismissed after the delay")
}

func TestFIFOEvictionCapsTerminalEntriesOnly(t *testing.T) {
	m := New(nil)
	for i := 0; i < MaxTracked+10; i++ {
		id := "op-" + strconv.Itoa(i)
		m.Add(id, "", eventbus.OpShellCommand, false, nil)
		m.Update(id, eventbus.OpCompleted, nil, "", "")
	}
	// every entry is terminal; the cap evicts down to MaxTracked
	// immediately, well before any auto-dismiss timer fires.
	assert.Len(t, m.List(), MaxTracked)

	terminalCount := 0
	for _, ev := range m.List() {
		if ev.IsTerminal() {
			terminalCount++
		}
	}
	assert.Equal(t, MaxTracked, terminalCount)
}

func TestFIFOEvictionNeverDropsActiveEntries(t *testing.T) {
	m := New(nil)
	for i := 0; i < MaxTracked+10; i++ {
		m.Add("active-"+strconv.Itoa(i), "", eventbus.OpShellCommand, false, nil)
	}
	// none are terminal, so the terminal-only cap must not evict any.
	assert.Len(t, m.List(), MaxTracked+10)
}

func TestClearCompletedFiltersBySerial(t *testing.T) {
	m := New(nil)
	m.Add("op1", "ABC123", eventbus.OpScreenshot, false, nil)
	m.Update("op1", eventbus.OpCompleted, nil, "", "")
	m.Add("op2", "DEF456", eventbus.OpScreenshot, false, nil)
	m.Update("op2", eventbus.OpCompleted, nil, "", "")

	removed := m.ClearCompleted([]string{"ABC123"})
	assert.Equal(t, []string{"op1"}, removed)

	_, ok := m.Get("op2")
	assert.True(t, ok)
}
