package bluetooth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySnapshotFirstCallIsAlwaysChanged(t *testing.T) {
	s := NewState("ABC123")
	update := s.ApplySnapshot(ParsedSnapshot{AdapterEnabled: true, Timestamp: time.Now()})
	assert.True(t, update.Changed)
	// adapter on, nothing else active -> IDLE
	assert.Contains(t, update.Summary.ActiveStates, StateIdle)
}

func TestApplySnapshotAdapterOffCollapsesToOff(t *testing.T) {
	s := NewState("ABC123")
	update := s.ApplySnapshot(ParsedSnapshot{
		AdapterEnabled: false,
		Advertising:    AdvertisingInfo{IsAdvertising: true},
		Timestamp:      time.Now(),
	})
	assert.Equal(t, []ActiveState{StateOff}, update.Summary.ActiveStates)
}

func TestApplySnapshotIdenticalSnapshotIsNotChanged(t *testing.T) {
	s := NewState("ABC123")
	now := time.Now()
	s.ApplySnapshot(ParsedSnapshot{AdapterEnabled: true, Timestamp: now})
	update := s.ApplySnapshot(ParsedSnapshot{AdapterEnabled: true, Timestamp: now.Add(time.Second)})
	assert.False(t, update.Changed)
}

func TestAdvertisingTimesOutWhenNotReconfirmed(t *testing.T) {
	s := NewState("ABC123")
	base := time.Now()
	update := s.ApplySnapshot(ParsedSnapshot{AdapterEnabled: true, Advertising: AdvertisingInfo{IsAdvertising: true}, Timestamp: base})
	assert.Contains(t, update.Summary.ActiveStates, StateAdvertising)

	later := s.Tick(base.Add(AdvertisingTimeout + 100*time.Millisecond))
	assert.NotContains(t, later.Summary.ActiveStates, StateAdvertising)
	assert.Contains(t, later.Summary.ActiveStates, StateIdle)
	assert.True(t, later.Changed)
}

func TestApplyEventConnectDisconnect(t *testing.T) {
	s := NewState("ABC123")
	now := time.Now()
	s.ApplySnapshot(ParsedSnapshot{AdapterEnabled: true, Timestamp: now})
	connectUpdate := s.ApplyEvent(ParsedEvent{Category: EventConnect, Timestamp: now})
	assert.Contains(t, connectUpdate.Summary.ActiveStates, StateConnected)

	disconnectUpdate := s.ApplyEvent(ParsedEvent{Category: EventDisconnect, Timestamp: now.Add(time.Second)})
	assert.NotContains(t, disconnectUpdate.Summary.ActiveStates, StateConnected)
	assert.True(t, disconnectUpdate.Changed)
}

func TestConnectedInferredFromProfileState(t *testing.T) {
	s := NewState("ABC123")
	now := time.Now()
	update := s.ApplySnapshot(ParsedSnapshot{
		AdapterEnabled: true,
		Profiles:       map[string]string{"A2DP": "STATE_CONNECTED"},
		Timestamp:      now,
	})
	assert.Contains(t, update.Summary.ActiveStates, StateConnected)

	cleared := s.ApplySnapshot(ParsedSnapshot{
		AdapterEnabled: true,
		Profiles:       map[string]string{"A2DP": "STATE_DISCONNECTED"},
		Timestamp:      now.Add(time.Second),
	})
	assert.NotContains(t, cleared.Summary.ActiveStates, StateConnected)
}

// TestBluetoothStateTransitionScenario walks a full transition sequence:
// a snapshot with scanning+advertising, a stopAdvertising event, then a
// stopScan event, checking the active states at each step.
func TestBluetoothStateTransitionScenario(t *testing.T) {
	s := NewState("ABC123")
	now := time.Now()

	snap := ParseSnapshot("ABC123", "state=on\nstartScan uid/app1\nisAdvertising: true, interval=320", now)
	update := s.ApplySnapshot(snap)
	assert.Contains(t, update.Summary.ActiveStates, StateScanning)
	assert.Contains(t, update.Summary.ActiveStates, StateAdvertising)
	assert.True(t, update.Changed)

	ev := ParseLogLine("ABC123", "stopAdvertising set=0", now.Add(time.Second))
	require.NotNil(t, ev)
	update = s.ApplyEvent(*ev)
	assert.NotContains(t, update.Summary.ActiveStates, StateAdvertising)
	assert.Contains(t, update.Summary.ActiveStates, StateScanning)
	assert.True(t, update.Changed)

	ev = ParseLogLine("ABC123", "stopScan uid/app1", now.Add(2*time.Second))
	require.NotNil(t, ev)
	update = s.ApplyEvent(*ev)
	assert.Equal(t, []ActiveState{StateIdle}, update.Summary.ActiveStates)
}

func TestChangedReflectsMetricsDifference(t *testing.T) {
	s := NewState("ABC123")
	now := time.Now()
	s.ApplySnapshot(ParsedSnapshot{Profiles: map[string]string{"A2DP": "STATE_CONNECTED"}, Timestamp: now})
	update := s.ApplySnapshot(ParsedSnapshot{Profiles: map[string]string{"A2DP": "STATE_DISCONNECTED"}, Timestamp: now.Add(time.Second)})
	assert.True(t, update.Changed)
	assert.Equal(t, "STATE_DISCONNECTED", update.Summary.Metrics["A2DP"])
}
