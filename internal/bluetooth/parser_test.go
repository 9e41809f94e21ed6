package bluetooth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshotAdapterAndAddress(t *testing.T) {
	raw := "mEnable: true\nAddress: AA:BB:CC:DD:EE:FF\nstate=on\n"
	snap := ParseSnapshot("ABC123", raw, time.Now())
	assert.True(t, snap.AdapterEnabled)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", snap.Address)
}

func TestParseSnapshotScanningAndAdvertisingKeywords(t *testing.T) {
	raw := "onScanResult callback\nisAdvertising: true\n"
	snap := ParseSnapshot("ABC123", raw, time.Now())
	assert.True(t, snap.Scanning.IsScanning)
	assert.True(t, snap.Advertising.IsAdvertising)
}

func TestParseSnapshotProfiles(t *testing.T) {
	raw := "A2dp: STATE_CONNECTED\nHfp: STATE_DISCONNECTED\nunrelated: line\n"
	snap := ParseSnapshot("ABC123", raw, time.Now())
	assert.Equal(t, "STATE_CONNECTED", snap.Profiles["A2DP"])
	assert.Equal(t, "STATE_DISCONNECTED", snap.Profiles["HFP"])
}

func TestParseSnapshotBondedDevicesHeaderFormat(t *testing.T) {
	raw := "Bonded devices:\n  AA:BB:CC:DD:EE:FF (My Earbuds)\n  11:22:33:44:55:66 (Car Stereo)\n\nOther section\n"
	snap := ParseSnapshot("ABC123", raw, time.Now())
	require.Len(t, snap.BondedDevices, 2)
	assert.Equal(t, "My Earbuds", snap.BondedDevices[0].Name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", snap.BondedDevices[0].Address)
}

func TestParseSnapshotBondedDevicesKeyValueFormat(t *testing.T) {
	raw := "name=My Earbuds, address=AA:BB:CC:DD:EE:FF, bondState=BONDED\n"
	snap := ParseSnapshot("ABC123", raw, time.Now())
	require.Len(t, snap.BondedDevices, 1)
	assert.Equal(t, "My Earbuds", snap.BondedDevices[0].Name)
	assert.Equal(t, "BONDED", snap.BondedDevices[0].BondState)
}

func TestParseLogLinePrefersMoreSpecificCategory(t *testing.T) {
	ev := ParseLogLine("ABC123", "onAdvertisingSetStarted setId=3 txPower=-7", time.Now())
	require.NotNil(t, ev)
	assert.Equal(t, EventAdvertisingStart, ev.Category)
	require.NotNil(t, ev.SetID)
	assert.Equal(t, 3, *ev.SetID)
	require.NotNil(t, ev.TxPowerDBm)
	assert.Equal(t, -7, *ev.TxPowerDBm)
}

func TestParseLogLineGattConnectDisconnect(t *testing.T) {
	connect := ParseLogLine("ABC123", "onConnectionStateChange: gatt connected", time.Now())
	require.NotNil(t, connect)
	assert.Equal(t, EventConnect, connect.Category)

	disconnect := ParseLogLine("ABC123", "onConnectionStateChange: gatt disconnected", time.Now())
	require.NotNil(t, disconnect)
	assert.Equal(t, EventDisconnect, disconnect.Category)
}

func TestParseLogLineUnrecognizedReturnsNil(t *testing.T) {
	assert.Nil(t, ParseLogLine("ABC123", "completely unrelated log line", time.Now()))
}
