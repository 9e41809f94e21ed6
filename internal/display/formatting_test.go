package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatteryIconSwitchesAtThreshold(t *testing.T) {
	assert.Equal(t, IconBattery, BatteryIcon("55"))
	assert.Equal(t, IconBatteryLow, BatteryIcon("20"))
	assert.Equal(t, IconBatteryLow, BatteryIcon("3"))
	assert.Equal(t, IconBattery, BatteryIcon("not-a-number"))
}

func TestExtendedInfoLine(t *testing.T) {
	assert.Empty(t, ExtendedInfoLine(nil))
	assert.Empty(t, ExtendedInfoLine(map[string]string{}))

	line := ExtendedInfoLine(map[string]string{
		"battery":     "87",
		"cpu_arch":    "arm64-v8a",
		"screen_size": "1080x2400",
		"wifi_ip":     "192.168.1.20",
	})
	assert.Contains(t, line, "87%")
	assert.Contains(t, line, "ARM64")
	assert.Contains(t, line, "1080x2400")
	assert.Contains(t, line, "192.168.1.20")
}

func TestFormatExtendedInfoWithIndent(t *testing.T) {
	assert.Equal(t, "main", FormatExtendedInfoWithIndent("main", ""))
	assert.Equal(t, "main\n    extra", FormatExtendedInfoWithIndent("main", "extra"))
}
