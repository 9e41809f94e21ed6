// Package display renders device attributes for the terminal front-ends:
// icon-prefixed extended-attribute lines and friendly CPU names.
package display

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	IconCPU        = "🔧"
	IconScreen     = "📱"
	IconNetwork    = "🌐"
	IconBattery    = "🔋"
	IconBatteryLow = "🪫"
)

// lowBatteryThreshold is the percentage at or below which the battery
// icon switches to its low variant.
const lowBatteryThreshold = 20

// NormalizeCPUArchitecture maps Android ABI names to friendlier labels.
func NormalizeCPUArchitecture(arch string) string {
	switch arch {
	case "arm64-v8a":
		return "ARM64"
	case "armeabi-v7a":
		return "ARM32"
	case "x86_64":
		return "x64"
	case "x86":
		return "x86"
	default:
		return arch
	}
}

// BatteryIcon picks the icon for a battery percentage string.
func BatteryIcon(level string) string {
	if n, err := strconv.Atoi(level); err == nil && n <= lowBatteryThreshold {
		return IconBatteryLow
	}
	return IconBattery
}

// ExtendedInfoLine assembles the refresher's slow-changing attributes
// (battery, cpu arch, screen size, wifi ip) into one icon-prefixed line.
// Returns "" until at least one attribute has arrived.
func ExtendedInfoLine(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	var parts []string
	if v := attrs["battery"]; v != "" {
		parts = append(parts, fmt.Sprintf("%s %s%%", BatteryIcon(v), v))
	}
	if v := attrs["cpu_arch"]; v != "" {
		parts = append(parts, IconCPU+" "+NormalizeCPUArchitecture(v))
	}
	if v := attrs["screen_size"]; v != "" {
		parts = append(parts, IconScreen+" "+v)
	}
	if v := attrs["wifi_ip"]; v != "" {
		parts = append(parts, IconNetwork+" "+v)
	}
	return strings.Join(parts, "  ")
}

// FormatExtendedInfoWithIndent hangs the extended-attribute line under
// its device row.
func FormatExtendedInfoWithIndent(mainInfo, extendedInfo string) string {
	if extendedInfo == "" {
		return mainInfo
	}
	return mainInfo + "\n    " + extendedInfo
}
