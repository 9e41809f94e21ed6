package adbproc

import (
	"strconv"
	"strings"

	"droidfleet/internal/device"
)

// DiscoveredDevice is the raw result of parsing one `adb devices -l` line,
// before the registry merges it into its Device map. Identity is filled
// by the per-device IdentityProbe when the device is in `device` state;
// nil when the probe was skipped or failed.
type DiscoveredDevice struct {
	Serial   string
	State    device.ConnectionState
	USB      string
	Product  string
	Model    string
	Identity *IdentityInfo
}

// IdentityInfo is the parsed result of one IdentityProbe call.
type IdentityInfo struct {
	AndroidVersion   string
	APILevel         int
	BuildFingerprint string
	WifiOn           device.TriState
	BtOn             device.TriState
	GmsVersion       string
}

// ParseIdentityProbe parses IdentityProbe's output positionally: one line
// per query, GMS versionName last (absent when GMS is not installed).
func ParseIdentityProbe(lines []string) IdentityInfo {
	get := func(i int) string {
		if i < len(lines) {
			return strings.TrimSpace(lines[i])
		}
		return ""
	}

	info := IdentityInfo{
		AndroidVersion:   get(0),
		BuildFingerprint: get(2),
		WifiOn:           parseTriState(get(3)),
		BtOn:             parseTriState(get(4)),
	}
	if v, err := strconv.Atoi(get(1)); err == nil {
		info.APILevel = v
	}
	if line := get(5); strings.Contains(line, "versionName=") {
		info.GmsVersion = strings.TrimSpace(line[strings.Index(line, "versionName=")+len("versionName="):])
	}
	return info
}

// parseTriState maps a `settings get global` answer to a TriState
// ("null" and anything unrecognized stay unknown).
func parseTriState(v string) device.TriState {
	switch v {
	case "1":
		return device.TriOn
	case "0":
		return device.TriOff
	default:
		return device.TriUnknown
	}
}

// ParseDevicesOutput parses the lines of `adb devices -l`, skipping the
// "List of devices attached" header. Unauthorized and offline devices are
// included (callers decide which operations they're eligible for).
func ParseDevicesOutput(lines []string) []DiscoveredDevice {
	var out []DiscoveredDevice
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") {
			continue
		}
		if d, ok := parseDeviceLine(line); ok {
			out = append(out, d)
		} else {
			log.Debug().Err(&ParseError{Context: "devices -l", Raw: line}).Msg("skipping unparseable device line")
		}
	}
	return out
}

func parseDeviceLine(line string) (DiscoveredDevice, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return DiscoveredDevice{}, false
	}

	d := DiscoveredDevice{
		Serial: parts[0],
		State:  device.ParseConnectionState(parts[1]),
	}

	for _, p := range parts[2:] {
		switch {
		case strings.HasPrefix(p, "model:"):
			d.Model = strings.TrimPrefix(p, "model:")
		case strings.HasPrefix(p, "product:"):
			d.Product = strings.TrimPrefix(p, "product:")
		case strings.HasPrefix(p, "usb:"):
			d.USB = strings.TrimPrefix(p, "usb:")
		}
	}

	return d, true
}

// ParseBatteryLevel extracts the level from `dumpsys battery` output.
// Returns -1 if not found.
func ParseBatteryLevel(lines []string) int {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "level:") {
			if v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "level:"))); err == nil {
				return v
			}
		}
	}
	return -1
}

// ParseScreenSize extracts "Physical size: WxH" from `wm size` output.
func ParseScreenSize(lines []string) string {
	for _, line := range lines {
		if idx := strings.Index(line, "Physical size:"); idx != -1 {
			return strings.TrimSpace(line[idx+len("Physical size:"):])
		}
	}
	return ""
}

// ParseWlanIPv4 extracts an IPv4 address from `ip addr show wlan0` (or the
// ifconfig fallback's "inet addr:" form).
func ParseWlanIPv4(lines []string) string {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "inet addr:") {
			start := strings.Index(line, "inet addr:") + len("inet addr:")
			rest := line[start:]
			if sp := strings.Index(rest, " "); sp != -1 {
				return rest[:sp]
			}
			return rest
		}
		if strings.Contains(line, "inet ") && !strings.Contains(line, "127.0.0.1") {
			fields := strings.Fields(line)
			for i, f := range fields {
				if f == "inet" && i+1 < len(fields) {
					ipWithMask := fields[i+1]
					if slash := strings.Index(ipWithMask, "/"); slash != -1 {
						return ipWithMask[:slash]
					}
					return ipWithMask
				}
			}
		}
	}
	return ""
}

// ParseCPUArch extracts the value from a single-line `getprop
// ro.product.cpu.abi` probe, trimming adb's trailing newline.
func ParseCPUArch(lines []string) string {
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
