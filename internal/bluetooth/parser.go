package bluetooth

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"droidfleet/internal/adbproc"
)

var macRe = regexp.MustCompile(`([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}`)

// knownProfiles is the fixed set of profile-name tokens the dump reports a
// STATE_* line for.
var knownProfiles = []string{"A2dp", "Hfp", "Hid", "Gatt", "Map", "Pbap", "Pan", "Avrcp", "Hearing", "Opp"}

// ParseSnapshot extracts structured fields from one combined
// bluetooth_manager+bluetooth_adapter dump. The literal separator line is
// a pure delimiter, not a section boundary with distinct grammars; both
// sections are scanned together.
func ParseSnapshot(serial, rawText string, ts time.Time) ParsedSnapshot {
	lower := strings.ToLower(rawText)

	snap := ParsedSnapshot{
		Serial:    serial,
		Timestamp: ts,
		RawText:   rawText,
		Profiles:  make(map[string]string),
	}

	snap.AdapterEnabled = strings.Contains(lower, "state=on") || strings.Contains(lower, "enabled: true")

	if m := macRe.FindString(rawText); m != "" {
		snap.Address = m
	}

	snap.Scanning.IsScanning = containsAny(lower,
		"startscan", "ondiscovering: true", "onbatchscanresults", "onscanresult")
	for _, m := range scanClientRe.FindAllStringSubmatch(rawText, -1) {
		snap.Scanning.Clients = append(snap.Scanning.Clients, m[1])
	}

	snap.Advertising.IsAdvertising = containsAny(lower,
		"startadvertising", "onadvertisingsetstarted", "isadvertising: true")
	snap.Advertising.Sets = parseAdvertisingSets(rawText)

	snap.Profiles = parseProfiles(rawText)
	snap.BondedDevices = parseBondedDevices(rawText)

	return snap
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func parseProfiles(rawText string) map[string]string {
	profiles := make(map[string]string)
	for _, line := range strings.Split(rawText, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, profile := range knownProfiles {
			prefix := profile + ":"
			if !strings.HasPrefix(trimmed, prefix) {
				continue
			}
			state := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
			if state == "" {
				continue
			}
			profiles[strings.ToUpper(profile)] = strings.ToUpper(firstField(state))
		}
	}
	return profiles
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

var advertisingSetLineRe = regexp.MustCompile(`(?i)advertisingset.*?setid[=:]\s*(\d+)`)
var intervalRe = regexp.MustCompile(`(?i)interval[=:]\s*(\d+)`)
var txPowerRe = regexp.MustCompile(`(?i)tx_?power[=:]\s*(-?\d+)`)
var dataLengthRe = regexp.MustCompile(`(?i)data_?length[=:]\s*(\d+)`)
var serviceUUIDRe = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func parseAdvertisingSets(rawText string) []AdvertisingSet {
	var sets []AdvertisingSet
	for _, line := range strings.Split(rawText, "\n") {
		if !strings.Contains(strings.ToLower(line), "advertisingset") {
			continue
		}
		set := AdvertisingSet{}
		if m := advertisingSetLineRe.FindStringSubmatch(line); len(m) == 2 {
			set.SetID = intPtr(m[1])
		}
		if m := intervalRe.FindStringSubmatch(line); len(m) == 2 {
			set.IntervalMs = intPtr(m[1])
		}
		if m := txPowerRe.FindStringSubmatch(line); len(m) == 2 {
			set.TxPowerDBm = intPtr(m[1])
		}
		if m := dataLengthRe.FindStringSubmatch(line); len(m) == 2 {
			set.DataLength = intPtr(m[1])
		}
		set.ServiceUUIDs = serviceUUIDRe.FindAllString(line, -1)
		if set.SetID != nil || set.IntervalMs != nil || set.TxPowerDBm != nil || set.DataLength != nil || len(set.ServiceUUIDs) > 0 {
			sets = append(sets, set)
		}
	}
	return sets
}

func intPtr(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

var scanClientRe = regexp.MustCompile(`(?i)startscan\s+([^\s,]+)`)

var kvAddressRe = regexp.MustCompile(`address=([0-9A-Fa-f:]{17})`)
var kvNameRe = regexp.MustCompile(`name=([^,\s][^,]*)`)
var kvBondStateRe = regexp.MustCompile(`(?i)bondstate=(\w+)`)
var clientUIDRe = regexp.MustCompile(`(?i)clientuid[=:]\s*(\d+)`)

// setNumberRe catches the bare `set=N` form some logcat lines use where
// the dump would say `setId=N`.
var setNumberRe = regexp.MustCompile(`(?i)\bset(?:id)?[=:]\s*(\d+)`)

// logcatTagRe splits a `-v time`-formatted line into its tag and payload.
var logcatTagRe = regexp.MustCompile(`[VDIWEF]/([^(:\s]+)\s*\(\s*\d+\):\s*(.*)`)

// parseBondedDevices handles both documented formats: a "Bonded devices:"
// header followed by "MAC (Name)" lines, and free-standing
// "name=…, address=…" key/value pairs.
func parseBondedDevices(rawText string) []BondedDevice {
	var out []BondedDevice
	lines := strings.Split(rawText, "\n")

	inHeaderBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.EqualFold(trimmed, "Bonded devices:") {
			inHeaderBlock = true
			continue
		}
		if inHeaderBlock {
			if trimmed == "" || !macRe.MatchString(trimmed) {
				inHeaderBlock = false
			} else if mac := macRe.FindString(trimmed); mac != "" {
				name := ""
				if open := strings.Index(trimmed, "("); open != -1 {
					if close := strings.LastIndex(trimmed, ")"); close > open {
						name = trimmed[open+1 : close]
					}
				}
				out = append(out, BondedDevice{Address: mac, Name: name})
				continue
			}
		}

		if strings.Contains(trimmed, "address=") {
			bd := BondedDevice{}
			if m := kvAddressRe.FindStringSubmatch(trimmed); len(m) == 2 {
				bd.Address = m[1]
			}
			if m := kvNameRe.FindStringSubmatch(trimmed); len(m) == 2 {
				bd.Name = strings.TrimSpace(m[1])
			}
			if m := kvBondStateRe.FindStringSubmatch(trimmed); len(m) == 2 {
				bd.BondState = strings.ToUpper(m[1])
			}
			if bd.Address != "" {
				out = append(out, bd)
			} else {
				// A vendor skin emitting a third bonded-device format lands
				// here: skipped, never aborting the snapshot parse.
				log.Debug().Err(&adbproc.ParseError{Context: "bonded devices", Raw: trimmed}).Msg("unrecognized bonded device line")
			}
		}
	}
	return out
}

// ParseLogLine classifies one logcat line, preferring the most specific
// category when several keywords could match.
func ParseLogLine(serial, line string, ts time.Time) *ParsedEvent {
	lower := strings.ToLower(line)

	ev := &ParsedEvent{Serial: serial, Timestamp: ts, Raw: line}

	switch {
	case containsAny(lower, "onadvertisingsetstarted", "startadvertising"):
		ev.Category = EventAdvertisingStart
	case containsAny(lower, "onadvertisingsetstopped", "stopadvertising"):
		ev.Category = EventAdvertisingStop
	case containsAny(lower, "onscanresult", "onbatchscanresults"):
		ev.Category = EventScanResult
	case containsAny(lower, "startscan"):
		ev.Category = EventScanStart
	case containsAny(lower, "stopscan"):
		ev.Category = EventScanStop
	// Disconnect must be checked before connect: "disconnect"/"disconnected"
	// both contain "connect" as a substring, so the more specific case has
	// to win first or it is unreachable.
	case strings.Contains(lower, "gatt") && containsAny(lower, "disconnect", "disconnected"):
		ev.Category = EventDisconnect
	case strings.Contains(lower, "gatt") && containsAny(lower, "connect", "connected"):
		ev.Category = EventConnect
	case containsAny(lower, "error", "failed", "failure"):
		ev.Category = EventError
	default:
		return nil
	}

	if m := logcatTagRe.FindStringSubmatch(line); len(m) == 3 {
		ev.Tag = m[1]
		ev.Message = strings.TrimSpace(m[2])
	} else {
		ev.Message = strings.TrimSpace(line)
	}

	if m := advertisingSetLineRe.FindStringSubmatch(line); len(m) == 2 {
		ev.SetID = intPtr(m[1])
	} else if m := setNumberRe.FindStringSubmatch(line); len(m) == 2 {
		ev.SetID = intPtr(m[1])
	}
	if m := txPowerRe.FindStringSubmatch(line); len(m) == 2 {
		ev.TxPowerDBm = intPtr(m[1])
	}
	if m := dataLengthRe.FindStringSubmatch(line); len(m) == 2 {
		ev.DataLength = intPtr(m[1])
	}
	if m := clientUIDRe.FindStringSubmatch(line); len(m) == 2 {
		ev.ClientUID = intPtr(m[1])
	}

	return ev
}
