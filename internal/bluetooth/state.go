package bluetooth

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// AdvertisingTimeout / ScanningTimeout clear an activity flag that hasn't
// been reconfirmed by a snapshot or event within the window.
const (
	AdvertisingTimeout = 3 * time.Second
	ScanningTimeout    = 3 * time.Second
)

// State is the per-device Bluetooth state machine. It fuses the
// snapshot-poll stream and the logcat-event stream into one debounced
// StateSummary. All mutation happens under mu, making State the single
// sequencing owner of a device's Bluetooth flags.
type State struct {
	mu sync.Mutex

	serial string

	adapterEnabled  bool
	advertisingSeen time.Time
	scanningSeen    time.Time
	connectedActive bool
	profiles        map[string]string

	lastSummary StateSummary
	hasLast     bool
}

func NewState(serial string) *State {
	return &State{serial: serial, profiles: make(map[string]string)}
}

// ApplySnapshot folds a freshly parsed snapshot into the state machine.
func (s *State) ApplySnapshot(snap ParsedSnapshot) StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The snapshot is authoritative: its fields override every flag it
	// speaks for, including clearing ones a stale event left set.
	s.adapterEnabled = snap.AdapterEnabled
	if snap.Advertising.IsAdvertising {
		s.advertisingSeen = snap.Timestamp
	} else {
		s.advertisingSeen = time.Time{}
	}
	if snap.Scanning.IsScanning {
		s.scanningSeen = snap.Timestamp
	} else {
		s.scanningSeen = time.Time{}
	}
	s.profiles = make(map[string]string, len(snap.Profiles))
	for k, v := range snap.Profiles {
		s.profiles[k] = v
	}

	return s.computeLocked(snap.Timestamp)
}

// ApplyEvent folds one classified logcat event into the state machine.
func (s *State) ApplyEvent(ev ParsedEvent) StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Category {
	case EventAdvertisingStart:
		s.advertisingSeen = ev.Timestamp
	case EventAdvertisingStop:
		s.advertisingSeen = time.Time{}
	case EventScanStart, EventScanResult:
		s.scanningSeen = ev.Timestamp
	case EventScanStop:
		s.scanningSeen = time.Time{}
	case EventConnect:
		s.connectedActive = true
	case EventDisconnect:
		s.connectedActive = false
	}

	return s.computeLocked(ev.Timestamp)
}

// Tick re-evaluates timeouts as of now, for callers that want to expire
// stale activity flags even absent a new snapshot or event.
func (s *State) Tick(now time.Time) StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.computeLocked(now)
}

// connectedFromProfilesLocked reports whether any profile's uppercased
// state implies a live connection: it contains CONNECTED but not
// DISCONNECTED. Caller must hold s.mu.
func (s *State) connectedFromProfilesLocked() bool {
	for _, v := range s.profiles {
		if strings.Contains(v, "CONNECTED") && !strings.Contains(v, "DISCONNECTED") {
			return true
		}
	}
	return false
}

func (s *State) computeLocked(now time.Time) StateUpdate {
	// Adapter-off collapses every other flag: the active set is exactly
	// {OFF} in that case.
	var active []ActiveState
	if !s.adapterEnabled {
		active = []ActiveState{StateOff}
	} else {
		advertisingActive := !s.advertisingSeen.IsZero() && now.Sub(s.advertisingSeen) < AdvertisingTimeout
		scanningActive := !s.scanningSeen.IsZero() && now.Sub(s.scanningSeen) < ScanningTimeout
		connectedActive := s.connectedActive || s.connectedFromProfilesLocked()

		if advertisingActive {
			active = append(active, StateAdvertising)
		}
		if scanningActive {
			active = append(active, StateScanning)
		}
		if connectedActive {
			active = append(active, StateConnected)
		}
		if len(active) == 0 {
			active = append(active, StateIdle)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })

	metrics := make(map[string]any, len(s.profiles))
	for k, v := range s.profiles {
		metrics[k] = v
	}

	summary := StateSummary{ActiveStates: active, Metrics: metrics}
	changed := !s.hasLast || !summaryEqual(s.lastSummary, summary)

	s.lastSummary = summary
	s.hasLast = true

	return StateUpdate{Serial: s.serial, Summary: summary, Changed: changed, Timestamp: now}
}

func summaryEqual(a, b StateSummary) bool {
	if len(a.ActiveStates) != len(b.ActiveStates) {
		return false
	}
	for i := range a.ActiveStates {
		if a.ActiveStates[i] != b.ActiveStates[i] {
			return false
		}
	}
	if len(a.Metrics) != len(b.Metrics) {
		return false
	}
	for k, v := range a.Metrics {
		if bv, ok := b.Metrics[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
