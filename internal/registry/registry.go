// Package registry maintains the in-memory map of connected devices:
// identity, connectivity, and extended attributes, diffed against each
// discovery poll with hysteresis so momentary USB flicker doesn't flap
// the fleet view.
package registry

import (
	"sort"
	"sync"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/device"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
)

var log = logging.Component("registry")

// RemovalHysteresis is the number of consecutive discovery polls a serial
// must be absent from before it is actually removed.
const RemovalHysteresis = 2

// DebounceWindow coalesces bursts of attribute changes into a single
// DeviceChanged event.
const DebounceWindow = 300 * time.Millisecond

// Registry is the single sequencing owner of the device map: every
// mutation happens while holding mu.
type Registry struct {
	mu      sync.Mutex
	devices map[string]device.Device
	missing map[string]int // consecutive polls absent

	bus *eventbus.Bus

	pendingMu sync.Mutex
	pending   map[string]map[string]struct{} // serial -> changed field set, awaiting debounce flush
	timers    map[string]*time.Timer

	debounce time.Duration
}

// New creates an empty registry publishing onto bus.
func New(bus *eventbus.Bus) *Registry {
	return &Registry{
		devices:  make(map[string]device.Device),
		missing:  make(map[string]int),
		pending:  make(map[string]map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		bus:      bus,
		debounce: DebounceWindow,
	}
}

// SetDebounceWindow overrides the debounce window (tests use a short one).
func (r *Registry) SetDebounceWindow(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debounce = d
}

// Diff summarizes the result of one ApplyDiscovery call.
type Diff struct {
	Added        []string
	RemovedNow   []string // actually removed this poll (hysteresis exhausted)
	AttrsChanged []string
}

// ApplyDiscovery merges a freshly polled device list into the registry.
// Devices absent from the snapshot are not removed immediately: they must
// be absent for RemovalHysteresis consecutive calls first.
func (r *Registry) ApplyDiscovery(snapshot []adbproc.DiscoveredDevice) Diff {
	r.mu.Lock()

	seen := make(map[string]bool, len(snapshot))
	var diff Diff

	for _, d := range snapshot {
		seen[d.Serial] = true
		delete(r.missing, d.Serial)

		existing, known := r.devices[d.Serial]
		if !known {
			fresh := device.Device{
				Serial:  d.Serial,
				USB:     d.USB,
				Product: d.Product,
				Model:   d.Model,
				State:   d.State,
			}
			applyIdentity(&fresh, d.Identity)
			r.devices[d.Serial] = fresh
			diff.Added = append(diff.Added, d.Serial)
			r.publish(eventbus.DeviceAdded{Serial: d.Serial, At: time.Now()})
			continue
		}

		changed := mergeDiscoveryFields(&existing, d)
		r.devices[d.Serial] = existing
		if len(changed) > 0 {
			diff.AttrsChanged = append(diff.AttrsChanged, d.Serial)
			r.scheduleDebouncedChange(d.Serial, changed)
		}
	}

	// Anything known but not seen this poll starts or continues its
	// hysteresis countdown.
	var toRemove []string
	for serial := range r.devices {
		if seen[serial] {
			continue
		}
		r.missing[serial]++
		if r.missing[serial] >= RemovalHysteresis {
			toRemove = append(toRemove, serial)
		}
	}

	for _, serial := range toRemove {
		delete(r.devices, serial)
		delete(r.missing, serial)
		diff.RemovedNow = append(diff.RemovedNow, serial)
	}

	r.mu.Unlock()

	for _, serial := range toRemove {
		r.publish(eventbus.DeviceRemoved{Serial: serial, At: time.Now()})
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.RemovedNow)
	sort.Strings(diff.AttrsChanged)
	return diff
}

// mergeDiscoveryFields field-wise-merges a fresh discovery record into an
// existing Device. Discovery is authoritative: even "unknown" values from
// a fresh discovery overwrite the previous value.
func mergeDiscoveryFields(existing *device.Device, d adbproc.DiscoveredDevice) []string {
	var changed []string
	if existing.State != d.State {
		existing.State = d.State
		changed = append(changed, "state")
	}
	if existing.Model != d.Model {
		existing.Model = d.Model
		changed = append(changed, "model")
	}
	if existing.Product != d.Product {
		existing.Product = d.Product
		changed = append(changed, "product")
	}
	if existing.USB != d.USB {
		existing.USB = d.USB
		changed = append(changed, "usb")
	}
	changed = append(changed, applyIdentity(existing, d.Identity)...)
	return changed
}

// applyIdentity merges one identity probe result into a Device. String
// fields only overwrite when the probe produced a value; the wifi/bt
// tri-states are authoritative because the probe asked the device
// directly this poll.
func applyIdentity(existing *device.Device, id *adbproc.IdentityInfo) []string {
	if id == nil {
		return nil
	}
	var changed []string
	if id.AndroidVersion != "" && existing.AndroidVersion != id.AndroidVersion {
		existing.AndroidVersion = id.AndroidVersion
		changed = append(changed, "android_version")
	}
	if id.APILevel != 0 && existing.APILevel != id.APILevel {
		existing.APILevel = id.APILevel
		changed = append(changed, "api_level")
	}
	if id.BuildFingerprint != "" && existing.BuildFingerprint != id.BuildFingerprint {
		existing.BuildFingerprint = id.BuildFingerprint
		changed = append(changed, "build_fingerprint")
	}
	if id.GmsVersion != "" && existing.GmsVersion != id.GmsVersion {
		existing.GmsVersion = id.GmsVersion
		changed = append(changed, "gms_version")
	}
	if existing.WifiOn != id.WifiOn {
		existing.WifiOn = id.WifiOn
		changed = append(changed, "wifi_on")
	}
	if existing.BtOn != id.BtOn {
		existing.BtOn = id.BtOn
		changed = append(changed, "bt_on")
	}
	return changed
}

// ApplyAttrs merges refresher-sourced extended attributes field-wise.
// Unlike discovery, an "unknown"/empty incoming value never overwrites a
// known value: the refresher only ever enriches, it never blanks out what
// discovery or a previous refresh already established.
func (r *Registry) ApplyAttrs(serial string, attrs map[string]string) {
	r.mu.Lock()
	d, ok := r.devices[serial]
	if !ok {
		r.mu.Unlock()
		return
	}
	if d.ExtendedAttrs == nil {
		d.ExtendedAttrs = make(map[string]string)
	}
	var changed []string
	for k, v := range attrs {
		if v == "" || v == "unknown" {
			continue
		}
		if d.ExtendedAttrs[k] != v {
			d.ExtendedAttrs[k] = v
			changed = append(changed, k)
		}
	}
	r.devices[serial] = d
	r.mu.Unlock()

	if len(changed) > 0 {
		r.scheduleDebouncedChange(serial, changed)
	}
}

func (r *Registry) scheduleDebouncedChange(serial string, fields []string) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	set, ok := r.pending[serial]
	if !ok {
		set = make(map[string]struct{})
		r.pending[serial] = set
	}
	for _, f := range fields {
		set[f] = struct{}{}
	}

	if t, exists := r.timers[serial]; exists {
		t.Stop()
	}
	window := r.debounce
	r.timers[serial] = time.AfterFunc(window, func() { r.flushDebounced(serial) })
}

func (r *Registry) flushDebounced(serial string) {
	r.pendingMu.Lock()
	set := r.pending[serial]
	delete(r.pending, serial)
	delete(r.timers, serial)
	r.pendingMu.Unlock()

	if len(set) == 0 {
		return
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	r.publish(eventbus.DeviceChanged{Serial: serial, FieldsChanged: fields, At: time.Now()})
}

func (r *Registry) publish(e eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// Get returns a copy of the current record for serial, if known.
func (r *Registry) Get(serial string) (device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[serial]
	if !ok {
		return device.Device{}, false
	}
	return d.Clone(), true
}

// List returns a stable-ordered snapshot of every known device.
func (r *Registry) List() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Usable splits serials into devices whose connection state permits
// shell-backed operations and the serials that are excluded.
func (r *Registry) Usable(serials []string) ([]device.Device, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ok []device.Device
	var unavailable []string
	for _, s := range serials {
		d, known := r.devices[s]
		if !known || !d.State.Usable() {
			unavailable = append(unavailable, s)
			continue
		}
		ok = append(ok, d.Clone())
	}
	return ok, unavailable
}

// Invalidate explicitly removes a serial regardless of hysteresis (used
// for "disconnect-wifi"-style explicit teardown). Emits DeviceRemoved if
// the serial was known.
func (r *Registry) Invalidate(serial string) {
	r.mu.Lock()
	_, existed := r.devices[serial]
	delete(r.devices, serial)
	delete(r.missing, serial)
	r.mu.Unlock()

	if existed {
		r.publish(eventbus.DeviceRemoved{Serial: serial, At: time.Now()})
	} else {
		log.Debug().Str("serial", serial).Msg("invalidate: serial not known")
	}
}
