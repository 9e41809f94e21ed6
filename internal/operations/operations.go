// Package operations tracks the lifecycle of every user-initiated device
// operation (screenshot, recording, shell command, ...) so a front-end can
// render a live "what's running / what just finished" list without
// polling the dispatcher directly.
package operations

import (
	"sync"
	"time"

	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
)

var log = logging.Component("operations")

// AutoDismissDelay is how long a terminal operation stays visible before
// it is evicted on its own.
const AutoDismissDelay = 3000 * time.Millisecond

// MaxTracked caps how many *terminal* operations the manager retains at
// once: once exceeded, the oldest terminal entries (FIFO on completed_at)
// are evicted immediately, ahead of their normal auto-dismiss delay.
// Active operations never count against this cap.
const MaxTracked = 50

// CancelFunc is invoked when a tracked, cancellable operation is
// cancelled by the user.
type CancelFunc func()

type entry struct {
	event     eventbus.OperationEvent
	cancel    CancelFunc
	dismissAt *time.Timer
}

// Manager is the canonical registry of OperationEvents, keyed by
// operation ID with a secondary index by device serial.
type Manager struct {
	bus *eventbus.Bus

	mu       sync.Mutex
	byID     map[string]*entry
	bySerial map[string]string // serial -> operation ID of its current active entry (RECORDING coalescing target)
	order    []string          // insertion order, for List()
	terminal []string          // ids that reached a terminal status, oldest first by completed_at
}

func New(bus *eventbus.Bus) *Manager {
	return &Manager{
		bus:      bus,
		byID:     make(map[string]*entry),
		bySerial: make(map[string]string),
	}
}

// Add registers a new operation. If opType is OpRecording and the device
// already has an active RECORDING entry, Add coalesces onto it instead of
// creating a second entry — a segmented recording is one logical
// operation across many internal restarts.
func (m *Manager) Add(id, serial string, opType eventbus.OperationType, canCancel bool, cancel CancelFunc) eventbus.OperationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opType == eventbus.OpRecording {
		if existingID, ok := m.bySerial[serial]; ok {
			if e, ok := m.byID[existingID]; ok && e.event.Type == eventbus.OpRecording && e.event.IsActive() {
				return e.event
			}
		}
	}

	now := time.Now()
	ev := eventbus.OperationEvent{
		OperationID:  id,
		DeviceSerial: serial,
		Type:         opType,
		Status:       eventbus.OpPending,
		StartedAt:    now,
		CanCancel:    canCancel,
	}
	m.byID[id] = &entry{event: ev, cancel: cancel}
	m.order = append(m.order, id)
	if serial != "" {
		m.bySerial[serial] = id
	}

	m.publish(ev)
	return ev
}

// Update transitions an existing operation. Terminal transitions schedule
// auto-dismiss; non-terminal transitions (e.g. progress updates) do not.
func (m *Manager) Update(id string, status eventbus.OperationStatus, progress *float64, message, errMsg string) {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	// Terminal statuses are final: a late completion racing a cancel must
	// not resurrect or reclassify the entry.
	if e.event.IsTerminal() {
		m.mu.Unlock()
		return
	}

	e.event.Status = status
	if progress != nil {
		e.event.Progress = progress
	}
	if message != "" {
		e.event.Message = message
	}
	if errMsg != "" {
		e.event.ErrorMessage = errMsg
	}
	if status.IsTerminal() {
		now := time.Now()
		e.event.CompletedAt = &now
		m.terminal = append(m.terminal, id)
		m.scheduleDismissLocked(id)
	}
	ev := e.event
	evicted := m.evictOverflowLocked()
	m.mu.Unlock()

	m.publish(ev)
	for _, rid := range evicted {
		m.publish(eventbus.OperationEvent{OperationID: rid, Removed: true})
	}
}

// Cancel requests cancellation of a tracked operation. A non-terminal,
// cancellable operation invokes its CancelFunc and transitions to
// CANCELLED; a terminal operation, or one not marked CanCancel, is a
// no-op.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok || e.event.IsTerminal() || !e.event.CanCancel {
		m.mu.Unlock()
		return
	}
	cancel := e.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.Update(id, eventbus.OpCancelled, nil, "", "")
}

// ClearCompleted removes every terminal operation, optionally restricted
// to a set of serials. Returns the IDs removed.
func (m *Manager) ClearCompleted(serials []string) []string {
	var filter map[string]bool
	if len(serials) > 0 {
		filter = make(map[string]bool, len(serials))
		for _, s := range serials {
			filter[s] = true
		}
	}

	m.mu.Lock()
	var removed []string
	for id, e := range m.byID {
		if !e.event.IsTerminal() {
			continue
		}
		if filter != nil && !filter[e.event.DeviceSerial] {
			continue
		}
		removed = append(removed, id)
	}
	for _, id := range removed {
		m.removeLocked(id)
	}
	m.mu.Unlock()

	for _, id := range removed {
		m.publish(eventbus.OperationEvent{OperationID: id, Removed: true})
	}
	return removed
}

// Get returns the current snapshot of a tracked operation.
func (m *Manager) Get(id string) (eventbus.OperationEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return eventbus.OperationEvent{}, false
	}
	return e.event, true
}

// List returns every tracked operation in insertion order.
func (m *Manager) List() []eventbus.OperationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]eventbus.OperationEvent, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.byID[id]; ok {
			out = append(out, e.event)
		}
	}
	return out
}

// ActiveForSerial returns the serial's current active (non-terminal)
// operation, if any.
func (m *Manager) ActiveForSerial(serial string) (eventbus.OperationEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySerial[serial]
	if !ok {
		return eventbus.OperationEvent{}, false
	}
	e, ok := m.byID[id]
	if !ok || !e.event.IsActive() {
		return eventbus.OperationEvent{}, false
	}
	return e.event, true
}

func (m *Manager) scheduleDismissLocked(id string) {
	e := m.byID[id]
	if e.dismissAt != nil {
		e.dismissAt.Stop()
	}
	e.dismissAt = time.AfterFunc(AutoDismissDelay, func() {
		m.mu.Lock()
		_, stillTracked := m.byID[id]
		if stillTracked {
			m.removeLocked(id)
		}
		m.mu.Unlock()
		if stillTracked {
			m.publish(eventbus.OperationEvent{OperationID: id, Removed: true})
		}
	})
}

// evictOverflowLocked drops the oldest *terminal* entries once the manager
// is holding more than MaxTracked of them, FIFO on completed_at. Active
// operations are never evicted this way.
func (m *Manager) evictOverflowLocked() []string {
	var evicted []string
	for len(m.terminal) > MaxTracked {
		oldest := m.terminal[0]
		m.removeLocked(oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// removeLocked deletes id from every index. Caller must hold m.mu.
func (m *Manager) removeLocked(id string) {
	e, ok := m.byID[id]
	if !ok {
		return
	}
	if e.dismissAt != nil {
		e.dismissAt.Stop()
	}
	delete(m.byID, id)
	if cur, ok := m.bySerial[e.event.DeviceSerial]; ok && cur == id {
		delete(m.bySerial, e.event.DeviceSerial)
	}
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for i, oid := range m.terminal {
		if oid == id {
			m.terminal = append(m.terminal[:i], m.terminal[i+1:]...)
			break
		}
	}
}

func (m *Manager) publish(ev eventbus.OperationEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ev)
	if ev.DeviceSerial != "" {
		log.Debug().Str("op", ev.OperationID).Str("serial", ev.DeviceSerial).Str("status", string(ev.Status)).Msg("operation event")
	}
}
