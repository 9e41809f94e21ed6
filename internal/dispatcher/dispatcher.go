// Package dispatcher is the bounded worker pool every device operation
// runs through, so the number of concurrent adb subprocesses never
// exceeds a fixed ceiling no matter how many devices or commands a user
// fans a request out to. A semaphore channel caps concurrency, a
// WaitGroup tracks in-flight work, and each submission hands back a
// Handle for cancellation and completion.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
)

var log = logging.Component("dispatcher")

// DefaultWorkers is the out-of-the-box concurrency ceiling.
const DefaultWorkers = 4

// TaskInfo describes a unit of work for logging and for the operations
// status manager, which keys its entries by DeviceSerial.
type TaskInfo struct {
	Name         string
	Category     string
	DeviceSerial string // empty for fleet-wide tasks not scoped to one device
}

// Handle lets a caller observe and cancel one submitted task.
type Handle struct {
	ID   string
	Info TaskInfo

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Cancel requests the task stop. If the task has not yet started (still
// waiting on a free worker slot), it is dequeued without ever running —
// cancellation bypasses the queue.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done returns a channel closed when the task finishes, whether it
// completed, failed, or was cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's outcome. Only meaningful after Done() is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Rejected returns an already-finished Handle carrying err, for callers
// that need to report a fan-out target as failed without ever submitting
// it to a worker — e.g. a device excluded up front for being in the wrong
// connection state. Cancel is a no-op.
func Rejected(info TaskInfo, err error) *Handle {
	h := &Handle{
		ID:     uuid.NewString(),
		Info:   info,
		cancel: func() {},
		done:   make(chan struct{}),
		err:    err,
	}
	close(h.done)
	return h
}

// Dispatcher is a bounded worker pool. Safe for concurrent Submit calls.
type Dispatcher struct {
	maxWorkers int
	sem        chan struct{}
	bus        *eventbus.Bus
	wg         sync.WaitGroup

	warnMu   sync.Mutex
	warnedAt time.Time
}

// New creates a Dispatcher with the given concurrency ceiling (<=0 uses
// DefaultWorkers).
func New(maxWorkers int, bus *eventbus.Bus) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkers
	}
	return &Dispatcher{
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
		bus:        bus,
	}
}

// MaxWorkers returns the pool's concurrency ceiling.
func (d *Dispatcher) MaxWorkers() int { return d.maxWorkers }

// ActiveCount returns the number of tasks currently holding a worker slot.
func (d *Dispatcher) ActiveCount() int { return len(d.sem) }

// Submit schedules fn to run under a bounded worker. The task's context is
// derived from ctx and cancelled either by the caller, by Handle.Cancel,
// or when fn returns.
func (d *Dispatcher) Submit(ctx context.Context, info TaskInfo, fn func(ctx context.Context) error) *Handle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		Info:   info,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if d.ActiveCount() >= d.maxWorkers {
		d.publishBackpressure()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(h.done)
		defer cancel()

		select {
		case <-taskCtx.Done():
			h.setErr(taskCtx.Err())
			return
		case d.sem <- struct{}{}:
		}
		defer func() { <-d.sem }()
		if err := taskCtx.Err(); err != nil {
			h.setErr(err)
			return
		}

		log.Debug().Str("task", info.Name).Str("serial", info.DeviceSerial).Msg("task started")
		err := fn(taskCtx)
		h.setErr(err)
		if err != nil && taskCtx.Err() == nil {
			log.Warn().Err(err).Str("task", info.Name).Msg("task failed")
		}
	}()

	return h
}

// publishBackpressure emits at most one Warning every second, so a burst
// of submissions against a saturated pool doesn't spam the event bus.
func (d *Dispatcher) publishBackpressure() {
	if d.bus == nil {
		return
	}
	d.warnMu.Lock()
	defer d.warnMu.Unlock()
	if time.Since(d.warnedAt) < time.Second {
		return
	}
	d.warnedAt = time.Now()
	d.bus.Publish(eventbus.Warning{
		Message: "dispatcher at capacity: tasks are queueing",
		At:      time.Now(),
	})
}

// Wait blocks until every submitted task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
