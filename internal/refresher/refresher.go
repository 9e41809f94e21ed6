// Package refresher runs a single bounded background pass over known
// devices, fetching extended attributes (battery, screen size, wifi IP)
// too expensive to collect on every discovery tick, and feeding them back
// into the registry.
package refresher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/logging"
	"droidfleet/internal/registry"
)

var log = logging.Component("refresher")

// DefaultInterval is one refresh pass per minute, independent of the
// discovery poll interval.
const DefaultInterval = 60 * time.Second

// perDeviceTimeout bounds a single device's attribute probe so one wedged
// device can't stall the whole pass.
const perDeviceTimeout = 10 * time.Second

// Refresher walks every known, usable device once per pass. Passes never
// overlap: if a pass is still running when its tick fires, the tick is
// skipped.
type Refresher struct {
	client   *adbproc.Client
	registry *registry.Registry

	mu       sync.Mutex
	interval time.Duration
	running  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(client *adbproc.Client, reg *registry.Registry) *Refresher {
	return &Refresher{client: client, registry: reg, interval: DefaultInterval}
}

func (r *Refresher) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = d
}

func (r *Refresher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(runCtx)
}

func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	timer := time.NewTimer(r.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.runPass(ctx)
			timer.Reset(r.currentInterval())
		}
	}
}

func (r *Refresher) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// runPass is a no-op if a prior pass is still in flight.
func (r *Refresher) runPass(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Debug().Msg("skipping refresh pass: previous pass still running")
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	for _, d := range r.registry.List() {
		if !d.State.Usable() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.refreshOne(ctx, d.Serial)
	}
}

func (r *Refresher) refreshOne(ctx context.Context, serial string) {
	probeCtx, cancel := context.WithTimeout(ctx, perDeviceTimeout)
	defer cancel()

	attrs := make(map[string]string)

	if lines, err := r.client.Run(probeCtx, adbproc.DefaultTimeout, adbproc.Dumpsys(serial, "battery")); err == nil {
		if level := adbproc.ParseBatteryLevel(lines); level >= 0 {
			attrs["battery"] = strconv.Itoa(level)
		}
	} else {
		log.Debug().Err(err).Str("serial", serial).Msg("battery probe failed")
	}

	if lines, err := r.client.Run(probeCtx, adbproc.DefaultTimeout, adbproc.Shell(serial, "wm", "size")); err == nil {
		if size := adbproc.ParseScreenSize(lines); size != "" {
			attrs["screen_size"] = size
		}
	} else {
		log.Debug().Err(err).Str("serial", serial).Msg("screen size probe failed")
	}

	if lines, err := r.client.Run(probeCtx, adbproc.DefaultTimeout, adbproc.Shell(serial, "getprop", "ro.product.cpu.abi")); err == nil {
		if arch := adbproc.ParseCPUArch(lines); arch != "" {
			attrs["cpu_arch"] = arch
		}
	} else {
		log.Debug().Err(err).Str("serial", serial).Msg("cpu arch probe failed")
	}

	if lines, err := r.client.Run(probeCtx, adbproc.DefaultTimeout, adbproc.Shell(serial, "ip", "addr", "show", "wlan0")); err == nil {
		if ip := adbproc.ParseWlanIPv4(lines); ip != "" {
			attrs["wifi_ip"] = ip
		}
	} else {
		log.Debug().Err(err).Str("serial", serial).Msg("wlan ip probe failed")
	}

	if len(attrs) > 0 {
		r.registry.ApplyAttrs(serial, attrs)
	}
}
