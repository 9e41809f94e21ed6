// Package discovery periodically polls `adb devices -l` and hands the
// result to the registry, recovering the adb server once on failure
// before surfacing an error.
package discovery

import (
	"context"
	"sync"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
	"droidfleet/internal/registry"
)

var log = logging.Component("discovery")

// DefaultInterval is the out-of-the-box poll period.
const DefaultInterval = 30 * time.Second

// AllowedIntervals enumerates the poll periods exposed to the user.
var AllowedIntervals = []time.Duration{
	5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 60 * time.Second,
}

// Poller owns the single background goroutine that drives device
// discovery. It is safe to Start/Stop repeatedly.
type Poller struct {
	client   *adbproc.Client
	registry *registry.Registry
	bus      *eventbus.Bus

	mu       sync.Mutex
	interval time.Duration
	enabled  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	triggerCh chan struct{}
}

// NewPoller builds a Poller. The poller starts enabled at DefaultInterval;
// call SetInterval or SetEnabled before Start to change that.
func NewPoller(client *adbproc.Client, reg *registry.Registry, bus *eventbus.Bus) *Poller {
	return &Poller{
		client:    client,
		registry:  reg,
		bus:       bus,
		interval:  DefaultInterval,
		enabled:   true,
		triggerCh: make(chan struct{}, 1),
	}
}

// SetInterval changes the poll period. Takes effect on the next tick.
func (p *Poller) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// SetEnabled toggles auto-refresh without tearing down the goroutine.
func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

// TriggerNow requests an out-of-band poll (manual refresh) without
// waiting for the next tick. Non-blocking: a refresh already queued is
// not duplicated.
func (p *Poller) TriggerNow() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Start launches the polling goroutine. ctx cancellation or Stop() ends
// it.
func (p *Poller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(runCtx)
}

// Stop cancels the polling goroutine and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.pollOnce(ctx)

	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.triggerCh:
			p.pollOnce(ctx)
			resetTimer(timer, p.currentInterval())
		case <-timer.C:
			if p.isEnabled() {
				p.pollOnce(ctx)
			}
			resetTimer(timer, p.currentInterval())
		}
	}
}

func (p *Poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) isEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (p *Poller) pollOnce(ctx context.Context) {
	lines, err := p.client.Run(ctx, adbproc.DefaultTimeout, adbproc.DevicesWithDetails())
	if err != nil {
		log.Debug().Err(err).Msg("devices poll failed, attempting server recovery")
		if recErr := p.client.RecoverServer(ctx); recErr != nil {
			log.Error().Err(recErr).Msg("adb server recovery failed")
			p.publishWarning("adb server unavailable: " + recErr.Error())
			return
		}
		lines, err = p.client.Run(ctx, adbproc.DefaultTimeout, adbproc.DevicesWithDetails())
		if err != nil {
			log.Error().Err(err).Msg("devices poll failed after server recovery")
			p.publishWarning("device discovery failed: " + err.Error())
			return
		}
	}

	snapshot := adbproc.ParseDevicesOutput(lines)
	p.probeIdentities(ctx, snapshot)
	diff := p.registry.ApplyDiscovery(snapshot)
	if len(diff.Added) > 0 || len(diff.RemovedNow) > 0 {
		log.Debug().Strs("added", diff.Added).Strs("removed", diff.RemovedNow).Msg("discovery diff")
	}
}

// probeIdentities runs the combined low-cost attribute probe for each
// serial in `device` state, attaching the result to its snapshot entry.
// A probe failure leaves Identity nil; the registry keeps whatever it
// already knows.
func (p *Poller) probeIdentities(ctx context.Context, snapshot []adbproc.DiscoveredDevice) {
	for i := range snapshot {
		if !snapshot[i].State.Usable() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		lines, err := p.client.Run(ctx, adbproc.DefaultTimeout, adbproc.IdentityProbe(snapshot[i].Serial))
		if err != nil {
			log.Debug().Err(err).Str("serial", snapshot[i].Serial).Msg("identity probe failed")
			continue
		}
		info := adbproc.ParseIdentityProbe(lines)
		snapshot[i].Identity = &info
	}
}

func (p *Poller) publishWarning(msg string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Warning{Message: msg, At: time.Now()})
}
