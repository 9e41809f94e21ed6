package bluetooth

import (
	"context"
	"strings"
	"sync"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
)

var log = logging.Component("bluetooth")

const (
	MinSnapshotInterval     = 2 * time.Second
	DefaultSnapshotInterval = 5 * time.Second
	MaxSnapshotInterval     = 10 * time.Second
	IdleGrowthThreshold     = 10 * time.Second
	IdleGrowthStep          = 1 * time.Second

	StopJoinBudget = 2 * time.Second
)

// Service owns a device's two Bluetooth monitoring goroutines: an
// adaptive snapshot poller and a logcat line reader. Both feed the same
// State machine and publish onto the event bus.
type Service struct {
	client *adbproc.Client
	bus    *eventbus.Bus
	serial string
	state  *State

	mu           sync.Mutex
	interval     time.Duration
	lastRaw      string
	lastChangeAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(client *adbproc.Client, bus *eventbus.Bus, serial string) *Service {
	return &Service{
		client:   client,
		bus:      bus,
		serial:   serial,
		state:    NewState(serial),
		interval: DefaultSnapshotInterval,
	}
}

func (svc *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	svc.cancel = cancel

	svc.wg.Add(2)
	go svc.snapshotLoop(runCtx)
	go svc.logcatLoop(runCtx)
}

// Stop cancels both loops and waits up to StopJoinBudget for them to
// exit. If wait is false, it returns immediately after signalling.
func (svc *Service) Stop(wait bool) {
	if svc.cancel != nil {
		svc.cancel()
	}
	if !wait {
		return
	}
	done := make(chan struct{})
	go func() { svc.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(StopJoinBudget):
		log.Warn().Str("serial", svc.serial).Msg("bluetooth service did not stop within join budget")
	}
}

func (svc *Service) snapshotLoop(ctx context.Context) {
	defer svc.wg.Done()

	timer := time.NewTimer(0) // fire immediately on start
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			svc.takeSnapshot(ctx)
			timer.Reset(svc.currentInterval())
		}
	}
}

func (svc *Service) currentInterval() time.Duration {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.interval
}

func (svc *Service) takeSnapshot(ctx context.Context) {
	lines, err := svc.client.Run(ctx, adbproc.DefaultTimeout, adbproc.BluetoothSnapshot(svc.serial))
	if err != nil {
		log.Debug().Err(err).Str("serial", svc.serial).Msg("bluetooth snapshot failed")
		svc.publishError(err)
		return
	}
	raw := strings.Join(lines, "\n")
	now := time.Now()

	svc.mu.Lock()
	changed := raw != svc.lastRaw
	if changed {
		svc.lastRaw = raw
		svc.lastChangeAt = now
		svc.interval = MinSnapshotInterval
	} else if now.Sub(svc.lastChangeAt) > IdleGrowthThreshold {
		svc.interval += IdleGrowthStep
		if svc.interval > MaxSnapshotInterval {
			svc.interval = MaxSnapshotInterval
		}
	}
	svc.mu.Unlock()

	snap := ParseSnapshot(svc.serial, raw, now)
	svc.publishEvent(eventbus.BTSnapshotParsed{
		Serial:         snap.Serial,
		AdapterEnabled: snap.AdapterEnabled,
		Address:        snap.Address,
		IsScanning:     snap.Scanning.IsScanning,
		IsAdvertising:  snap.Advertising.IsAdvertising,
		ProfileCount:   len(snap.Profiles),
		BondedCount:    len(snap.BondedDevices),
		Timestamp:      snap.Timestamp,
	})
	update := svc.state.ApplySnapshot(snap)
	svc.publish(update)
}

func (svc *Service) logcatLoop(ctx context.Context) {
	defer svc.wg.Done()

	linesCh, stop, err := svc.client.RunStreaming(ctx, adbproc.Logcat(svc.serial, "-v", "time", "-s", "bt_btm", "bluetooth"))
	if err != nil {
		log.Debug().Err(err).Str("serial", svc.serial).Msg("bluetooth logcat stream failed to start")
		svc.publishError(err)
		return
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-linesCh:
			if !ok {
				return
			}
			now := time.Now()
			svc.publishEvent(eventbus.LogLine{Serial: svc.serial, Line: line, At: now})
			if ev := ParseLogLine(svc.serial, line, now); ev != nil {
				svc.publishEvent(eventbus.BTEventParsed{
					Serial:    ev.Serial,
					Category:  string(ev.Category),
					Tag:       ev.Tag,
					Message:   ev.Message,
					Timestamp: ev.Timestamp,
				})
				update := svc.state.ApplyEvent(*ev)
				svc.publish(update)
			}
		}
	}
}

func (svc *Service) publishEvent(e eventbus.Event) {
	if svc.bus != nil {
		svc.bus.Publish(e)
	}
}

func (svc *Service) publishError(err error) {
	svc.publishEvent(eventbus.BTError{Serial: svc.serial, Message: err.Error(), At: time.Now()})
}

func (svc *Service) publish(update StateUpdate) {
	if svc.bus == nil {
		return
	}
	states := make([]string, len(update.Summary.ActiveStates))
	for i, st := range update.Summary.ActiveStates {
		states[i] = string(st)
	}
	svc.bus.Publish(eventbus.BTStateUpdate{
		Serial:       update.Serial,
		ActiveStates: states,
		Metrics:      update.Summary.Metrics,
		Timestamp:    update.Timestamp,
		Changed:      update.Changed,
	})
}
