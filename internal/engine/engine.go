// Package engine is the composition root: the single place that
// constructs the registry, dispatcher, status manager, recording
// coordinator, and per-device Bluetooth services, and the only thing the
// front-ends (internal/tui, internal/cli) are handed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/bluetooth"
	"droidfleet/internal/config"
	"droidfleet/internal/device"
	"droidfleet/internal/discovery"
	"droidfleet/internal/dispatcher"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/filegen"
	"droidfleet/internal/logging"
	"droidfleet/internal/operations"
	"droidfleet/internal/recording"
	"droidfleet/internal/refresher"
	"droidfleet/internal/registry"
	"droidfleet/internal/shellexec"

	"github.com/google/uuid"
)

var log = logging.Component("engine")

// ExitCode enumerates the wrapper-CLI process exit codes.
type ExitCode int

const (
	ExitSuccess        ExitCode = 0
	ExitAdbMissing     ExitCode = 1
	ExitNoDevices      ExitCode = 2
	ExitPartialFailure ExitCode = 3
	ExitUserCancelled  ExitCode = 4
)

// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight
// tasks by default.
const DefaultShutdownTimeout = 700 * time.Millisecond

// Core is the headless engine API. Every front-end interaction goes
// through it; nothing outside this package spawns a registry, poller, or
// dispatcher of its own.
type Core struct {
	client *adbproc.Client
	bus    *eventbus.Bus

	registry  *registry.Registry
	poller    *discovery.Poller
	refresher *refresher.Refresher
	dispatch  *dispatcher.Dispatcher
	ops       *operations.Manager
	recorder  *recording.Coordinator
	shell     *shellexec.Runner

	btMu  sync.Mutex
	btSvc map[string]*bluetooth.Service

	cfgStore *config.Store

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds a Core bound to an adb binary at adbPath. It does not start
// any background work; call Start for that.
func New(adbPath string) *Core {
	bus := eventbus.NewBus(256)
	client := adbproc.NewClient(adbPath)
	reg := registry.New(bus)
	ops := operations.New(bus)
	disp := dispatcher.New(dispatcher.DefaultWorkers, bus)

	return &Core{
		client:    client,
		bus:       bus,
		registry:  reg,
		poller:    discovery.NewPoller(client, reg, bus),
		refresher: refresher.New(client, reg),
		dispatch:  disp,
		ops:       ops,
		recorder:  recording.New(client, bus, ops),
		shell:     shellexec.New(client, disp, bus, reg),
		btSvc:     make(map[string]*bluetooth.Service),
	}
}

// Start verifies the adb binary, then spins up the discovery poller and
// attribute refresher. Returns ExitAdbMissing-class error if adb cannot
// be found.
func (c *Core) Start(ctx context.Context) error {
	if err := c.client.Verify(); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.poller.Start(c.runCtx)
	c.refresher.Start(c.runCtx)
	log.Info().Msg("engine started")
	return nil
}

// WatchConfigFile starts a live-reload watch on store's backing file, so
// device groups edited by a collaborating front-end (or a hand edit) are
// picked up without a restart. Publishes ConfigReloaded on every
// reload. The watch is stopped automatically by Shutdown.
func (c *Core) WatchConfigFile(store *config.Store) error {
	c.cfgStore = store
	return store.Watch(func(doc config.Document) {
		names := make([]string, len(doc.Groups))
		for i, g := range doc.Groups {
			names[i] = g.Name
		}
		log.Info().Strs("groups", names).Msg("config file reloaded")
		c.bus.Publish(eventbus.ConfigReloaded{GroupNames: names, At: time.Now()})
	})
}

// Shutdown stops background work, waiting up to timeout for in-flight
// tasks before returning. A zero timeout uses DefaultShutdownTimeout.
func (c *Core) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if c.runCancel != nil {
		c.runCancel()
	}
	c.poller.Stop()
	c.refresher.Stop()
	if c.cfgStore != nil {
		c.cfgStore.StopWatch()
	}

	c.btMu.Lock()
	for _, svc := range c.btSvc {
		svc.Stop(false)
	}
	c.btMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.dispatch.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("shutdown timed out waiting for in-flight tasks")
	}

	c.bus.Close()
	return nil
}

// ListDevices returns every currently known device.
func (c *Core) ListDevices() []device.Device {
	return c.registry.List()
}

// RefreshDevices triggers an immediate discovery poll rather than
// waiting for the poller's next tick (the TUI/CLI's "refresh-devices"
// action).
func (c *Core) RefreshDevices() {
	c.poller.TriggerNow()
}

// Subscribe registers h on the event bus, returning an unsubscribe func.
func (c *Core) Subscribe(h eventbus.Handler) func() {
	return c.bus.Subscribe(h)
}

// RunShell fans a shell command out to serials via the dispatcher.
func (c *Core) RunShell(ctx context.Context, serials []string, command string) []*dispatcher.Handle {
	return c.shell.Run(ctx, serials, command)
}

// StartRecording begins segmented screen recording on every usable
// serial in the batch, all-or-nothing: if any is already recording, no
// new session starts and an OperationInProgressError is returned.
func (c *Core) StartRecording(ctx context.Context, serials []string, outputDir string) error {
	usable, unavailable := c.registry.Usable(serials)
	if len(unavailable) > 0 {
		log.Warn().Strs("unavailable", unavailable).Msg("recording skip: device unavailable")
	}
	devices := make(map[string]string, len(usable))
	for _, d := range usable {
		devices[d.Serial] = d.String()
	}
	return c.recorder.Start(ctx, devices, outputDir)
}

// StopRecording stops recording on serials, or every active session if
// serials is empty.
func (c *Core) StopRecording(serials []string) error {
	return c.recorder.Stop(serials)
}

// BatchSummary is the consolidated outcome of a fan-out across devices:
// per-device failures are isolated and surfaced together rather than
// aborting the batch.
type BatchSummary struct {
	Success   int
	Failed    int
	Cancelled int
	Errors    map[string]string // serial -> truncated error tail
}

// Batch bundles the per-device handles of a multi-device operation.
type Batch struct {
	Handles []*dispatcher.Handle
}

// Wait blocks until every device in the batch finishes, then returns a
// consolidated summary.
func (b *Batch) Wait() BatchSummary {
	summary := BatchSummary{Errors: map[string]string{}}
	for _, h := range b.Handles {
		<-h.Done()
		serial := h.Info.DeviceSerial
		switch err := h.Err(); {
		case err == nil:
			summary.Success++
		case errors.Is(err, context.Canceled):
			summary.Cancelled++
		default:
			summary.Failed++
			summary.Errors[serial] = truncate(err.Error(), 200)
		}
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// TakeScreenshot captures one screenshot per serial into outputDir.
func (c *Core) TakeScreenshot(ctx context.Context, serials []string, outputDir string) *Batch {
	return &Batch{Handles: c.runPerDevice(ctx, serials, eventbus.OpScreenshot, "screenshot", func(taskCtx context.Context, serial string) error {
		_, err := filegen.Screenshot(taskCtx, c.client, serial, outputDir)
		return err
	})}
}

// InstallAPK installs apkPath on every serial.
func (c *Core) InstallAPK(ctx context.Context, serials []string, apkPath string) *Batch {
	return &Batch{Handles: c.runPerDevice(ctx, serials, eventbus.OpInstallAPK, "install_apk", func(taskCtx context.Context, serial string) error {
		_, err := c.client.Run(taskCtx, adbproc.InstallTimeout, adbproc.Install(serial, apkPath))
		return err
	})}
}

// Reboot reboots every serial into mode ("" for normal, or
// recovery/bootloader/sideload).
func (c *Core) Reboot(ctx context.Context, serials []string, mode string) *Batch {
	return &Batch{Handles: c.runPerDevice(ctx, serials, eventbus.OpReboot, "reboot", func(taskCtx context.Context, serial string) error {
		_, err := c.client.Run(taskCtx, adbproc.DefaultTimeout, adbproc.Reboot(serial, mode))
		return err
	})}
}

// BugReport collects one bugreport zip per serial into outputDir.
func (c *Core) BugReport(ctx context.Context, serials []string, outputDir string) *Batch {
	total := len(serials)
	handles := make([]*dispatcher.Handle, len(serials))
	for i, serial := range serials {
		i, serial := i, serial
		info := dispatcher.TaskInfo{Name: "bug_report", Category: "bug_report", DeviceSerial: serial}

		if err := c.unavailableError(serial); err != nil {
			handles[i] = c.rejectDevice(info, eventbus.OpBugReport, serial, err)
			continue
		}

		id := uuid.NewString()
		var h *dispatcher.Handle
		h = c.dispatch.Submit(ctx, info, func(taskCtx context.Context) error {
			c.ops.Add(id, serial, eventbus.OpBugReport, true, func() { h.Cancel() })
			_, err := filegen.BugReport(taskCtx, c.client, serial, outputDir, filegen.BugReportProgress{DeviceIndex: i, TotalCount: total}, func(p filegen.BugReportProgress) {
				progress := float64(p.DeviceIndex+1) / float64(p.TotalCount)
				c.ops.Update(id, eventbus.OpRunning, &progress, "", "")
			})
			c.finishOp(id, err, taskCtx.Err() != nil)
			return err
		})
		handles[i] = h
	}
	return &Batch{Handles: handles}
}

// DumpUIHierarchy captures a UI hierarchy XML + companion screenshot per
// serial.
func (c *Core) DumpUIHierarchy(ctx context.Context, serials []string, outputDir string) *Batch {
	return &Batch{Handles: c.runPerDevice(ctx, serials, eventbus.OpUIInspector, "ui_inspector", func(taskCtx context.Context, serial string) error {
		_, _, err := filegen.UIHierarchyDump(taskCtx, c.client, serial, outputDir)
		return err
	})}
}

// ScrcpyPath is the `scrcpy` binary name or path Mirror invokes. A
// package-level var rather than a Core field keeps Mirror's signature
// stable; override it once at startup if scrcpy isn't on $PATH.
var ScrcpyPath = "scrcpy"

// Mirror spawns `scrcpy` for serial as an unmanaged, detached child
// process and returns immediately — scrcpy owns its own window and
// lifecycle; the engine only tracks the launch as an OperationEvent.
func (c *Core) Mirror(serial string) error {
	id := uuid.NewString()
	c.ops.Add(id, serial, eventbus.OpScrcpy, false, nil)

	cmd := exec.Command(ScrcpyPath, "-s", serial)
	if err := cmd.Start(); err != nil {
		c.finishOp(id, fmt.Errorf("launch scrcpy: %w", err), false)
		return err
	}
	go func() { _ = cmd.Wait() }()

	progress := 1.0
	c.ops.Update(id, eventbus.OpCompleted, &progress, "mirroring started", "")
	return nil
}

// BluetoothService returns the running Bluetooth service for serial,
// starting one lazily on first use. One service runs per serial for its
// lifetime; callers share the same instance.
func (c *Core) BluetoothService(ctx context.Context, serial string) *bluetooth.Service {
	c.btMu.Lock()
	defer c.btMu.Unlock()

	if svc, ok := c.btSvc[serial]; ok {
		return svc
	}
	svc := bluetooth.NewService(c.client, c.bus, serial)
	svc.Start(ctx)
	c.btSvc[serial] = svc
	return svc
}

// StopBluetoothService stops and forgets serial's Bluetooth service, if
// any is running.
func (c *Core) StopBluetoothService(serial string) {
	c.btMu.Lock()
	defer c.btMu.Unlock()
	if svc, ok := c.btSvc[serial]; ok {
		svc.Stop(true)
		delete(c.btSvc, serial)
	}
}

// runPerDevice submits one dispatcher task per serial, registering each
// with the status manager so the front-end sees an OperationEvent whose
// can_cancel callback actually cancels the running task (Handle.Cancel),
// rather than merely flipping a local flag. Serials not in the `device`
// connection state are rejected up front with DeviceUnavailableError
// instead of ever reaching the ADB layer.
func (c *Core) runPerDevice(ctx context.Context, serials []string, opType eventbus.OperationType, name string, fn func(context.Context, string) error) []*dispatcher.Handle {
	handles := make([]*dispatcher.Handle, len(serials))
	for i, serial := range serials {
		serial := serial
		info := dispatcher.TaskInfo{Name: name, Category: name, DeviceSerial: serial}

		if err := c.unavailableError(serial); err != nil {
			handles[i] = c.rejectDevice(info, opType, serial, err)
			continue
		}

		id := uuid.NewString()
		var h *dispatcher.Handle
		h = c.dispatch.Submit(ctx, info, func(taskCtx context.Context) error {
			c.ops.Add(id, serial, opType, true, func() { h.Cancel() })
			c.ops.Update(id, eventbus.OpRunning, nil, "", "")
			err := fn(taskCtx, serial)
			c.finishOp(id, err, taskCtx.Err() != nil)
			return err
		})
		handles[i] = h
	}
	return handles
}

// unavailableError reports why serial can't be targeted by a device
// operation, or nil if it's in the `device` connection state.
func (c *Core) unavailableError(serial string) error {
	d, ok := c.registry.Get(serial)
	if !ok {
		return &adbproc.DeviceUnavailableError{Serial: serial, State: "unknown"}
	}
	if !d.State.Usable() {
		return &adbproc.DeviceUnavailableError{Serial: serial, State: string(d.State)}
	}
	return nil
}

// rejectDevice records a FAILED OperationEvent for a serial excluded
// before dispatch and returns an already-finished Handle carrying err, so
// Batch.Wait() still counts it in the consolidated summary.
func (c *Core) rejectDevice(info dispatcher.TaskInfo, opType eventbus.OperationType, serial string, err error) *dispatcher.Handle {
	id := uuid.NewString()
	c.ops.Add(id, serial, opType, false, nil)
	c.ops.Update(id, eventbus.OpFailed, nil, "", truncate(err.Error(), 200))
	return dispatcher.Rejected(info, err)
}

func (c *Core) finishOp(id string, err error, cancelled bool) {
	switch {
	case cancelled:
		c.ops.Update(id, eventbus.OpCancelled, nil, "", "")
	case err != nil:
		c.ops.Update(id, eventbus.OpFailed, nil, "", truncate(err.Error(), 200))
	default:
		progress := 1.0
		c.ops.Update(id, eventbus.OpCompleted, &progress, "", "")
	}
}

// ResolveADBPath locates the adb binary: an explicit override, then
// ANDROID_HOME/ANDROID_SDK_ROOT's platform-tools, then $PATH.
func ResolveADBPath(override string) string {
	if override != "" {
		return override
	}
	if home := os.Getenv("ANDROID_HOME"); home != "" {
		return home + "/platform-tools/adb"
	}
	if root := os.Getenv("ANDROID_SDK_ROOT"); root != "" {
		return root + "/platform-tools/adb"
	}
	return "adb"
}
