// Package cli is the flag-parsed, one-shot command front door: a thin
// dispatch table over internal/engine.Core, fanning each operation out
// across the selected devices.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"droidfleet/internal/catalog"
	"droidfleet/internal/engine"
	"droidfleet/internal/eventbus"
)

// Args bundles every flag a direct command might need.
type Args struct {
	Serials   []string
	OutputDir string
	Command   string // shell command text, for "shell"
	APKPath   string
	Mode      string // reboot mode
}

// Executor runs one direct command and returns the engine exit code to
// use.
type Executor func(ctx context.Context, core *engine.Core, args Args) engine.ExitCode

// Registry maps a catalog.Command's kebab-case name to its Executor.
var Registry = map[string]Executor{
	"screenshot":        executeScreenshot,
	"record":            executeRecord,
	"stop-record":       executeStopRecord,
	"mirror":            executeMirror,
	"ui-inspector":      executeUIInspector,
	"shell":             executeShell,
	"bugreport":         executeBugReport,
	"install-apk":       executeInstallAPK,
	"reboot":            executeReboot(""),
	"reboot-recovery":   executeReboot("recovery"),
	"reboot-bootloader": executeReboot("bootloader"),
	"refresh-devices":   executeRefreshDevices,
	"bluetooth":         executeBluetooth,
}

// Execute dispatches command through Registry, resolving serials first.
func Execute(ctx context.Context, core *engine.Core, command string, args Args) engine.ExitCode {
	executor, ok := Registry[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s (available: %s)\n", command, strings.Join(catalog.Names(), ", "))
		return engine.ExitAdbMissing
	}
	return executor(ctx, core, args)
}

// resolveSerials returns args.Serials if given, else every currently
// known device's serial.
func resolveSerials(core *engine.Core, args Args) ([]string, engine.ExitCode) {
	if len(args.Serials) > 0 {
		return args.Serials, engine.ExitSuccess
	}
	devices := core.ListDevices()
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "no devices connected")
		return nil, engine.ExitNoDevices
	}
	serials := make([]string, len(devices))
	for i, d := range devices {
		serials[i] = d.Serial
	}
	return serials, engine.ExitSuccess
}

func summaryExitCode(s engine.BatchSummary) engine.ExitCode {
	if s.Cancelled > 0 && s.Success == 0 && s.Failed == 0 {
		return engine.ExitUserCancelled
	}
	if s.Failed > 0 {
		return engine.ExitPartialFailure
	}
	return engine.ExitSuccess
}

func printSummary(name string, s engine.BatchSummary) {
	fmt.Printf("%s: %d succeeded, %d failed, %d cancelled\n", name, s.Success, s.Failed, s.Cancelled)
	for serial, tail := range s.Errors {
		fmt.Printf("  %s: %s\n", serial, tail)
	}
}

func executeScreenshot(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	outputDir := args.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	batch := core.TakeScreenshot(ctx, serials, outputDir)
	summary := batch.Wait()
	printSummary("screenshot", summary)
	return summaryExitCode(summary)
}

func executeRecord(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	outputDir := args.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	if err := core.StartRecording(ctx, serials, outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "start recording: %v\n", err)
		return engine.ExitPartialFailure
	}
	fmt.Println("recording started; press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\nstopping recording...")
	if err := core.StopRecording(serials); err != nil {
		fmt.Fprintf(os.Stderr, "stop recording: %v\n", err)
		return engine.ExitPartialFailure
	}
	return engine.ExitSuccess
}

func executeStopRecord(_ context.Context, core *engine.Core, args Args) engine.ExitCode {
	if err := core.StopRecording(args.Serials); err != nil {
		fmt.Fprintf(os.Stderr, "stop recording: %v\n", err)
		return engine.ExitPartialFailure
	}
	return engine.ExitSuccess
}

func executeMirror(_ context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	for _, serial := range serials {
		if err := core.Mirror(serial); err != nil {
			fmt.Fprintf(os.Stderr, "mirror %s: %v\n", serial, err)
			return engine.ExitPartialFailure
		}
	}
	return engine.ExitSuccess
}

func executeUIInspector(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	outputDir := args.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	summary := core.DumpUIHierarchy(ctx, serials, outputDir).Wait()
	printSummary("ui-inspector", summary)
	return summaryExitCode(summary)
}

func executeShell(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	if args.Command == "" {
		fmt.Fprintln(os.Stderr, "shell requires -cmd")
		return engine.ExitAdbMissing
	}
	handles := core.RunShell(ctx, serials, args.Command)
	failed := 0
	for _, h := range handles {
		<-h.Done()
		if h.Err() != nil {
			failed++
		}
	}
	if failed > 0 {
		return engine.ExitPartialFailure
	}
	return engine.ExitSuccess
}

func executeBugReport(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	outputDir := args.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	summary := core.BugReport(ctx, serials, outputDir).Wait()
	printSummary("bugreport", summary)
	return summaryExitCode(summary)
}

func executeInstallAPK(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}
	if args.APKPath == "" {
		fmt.Fprintln(os.Stderr, "install-apk requires -apk")
		return engine.ExitAdbMissing
	}
	summary := core.InstallAPK(ctx, serials, args.APKPath).Wait()
	printSummary("install-apk", summary)
	return summaryExitCode(summary)
}

func executeReboot(mode string) Executor {
	return func(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
		serials, code := resolveSerials(core, args)
		if code != engine.ExitSuccess {
			return code
		}
		m := mode
		if args.Mode != "" {
			m = args.Mode
		}
		summary := core.Reboot(ctx, serials, m).Wait()
		printSummary("reboot", summary)
		return summaryExitCode(summary)
	}
}

// executeBluetooth starts a Bluetooth monitoring service per selected
// device and prints state transitions until interrupted, mirroring
// executeRecord's signal-wait shape.
func executeBluetooth(ctx context.Context, core *engine.Core, args Args) engine.ExitCode {
	serials, code := resolveSerials(core, args)
	if code != engine.ExitSuccess {
		return code
	}

	watched := make(map[string]bool, len(serials))
	for _, serial := range serials {
		core.BluetoothService(ctx, serial)
		watched[serial] = true
	}
	defer func() {
		for serial := range watched {
			core.StopBluetoothService(serial)
		}
	}()

	unsub := core.Subscribe(func(e eventbus.Event) {
		if ev, ok := e.(eventbus.BTStateUpdate); ok && watched[ev.Serial] && ev.Changed {
			fmt.Printf("%s: %s\n", ev.Serial, strings.Join(ev.ActiveStates, ","))
		}
	})
	defer unsub()

	fmt.Println("watching bluetooth state; press Ctrl+C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println()
	return engine.ExitSuccess
}

func executeRefreshDevices(_ context.Context, core *engine.Core, _ Args) engine.ExitCode {
	devices := core.ListDevices()
	fmt.Printf("connected devices: %d\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %s\n", d.String())
	}
	if len(devices) == 0 {
		return engine.ExitNoDevices
	}
	return engine.ExitSuccess
}
