// Command droidfleet is the dual-mode entry point: with no subcommand
// it launches the Bubble Tea TUI; with one, it runs that operation
// headlessly and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"droidfleet/internal/catalog"
	"droidfleet/internal/cli"
	"droidfleet/internal/config"
	"droidfleet/internal/engine"
	"droidfleet/internal/logging"
	"droidfleet/internal/tui"
)

// version is the release the binary reports; LAZY_BLACKTEA_VERSION
// overrides it via config.EnvVersion.
const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	commandHelp := fmt.Sprintf("Command to run directly (%s)", strings.Join(catalog.Names(), ", "))
	command := flag.String("command", "", commandHelp)
	serials := flag.String("serials", "", "Comma-separated device serials (default: all connected devices)")
	outputDir := flag.String("output", "", "Output directory for screenshots/recordings/reports")
	shellCommand := flag.String("cmd", "", "Shell command text, for -command=shell")
	apkPath := flag.String("apk", "", "APK path, for -command=install-apk")
	mode := flag.String("mode", "", "Reboot mode override (recovery, bootloader)")
	adbPath := flag.String("adb", "", "Path to the adb binary (default: $ANDROID_HOME/platform-tools/adb, else $PATH)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("droidfleet " + config.EnvVersion(version))
		return int(engine.ExitSuccess)
	}

	logging.Init(os.Stderr, *debug)
	mainLogger := logging.Component("main")
	mainLogger.Info().Str("version", config.EnvVersion(version)).Msg("starting")

	cfgPath := config.DefaultPath()
	store := config.New(cfgPath)
	if err := store.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return int(engine.ExitAdbMissing)
	}

	core := engine.New(engine.ResolveADBPath(*adbPath))
	ctx := context.Background()
	if err := core.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return int(engine.ExitAdbMissing)
	}
	if err := core.WatchConfigFile(store); err != nil {
		log := logging.Component("main")
		log.Warn().Err(err).Msg("config live-reload unavailable")
	}
	defer func() {
		_ = core.Shutdown(engine.DefaultShutdownTimeout)
		_ = store.Save()
	}()

	args := flag.Args()
	cmdToRun := *command
	if cmdToRun == "" && len(args) > 0 {
		cmdToRun = args[0]
	}

	if cmdToRun == "" {
		return runTUI(core, store)
	}

	var serialList []string
	if *serials != "" {
		serialList = strings.Split(*serials, ",")
	}
	code := cli.Execute(ctx, core, cmdToRun, cli.Args{
		Serials:   serialList,
		OutputDir: *outputDir,
		Command:   *shellCommand,
		APKPath:   *apkPath,
		Mode:      *mode,
	})
	return int(code)
}

func runTUI(core *engine.Core, store *config.Store) int {
	model := tui.NewModel(core, store)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		return int(engine.ExitAdbMissing)
	}
	return int(engine.ExitSuccess)
}
