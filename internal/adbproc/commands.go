package adbproc

import "time"

// Default per-operation timeouts.
const (
	DefaultTimeout    = 30 * time.Second
	InstallTimeout    = 120 * time.Second
	RecordingTimeout  = 300 * time.Second
	ScreenshotTimeout = 15 * time.Second
	BugReportTimeout  = 120 * time.Second
)

// BluetoothSnapshotSeparator is the literal marker the combined dumpsys
// command places between its two sections. The parser ignores it and
// concatenates both sections into one blob.
const BluetoothSnapshotSeparator = "---SEPARATOR---"

// The following are pure string-constructor command builders, keyed by
// serial where relevant. None of them touch the filesystem or spawn a
// process; Run/RunStreaming do that.

// DevicesWithDetails builds `adb devices -l`.
func DevicesWithDetails() []string { return []string{"devices", "-l"} }

// Shell builds `adb -s <serial> shell <cmd...>`.
func Shell(serial string, cmd ...string) []string {
	return withSerial(serial, append([]string{"shell"}, cmd...)...)
}

// ScreenshotExecOut builds `adb -s <serial> exec-out screencap -p`, whose
// stdout is the raw PNG.
func ScreenshotExecOut(serial string) []string {
	return withSerial(serial, "exec-out", "screencap", "-p")
}

// IdentityProbe builds the single combined shell call the discovery
// poller issues per connected device: low-cost props only, one result
// line per query, GMS last because its line may be absent entirely.
func IdentityProbe(serial string) []string {
	script := "getprop ro.build.version.release; " +
		"getprop ro.build.version.sdk; " +
		"getprop ro.build.fingerprint; " +
		"settings get global wifi_on; " +
		"settings get global bluetooth_on; " +
		"dumpsys package com.google.android.gms 2>/dev/null | grep -m1 versionName"
	return Shell(serial, "sh", "-c", script)
}

// Screenrecord builds `adb -s <serial> shell screenrecord <remotePath>`,
// started with no time limit on our side — ADB enforces its own 180s
// ceiling, and the recording coordinator ends the segment at 170s.
func Screenrecord(serial, remotePath string) []string {
	return Shell(serial, "screenrecord", remotePath)
}

// Pull builds `adb -s <serial> pull <remote> <local>`.
func Pull(serial, remote, local string) []string {
	return withSerial(serial, "pull", remote, local)
}

// RemoveRemote builds the shell command that deletes a remote file.
func RemoveRemote(serial, remotePath string) []string {
	return Shell(serial, "rm", "-f", remotePath)
}

// Install builds `adb -s <serial> install -r <apkPath>` (-r replaces an
// already-installed package).
func Install(serial, apkPath string) []string {
	return withSerial(serial, "install", "-r", apkPath)
}

// Reboot builds `adb -s <serial> reboot [mode]`. mode is "" for a normal
// reboot, or "recovery"/"bootloader"/"sideload".
func Reboot(serial, mode string) []string {
	args := []string{"reboot"}
	if mode != "" {
		args = append(args, mode)
	}
	return withSerial(serial, args...)
}

// Dumpsys builds `adb -s <serial> shell dumpsys <service>`.
func Dumpsys(serial, service string) []string {
	return Shell(serial, "dumpsys", service)
}

// BluetoothSnapshot builds the single combined dumpsys call the Bluetooth
// pipeline uses: bluetooth_manager and bluetooth_adapter joined by the
// literal separator, in one `adb shell` round trip.
func BluetoothSnapshot(serial string) []string {
	return Shell(serial, "sh", "-c",
		"dumpsys bluetooth_manager && echo '"+BluetoothSnapshotSeparator+"' && dumpsys bluetooth_adapter")
}

// Logcat builds `adb -s <serial> logcat <flags...>` for streaming use.
func Logcat(serial string, flags ...string) []string {
	return withSerial(serial, append([]string{"logcat"}, flags...)...)
}

// BugReport builds `adb -s <serial> bugreport <outputPath>`.
func BugReport(serial, outputPath string) []string {
	return withSerial(serial, "bugreport", outputPath)
}

// UIAutomatorDump builds the shell command that dumps the UI hierarchy to
// a remote XML path.
func UIAutomatorDump(serial, remotePath string) []string {
	return Shell(serial, "uiautomator", "dump", remotePath)
}

// KillServer / StartServer build the adb server lifecycle commands.
func KillServer() []string  { return []string{"kill-server"} }
func StartServer() []string { return []string{"start-server"} }

func withSerial(serial string, args ...string) []string {
	return append([]string{"-s", serial}, args...)
}
