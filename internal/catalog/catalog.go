// Package catalog lists the operations the front-ends expose as menu
// entries and CLI subcommands.
package catalog

// Command describes one menu entry / CLI subcommand.
type Command struct {
	Command     string // kebab-case name used on the CLI
	Name        string
	Description string
	Category    string
}

// CommandCategory groups related commands for display.
type CommandCategory struct {
	Name     string
	Commands []Command
}

// Commands is the canonical operation list shared by the TUI and CLI.
func Commands() []Command {
	return []Command{
		{"screenshot", "Screenshot", "Capture a screenshot from each selected device", "Media"},
		{"record", "Start recording", "Start a segmented screen recording", "Media"},
		{"stop-record", "Stop recording", "Stop the active recording", "Media"},
		{"mirror", "Mirror (scrcpy)", "Launch scrcpy to mirror a device", "Media"},
		{"ui-inspector", "UI inspector", "Dump the UI hierarchy and a screenshot", "Media"},
		{"shell", "Shell command", "Run a shell command on each selected device", "Commands"},
		{"bugreport", "Bug report", "Collect a bug report from each selected device", "Commands"},
		{"install-apk", "Install APK", "Install an APK on each selected device", "Commands"},
		{"reboot", "Reboot", "Reboot each selected device", "Commands"},
		{"reboot-recovery", "Reboot to recovery", "Reboot each selected device into recovery", "Commands"},
		{"reboot-bootloader", "Reboot to bootloader", "Reboot each selected device into the bootloader", "Commands"},
		{"bluetooth", "Bluetooth monitor", "Watch live Bluetooth state for a device", "Devices"},
		{"refresh-devices", "Refresh devices", "Poll adb for the current device list now", "Devices"},
	}
}

// Categories groups Commands() in display order.
func Categories() []CommandCategory {
	order := []string{"Media", "Commands", "Devices"}
	bucket := make(map[string][]Command, len(order))
	for _, c := range Commands() {
		bucket[c.Category] = append(bucket[c.Category], c)
	}
	out := make([]CommandCategory, 0, len(order))
	for _, name := range order {
		if cmds, ok := bucket[name]; ok {
			out = append(out, CommandCategory{Name: name, Commands: cmds})
		}
	}
	return out
}

// Names returns just the kebab-case command names, for CLI help text.
func Names() []string {
	cmds := Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Command
	}
	return names
}
