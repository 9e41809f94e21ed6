// Package tui is the Bubble Tea front-end: a consumer of
// internal/engine.Core's headless API and event bus only, never reaching
// into engine internals.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"droidfleet/internal/catalog"
	"droidfleet/internal/config"
	"droidfleet/internal/device"
	"droidfleet/internal/display"
	"droidfleet/internal/engine"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
	"droidfleet/internal/tui/core"
)

// focus names which pane arrow keys navigate.
type focus int

const (
	focusDevices focus = iota
	focusCommands
)

// pendingAction identifies which command a ModeTextInput prompt will
// resolve into once the user submits a value.
type pendingAction string

const (
	actionNone        pendingAction = ""
	actionShellCmd    pendingAction = "shell_cmd"
	actionInstallAPK  pendingAction = "install_apk"
	actionOutputDir   pendingAction = "output_dir"
	actionOutputDirFn pendingAction = "output_dir_for" // output dir, then run m.pendingCatalogCmd
)

const maxLogEntries = 8

// Model is the TUI's Bubble Tea model. It holds no engine state of its
// own beyond a read-through cache refreshed from eventbus.Event
// deliveries; internal/engine.Core remains the single source of truth.
type Model struct {
	core *engine.Core
	cfg  *config.Store
	keys KeyMap

	core.BaseModel
	quitting bool

	devices      []device.Device
	selected     map[string]bool
	deviceCursor int

	commands      []catalog.Command
	commandCursor int

	operations []eventbus.OperationEvent
	btSummary  map[string][]string // serial -> active_states, most recent

	focus focus

	input          textinput.Model
	inputPrompt    string
	pendingAction  pendingAction
	pendingCatalog string // catalog.Command.Command waiting on an output dir
	outputDir      string

	eventCh chan eventbus.Event
	unsub   func()

	err error
}

// NewModel builds a Model bound to core and cfg. Call tea.NewProgram on
// the result to run it.
func NewModel(c *engine.Core, cfg *config.Store) *Model {
	ti := textinput.New()
	ti.Placeholder = ""
	ti.CharLimit = 256

	m := &Model{
		core:      c,
		cfg:       cfg,
		keys:      DefaultKeyMap(),
		BaseModel: core.BaseModel{Mode: core.ModeMenu},
		selected:  make(map[string]bool),
		commands:  catalog.Commands(),
		btSummary: make(map[string][]string),
		focus:     focusDevices,
		input:     ti,
		outputDir: cfg.Document().OutputDir,
		eventCh:   make(chan eventbus.Event, 64),
	}
	m.unsub = c.Subscribe(func(e eventbus.Event) {
		select {
		case m.eventCh <- e:
		default:
		}
	})
	logging.SetRenderer(m)
	return m
}

// logEntryEvent carries a logging.Renderer row through the model's event
// channel, so ambient Info/Error/Success calls from engine goroutines are
// serialized through Update instead of mutating model state directly.
type logEntryEvent struct {
	entry logging.LogEntry
}

func (logEntryEvent) Kind() string { return "tui_log" }

// Render implements logging.Renderer. It may be called from any
// goroutine, so it only enqueues; Update applies the row.
func (m *Model) Render(entry logging.LogEntry) {
	select {
	case m.eventCh <- logEntryEvent{entry: entry}:
	default:
	}
}

func (m *Model) applyLogEntry(entry logging.LogEntry) {
	lvl := core.LogTypeInfo
	switch entry.Level {
	case logging.LogLevelError:
		lvl = core.LogTypeError
	case logging.LogLevelSuccess:
		lvl = core.LogTypeSuccess
	}
	m.pushLog(entry.Message, lvl)
}

func (m *Model) pushLog(msg string, lvl core.LogType) {
	m.Logs = append(m.Logs, core.LogEntry{Message: msg, Type: lvl, Timestamp: time.Now()})
	if len(m.Logs) > maxLogEntries {
		m.Logs = m.Logs[len(m.Logs)-maxLogEntries:]
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), listenEventsCmd(m.eventCh), refreshDevicesCmd(m))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width, m.Height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case busEventMsg:
		m.applyEvent(msg.event)
		return m, listenEventsCmd(m.eventCh)

	case devicesLoadedMsg:
		if msg.err != nil {
			m.pushLog("refresh devices: "+msg.err.Error(), core.LogTypeError)
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.pushLog(formatErrorMessage(msg.label, "", msg.err), core.LogTypeError)
		} else {
			m.pushLog(msg.label+" ok", core.LogTypeSuccess)
		}
		return m, nil

	case batchDoneMsg:
		m.pushLog(formatBatchMessage(msg.label, msg.success, msg.failed, msg.cancel), core.LogTypeInfo)
		for serial, tail := range msg.errs {
			m.pushLog(formatErrorMessage(msg.label, serial, fmt.Errorf("%s", tail)), core.LogTypeError)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) applyEvent(e eventbus.Event) {
	switch ev := e.(type) {
	case eventbus.DeviceAdded, eventbus.DeviceRemoved, eventbus.DeviceChanged:
		m.devices = m.core.ListDevices()
		sort.Slice(m.devices, func(i, j int) bool { return m.devices[i].Serial < m.devices[j].Serial })
		if m.deviceCursor >= len(m.devices) && len(m.devices) > 0 {
			m.deviceCursor = len(m.devices) - 1
		}
	case eventbus.OperationEvent:
		m.upsertOperation(ev)
	case eventbus.RecordingProgressEvent:
		switch ev.Type {
		case eventbus.SegmentCompleted:
			m.pushLog(fmt.Sprintf("recording %s segment %d (%.0fs total)", ev.DeviceSerial, ev.SegmentIndex, ev.TotalDurationSeconds), core.LogTypeInfo)
		case eventbus.RecordingError:
			m.pushLog(fmt.Sprintf("recording %s failed: %s", ev.DeviceSerial, ev.Message), core.LogTypeError)
		}
	case eventbus.BTStateUpdate:
		if ev.Changed {
			m.btSummary[ev.Serial] = ev.ActiveStates
			m.pushLog(fmt.Sprintf("bluetooth %s: %s", ev.Serial, strings.Join(ev.ActiveStates, ",")), core.LogTypeInfo)
		}
	case eventbus.BTError:
		m.pushLog(fmt.Sprintf("bluetooth %s: %s", ev.Serial, ev.Message), core.LogTypeError)
	case eventbus.CommandBlock:
		for _, r := range ev.Results {
			if r.Error != "" {
				m.pushLog(formatErrorMessage("shell", r.Serial, fmt.Errorf("%s", r.Error)), core.LogTypeError)
				continue
			}
			m.pushLog(formatSuccessMessage("shell", r.Serial, strings.Join(r.Lines, " / ")), core.LogTypeSuccess)
		}
	case eventbus.Warning:
		m.pushLog(ev.Message, core.LogTypeError)
	case logEntryEvent:
		m.applyLogEntry(ev.entry)
	}
}

func (m *Model) upsertOperation(ev eventbus.OperationEvent) {
	if ev.Removed {
		for i, existing := range m.operations {
			if existing.OperationID == ev.OperationID {
				m.operations = append(m.operations[:i], m.operations[i+1:]...)
				return
			}
		}
		return
	}
	for i, existing := range m.operations {
		if existing.OperationID == ev.OperationID {
			m.operations[i] = ev
			return
		}
	}
	m.operations = append(m.operations, ev)
}

func (m *Model) selectedSerials() []string {
	var out []string
	for _, d := range m.devices {
		if m.selected[d.Serial] {
			out = append(out, d.Serial)
		}
	}
	if len(out) == 0 && len(m.devices) > 0 && m.deviceCursor < len(m.devices) {
		out = []string{m.devices[m.deviceCursor].Serial}
	}
	return out
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.Mode == core.ModeTextInput {
		return m.handleTextInputKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit) || msg.String() == "q":
		m.quitting = true
		if m.unsub != nil {
			m.unsub()
		}
		return m, tea.Quit
	}

	switch msg.String() {
	case "tab":
		if m.focus == focusDevices {
			m.focus = focusCommands
		} else {
			m.focus = focusDevices
		}
		return m, nil

	case "up", "k":
		m.moveCursor(-1)
		return m, nil

	case "down", "j":
		m.moveCursor(1)
		return m, nil

	case " ":
		if m.focus == focusDevices && len(m.devices) > 0 {
			serial := m.devices[m.deviceCursor].Serial
			m.selected[serial] = !m.selected[serial]
		}
		return m, nil

	case "a":
		if m.focus == focusDevices {
			all := true
			for _, d := range m.devices {
				if !m.selected[d.Serial] {
					all = false
					break
				}
			}
			for _, d := range m.devices {
				m.selected[d.Serial] = !all
			}
		}
		return m, nil

	case "r":
		return m, refreshDevicesCmd(m)

	case "enter":
		if m.focus == focusCommands {
			return m.runSelectedCommand()
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	if m.focus == focusDevices {
		if len(m.devices) == 0 {
			return
		}
		m.deviceCursor = clamp(m.deviceCursor+delta, 0, len(m.devices)-1)
		return
	}
	if len(m.commands) == 0 {
		return
	}
	m.commandCursor = clamp(m.commandCursor+delta, 0, len(m.commands)-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Model) runSelectedCommand() (tea.Model, tea.Cmd) {
	if m.commandCursor >= len(m.commands) {
		return m, nil
	}
	cmd := m.commands[m.commandCursor]
	serials := m.selectedSerials()
	if len(serials) == 0 {
		m.pushLog("no device selected", core.LogTypeError)
		return m, nil
	}

	switch cmd.Command {
	case "shell":
		m.startTextInput(actionShellCmd, "shell command:", "")
		return m, nil
	case "install-apk":
		m.startTextInput(actionInstallAPK, "APK path:", "")
		return m, nil
	case "stop-record":
		return m, stopRecordingCmd(m, serials)
	case "mirror":
		var cmds []tea.Cmd
		for _, s := range serials {
			cmds = append(cmds, mirrorCmd(m, s))
		}
		return m, tea.Batch(cmds...)
	case "bluetooth":
		var cmds []tea.Cmd
		for _, s := range serials {
			cmds = append(cmds, bluetoothWatchCmd(m, s))
		}
		return m, tea.Batch(cmds...)
	case "reboot", "reboot-recovery", "reboot-bootloader":
		mode := map[string]string{"reboot": "", "reboot-recovery": "recovery", "reboot-bootloader": "bootloader"}[cmd.Command]
		return m, rebootCmd(m, serials, mode)
	case "refresh-devices":
		return m, refreshDevicesCmd(m)
	case "screenshot", "record", "ui-inspector", "bugreport":
		m.pendingCatalog = cmd.Command
		m.startTextInput(actionOutputDirFn, "output directory:", m.outputDir)
		return m, nil
	}
	return m, nil
}

func (m *Model) startTextInput(action pendingAction, prompt, value string) {
	m.pendingAction = action
	m.inputPrompt = prompt
	m.input.SetValue(value)
	m.input.Focus()
	m.input.CursorEnd()
	m.Mode = core.ModeTextInput
}

func (m *Model) handleTextInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.Mode = core.ModeMenu
		m.pendingAction = actionNone
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		value := m.input.Value()
		m.Mode = core.ModeMenu
		m.input.Blur()
		return m, m.resolvePendingAction(value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resolvePendingAction(value string) tea.Cmd {
	serials := m.selectedSerials()
	action := m.pendingAction
	m.pendingAction = actionNone

	switch action {
	case actionShellCmd:
		if value == "" {
			return nil
		}
		m.cfg.PushCommandHistory(value)
		return shellCmd(m, serials, value)
	case actionInstallAPK:
		if value == "" {
			return nil
		}
		return installAPKCmd(m, serials, value)
	case actionOutputDirFn:
		if value != "" {
			m.outputDir = value
		}
		switch m.pendingCatalog {
		case "screenshot":
			return screenshotCmd(m, serials, m.outputDir)
		case "record":
			return startRecordingCmd(m, serials, m.outputDir)
		case "ui-inspector":
			return uiInspectorCmd(m, serials, m.outputDir)
		case "bugreport":
			return bugReportCmd(m, serials, m.outputDir)
		}
	}
	return nil
}

func (m *Model) View() string {
	if m.quitting {
		return "bye\n"
	}

	title := core.TitleStyle.Render("droidfleet")
	devicePane := m.renderDevices()
	commandPane := m.renderCommands()
	opsPane := m.renderOperations()
	logPane := m.renderLogs()

	body := lipgloss.JoinHorizontal(lipgloss.Top, devicePane, commandPane)

	if m.Mode == core.ModeTextInput {
		help := core.HelpStyle.Render(m.helpLine(m.keys.TextInputKeys()))
		prompt := core.FocusedStyle.Render(m.inputPrompt) + " " + m.input.View()
		return lipgloss.JoinVertical(lipgloss.Left, title, body, opsPane, logPane, prompt, help)
	}
	help := core.HelpStyle.Render("tab: switch pane  space: select  a: select all  r: refresh  " + m.helpLine(m.keys.SelectionKeys()))
	return lipgloss.JoinVertical(lipgloss.Left, title, body, opsPane, logPane, help)
}

// helpLine renders a slice of key.Binding as "key: description" pairs,
// the same help-text shape bubbles/help builds, without pulling in the
// full help component for a single static row.
func (m *Model) helpLine(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		if h.Key == "" {
			continue
		}
		parts = append(parts, h.Key+": "+h.Desc)
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderDevices() string {
	var b strings.Builder
	b.WriteString(core.StatusStyle.Render("Devices") + "\n")
	if len(m.devices) == 0 {
		b.WriteString(core.HelpStyle.Render("  (none detected)") + "\n")
	}
	for i, d := range m.devices {
		marker := "[ ]"
		if m.selected[d.Serial] {
			marker = "[x]"
		}
		line := fmt.Sprintf("%s %s", marker, d.String())
		if i == m.deviceCursor && m.focus == focusDevices {
			line = core.SelectedItemStyle.Render(line)
		} else {
			line = core.ItemStyle.Render(line)
		}
		if states, ok := m.btSummary[d.Serial]; ok && len(states) > 0 {
			line += " " + core.HelpStyle.Render("bt:"+strings.Join(states, ","))
		}
		b.WriteString(display.FormatExtendedInfoWithIndent(line, display.ExtendedInfoLine(d.ExtendedAttrs)) + "\n")
	}
	return core.DocStyle.Render(b.String())
}

func (m *Model) renderCommands() string {
	var b strings.Builder
	b.WriteString(core.StatusStyle.Render("Commands") + "\n")
	for i, c := range m.commands {
		line := fmt.Sprintf("%-18s %s", c.Name, c.Description)
		if i == m.commandCursor && m.focus == focusCommands {
			line = core.SelectedItemStyle.Render(line)
		} else {
			line = core.ItemStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return core.DocStyle.Render(b.String())
}

func (m *Model) renderOperations() string {
	if len(m.operations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(core.StatusStyle.Render("Operations") + "\n")
	for _, op := range m.operations {
		line := fmt.Sprintf("%-12s %-12s %-10s", op.Type, op.DeviceSerial, op.Status)
		if op.Progress != nil {
			line += fmt.Sprintf(" %.0f%%", *op.Progress*100)
		}
		if op.ErrorMessage != "" {
			line = core.ErrorStyle.Render(line + " " + op.ErrorMessage)
		} else if op.Status == eventbus.OpCompleted {
			line = core.SuccessStyle.Render(line)
		} else {
			line = core.InfoStyle.Render(line)
		}
		b.WriteString(core.ItemStyle.Render(line) + "\n")
	}
	return core.DocStyle.Render(b.String())
}

func (m *Model) renderLogs() string {
	var b strings.Builder
	for _, entry := range m.Logs {
		ts := entry.Timestamp.Format("15:04:05")
		line := fmt.Sprintf("[%s] %s", ts, entry.Message)
		switch entry.Type {
		case core.LogTypeError:
			line = core.ErrorStyle.Render(line)
		case core.LogTypeSuccess:
			line = core.SuccessStyle.Render(line)
		default:
			line = core.InfoStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return core.DocStyle.Render(b.String())
}
