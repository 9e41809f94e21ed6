package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"droidfleet/internal/engine"
	"droidfleet/internal/eventbus"
)

const tickInterval = 500 * time.Millisecond

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// listenEventsCmd blocks for exactly one event off the model's
// subscription channel. Update re-issues it after each delivery, which
// is the standard Bubble Tea pattern for bridging an external
// channel-based producer (here, eventbus.Bus.Subscribe) into the Msg
// loop without a second goroutine driving p.Send.
func listenEventsCmd(ch <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return busEventMsg{event: e}
	}
}

func refreshDevicesCmd(m *Model) tea.Cmd {
	return func() tea.Msg {
		m.core.RefreshDevices()
		return devicesLoadedMsg{}
	}
}

func startRecordingCmd(m *Model, serials []string, outputDir string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		err := m.core.StartRecording(ctx, serials, outputDir)
		return actionDoneMsg{label: "start recording", err: err}
	}
}

func stopRecordingCmd(m *Model, serials []string) tea.Cmd {
	return func() tea.Msg {
		err := m.core.StopRecording(serials)
		return actionDoneMsg{label: "stop recording", err: err}
	}
}

func mirrorCmd(m *Model, serial string) tea.Cmd {
	return func() tea.Msg {
		err := m.core.Mirror(serial)
		return actionDoneMsg{label: "mirror " + serial, err: err}
	}
}

func screenshotCmd(m *Model, serials []string, outputDir string) tea.Cmd {
	return func() tea.Msg {
		summary := m.core.TakeScreenshot(context.Background(), serials, outputDir).Wait()
		return toBatchDoneMsg("screenshot", summary)
	}
}

func shellCmd(m *Model, serials []string, command string) tea.Cmd {
	return func() tea.Msg {
		handles := m.core.RunShell(context.Background(), serials, command)
		failed := 0
		errs := map[string]string{}
		for _, h := range handles {
			<-h.Done()
			if err := h.Err(); err != nil {
				failed++
				errs[h.Info.DeviceSerial] = err.Error()
			}
		}
		return batchDoneMsg{label: "shell", success: len(handles) - failed, failed: failed, errs: errs}
	}
}

func installAPKCmd(m *Model, serials []string, apkPath string) tea.Cmd {
	return func() tea.Msg {
		summary := m.core.InstallAPK(context.Background(), serials, apkPath).Wait()
		return toBatchDoneMsg("install-apk", summary)
	}
}

func rebootCmd(m *Model, serials []string, mode string) tea.Cmd {
	return func() tea.Msg {
		summary := m.core.Reboot(context.Background(), serials, mode).Wait()
		return toBatchDoneMsg("reboot", summary)
	}
}

func bugReportCmd(m *Model, serials []string, outputDir string) tea.Cmd {
	return func() tea.Msg {
		summary := m.core.BugReport(context.Background(), serials, outputDir).Wait()
		return toBatchDoneMsg("bugreport", summary)
	}
}

func uiInspectorCmd(m *Model, serials []string, outputDir string) tea.Cmd {
	return func() tea.Msg {
		summary := m.core.DumpUIHierarchy(context.Background(), serials, outputDir).Wait()
		return toBatchDoneMsg("ui-inspector", summary)
	}
}

func bluetoothWatchCmd(m *Model, serial string) tea.Cmd {
	return func() tea.Msg {
		m.core.BluetoothService(context.Background(), serial)
		return actionDoneMsg{label: "bluetooth watch " + serial}
	}
}

func toBatchDoneMsg(label string, s engine.BatchSummary) tea.Msg {
	return batchDoneMsg{label: label, success: s.Success, failed: s.Failed, cancel: s.Cancelled, errs: s.Errors}
}
