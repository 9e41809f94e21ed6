package tui

import (
	"time"

	"droidfleet/internal/eventbus"
)

// tickMsg drives the elapsed-time/progress redraw.
type tickMsg time.Time

// busEventMsg wraps one eventbus.Event so it can travel through
// Bubble Tea's Update loop; listenEventsCmd re-arms itself after each
// delivery so the subscription survives for the model's lifetime.
type busEventMsg struct {
	event eventbus.Event
}

// devicesLoadedMsg carries the result of an explicit device refresh
// triggered from the menu (the discovery poller already keeps the list
// live; this is the user-requested "refresh now").
type devicesLoadedMsg struct {
	err error
}

// actionDoneMsg reports the outcome of a fire-and-forget engine call
// (start recording, mirror, stop recording) that doesn't go through the
// dispatcher/operations status pipeline on its own.
type actionDoneMsg struct {
	label string
	err   error
}

// batchDoneMsg reports a consolidated BatchSummary from a multi-device
// dispatcher operation (screenshot, shell, install, reboot, ...).
type batchDoneMsg struct {
	label   string
	success int
	failed  int
	cancel  int
	errs    map[string]string
}
