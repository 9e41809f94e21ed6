// Package shellexec fans a shell command (or a batch of them) out across
// a set of selected devices through the dispatcher, then assembles a
// CommandBlock event in stable device order regardless of which device
// finishes first.
package shellexec

import (
	"context"
	"errors"
	"strings"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/dispatcher"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
	"droidfleet/internal/registry"
)

var log = logging.Component("shellexec")

// Runner executes shell commands across devices via the dispatcher.
type Runner struct {
	client   *adbproc.Client
	disp     *dispatcher.Dispatcher
	bus      *eventbus.Bus
	registry *registry.Registry
}

func New(client *adbproc.Client, disp *dispatcher.Dispatcher, bus *eventbus.Bus, reg *registry.Registry) *Runner {
	return &Runner{client: client, disp: disp, bus: bus, registry: reg}
}

// Run fans `command` out to every serial in serials and returns a handle
// per device so the caller can track or cancel individual runs. Blank
// lines and lines beginning with "#" are treated as comments and skipped;
// remaining lines run sequentially per device, and each line yields its
// own CommandBlock with every device's outcome in stable selection order
// regardless of completion order.
func (r *Runner) Run(ctx context.Context, serials []string, command string) []*dispatcher.Handle {
	lines := batchLines(command)
	log.Debug().Strs("serials", serials).Int("lines", len(lines)).Msg("shell fan-out")

	// results[i][j] is serial i's outcome for command line j.
	results := make([][]eventbus.CommandResult, len(serials))
	handles := make([]*dispatcher.Handle, len(serials))

	for i, serial := range serials {
		i, serial := i, serial
		info := dispatcher.TaskInfo{Name: "shell", Category: "shell_command", DeviceSerial: serial}

		if err := r.unavailableError(serial); err != nil {
			rejected := make([]eventbus.CommandResult, len(lines))
			for j, line := range lines {
				rejected[j] = eventbus.CommandResult{Serial: serial, Command: line, ExitCode: 1, Error: err.Error()}
			}
			results[i] = rejected
			handles[i] = dispatcher.Rejected(info, err)
			continue
		}

		handles[i] = r.disp.Submit(ctx, info, func(taskCtx context.Context) error {
			res := r.runOnDevice(taskCtx, serial, lines)
			results[i] = res
			return errFromResults(res)
		})
	}

	go func() {
		for _, h := range handles {
			<-h.Done()
		}
		for j, line := range lines {
			block := eventbus.CommandBlock{Command: line}
			for i := range serials {
				if j < len(results[i]) {
					block.Results = append(block.Results, results[i][j])
				}
			}
			r.publish(block)
		}
	}()

	return handles
}

// unavailableError reports why serial can't be targeted, or nil if it's in
// the `device` connection state (or the registry wasn't wired, e.g. in unit
// tests that drive runOnDevice directly).
func (r *Runner) unavailableError(serial string) error {
	if r.registry == nil {
		return nil
	}
	d, ok := r.registry.Get(serial)
	if !ok {
		return &adbproc.DeviceUnavailableError{Serial: serial, State: "unknown"}
	}
	if !d.State.Usable() {
		return &adbproc.DeviceUnavailableError{Serial: serial, State: string(d.State)}
	}
	return nil
}

func (r *Runner) runOnDevice(ctx context.Context, serial string, lines []string) []eventbus.CommandResult {
	out := make([]eventbus.CommandResult, 0, len(lines))
	for _, line := range lines {
		start := time.Now()
		res := eventbus.CommandResult{Serial: serial, Command: line}
		stdout, err := r.client.Run(ctx, adbproc.DefaultTimeout, adbproc.Shell(serial, "sh", "-c", line))
		res.Lines = stdout
		res.Duration = time.Since(start)
		if err != nil {
			res.Error = err.Error()
			res.ExitCode = exitCode(err)
		}
		out = append(out, res)
		if ctx.Err() != nil {
			break
		}
	}
	return out
}

func exitCode(err error) int {
	var nz *adbproc.NonZeroExitError
	if errors.As(err, &nz) {
		return nz.Code
	}
	return 1
}

func errFromResults(rs []eventbus.CommandResult) error {
	for _, res := range rs {
		if res.Error != "" {
			return &commandError{res.Error}
		}
	}
	return nil
}

type commandError struct{ msg string }

func (e *commandError) Error() string { return e.msg }

// batchLines splits a possibly multi-line command into its executable
// lines, dropping blanks and comment lines.
func batchLines(command string) []string {
	var out []string
	for _, line := range strings.Split(command, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func (r *Runner) publish(e eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
