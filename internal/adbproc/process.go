package adbproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"droidfleet/internal/logging"
)

var log = logging.Component("adbproc")

// CommandExecutor allows dependency injection for testing.
type CommandExecutor interface {
	CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd
}

type realExecutor struct{}

func (realExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, arg...)
}

// Client runs adb subprocesses and parses their output. It is the only
// thing in the module that spawns `adb`.
type Client struct {
	AdbPath  string
	executor CommandExecutor
	mu       sync.Mutex
}

// NewClient builds a Client bound to a resolved adb binary path. It does
// not check the binary exists; callers should do that once at startup
// (ErrAdbNotFound gate) via Verify.
func NewClient(adbPath string) *Client {
	return &Client{AdbPath: adbPath, executor: realExecutor{}}
}

// SetExecutor swaps in a fake CommandExecutor for tests.
func (c *Client) SetExecutor(e CommandExecutor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executor = e
}

// Verify checks the adb binary exists and is executable, returning
// ErrAdbNotFound if not.
func (c *Client) Verify() error {
	if _, err := exec.LookPath(c.AdbPath); err != nil {
		return fmt.Errorf("%w: %s", ErrAdbNotFound, c.AdbPath)
	}
	return nil
}

func (c *Client) cmd(ctx context.Context, args []string) *exec.Cmd {
	c.mu.Lock()
	ex := c.executor
	c.mu.Unlock()
	return ex.CommandContext(ctx, c.AdbPath, args...)
}

// Run executes an adb subprocess with a timeout, capturing stdout+stderr
// and splitting the combined output into lines.
func (c *Client) Run(ctx context.Context, timeout time.Duration, args []string) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := c.cmd(runCtx, args)
	out, err := cmd.CombinedOutput()
	cmdStr := "adb " + strings.Join(args, " ")
	log.Debug().Str("cmd", cmdStr).Msg("run")

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Cmd: cmdStr, Elapsed: timeout}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &NonZeroExitError{Cmd: cmdStr, Code: exitErr.ExitCode(), Tail: tail(string(out), 4096)}
		}
		return nil, &ExecutionError{Cmd: cmdStr, Err: err}
	}

	return splitLines(string(out)), nil
}

// RunRaw is like Run but returns the raw output bytes unsplit, for
// binary payloads such as `exec-out screencap`.
func (c *Client) RunRaw(ctx context.Context, timeout time.Duration, args []string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := c.cmd(runCtx, args)
	out, err := cmd.Output()
	cmdStr := "adb " + strings.Join(args, " ")

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Cmd: cmdStr, Elapsed: timeout}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &NonZeroExitError{Cmd: cmdStr, Code: exitErr.ExitCode(), Tail: tail(string(exitErr.Stderr), 4096)}
		}
		return nil, &ExecutionError{Cmd: cmdStr, Err: err}
	}

	return out, nil
}

// RunStreaming starts a long-lived adb subprocess (logcat, screenrecord)
// and returns a channel of output lines plus a cancel function that kills
// the child and drains its output.
func (c *Client) RunStreaming(ctx context.Context, args []string) (<-chan string, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)
	cmd := c.cmd(streamCtx, args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, nil, &ExecutionError{Cmd: strings.Join(args, " "), Err: err}
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, &ExecutionError{Cmd: strings.Join(args, " "), Err: err}
	}

	lines := make(chan string, 64)
	done := make(chan struct{})

	go func() {
		defer close(lines)
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-streamCtx.Done():
				return
			}
		}
	}()

	stop := func() {
		cancel()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		<-done
	}

	return lines, stop, nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// InterruptibleCmd is a long-lived adb subprocess the caller ends by
// signal rather than by context cancellation — screenrecord needs a
// SIGINT forwarded through the shell to flush its output file cleanly,
// not a hard kill.
type InterruptibleCmd struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// StartInterruptible starts args detached from ctx cancellation: the
// process only ends via Interrupt or Kill, so a caller can poll it for a
// segment-duration cap without the process dying underneath a still-valid
// context.
func (c *Client) StartInterruptible(args []string) (*InterruptibleCmd, error) {
	cmd := c.cmd(context.Background(), args)
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Cmd: "adb " + strings.Join(args, " "), Err: err}
	}
	ic := &InterruptibleCmd{cmd: cmd, done: make(chan struct{})}
	go func() {
		ic.err = cmd.Wait()
		close(ic.done)
	}()
	return ic, nil
}

// Interrupt sends SIGINT, asking the remote command to finish and flush
// gracefully. A no-op once the process has already exited.
func (ic *InterruptibleCmd) Interrupt() error {
	select {
	case <-ic.done:
		return nil
	default:
	}
	if ic.cmd.Process == nil {
		return nil
	}
	return ic.cmd.Process.Signal(syscall.SIGINT)
}

// Kill forcibly terminates the subprocess. A no-op once it has exited.
func (ic *InterruptibleCmd) Kill() error {
	select {
	case <-ic.done:
		return nil
	default:
	}
	if ic.cmd.Process == nil {
		return nil
	}
	return ic.cmd.Process.Kill()
}

// Done returns a channel closed when the process has exited. Safe to
// select on from more than one place.
func (ic *InterruptibleCmd) Done() <-chan struct{} {
	return ic.done
}

// Err returns the process's exit error (nil on clean exit). Only
// meaningful after Done() is closed.
func (ic *InterruptibleCmd) Err() error {
	select {
	case <-ic.done:
		return ic.err
	default:
		return nil
	}
}

// RecoverServer performs the implicit kill-server/start-server cycle the
// ADB process layer attempts once before surfacing a dead-server error to
// callers.
func (c *Client) RecoverServer(ctx context.Context) error {
	_, _ = c.Run(ctx, DefaultTimeout, KillServer())
	_, err := c.Run(ctx, DefaultTimeout, StartServer())
	return err
}
