// Package recording is the segmented screen-recording coordinator. Each
// device gets an independent session and its own goroutine driving a
// segment loop that restarts the capture just under ADB's 180s hard
// ceiling, so the observable recording is effectively unbounded.
package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/eventbus"
	"droidfleet/internal/logging"
	"droidfleet/internal/operations"
)

var log = logging.Component("recording")

const (
	// SegmentDuration is deliberately shorter than ADB's 180s hard limit so
	// the coordinator can end a segment cleanly before ADB kills it out
	// from under us.
	SegmentDuration     = 170 * time.Second
	SegmentPollInterval = 500 * time.Millisecond

	StartRetryCount = 2
	StartRetryDelay = 1 * time.Second

	StopRetryCount = 3
	StopRetryDelay = 1500 * time.Millisecond

	FilePullRetryCount = 3
	FilePullRetryDelay = 1 * time.Second
)

// OperationInProgressError reports that a start/stop macro-operation was
// rejected because a conflicting one is already in flight.
type OperationInProgressError struct {
	Serials []string
}

func (e *OperationInProgressError) Error() string {
	return fmt.Sprintf("operation already in progress for: %v", e.Serials)
}

// Segment is one completed `screenrecord` invocation within a session.
type Segment struct {
	Index                int
	Filename             string
	DurationSeconds      float64
	TotalDurationSeconds float64
}

// Session is a single device's recording lifecycle.
type Session struct {
	mu sync.Mutex

	Serial     string
	DeviceName string
	OutputPath string
	StartedAt  time.Time

	Segments             []Segment
	ElapsedBeforeCurrent float64
	OngoingSegmentStart  *time.Time
	Active               bool

	// DisplaySeconds is a monotonically non-decreasing accumulator: it
	// must never regress even if a poll and a segment-completion race.
	DisplaySeconds float64

	operationID   string
	stopRequested bool
	done          chan struct{}
}

func (s *Session) bumpDisplaySeconds(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.DisplaySeconds {
		s.DisplaySeconds = v
	}
}

// Snapshot returns a value copy safe to hand to a caller.
func (s *Session) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.Segments = append([]Segment(nil), s.Segments...)
	return cp
}

// Coordinator owns every device's recording session.
type Coordinator struct {
	client *adbproc.Client
	bus    *eventbus.Bus
	ops    *operations.Manager

	mu       sync.Mutex
	sessions map[string]*Session

	macroMu sync.Mutex // guards the brief window where Start/Stop validate and launch

	segmentDuration time.Duration
	pollInterval    time.Duration
}

func New(client *adbproc.Client, bus *eventbus.Bus, ops *operations.Manager) *Coordinator {
	return &Coordinator{
		client:          client,
		bus:             bus,
		ops:             ops,
		sessions:        make(map[string]*Session),
		segmentDuration: SegmentDuration,
		pollInterval:    SegmentPollInterval,
	}
}

// SetSegmentDuration overrides the per-segment cap (tests use a short one;
// production leaves it at SegmentDuration).
func (c *Coordinator) SetSegmentDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segmentDuration = d
}

// SetPollInterval overrides the segment-liveness poll period.
func (c *Coordinator) SetPollInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollInterval = d
}

func (c *Coordinator) segmentCap() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segmentDuration
}

func (c *Coordinator) poll() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollInterval
}

// IsRecording reports whether serial currently has an active session.
func (c *Coordinator) IsRecording(serial string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[serial]
	return ok && s.Active
}

// ActiveSerials returns every serial with an active session.
func (c *Coordinator) ActiveSerials() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for serial, s := range c.sessions {
		if s.Active {
			out = append(out, serial)
		}
	}
	return out
}

// Start begins recording on every serial in devices. It is all-or-nothing:
// if any requested serial is already recording, no session is started for
// any of them and an OperationInProgressError lists the conflicting
// serials.
func (c *Coordinator) Start(ctx context.Context, devices map[string]string, outputDir string) error {
	if !c.macroMu.TryLock() {
		c.warn("a recording start/stop is already in progress")
		return &OperationInProgressError{Serials: c.ActiveSerials()}
	}
	defer c.macroMu.Unlock()

	c.mu.Lock()
	var conflicting []string
	for serial := range devices {
		if s, ok := c.sessions[serial]; ok && s.Active {
			conflicting = append(conflicting, serial)
		}
	}
	c.mu.Unlock()

	if len(conflicting) > 0 {
		return &OperationInProgressError{Serials: conflicting}
	}

	for serial, name := range devices {
		c.startOne(ctx, serial, name, outputDir)
	}
	return nil
}

func (c *Coordinator) startOne(ctx context.Context, serial, deviceName, outputDir string) {
	session := &Session{
		Serial:     serial,
		DeviceName: deviceName,
		OutputPath: outputDir,
		StartedAt:  time.Now(),
		Active:     true,
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	c.sessions[serial] = session
	c.mu.Unlock()

	ev := c.ops.Add(uuid.NewString(), serial, eventbus.OpRecording, true, func() { c.RequestStop(serial) })
	session.operationID = ev.OperationID
	c.ops.Update(session.operationID, eventbus.OpRunning, nil, "recording started", "")

	go c.segmentLoop(ctx, session)
}

// RequestStop signals the session for serial to end after its current
// segment flushes. A no-op (once-warned) if serial is not recording.
func (c *Coordinator) RequestStop(serial string) {
	c.mu.Lock()
	s, ok := c.sessions[serial]
	c.mu.Unlock()
	if ok {
		s.mu.Lock()
		ok = s.Active
		s.mu.Unlock()
	}
	if !ok {
		c.warn(fmt.Sprintf("stop requested for %s, which is not recording", serial))
		return
	}
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

// Stop signals every serial in serials (or, if empty, every active
// session) to end after its current segment flushes.
func (c *Coordinator) Stop(serials []string) error {
	if !c.macroMu.TryLock() {
		c.warn("a recording start/stop is already in progress")
		return &OperationInProgressError{Serials: c.ActiveSerials()}
	}
	defer c.macroMu.Unlock()

	targets := serials
	if len(targets) == 0 {
		targets = c.ActiveSerials()
	}
	for _, serial := range targets {
		c.RequestStop(serial)
	}
	return nil
}

func (c *Coordinator) segmentLoop(ctx context.Context, s *Session) {
	defer close(s.done)

	index := 0
	for {
		index++
		userStopped, err := c.runSegment(ctx, s, index)
		if err != nil {
			c.ops.Update(s.operationID, eventbus.OpFailed, nil, "", err.Error())
			c.publish(eventbus.RecordingProgressEvent{
				Type:         eventbus.RecordingError,
				DeviceSerial: s.Serial,
				DeviceName:   s.DeviceName,
				SegmentIndex: index,
				Message:      err.Error(),
			})
			c.markInactive(s)
			return
		}
		if userStopped {
			c.ops.Update(s.operationID, eventbus.OpCompleted, nil, "recording stopped", "")
			c.markInactive(s)
			return
		}
	}
}

func (c *Coordinator) markInactive(s *Session) {
	s.mu.Lock()
	s.Active = false
	s.mu.Unlock()
}

// runSegment runs one `screenrecord` invocation to completion (either the
// segment cap elapsing or a user stop request) and pulls its artifact.
// The bool return reports whether this segment ended because of a user
// stop request.
func (c *Coordinator) runSegment(ctx context.Context, s *Session, index int) (bool, error) {
	remotePath := fmt.Sprintf("/sdcard/record_part%02d.mp4", index)
	filename := fmt.Sprintf("record_part%02d.mp4", index)

	cmd, err := c.startSegmentWithRetry(s.Serial, remotePath)
	if err != nil {
		return false, fmt.Errorf("start segment %d: %w", index, err)
	}

	start := time.Now()
	now := start
	s.mu.Lock()
	s.OngoingSegmentStart = &now
	s.mu.Unlock()

	userStopped := c.waitForSegmentEnd(ctx, s, cmd, start)

	if err := c.stopSegmentWithRetry(cmd); err != nil {
		return false, fmt.Errorf("stop segment %d: %w", index, err)
	}

	duration := time.Since(start).Seconds()

	localPath := filepath.Join(s.OutputPath, filename)
	if err := c.pullSegmentWithRetry(s.Serial, remotePath, localPath); err != nil {
		return false, fmt.Errorf("pull segment %d: %w", index, err)
	}

	s.mu.Lock()
	s.ElapsedBeforeCurrent += duration
	total := s.ElapsedBeforeCurrent
	s.Segments = append(s.Segments, Segment{
		Index:                index,
		Filename:             filename,
		DurationSeconds:      duration,
		TotalDurationSeconds: total,
	})
	s.OngoingSegmentStart = nil
	s.mu.Unlock()
	s.bumpDisplaySeconds(total)

	origin := eventbus.OriginInternal
	if userStopped {
		origin = eventbus.OriginUser
	}
	c.publish(eventbus.RecordingProgressEvent{
		Type:                 eventbus.SegmentCompleted,
		DeviceSerial:         s.Serial,
		DeviceName:           s.DeviceName,
		OutputPath:           localPath,
		SegmentIndex:         index,
		SegmentFilename:      filename,
		DurationSeconds:      duration,
		TotalDurationSeconds: total,
		RequestOrigin:        origin,
	})

	return userStopped, nil
}

func (c *Coordinator) startSegmentWithRetry(serial, remotePath string) (*adbproc.InterruptibleCmd, error) {
	var lastErr error
	for attempt := 0; attempt < StartRetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(StartRetryDelay)
		}
		cmd, err := c.client.StartInterruptible(adbproc.Screenrecord(serial, remotePath))
		if err == nil {
			return cmd, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("serial", serial).Int("attempt", attempt+1).Msg("segment start failed")
	}
	return nil, lastErr
}

// waitForSegmentEnd blocks until the segment cap elapses, the user
// requests a stop, or the child process exits on its own (e.g. ADB's own
// 180s enforcement beat us to it — should not normally happen).
func (c *Coordinator) waitForSegmentEnd(ctx context.Context, s *Session, cmd *adbproc.InterruptibleCmd, start time.Time) bool {
	ticker := time.NewTicker(c.poll())
	defer ticker.Stop()
	cap := c.segmentCap()

	for {
		select {
		case <-cmd.Done():
			return c.isStopRequested(s)
		case <-ctx.Done():
			_ = cmd.Interrupt()
			return true
		case <-ticker.C:
			elapsed := time.Since(start)
			if c.isStopRequested(s) {
				return true
			}
			if elapsed >= cap {
				return false
			}
			total := s.elapsedBeforeCurrentLocked() + elapsed.Seconds()
			s.bumpDisplaySeconds(total)
			c.publish(eventbus.RecordingProgressEvent{
				Type:                 eventbus.RecordingHeartbeat,
				DeviceSerial:         s.Serial,
				DeviceName:           s.DeviceName,
				TotalDurationSeconds: total,
			})
		}
	}
}

func (s *Session) elapsedBeforeCurrentLocked() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ElapsedBeforeCurrent
}

func (c *Coordinator) isStopRequested(s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (c *Coordinator) stopSegmentWithRetry(cmd *adbproc.InterruptibleCmd) error {
	for attempt := 0; attempt < StopRetryCount; attempt++ {
		_ = cmd.Interrupt()
		select {
		case <-cmd.Done():
			return nil
		case <-time.After(StopRetryDelay):
		}
	}
	_ = cmd.Kill()
	select {
	case <-cmd.Done():
		return nil
	case <-time.After(StopRetryDelay):
		return fmt.Errorf("segment process did not exit after interrupt and kill")
	}
}

func (c *Coordinator) pullSegmentWithRetry(serial, remotePath, localPath string) error {
	var lastErr error
	for attempt := 0; attempt < FilePullRetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(FilePullRetryDelay)
		}
		if _, err := c.client.Run(context.Background(), adbproc.RecordingTimeout, adbproc.Pull(serial, remotePath, localPath)); err != nil {
			lastErr = err
			continue
		}
		_, _ = c.client.Run(context.Background(), adbproc.DefaultTimeout, adbproc.RemoveRemote(serial, remotePath))
		return nil
	}
	return lastErr
}

func (c *Coordinator) publish(e eventbus.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Coordinator) warn(msg string) {
	c.publish(eventbus.Warning{Message: msg, At: time.Now()})
}
