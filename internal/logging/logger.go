// Package logging carries the two logging concerns the ambient stack
// needs: a structured backing logger (zerolog) for internal diagnostics,
// and a small Renderer-based front for user-facing log rows.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// backing is the process-wide structured logger. It is one of the few
// pieces of confined process-global state allowed by the composition-root
// design (internal/engine is the other owner of global-ish state).
var backing = zerolog.New(io.Discard).With().Timestamp().Logger()

// Init points the structured backing logger at w (os.Stderr in
// production, a buffer in tests). Call once from the composition root.
func Init(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	backing = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a logger tagged with a component name, so each
// package's diagnostics are filterable.
func Component(name string) zerolog.Logger {
	return backing.With().Str("component", name).Logger()
}

func init() {
	if os.Getenv("DROIDFLEET_DEBUG") != "" {
		Init(os.Stderr, true)
	}
}

// ---- user-facing log rows ----

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelSuccess
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelSuccess:
		return "SUCCESS"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// Renderer is implemented by front-ends (TUI, CLI) to display log rows.
type Renderer interface {
	Render(entry LogEntry)
}

type frontLogger struct {
	mu       sync.RWMutex
	renderer Renderer
}

var front = &frontLogger{}

// SetRenderer installs the active front-end renderer. Only one renderer is
// active at a time.
func SetRenderer(r Renderer) {
	front.mu.Lock()
	defer front.mu.Unlock()
	front.renderer = r
}

func emit(level LogLevel, message string) {
	front.mu.RLock()
	r := front.renderer
	front.mu.RUnlock()
	if r == nil {
		return
	}
	r.Render(LogEntry{Timestamp: time.Now(), Level: level, Message: message})
}

func Info(format string, args ...any)    { emit(LogLevelInfo, fmt.Sprintf(format, args...)) }
func Error(format string, args ...any)   { emit(LogLevelError, fmt.Sprintf(format, args...)) }
func Success(format string, args ...any) { emit(LogLevelSuccess, fmt.Sprintf(format, args...)) }
func Debug(format string, args ...any)   { emit(LogLevelDebug, fmt.Sprintf(format, args...)) }
