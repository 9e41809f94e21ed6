// Package config persists user settings and device groups to a single
// versioned, watchable YAML document.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"droidfleet/internal/device"
	"droidfleet/internal/logging"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var log = logging.Component("config")

// CurrentVersion is bumped whenever the persisted shape changes
// incompatibly. Store refuses to load a file from a newer version.
const CurrentVersion = 1

// UIPrefs holds the small set of front-end display preferences the
// persisted file carries.
type UIPrefs struct {
	Theme           string  `yaml:"theme,omitempty"`
	Scale           float64 `yaml:"scale,omitempty"`
	RefreshInterval int     `yaml:"refresh_interval_seconds,omitempty"`
	ConsoleVisible  bool    `yaml:"console_visible"`
}

// Document is the on-disk shape. Unknown maps into Extra so a newer
// writer's fields survive a round trip through an older one.
type Document struct {
	Version        int            `yaml:"version"`
	OutputDir      string         `yaml:"output_dir,omitempty"`
	UI             UIPrefs        `yaml:"ui"`
	Groups         []device.Group `yaml:"device_groups,omitempty"`
	CommandHistory []string       `yaml:"command_history,omitempty"`
	Extra          map[string]any `yaml:",inline"`
}

func defaultDocument() Document {
	home, _ := os.UserHomeDir()
	return Document{
		Version:   CurrentVersion,
		OutputDir: filepath.Join(home, "Downloads"),
		UI: UIPrefs{
			Theme:           "default",
			Scale:           1.0,
			RefreshInterval: 30,
			ConsoleVisible:  true,
		},
		Extra: map[string]any{},
	}
}

// Store owns the persisted Document and an optional file watch that
// reloads device groups edited by a collaborating front-end without a
// restart.
type Store struct {
	path string

	mu  sync.RWMutex
	doc Document

	watcher  *fsnotify.Watcher
	onChange func(Document)
	stopCh   chan struct{}
}

// New builds a Store bound to path without touching disk; call Load to
// populate it from an existing file, or Save to create one.
func New(path string) *Store {
	return &Store{path: path, doc: defaultDocument()}
}

// Load reads path if it exists, leaving defaults in place otherwise. A
// version newer than CurrentVersion is refused so an old binary never
// silently truncates a newer config's fields.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc.Version > CurrentVersion {
		return fmt.Errorf("config file version %d is newer than supported version %d", doc.Version, CurrentVersion)
	}
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	if doc.Extra == nil {
		doc.Extra = map[string]any{}
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Save writes the current document atomically (write to a temp file,
// then rename) so a crash mid-write never corrupts the previous config.
func (s *Store) Save() error {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Document returns a copy of the current in-memory document.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Update applies fn to the stored document in place, under lock. The
// caller is responsible for calling Save afterward.
func (s *Store) Update(fn func(*Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.doc)
}

// Groups returns the persisted device groups.
func (s *Store) Groups() []device.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]device.Group, len(s.doc.Groups))
	copy(out, s.doc.Groups)
	return out
}

// SetGroup upserts a group by name.
func (s *Store) SetGroup(g device.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.doc.Groups {
		if existing.Name == g.Name {
			s.doc.Groups[i] = g
			return
		}
	}
	s.doc.Groups = append(s.doc.Groups, g)
}

// RemoveGroup deletes a group by name, returning whether it existed.
func (s *Store) RemoveGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.doc.Groups {
		if existing.Name == name {
			s.doc.Groups = append(s.doc.Groups[:i], s.doc.Groups[i+1:]...)
			return true
		}
	}
	return false
}

// PushCommandHistory appends a command, trimming to the last 50 entries.
func (s *Store) PushCommandHistory(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.CommandHistory = append(s.doc.CommandHistory, cmd)
	if len(s.doc.CommandHistory) > 50 {
		s.doc.CommandHistory = s.doc.CommandHistory[len(s.doc.CommandHistory)-50:]
	}
}

// Watch starts an fsnotify watch on the config file's directory and
// invokes onChange with the freshly reloaded document whenever the file
// is written by another process. Callers must call StopWatch to release
// the watcher.
func (s *Store) Watch(onChange func(Document)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	s.watcher = w
	s.onChange = onChange
	s.stopCh = make(chan struct{})

	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.Load(); err != nil {
				log.Warn().Err(err).Msg("config reload failed")
				continue
			}
			if s.onChange != nil {
				s.onChange(s.Document())
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watch error")
		case <-s.stopCh:
			return
		}
	}
}

// StopWatch stops a watch started by Watch. Safe to call even if Watch
// was never called.
func (s *Store) StopWatch() {
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	_ = s.watcher.Close()
	s.watcher = nil
}

// EnvVersion returns LAZY_BLACKTEA_VERSION if set, else fallback. It is
// the override hook for the version the binary reports.
func EnvVersion(fallback string) string {
	if v := os.Getenv("LAZY_BLACKTEA_VERSION"); v != "" {
		return v
	}
	return fallback
}

// DefaultPath returns the conventional per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "droidfleet", "config.yaml")
}
