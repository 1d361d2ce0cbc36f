package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manager owns a Config loaded from a YAML file, with optional
// filesystem watching for hot reload. Grounded on
// dspy-go/pkg/config/manager.go's Load/Get/Watch shape.
type Manager struct {
	mu     sync.RWMutex
	path   string
	config *Config

	watcher *fsnotify.Watcher
	updates chan *Config
	done    chan struct{}
}

// NewManager creates a Manager that will load from path. If path is
// empty, Load starts from Default() with no file overlay.
func NewManager(path string) *Manager {
	return &Manager{path: path, config: Default()}
}

// Load reads the YAML file (if a path was given), overlaying it onto
// Default(), then validates the result.
func (m *Manager) Load() error {
	cfg := Default()
	if m.path != "" {
		data, err := os.ReadFile(m.path)
		if err != nil {
			if os.IsNotExist(err) {
				// No config file is not an error: defaults stand.
			} else {
				return err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns the currently loaded config. Safe for concurrent use.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch starts watching the config file for changes, reloading and
// publishing the new Config on the returned channel on every write. The
// orchestrator polls this channel once per round boundary (SPEC_FULL
// AMBIENT STACK / Configuration) so a live edit never lands mid-round.
// Watch is a no-op returning a nil channel if no path was configured.
func (m *Manager) Watch() (<-chan *Config, error) {
	if m.path == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(m.path); err != nil {
		_ = w.Close()
		return nil, err
	}
	m.watcher = w
	m.updates = make(chan *Config, 1)
	m.done = make(chan struct{})

	go func() {
		defer close(m.updates)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Load(); err != nil {
					continue
				}
				select {
				case m.updates <- m.Get():
				default:
					// Drop-oldest: a stale pending reload is superseded.
					select {
					case <-m.updates:
					default:
					}
					m.updates <- m.Get()
				}
			case <-w.Errors:
				continue
			case <-m.done:
				return
			}
		}
	}()

	return m.updates, nil
}

// Close stops watching, if Watch was called.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	close(m.done)
	return m.watcher.Close()
}
