package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format represents supported configuration file formats
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ChangeEvent describes a configuration file change
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // create, modify, delete
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when a watched file changes
type ChangeHandler func(event ChangeEvent) error

// Watcher watches a configuration directory and parses YAML and JSON
// files into maps. Typed consumers register handlers per filename;
// .rego files under the directory trigger the policy reload handlers.
type Watcher struct {
	dir            string
	files          map[string]map[string]interface{}
	handlers       map[string][]ChangeHandler
	validators     map[string]func(map[string]interface{}) error
	policyHandlers []func() error
	fsw            *fsnotify.Watcher
	started        bool
	stopCh         chan struct{}
	logger         *zap.Logger
	mu             sync.RWMutex
	eventMu        sync.Mutex
}

// NewWatcher creates a watcher over the given directory, creating it if
// necessary.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Watcher{
		dir:        dir,
		files:      make(map[string]map[string]interface{}),
		handlers:   make(map[string][]ChangeHandler),
		validators: make(map[string]func(map[string]interface{}) error),
		fsw:        fsw,
		stopCh:     make(chan struct{}),
		logger:     logger.Named("config"),
	}, nil
}

// Start loads all present files and begins watching for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	// fsnotify is not recursive; the policies subdirectory carries the
	// .rego files so it needs its own watch.
	policiesDir := filepath.Join(w.dir, "policies")
	if info, err := os.Stat(policiesDir); err == nil && info.IsDir() {
		if err := w.fsw.Add(policiesDir); err != nil {
			w.logger.Warn("Failed to watch policies directory", zap.Error(err))
		}
	}

	if err := w.loadAll(); err != nil {
		return fmt.Errorf("load initial configs: %w", err)
	}

	w.mu.Lock()
	w.started = true
	loaded := len(w.files)
	w.mu.Unlock()

	go w.watchLoop()

	w.logger.Info("Configuration watcher started",
		zap.String("config_dir", w.dir),
		zap.Int("loaded_files", loaded),
	)
	return nil
}

// Stop stops watching for configuration changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	close(w.stopCh)
	if err := w.fsw.Close(); err != nil {
		w.logger.Error("Error closing file watcher", zap.Error(err))
	}
	w.started = false
	w.logger.Info("Configuration watcher stopped")
	return nil
}

// OnFile registers a change handler for a specific file name.
func (w *Watcher) OnFile(filename string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[filename] = append(w.handlers[filename], handler)
}

// SetValidator registers a validator for a file. A file that fails
// validation is rejected: the previous contents stay in effect and no
// handlers run.
func (w *Watcher) SetValidator(filename string, validator func(map[string]interface{}) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.validators[filename] = validator
}

// OnPolicyChange registers a handler invoked whenever a .rego file
// under the watched directory changes.
func (w *Watcher) OnPolicyChange(handler func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policyHandlers = append(w.policyHandlers, handler)
}

// Get returns a copy of the last loaded contents of a file.
func (w *Watcher) Get(filename string) (map[string]interface{}, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cfg, ok := w.files[filename]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, true
}

// Reload re-reads a single file by name.
func (w *Watcher) Reload(filename string) error {
	return w.loadFile(filepath.Join(w.dir, filename), "manual_reload")
}

func (w *Watcher) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.eventMu.Lock()
	defer w.eventMu.Unlock()

	filename := filepath.Base(event.Name)
	isConfig := isConfigFile(event.Name)
	isPolicy := isPolicyFile(event.Name)
	if !isConfig && !isPolicy {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "rename"
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		action = event.Op.String()
	}

	if action == "delete" || action == "rename" {
		if isConfig {
			w.handleRemoval(filename)
		}
		if isPolicy {
			w.firePolicyHandlers(filename, action)
		}
		return
	}

	// Editors produce bursts of writes; give the file a moment to settle.
	time.Sleep(50 * time.Millisecond)

	if isConfig {
		if err := w.loadFile(event.Name, action); err != nil {
			w.logger.Error("Failed to load config file",
				zap.String("file", filename),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	if isPolicy {
		w.firePolicyHandlers(filename, action)
	}
}

func (w *Watcher) loadAll() error {
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return w.loadFile(path, "initial_load")
	})
}

func (w *Watcher) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	filename := filepath.Base(path)
	cfg := make(map[string]interface{})

	format := detectFormat(filename)
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", filename, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", filename, err)
		}
	}

	w.mu.RLock()
	validator := w.validators[filename]
	w.mu.RUnlock()
	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("validate %s: %w", filename, err)
		}
	}

	cfgCopy := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		cfgCopy[k] = v
	}

	w.mu.Lock()
	w.files[filename] = cfg
	handlers := make([]ChangeHandler, len(w.handlers[filename]))
	copy(handlers, w.handlers[filename])
	w.mu.Unlock()

	// Handlers run outside the lock so they can call back into the
	// watcher without deadlocking.
	event := ChangeEvent{File: filename, Action: action, Config: cfgCopy, Timestamp: time.Now()}
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			w.logger.Error("Configuration handler error",
				zap.String("file", filename),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}

	w.logger.Info("Configuration loaded",
		zap.String("file", filename),
		zap.String("action", action),
		zap.String("format", string(format)),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

func (w *Watcher) handleRemoval(filename string) {
	w.mu.Lock()
	last := w.files[filename]
	delete(w.files, filename)
	handlers := make([]ChangeHandler, len(w.handlers[filename]))
	copy(handlers, w.handlers[filename])
	w.mu.Unlock()

	var lastCopy map[string]interface{}
	if last != nil {
		lastCopy = make(map[string]interface{}, len(last))
		for k, v := range last {
			lastCopy[k] = v
		}
	}

	event := ChangeEvent{File: filename, Action: "delete", Config: lastCopy, Timestamp: time.Now()}
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			w.logger.Error("Configuration handler error on deletion",
				zap.String("file", filename),
				zap.Error(err),
			)
		}
	}

	w.logger.Info("Configuration file removed", zap.String("file", filename))
}

func (w *Watcher) firePolicyHandlers(filename, action string) {
	w.mu.RLock()
	handlers := make([]func() error, len(w.policyHandlers))
	copy(handlers, w.policyHandlers)
	w.mu.RUnlock()

	w.logger.Info("Policy file changed, triggering reload",
		zap.String("file", filename),
		zap.String("action", action),
		zap.Int("handlers", len(handlers)),
	)

	for _, handler := range handlers {
		if err := handler(); err != nil {
			w.logger.Error("Policy reload handler failed",
				zap.String("file", filename),
				zap.Error(err),
			)
		}
	}
}

func isConfigFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

func isPolicyFile(name string) bool {
	return filepath.Ext(name) == ".rego"
}

func detectFormat(name string) Format {
	if filepath.Ext(name) == ".json" {
		return FormatJSON
	}
	return FormatYAML
}
