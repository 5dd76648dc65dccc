package config

import (
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

// Callback is invoked after a configuration change has been applied.
// Errors are logged, they do not roll the change back.
type Callback func(old, updated *Config) error

// Manager provides typed, hot-reloadable access to the service
// configuration. It decodes colloquy.yaml changes from the watcher,
// validates them and swaps the active tree only when they pass.
type Manager struct {
	watcher   *Watcher
	current   *Config
	callbacks []Callback
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewManager creates a manager seeded with an initial configuration,
// normally the result of Load.
func NewManager(watcher *Watcher, initial *Config, logger *zap.Logger) *Manager {
	if initial == nil {
		initial = Default()
	}
	return &Manager{
		watcher: watcher,
		current: initial,
		logger:  logger.Named("config"),
	}
}

// Initialize registers validators and change handlers with the watcher.
func (m *Manager) Initialize() {
	for _, name := range []string{"colloquy.yaml", "colloquy.json"} {
		m.watcher.SetValidator(name, func(raw map[string]interface{}) error {
			_, err := fromMap(raw)
			return err
		})
		m.watcher.OnFile(name, m.handleChange)
	}
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.current
	return &cfg
}

// OnChange registers a callback fired after each applied change.
func (m *Manager) OnChange(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) handleChange(event ChangeEvent) error {
	if event.Action == "delete" {
		next := Default()
		applyEnv(next)
		m.swap(next)
		m.logger.Info("Configuration file removed, reverted to defaults")
		return nil
	}

	next, err := fromMap(event.Config)
	if err != nil {
		return err
	}
	m.swap(next)
	return nil
}

func (m *Manager) swap(next *Config) {
	m.mu.Lock()
	old := m.current
	m.current = next
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logChanges(old, next)

	for _, cb := range callbacks {
		if err := cb(old, next); err != nil {
			m.logger.Error("Configuration change callback failed", zap.Error(err))
		}
	}
}

func (m *Manager) logChanges(old, updated *Config) {
	if old.Service != updated.Service {
		m.logger.Info("Service configuration changed",
			zap.Int("port", updated.Service.Port),
			zap.Int("admin_port", updated.Service.AdminPort),
		)
	}
	if old.Pipeline != updated.Pipeline {
		m.logger.Info("Pipeline defaults changed",
			zap.Float64("temperature", updated.Pipeline.Temperature),
			zap.Int("max_tokens", updated.Pipeline.MaxTokens),
		)
	}
	if old.Auth != updated.Auth {
		m.logger.Info("Auth configuration changed",
			zap.Bool("enabled", updated.Auth.Enabled),
			zap.Bool("skip_auth", updated.Auth.SkipAuth),
		)
	}
	if old.Policy != updated.Policy {
		m.logger.Info("Policy configuration changed",
			zap.Bool("enabled", updated.Policy.Enabled),
			zap.String("mode", string(updated.Policy.Mode)),
			zap.Bool("fail_closed", updated.Policy.FailClosed),
		)
	}
	if old.Knowledge != updated.Knowledge {
		m.logger.Info("Knowledge store configuration changed",
			zap.String("backend", updated.Knowledge.Backend),
		)
	}
	if old.Audit != updated.Audit {
		m.logger.Info("Audit configuration changed",
			zap.Bool("enabled", updated.Audit.Enabled),
		)
	}
	if old.Logging != updated.Logging {
		m.logger.Info("Logging configuration changed",
			zap.String("level", updated.Logging.Level),
		)
	}
}

// fromMap decodes a parsed file into a fresh config tree on top of the
// defaults, overlays the environment and validates the result.
func fromMap(raw map[string]interface{}) (*Config, error) {
	cfg := Default()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
