// Package ratecontrol paces outbound agent and inference calls from a
// YAML policy file, one token bucket per key.
package ratecontrol

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type roleLimit struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

type config struct {
	RateLimits struct {
		DefaultRPM    int                  `yaml:"default_rpm"`
		DefaultBurst  int                  `yaml:"default_burst"`
		RoleOverrides map[string]roleLimit `yaml:"role_overrides"`
	} `yaml:"rate_limits"`
}

const (
	fallbackRPM   = 60
	fallbackBurst = 5
)

// Registry hands out per-key limiters configured by the policy file
type Registry struct {
	mu       sync.Mutex
	path     string
	cfg      config
	limiters map[string]*rate.Limiter
	log      *zap.Logger
}

// NewRegistry loads the policy and returns a registry. An empty path falls
// back to COLLOQUY_LIMITS_PATH and the usual config locations; a missing
// file just means every key gets the built-in defaults.
func NewRegistry(path string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		path:     path,
		limiters: make(map[string]*rate.Limiter),
		log:      logger.Named("ratecontrol"),
	}
	r.Reload()
	return r
}

// Reload re-reads the policy file and resets all limiters
func (r *Registry) Reload() {
	cfg := loadConfig(r.path, r.log)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.limiters = make(map[string]*rate.Limiter)
}

// Limiter returns the limiter for key, creating it on first use
func (r *Registry) Limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lim, ok := r.limiters[key]; ok {
		return lim
	}

	rpm, burst := r.limitFor(key)
	lim := rate.NewLimiter(rate.Limit(rpm)/60, burst)
	r.limiters[key] = lim
	return lim
}

// Wait blocks until the key's limiter admits one event
func (r *Registry) Wait(ctx context.Context, key string) error {
	return r.Limiter(key).Wait(ctx)
}

func (r *Registry) limitFor(key string) (int, int) {
	rl := r.cfg.RateLimits
	rpm, burst := rl.DefaultRPM, rl.DefaultBurst
	if o, ok := rl.RoleOverrides[strings.ToLower(strings.TrimSpace(key))]; ok {
		if o.RPM > 0 {
			rpm = o.RPM
		}
		if o.Burst > 0 {
			burst = o.Burst
		}
	}
	if rpm <= 0 {
		rpm = fallbackRPM
	}
	if burst <= 0 {
		burst = fallbackBurst
	}
	return rpm, burst
}

func loadConfig(explicit string, log *zap.Logger) config {
	var cfg config
	for _, p := range candidatePaths(explicit) {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Warn("Failed to parse rate limit policy", zap.String("path", p), zap.Error(err))
			continue
		}
		cfg = tmp
		log.Info("Loaded rate limit policy", zap.String("path", p))
		break
	}
	return cfg
}

func candidatePaths(explicit string) []string {
	paths := []string{explicit, os.Getenv("COLLOQUY_LIMITS_PATH")}
	wd, err := os.Getwd()
	if err != nil {
		return paths
	}
	for i := 0; i < 6; i++ {
		paths = append(paths, filepath.Join(wd, "config", "limits.yaml"))
		wd = filepath.Dir(wd)
	}
	return paths
}
