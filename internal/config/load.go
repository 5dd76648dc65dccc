package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// DefaultPath is where Load looks for the config file when CONFIG_PATH
// is not set.
const DefaultPath = "config/colloquy.yaml"

// Load reads the configuration file, overlays environment variables and
// validates the result. A missing file is not an error; the defaults
// plus environment are enough to run.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads a specific configuration file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
