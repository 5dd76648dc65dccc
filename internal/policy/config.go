package policy

// Mode defines the policy engine operating mode
type Mode string

const (
	// ModeOff disables policy evaluation entirely
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies but doesn't enforce them (log only)
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies
	ModeEnforce Mode = "enforce"
)

// Config holds policy engine configuration
type Config struct {
	// Enabled controls whether the policy engine is active
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Mode controls policy enforcement behavior
	Mode Mode `mapstructure:"mode" yaml:"mode"`

	// Path is the directory holding .rego policy files. When it is
	// empty or has no policies the embedded default policy is
	// compiled instead.
	Path string `mapstructure:"path" yaml:"path"`

	// FailClosed denies all runs when policies cannot be loaded or
	// evaluated, including while the engine is disabled; the default
	// is fail-open.
	FailClosed bool `mapstructure:"fail_closed" yaml:"fail_closed"`

	// Environment is passed to policies as input.environment
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// Normalize coerces unknown modes to off and disables the engine when
// the mode is off.
func (c *Config) Normalize() {
	switch c.Mode {
	case ModeDryRun, ModeEnforce:
	default:
		c.Mode = ModeOff
	}
	if c.Mode == ModeOff {
		c.Enabled = false
	}
}
