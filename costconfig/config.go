// Package costconfig is the control plane's ambient configuration layer:
// a YAML file plus environment-variable override, grounded on the
// teacher's config.Loader (config/loader.go). Priority, lowest to
// highest: built-in defaults -> YAML file -> environment variables.
package costconfig

import "time"

// Config is the full set of knobs the costguardctl binary and any
// embedding service need at startup.
type Config struct {
	Policy  PolicyConfig  `yaml:"policy" env:"POLICY"`
	Store   StoreConfig   `yaml:"store" env:"STORE"`
	Budget  BudgetConfig  `yaml:"budget" env:"BUDGET"`
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
	Log     LogConfig     `yaml:"log" env:"LOG"`
}

// PolicyConfig controls where budgets, routing policies and pricing are
// loaded from and how often the Policy Store reloads them.
type PolicyConfig struct {
	Path            string        `yaml:"path" env:"PATH"`
	ReloadInterval  time.Duration `yaml:"reload_interval" env:"RELOAD_INTERVAL"`
	DisableAutoLoad bool          `yaml:"disable_auto_load" env:"DISABLE_AUTO_LOAD"`
}

// StoreConfig selects and configures the durable BudgetStore backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `yaml:"backend" env:"BACKEND"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// BudgetConfig controls the Budget Tracker's failure-mode policy.
type BudgetConfig struct {
	// FailureMode is "fail_open" or "fail_closed".
	FailureMode string `yaml:"failure_mode" env:"FAILURE_MODE"`
}

// MetricsConfig controls the Metrics Emitter.
type MetricsConfig struct {
	Namespace    string `yaml:"namespace" env:"NAMESPACE"`
	IncludeRunID bool   `yaml:"include_run_id" env:"INCLUDE_RUN_ID"`
}

// LogConfig controls the shared zap logger.
type LogConfig struct {
	// Level is one of zap's level names: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Development toggles zap's human-readable development encoder.
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns the configuration used when no YAML file and no
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConfig{
			Path:           "policy.yaml",
			ReloadInterval: 5 * time.Minute,
		},
		Store: StoreConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			SweepInterval: time.Minute,
		},
		Budget: BudgetConfig{
			FailureMode: "fail_closed",
		},
		Metrics: MetricsConfig{
			Namespace:    "costguard",
			IncludeRunID: false,
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate rejects a Config with an unknown enum-like value before it
// reaches any component constructor.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return errInvalidField("store.backend", c.Store.Backend)
	}
	switch c.Budget.FailureMode {
	case "fail_open", "fail_closed":
	default:
		return errInvalidField("budget.failure_mode", c.Budget.FailureMode)
	}
	return nil
}
