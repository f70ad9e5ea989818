package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpcgrid/meridian/pkg/types"
)

// Defaults for fields that are optional in the file and on the command line.
const (
	DefaultBootstrapTimeout    = 60 * time.Second
	DefaultResolveTimeout      = 10 * time.Second
	DefaultMaxConnsPerEndpoint = 4
	DefaultBindAddr            = "127.0.0.1:7750"
	DefaultMetricsAddr         = "127.0.0.1:9750"
)

// Config is the configuration surface consumed by the bootstrap subsystem.
// It is resolved once at process start from the optional YAML file plus flag
// overrides, and is immutable afterwards.
type Config struct {
	// RouterMode is derived from RuntimeMode unless set explicitly in the
	// file: console localities are the bootstrap root, everything else is a
	// hosted subordinate.
	RouterMode  types.RouterMode
	RuntimeMode types.RuntimeMode

	// Locality is this process's cluster-wide ID. The bootstrap root must be
	// locality 0.
	Locality types.LocalityID

	// BindAddr is the parcelport listen address.
	BindAddr string

	// RootAddr is the root locality's parcelport endpoint (subordinates only).
	RootAddr string

	// ExpectedLocalities is the number of localities, the root included, that
	// must register before the cluster is considered formed (root only).
	ExpectedLocalities int

	// BootstrapTimeout bounds the blocking wait for cluster formation.
	// Expiry is fatal to this locality's startup.
	BootstrapTimeout time.Duration

	// ResolveTimeout bounds a subordinate's fallback lookup to the root.
	ResolveTimeout time.Duration

	// RootWaits controls whether the root parks in the barrier itself and
	// delays its own readiness until the cluster has formed.
	RootWaits bool

	// MaxConnsPerEndpoint caps idle pooled connections per peer parcelport.
	MaxConnsPerEndpoint int

	// MetricsAddr is the HTTP listen address for /metrics, /healthz, /readyz.
	// Empty disables the endpoint.
	MetricsAddr string

	LogLevel string
	LogJSON  bool
}

// Default returns a Config with every optional field at its default.
func Default() *Config {
	return &Config{
		RuntimeMode:         types.RuntimeModeConsole,
		RouterMode:          types.RouterModeBootstrapRoot,
		Locality:            types.RootLocality,
		BindAddr:            DefaultBindAddr,
		ExpectedLocalities:  1,
		BootstrapTimeout:    DefaultBootstrapTimeout,
		ResolveTimeout:      DefaultResolveTimeout,
		RootWaits:           true,
		MaxConnsPerEndpoint: DefaultMaxConnsPerEndpoint,
		MetricsAddr:         DefaultMetricsAddr,
		LogLevel:            "info",
		LogJSON:             true,
	}
}

// fileConfig is the YAML shape. Durations are strings ("30s", "2m") so the
// file stays readable.
type fileConfig struct {
	RouterMode          string  `yaml:"router_mode"`
	RuntimeMode         string  `yaml:"runtime_mode"`
	Locality            *uint32 `yaml:"locality"`
	BindAddr            string  `yaml:"bind_addr"`
	RootAddr            string  `yaml:"root_addr"`
	ExpectedLocalities  *int    `yaml:"expected_localities"`
	BootstrapTimeout    string  `yaml:"bootstrap_timeout"`
	ResolveTimeout      string  `yaml:"resolve_timeout"`
	RootWaits           *bool   `yaml:"root_waits"`
	MaxConnsPerEndpoint *int    `yaml:"max_conns_per_endpoint"`
	MetricsAddr         *string `yaml:"metrics_addr"`
	LogLevel            string  `yaml:"log_level"`
	LogJSON             *bool   `yaml:"log_json"`
}

// Load reads a YAML config file on top of the defaults. It does not validate;
// call Validate once flag overrides have been applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := Default()

	if fc.RuntimeMode != "" {
		mode, err := types.ParseRuntimeMode(fc.RuntimeMode)
		if err != nil {
			return nil, err
		}
		cfg.SetRuntimeMode(mode)
	}
	if fc.RouterMode != "" {
		cfg.RouterMode = types.RouterMode(fc.RouterMode)
	}
	if fc.Locality != nil {
		cfg.Locality = types.LocalityID(*fc.Locality)
	}
	if fc.BindAddr != "" {
		cfg.BindAddr = fc.BindAddr
	}
	if fc.RootAddr != "" {
		cfg.RootAddr = fc.RootAddr
	}
	if fc.ExpectedLocalities != nil {
		cfg.ExpectedLocalities = *fc.ExpectedLocalities
	}
	if fc.BootstrapTimeout != "" {
		d, err := time.ParseDuration(fc.BootstrapTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap_timeout: %w", err)
		}
		cfg.BootstrapTimeout = d
	}
	if fc.ResolveTimeout != "" {
		d, err := time.ParseDuration(fc.ResolveTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid resolve_timeout: %w", err)
		}
		cfg.ResolveTimeout = d
	}
	if fc.RootWaits != nil {
		cfg.RootWaits = *fc.RootWaits
	}
	if fc.MaxConnsPerEndpoint != nil {
		cfg.MaxConnsPerEndpoint = *fc.MaxConnsPerEndpoint
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogJSON != nil {
		cfg.LogJSON = *fc.LogJSON
	}

	return cfg, nil
}

// SetRuntimeMode sets the runtime mode and derives the router mode from it:
// the console locality hosts the bootstrap root.
func (c *Config) SetRuntimeMode(mode types.RuntimeMode) {
	c.RuntimeMode = mode
	if mode == types.RuntimeModeConsole {
		c.RouterMode = types.RouterModeBootstrapRoot
	} else {
		c.RouterMode = types.RouterModeHostedSubordinate
	}
}

// IsRoot reports whether this locality is the bootstrap root.
func (c *Config) IsRoot() bool {
	return c.RouterMode == types.RouterModeBootstrapRoot
}

// Validate checks the resolved configuration for a runnable locality.
func (c *Config) Validate() error {
	if !c.RuntimeMode.Valid() {
		return fmt.Errorf("invalid runtime mode %q", c.RuntimeMode)
	}
	if !c.RouterMode.Valid() {
		return fmt.Errorf("invalid router mode %q", c.RouterMode)
	}
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr is required")
	}
	if c.BootstrapTimeout <= 0 {
		return fmt.Errorf("bootstrap_timeout must be positive")
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve_timeout must be positive")
	}
	if c.MaxConnsPerEndpoint < 1 {
		return fmt.Errorf("max_conns_per_endpoint must be at least 1")
	}

	if c.IsRoot() {
		if c.Locality != types.RootLocality {
			return fmt.Errorf("bootstrap root must be locality %d, got %d", types.RootLocality, c.Locality)
		}
		if c.ExpectedLocalities < 1 {
			return fmt.Errorf("expected_localities must be at least 1 on the root")
		}
	} else {
		if c.Locality == types.RootLocality {
			return fmt.Errorf("locality %d is reserved for the bootstrap root", types.RootLocality)
		}
		if c.RootAddr == "" {
			return fmt.Errorf("root_addr is required for subordinate localities")
		}
	}

	return nil
}
