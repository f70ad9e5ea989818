package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpcgrid/meridian/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidRoot(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsRoot())
	assert.Equal(t, types.RootLocality, cfg.Locality)
	assert.True(t, cfg.RootWaits)
}

func TestSetRuntimeModeDerivesRouterMode(t *testing.T) {
	tests := []struct {
		mode types.RuntimeMode
		want types.RouterMode
	}{
		{types.RuntimeModeConsole, types.RouterModeBootstrapRoot},
		{types.RuntimeModeWorker, types.RouterModeHostedSubordinate},
		{types.RuntimeModeConnect, types.RouterModeHostedSubordinate},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := Default()
			cfg.SetRuntimeMode(tt.mode)
			assert.Equal(t, tt.want, cfg.RouterMode)
		})
	}
}

func TestValidate(t *testing.T) {
	subordinate := func() *Config {
		cfg := Default()
		cfg.SetRuntimeMode(types.RuntimeModeWorker)
		cfg.Locality = 2
		cfg.RootAddr = "127.0.0.1:7750"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		base    func() *Config
		wantErr string
	}{
		{
			name:   "valid subordinate",
			base:   subordinate,
			mutate: func(c *Config) {},
		},
		{
			name:    "root with zero expected count",
			base:    Default,
			mutate:  func(c *Config) { c.ExpectedLocalities = 0 },
			wantErr: "expected_localities",
		},
		{
			name:    "root with nonzero locality",
			base:    Default,
			mutate:  func(c *Config) { c.Locality = 3 },
			wantErr: "bootstrap root must be locality",
		},
		{
			name:    "subordinate without root address",
			base:    subordinate,
			mutate:  func(c *Config) { c.RootAddr = "" },
			wantErr: "root_addr",
		},
		{
			name:    "subordinate claiming root locality",
			base:    subordinate,
			mutate:  func(c *Config) { c.Locality = types.RootLocality },
			wantErr: "reserved",
		},
		{
			name:    "zero bootstrap timeout",
			base:    Default,
			mutate:  func(c *Config) { c.BootstrapTimeout = 0 },
			wantErr: "bootstrap_timeout",
		},
		{
			name:    "negative resolve timeout",
			base:    Default,
			mutate:  func(c *Config) { c.ResolveTimeout = -time.Second },
			wantErr: "resolve_timeout",
		},
		{
			name:    "connection cap below one",
			base:    Default,
			mutate:  func(c *Config) { c.MaxConnsPerEndpoint = 0 },
			wantErr: "max_conns_per_endpoint",
		},
		{
			name:    "empty bind address",
			base:    Default,
			mutate:  func(c *Config) { c.BindAddr = "" },
			wantErr: "bind_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meridian.yaml")

	content := `
runtime_mode: worker
locality: 5
bind_addr: "127.0.0.1:7755"
root_addr: "10.1.0.1:7750"
bootstrap_timeout: 30s
resolve_timeout: 2s
root_waits: false
max_conns_per_endpoint: 8
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, types.RuntimeModeWorker, cfg.RuntimeMode)
	assert.Equal(t, types.RouterModeHostedSubordinate, cfg.RouterMode)
	assert.Equal(t, types.LocalityID(5), cfg.Locality)
	assert.Equal(t, "127.0.0.1:7755", cfg.BindAddr)
	assert.Equal(t, "10.1.0.1:7750", cfg.RootAddr)
	assert.Equal(t, 30*time.Second, cfg.BootstrapTimeout)
	assert.Equal(t, 2*time.Second, cfg.ResolveTimeout)
	assert.False(t, cfg.RootWaits)
	assert.Equal(t, 8, cfg.MaxConnsPerEndpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("bootstrap_timeout: [nonsense"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)

	badDur := filepath.Join(dir, "dur.yaml")
	require.NoError(t, os.WriteFile(badDur, []byte("bootstrap_timeout: soon"), 0644))
	_, err = Load(badDur)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap_timeout")

	badMode := filepath.Join(dir, "mode.yaml")
	require.NoError(t, os.WriteFile(badMode, []byte("runtime_mode: observer"), 0644))
	_, err = Load(badMode)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime mode")
}
