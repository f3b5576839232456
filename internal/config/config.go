// Package config loads the bridge's YAML configuration and validates it
// before any socket is opened.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds settings shared by every stratum instance the service
// runs. Individual instances may override the vardiff-related fields.
type GlobalConfig struct {
	KaspadAddress   string        `yaml:"kaspad_address"`
	BlockWaitTime   time.Duration `yaml:"block_wait_time"`
	PrintStats      bool          `yaml:"print_stats"`
	LogToFile       bool          `yaml:"log_to_file"`
	VarDiff         bool          `yaml:"var_diff"`
	SharesPerMin    float64       `yaml:"shares_per_min"`
	VarDiffStats    bool          `yaml:"var_diff_stats"`
	ExtranonceSize  uint8         `yaml:"extranonce_size"`
	Pow2Clamp       bool          `yaml:"pow2_clamp"`
	HealthCheckPort int           `yaml:"health_check_port"`
}

// InstanceConfig describes one listening stratum port and the node-facing
// payout address it mines towards. Instances share a GlobalConfig but may
// override the fields below.
type InstanceConfig struct {
	StratumPort  int     `yaml:"stratum_port"`
	PromPort     int     `yaml:"prom_port"`
	MinShareDiff float64 `yaml:"min_share_diff"`
	PayAddress   string  `yaml:"pay_address"`
	CoinbaseTag  string  `yaml:"coinbase_tag"`

	// Overrides; zero value means "inherit from GlobalConfig".
	VarDiff      *bool    `yaml:"var_diff,omitempty"`
	SharesPerMin *float64 `yaml:"shares_per_min,omitempty"`
}

// ServiceConfig is the top-level document loaded from YAML.
type ServiceConfig struct {
	Global    GlobalConfig     `yaml:"global"`
	Instances []InstanceConfig `yaml:"instances"`
}

// Default returns the built-in defaults used when no config file is given,
// mirroring the upstream Rust service's fallback behavior.
func Default() *ServiceConfig {
	return &ServiceConfig{
		Global: GlobalConfig{
			KaspadAddress:   "127.0.0.1:16110",
			BlockWaitTime:   500 * time.Millisecond,
			PrintStats:      true,
			LogToFile:       false,
			VarDiff:         true,
			SharesPerMin:    20,
			VarDiffStats:    false,
			ExtranonceSize:  2,
			Pow2Clamp:       true,
			HealthCheckPort: 0,
		},
		Instances: []InstanceConfig{
			{
				StratumPort:  5555,
				PromPort:     2114,
				MinShareDiff: 64,
			},
		},
	}
}

// Load reads a YAML config file at path. A missing path returns the built-in
// defaults unmodified, matching the upstream service's "run with defaults if
// no config was supplied" behavior.
func Load(path string) (*ServiceConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for internal consistency. It returns the first
// error found; callers should treat any error as fatal (exit code 2).
func (c *ServiceConfig) Validate() error {
	if c.Global.KaspadAddress == "" {
		return fmt.Errorf("global.kaspad_address is required")
	}
	if c.Global.BlockWaitTime <= 0 {
		return fmt.Errorf("global.block_wait_time must be positive")
	}
	if c.Global.SharesPerMin <= 0 {
		return fmt.Errorf("global.shares_per_min must be positive")
	}
	if c.Global.ExtranonceSize > 3 {
		return fmt.Errorf("global.extranonce_size must be 0-3")
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("at least one instance must be configured")
	}

	seenPorts := make(map[int]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.StratumPort <= 0 || inst.StratumPort > 65535 {
			return fmt.Errorf("instances[%d].stratum_port must be 1-65535", i)
		}
		if seenPorts[inst.StratumPort] {
			return fmt.Errorf("instances[%d].stratum_port %d is already in use by another instance", i, inst.StratumPort)
		}
		seenPorts[inst.StratumPort] = true
		if inst.PromPort != 0 && (inst.PromPort < 0 || inst.PromPort > 65535) {
			return fmt.Errorf("instances[%d].prom_port must be 1-65535", i)
		}
		if inst.MinShareDiff <= 0 {
			return fmt.Errorf("instances[%d].min_share_diff must be positive", i)
		}
	}
	return nil
}

// SharesPerMinFor resolves the effective shares-per-minute target for an
// instance, honoring its override of the global default.
func (g GlobalConfig) SharesPerMinFor(inst InstanceConfig) float64 {
	if inst.SharesPerMin != nil {
		return *inst.SharesPerMin
	}
	return g.SharesPerMin
}

// VarDiffEnabledFor resolves whether vardiff is enabled for an instance.
func (g GlobalConfig) VarDiffEnabledFor(inst InstanceConfig) bool {
	if inst.VarDiff != nil {
		return *inst.VarDiff
	}
	return g.VarDiff
}
