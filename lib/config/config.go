// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the SSO bridge daemon.
type Config struct {
	// Broker configures the native broker subprocess.
	Broker BrokerConfig `yaml:"broker"`

	// Paths configures file and socket locations.
	Paths PathsConfig `yaml:"paths"`

	// Platform configures request-interception capabilities.
	Platform PlatformConfig `yaml:"platform"`

	// SSOURL overrides the identity provider's login URL. Empty means
	// the built-in default.
	SSOURL string `yaml:"sso_url"`

	// PolicyPollInterval is how often the managed policy file is
	// checked for changes, as a Go duration string. Default: 30s.
	PolicyPollInterval string `yaml:"policy_poll_interval"`
}

// BrokerConfig configures the native broker subprocess.
type BrokerConfig struct {
	// Command is the broker executable. Required.
	Command string `yaml:"command"`

	// Args are passed to the broker executable.
	Args []string `yaml:"args"`
}

// PathsConfig configures file and socket locations.
type PathsConfig struct {
	// StateFile is where the session snapshot is stored.
	// Default: ${HOME}/.local/state/entrabridge/ssostate
	StateFile string `yaml:"state_file"`

	// MenuSocket is the Unix socket for menu clients.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/entrabridge/menu.sock
	MenuSocket string `yaml:"menu_socket"`

	// PolicyFile is the managed policy file (JSON with comments).
	// Default: /etc/entrabridge/policies.json
	PolicyFile string `yaml:"policy_file"`
}

// PlatformConfig declares the embedding request layer's capabilities.
type PlatformConfig struct {
	// BlockingWebRequest: requests can be decorated synchronously
	// before sending. Default: true.
	BlockingWebRequest bool `yaml:"blocking_web_request"`

	// DeclarativeRules: the request layer applies a materialized
	// header rule on its own.
	DeclarativeRules bool `yaml:"declarative_rules"`

	// ShortTitles truncates display titles to the username's local
	// part.
	ShortTitles bool `yaml:"short_titles"`
}

// Default returns the default configuration. These defaults ensure
// every field has a sensible value before the config file is merged
// in; the file remains the source of truth.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Broker: BrokerConfig{
			Command: "linux-entra-sso",
		},
		Paths: PathsConfig{
			StateFile:  filepath.Join(homeDir, ".local", "state", "entrabridge", "ssostate"),
			MenuSocket: "${XDG_RUNTIME_DIR:-/tmp}/entrabridge/menu.sock",
			PolicyFile: "/etc/entrabridge/policies.json",
		},
		Platform: PlatformConfig{
			BlockingWebRequest: true,
		},
		PolicyPollInterval: "30s",
	}
}

// Load loads configuration from the ENTRABRIDGE_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("ENTRABRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ENTRABRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your entrabridge.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults. Environment variables do not override config values;
// only ${VAR} expansion in path values is performed.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.StateFile = expandVars(c.Paths.StateFile, vars)
	c.Paths.MenuSocket = expandVars(c.Paths.MenuSocket, vars)
	c.Paths.PolicyFile = expandVars(c.Paths.PolicyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Broker.Command == "" {
		errs = append(errs, fmt.Errorf("broker.command is required"))
	}
	if c.Paths.StateFile == "" {
		errs = append(errs, fmt.Errorf("paths.state_file is required"))
	}
	if c.Paths.MenuSocket == "" {
		errs = append(errs, fmt.Errorf("paths.menu_socket is required"))
	}
	if !c.Platform.BlockingWebRequest && !c.Platform.DeclarativeRules {
		errs = append(errs, fmt.Errorf("platform: at least one of blocking_web_request or declarative_rules is required"))
	}
	if _, err := c.PolicyInterval(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PolicyInterval parses the configured poll interval.
func (c *Config) PolicyInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.PolicyPollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid policy_poll_interval %q: %w", c.PolicyPollInterval, err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("policy_poll_interval must be positive")
	}
	return interval, nil
}

// EnsurePaths creates the parent directories of the configured state
// file and menu socket if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.StateFile, c.Paths.MenuSocket} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
	}
	return nil
}
