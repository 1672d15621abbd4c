// Package config resolves the run configuration from a yaml file, the
// TEST_QUEUE_* environment, and CLI flags (applied by the cli package, in
// that precedence order, flags last).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the recognized configuration surface.
type Config struct {
	// Concurrency is the number of local workers. Defaults to the host
	// CPU count, else 2.
	Concurrency int `yaml:"concurrency"`

	// ListenEndpoint is a filesystem socket path or [host:]port. Empty
	// means a per-run default socket under the scratch directory.
	ListenEndpoint string `yaml:"listen_endpoint"`

	// RelayEndpoint, when set, makes this process a remote master that
	// federates its workers into the primary at host:port.
	RelayEndpoint string `yaml:"relay_endpoint"`

	// RelayConnectTimeoutSeconds bounds the relay handshake retry window.
	RelayConnectTimeoutSeconds int `yaml:"relay_connect_timeout_seconds"`

	// Whitelist is a comma-separated ordered list of suite names that
	// restricts and orders the run.
	Whitelist string `yaml:"whitelist"`

	// StatsFilePath locates the duration store.
	StatsFilePath string `yaml:"stats_file_path"`

	// RelayToken forces a known run token for coordinated multi-host runs.
	RelayToken string `yaml:"relay_token"`

	// SlaveMessage is forwarded in the SLAVE handshake for logging.
	SlaveMessage string `yaml:"slave_message"`

	// EarlyFailureLimit, when positive, makes workers escalate KABOOM
	// after that many failed suites.
	EarlyFailureLimit int `yaml:"early_failure_limit"`

	Verbose bool `yaml:"verbose"`

	// SuiteDir is the script adapter's root directory.
	SuiteDir string `yaml:"suite_dir"`
}

// DefaultConfigFile is probed when no --config flag is given.
const DefaultConfigFile = ".testq.yaml"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	concurrency := runtime.NumCPU()
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Config{
		Concurrency:                concurrency,
		RelayConnectTimeoutSeconds: 30,
		StatsFilePath:              ".test_queue_stats",
		SuiteDir:                   ".",
	}
}

// Load resolves configuration: defaults, then the yaml file at path (if it
// exists), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No config file is fine.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configuration errors, before any subprocess is
// spawned.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0, got %d", c.Concurrency)
	}
	if c.RelayConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("relay connect timeout must be positive, got %d", c.RelayConnectTimeoutSeconds)
	}
	if c.EarlyFailureLimit < 0 {
		return fmt.Errorf("early failure limit must not be negative, got %d", c.EarlyFailureLimit)
	}
	return nil
}

// WhitelistNames splits the comma-separated whitelist, dropping empties.
func (c *Config) WhitelistNames() []string {
	if c.Whitelist == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(c.Whitelist, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
