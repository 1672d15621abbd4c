package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envOverrides maps environment variables to config field setters. Integer
// variables that fail to parse are configuration errors.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string) error
}{
	{
		envVar: "TEST_QUEUE_WORKERS",
		apply: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("TEST_QUEUE_WORKERS: %q is not an integer", v)
			}
			c.Concurrency = n
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_SOCKET",
		apply: func(c *Config, v string) error {
			c.ListenEndpoint = v
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_RELAY",
		apply: func(c *Config, v string) error {
			c.RelayEndpoint = v
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_RELAY_TIMEOUT",
		apply: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("TEST_QUEUE_RELAY_TIMEOUT: %q is not an integer", v)
			}
			c.RelayConnectTimeoutSeconds = n
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_FORCE",
		apply: func(c *Config, v string) error {
			c.Whitelist = v
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_STATS",
		apply: func(c *Config, v string) error {
			c.StatsFilePath = v
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_RELAY_TOKEN",
		apply: func(c *Config, v string) error {
			c.RelayToken = v
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_SLAVE_MESSAGE",
		apply: func(c *Config, v string) error {
			c.SlaveMessage = strings.ReplaceAll(v, "\n", " ")
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_EARLY_FAILURE_LIMIT",
		apply: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("TEST_QUEUE_EARLY_FAILURE_LIMIT: %q is not an integer", v)
			}
			c.EarlyFailureLimit = n
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_VERBOSE",
		apply: func(c *Config, v string) error {
			c.Verbose = v != "" && v != "0" && !strings.EqualFold(v, "false")
			return nil
		},
	},
	{
		envVar: "TEST_QUEUE_SUITE_DIR",
		apply: func(c *Config, v string) error {
			c.SuiteDir = v
			return nil
		},
	},
}

// applyEnvOverrides modifies config in place with environment values.
func applyEnvOverrides(cfg *Config) error {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			if err := override.apply(cfg, val); err != nil {
				return err
			}
		}
	}
	return nil
}
