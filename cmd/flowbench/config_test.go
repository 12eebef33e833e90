package main

import (
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/teenjuna/flowbuf/internal/testing/require"
	"github.com/teenjuna/flowbuf/retry"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := ParseFlags(nil)
	require.Nil(t, err)
	require.Equal(t, cfg, DefaultConfig())
}

func TestLoadConfig(t *testing.T) {
	file := writeConfig(t, `
capacity: 64
min_pull_size: 4
items: 500
rate: 1000
journal:
  enabled: true
  codec: msgp
  flush_timeout: 250ms
  retry:
    kind: exponential
    attempts: 5
    interval: 10ms
    max_interval: 1s
    cooldown: 5s
`)

	cfg, err := ParseFlags([]string{"-config", file, "-items", "10", "-log-level", "debug"})
	require.Nil(t, err)

	require.Equal(t, cfg.Capacity, 64)
	require.Equal(t, cfg.MinPullSize, 4)
	require.Equal(t, cfg.Items, 10)
	require.Equal(t, cfg.Rate, 1000.0)
	require.Equal(t, cfg.Log.Level, "debug")
	require.True(t, cfg.Journal.Enabled)
	require.Equal(t, cfg.Journal.Codec, "msgp")
	require.Equal(t, cfg.Journal.FlushTimeout, 250*time.Millisecond)
	// Unset fields keep their defaults.
	require.Equal(t, cfg.Journal.FlushSize, DefaultConfig().Journal.FlushSize)

	policy := cfg.Journal.Retry.policy()
	_, ok := policy.(*retry.Exponential)
	require.True(t, ok)
	require.Equal(t, policy.Cooldown(), 5*time.Second)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := ParseFlags([]string{"-config", path.Join(t.TempDir(), "missing.yaml")})
	require.NotNil(t, err)

	_, err = ParseFlags([]string{"-config", writeConfig(t, "capacity: [")})
	require.NotNil(t, err)

	_, err = ParseFlags([]string{"-unknown"})
	require.NotNil(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		err    string
	}{
		{
			name:   "Capacity",
			modify: func(c *Config) { c.Capacity = 0 },
			err:    "capacity can't be < 1",
		},
		{
			name:   "Min pull size",
			modify: func(c *Config) { c.MinPullSize = c.Capacity + 1 },
			err:    "min_pull_size must be between 1 and capacity",
		},
		{
			name:   "Rate",
			modify: func(c *Config) { c.Rate = -1 },
			err:    "rate can't be < 0",
		},
		{
			name:   "Log format",
			modify: func(c *Config) { c.Log.Format = "xml" },
			err:    `unknown log format "xml"`,
		},
		{
			name: "Codec",
			modify: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Codec = "protobuf"
			},
			err: `unknown journal codec "protobuf"`,
		},
		{
			name: "Retry kind",
			modify: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Retry.Kind = "random"
			},
			err: `unknown retry kind "random"`,
		},
		{
			name: "Retry interval",
			modify: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Retry.Kind = "linear"
				c.Journal.Retry.MaxInterval = c.Journal.Retry.Interval
			},
			err: "retry interval must be > 0 and < max_interval",
		},
		{
			name: "Disabled journal",
			modify: func(c *Config) {
				c.Journal.Codec = "protobuf"
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(cfg)

			err := cfg.Validate()
			if test.err == "" {
				require.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			require.True(t, strings.Contains(err.Error(), test.err))
		})
	}
}

func TestRetryPolicies(t *testing.T) {
	for _, kind := range []string{"immediate", "fixed", "linear", "exponential"} {
		t.Run(kind, func(t *testing.T) {
			cfg := DefaultConfig().Journal.Retry
			cfg.Kind = kind
			require.Nil(t, cfg.validate())
			require.NotNil(t, cfg.policy())
		})
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		journal bool
	}{
		{name: "Direct", journal: false},
		{name: "Through journal", journal: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Items = 1000
			cfg.Capacity = 16
			cfg.MinPullSize = 4
			cfg.Journal.Enabled = test.journal
			cfg.Journal.FlushSize = 50
			cfg.Journal.FlushTimeout = 10 * time.Millisecond
			require.Nil(t, cfg.Validate())

			require.Nil(t, run(t.Context(), cfg, zaptest.NewLogger(t)))
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	file := path.Join(t.TempDir(), "bench.yaml")
	require.Nil(t, os.WriteFile(file, []byte(content), 0o600))
	return file
}
