package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/teenjuna/flowbuf"
	"github.com/teenjuna/flowbuf/codec"
	"github.com/teenjuna/flowbuf/codec/gob"
	"github.com/teenjuna/flowbuf/codec/json"
	"github.com/teenjuna/flowbuf/codec/msgp"
	"github.com/teenjuna/flowbuf/retry"
)

// Config is the configuration of a benchmark run.
type Config struct {
	Capacity    int           `yaml:"capacity"`
	MinPullSize int           `yaml:"min_pull_size"`
	Items       int           `yaml:"items"`
	Rate        float64       `yaml:"rate"`
	Burst       int           `yaml:"burst"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Log         LogConfig     `yaml:"log"`
	Journal     JournalConfig `yaml:"journal"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JournalConfig enables a journal between the producer and the consumer.
type JournalConfig struct {
	Enabled      bool          `yaml:"enabled"`
	File         string        `yaml:"file"`
	Durable      bool          `yaml:"durable"`
	Codec        string        `yaml:"codec"`
	FlushSize    int           `yaml:"flush_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	Kind        string        `yaml:"kind"`
	Attempts    int           `yaml:"attempts"`
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns the configuration used when neither a file nor flags override it.
func DefaultConfig() *Config {
	return &Config{
		Capacity:    flowbuf.DefaultCapacity,
		MinPullSize: flowbuf.DefaultMinPullSize,
		Items:       100_000,
		Burst:       1,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Journal: JournalConfig{
			File:         ":memory:",
			Codec:        "json",
			FlushSize:    flowbuf.DefaultCapacity,
			FlushTimeout: 100 * time.Millisecond,
			Retry: RetryConfig{
				Kind:        "immediate",
				Attempts:    3,
				Interval:    10 * time.Millisecond,
				MaxInterval: time.Second,
			},
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ParseFlags loads the file named by -config and applies the remaining flags on top of it.
func ParseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("flowbench", flag.ContinueOnError)
	path := fs.String("config", "", "Path to config file (YAML)")
	capacity := fs.Int("capacity", 0, "Buffer capacity")
	minPullSize := fs.Int("min-pull-size", 0, "Minimum demand signaled to the producer")
	items := fs.Int("items", -1, "Number of items to publish")
	rate := fs.Float64("rate", -1, "Items per second, 0 for unlimited")
	metricsAddr := fs.String("metrics-addr", "", "Address of the Prometheus endpoint")
	logLevel := fs.String("log-level", "", "Log level")
	journal := fs.Bool("journal", false, "Pass items through a journal")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(*path)
	if err != nil {
		return nil, err
	}

	// Flags override the file only when set explicitly.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "capacity":
			cfg.Capacity = *capacity
		case "min-pull-size":
			cfg.MinPullSize = *minPullSize
		case "items":
			cfg.Items = *items
		case "rate":
			cfg.Rate = *rate
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "journal":
			cfg.Journal.Enabled = *journal
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field of the config.
func (c *Config) Validate() error {
	var errs []error

	if c.Capacity < 1 {
		errs = append(errs, errors.New("capacity can't be < 1"))
	}
	if c.MinPullSize < 1 || c.MinPullSize > c.Capacity {
		errs = append(errs, errors.New("min_pull_size must be between 1 and capacity"))
	}
	if c.Items < 0 {
		errs = append(errs, errors.New("items can't be < 0"))
	}
	if c.Rate < 0 {
		errs = append(errs, errors.New("rate can't be < 0"))
	}
	if c.Burst < 1 {
		errs = append(errs, errors.New("burst can't be < 1"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if c.Journal.Enabled {
		if _, err := c.Journal.codec(); err != nil {
			errs = append(errs, err)
		}
		if c.Journal.FlushSize < 1 {
			errs = append(errs, errors.New("journal flush_size can't be < 1"))
		}
		if c.Journal.FlushTimeout < 0 {
			errs = append(errs, errors.New("journal flush_timeout can't be < 0"))
		}
		if err := c.Journal.Retry.validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Logger builds the zap logger described by the config.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	var zapConfig zap.Config
	if c.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

func (c JournalConfig) codec() (codec.Codec, error) {
	switch c.Codec {
	case "json":
		return json.New(), nil
	case "gob":
		return gob.New(), nil
	case "msgp":
		return msgp.New(), nil
	default:
		return nil, fmt.Errorf("unknown journal codec %q", c.Codec)
	}
}

func (c RetryConfig) validate() error {
	if c.Attempts < 1 {
		return errors.New("retry attempts can't be < 1")
	}
	if c.Cooldown < 0 {
		return errors.New("retry cooldown can't be < 0")
	}

	switch c.Kind {
	case "immediate":
	case "fixed":
		if c.Interval <= 0 {
			return errors.New("retry interval can't be <= 0")
		}
	case "linear", "exponential":
		if c.Interval <= 0 || c.Interval >= c.MaxInterval {
			return errors.New("retry interval must be > 0 and < max_interval")
		}
	default:
		return fmt.Errorf("unknown retry kind %q", c.Kind)
	}
	return nil
}

// policy builds the retry policy. The config must be valid.
func (c RetryConfig) policy() retry.Policy {
	switch c.Kind {
	case "fixed":
		return retry.NewFixed(c.Attempts, c.Interval).WithCooldown(c.Cooldown)
	case "linear":
		return retry.NewLinear(c.Attempts, c.Interval, c.MaxInterval).WithCooldown(c.Cooldown)
	case "exponential":
		return retry.NewExponential(c.Attempts, c.Interval, c.MaxInterval).WithCooldown(c.Cooldown)
	default:
		return retry.NewImmediate(c.Attempts).WithCooldown(c.Cooldown)
	}
}
