package flowbuf

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultCapacity is the capacity used by adapters that don't receive one explicitly. It's
	// also the initial demand requested by [ObserverBuffer].
	DefaultCapacity = 128
	// DefaultMinPullSize is the demand batching threshold paired with [DefaultCapacity].
	DefaultMinPullSize = 8
)

// Config is a config of a [BoundedBuffer].
//
// It's passed to the configuration functions of [NewResources] and [NewBoundedBuffer]. The
// zero value is invalid; defaults are applied before the configuration functions run.
type Config struct {
	name       string
	logger     *zap.Logger
	prometheus *PrometheusConfig
}

type ConfigFunc = func(c *Config)

// Name sets the name of the buffer. It's attached to every log entry of the buffer.
func (c *Config) Name(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("name can't be blank")
	}
	c.name = name
}

// Logger sets the logger of the buffer. By default, nothing is logged.
func (c *Config) Logger(logger *zap.Logger) {
	if logger == nil {
		panic("logger can't be nil")
	}
	c.logger = logger
}

// Prometheus sets the metrics config of the buffer. Buffers sharing one [PrometheusConfig]
// share its metrics. By default, metrics are collected but not registered anywhere.
func (c *Config) Prometheus(prometheus *PrometheusConfig) {
	if prometheus == nil {
		panic("prometheus can't be nil")
	}
	c.prometheus = prometheus
}

var defaultPrometheus = Prometheus(nil)

func newConfig(configFuncs ...ConfigFunc) *Config {
	cfg := Config{
		logger:     zap.NewNop(),
		prometheus: defaultPrometheus,
	}
	for _, cf := range configFuncs {
		if cf != nil {
			cf(&cfg)
		}
	}
	return &cfg
}

func (c *Config) bufferLogger() *zap.Logger {
	if c.name == "" {
		return c.logger
	}
	return c.logger.With(zap.String("buffer", c.name))
}
