package flowbuf

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusConfig is a config of the Prometheus metrics provided by buffers.
//
// An instance can be created only by the [Prometheus] function. The zero value is invalid.
type PrometheusConfig struct {
	// Namespace of the metrics.
	Namespace string
	// Subsystem of the metrics.
	Subsystem string
	// Options for the pushed items counter.
	ItemsPushed prometheus.CounterOpts
	// Options for the consumed items counter.
	ItemsConsumed prometheus.CounterOpts
	// Options for the buffered items gauge.
	ItemsBuffered prometheus.GaugeOpts
	// Options for the demand signals counter.
	DemandSignals prometheus.CounterOpts
	// Options for the consumer wakeups counter.
	Wakeups prometheus.CounterOpts
	// Options for the storage compactions counter.
	Compactions prometheus.CounterOpts
	// Options for the terminations counter. It's partitioned by the "type" label.
	Terminations prometheus.CounterOpts

	registerer prometheus.Registerer
	once       sync.Once
	m          *metrics
}

// Prometheus returns a [PrometheusConfig] with the provided registerer. If registerer is nil,
// metrics will not be registered. Many default parameters can be configured by passing
// configuration functions.
func Prometheus(
	registerer prometheus.Registerer,
	configFuncs ...func(c *PrometheusConfig),
) *PrometheusConfig {
	const (
		namespace = "flowbuf"
		subsystem = ""
	)

	c := PrometheusConfig{
		registerer: registerer,
		Namespace:  namespace,
		Subsystem:  subsystem,
		ItemsPushed: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_pushed",
			Help:      "Number of items pushed into buffers",
		},
		ItemsConsumed: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_consumed",
			Help:      "Number of items consumed from buffers",
		},
		ItemsBuffered: prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_buffered",
			Help:      "Number of items waiting in buffers",
		},
		DemandSignals: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "demand_signals",
			Help:      "Number of demand signals sent to producers",
		},
		Wakeups: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wakeups",
			Help:      "Number of wakeups sent to consumers",
		},
		Compactions: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compactions",
			Help:      "Number of times buffered items were shifted to the front of the storage",
		},
		Terminations: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "terminations",
			Help:      "Number of closed, aborted and canceled buffers",
		},
	}

	for _, cf := range configFuncs {
		if cf != nil {
			cf(&c)
		}
	}

	return &c
}

// metrics creates and registers the metrics on first use.
func (c *PrometheusConfig) metrics() *metrics {
	c.once.Do(func() {
		m := metrics{
			itemsPushed:   prometheus.NewCounter(c.ItemsPushed),
			itemsConsumed: prometheus.NewCounter(c.ItemsConsumed),
			itemsBuffered: prometheus.NewGauge(c.ItemsBuffered),
			demandSignals: prometheus.NewCounter(c.DemandSignals),
			wakeups:       prometheus.NewCounter(c.Wakeups),
			compactions:   prometheus.NewCounter(c.Compactions),
			terminations:  prometheus.NewCounterVec(c.Terminations, []string{"type"}),
		}

		if c.registerer != nil {
			c.registerer.MustRegister(
				m.itemsPushed,
				m.itemsConsumed,
				m.itemsBuffered,
				m.demandSignals,
				m.wakeups,
				m.compactions,
				m.terminations,
			)
		}

		c.m = &m
	})
	return c.m
}
