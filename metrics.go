package flowbuf

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	itemsPushed   prometheus.Counter
	itemsConsumed prometheus.Counter
	itemsBuffered prometheus.Gauge
	demandSignals prometheus.Counter
	wakeups       prometheus.Counter
	compactions   prometheus.Counter
	terminations  *prometheus.CounterVec
}

const (
	terminationClose  = "close"
	terminationAbort  = "abort"
	terminationCancel = "cancel"
)

func (m *metrics) pushed(n int) {
	m.itemsPushed.Add(float64(n))
	m.itemsBuffered.Add(float64(n))
}

func (m *metrics) consumed(n int) {
	m.itemsConsumed.Add(float64(n))
	m.itemsBuffered.Sub(float64(n))
}

func (m *metrics) dropped(n int) {
	m.itemsBuffered.Sub(float64(n))
}

func (m *metrics) terminated(typ string) {
	m.terminations.WithLabelValues(typ).Inc()
}
