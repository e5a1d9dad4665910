// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Subsystem prefixes all metric names.
const Subsystem = "op"

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCanceled  = "canceled"
	OutcomeTimeout   = "timeout"
	OutcomeDestroyed = "destroyed"
	OutcomeComplete  = "complete"
)

const (
	sideProducer = "producer"
	sideConsumer = "consumer"
)

// Metrics holds the collectors shared by producers and consumers.
// A nil *Metrics records nothing.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationsInflight *prometheus.GaugeVec
	operationDuration  *prometheus.HistogramVec
	eventsDropped      *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: Subsystem,
				Name:      "operations_total",
				Help:      "Terminated operations by side, operation name and outcome",
			},
			[]string{"side", "operation", "outcome"},
		),
		operationsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: Subsystem,
				Name:      "operations_inflight",
				Help:      "Calls and subscriptions currently in flight",
			},
			[]string{"side", "operation"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Time from request to terminal outcome",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"side", "operation"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: Subsystem,
				Name:      "events_dropped_total",
				Help:      "Port events dropped because they were not protocol messages",
			},
			[]string{"side"},
		),
	}
}

// Collectors returns all collectors of m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal,
		m.operationsInflight,
		m.operationDuration,
		m.eventsDropped,
	}
}

// Register registers all collectors with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// OperationsTotal returns the terminated-operations counter.
func (m *Metrics) OperationsTotal() *prometheus.CounterVec {
	return m.operationsTotal
}

// OperationsInflight returns the in-flight gauge.
func (m *Metrics) OperationsInflight() *prometheus.GaugeVec {
	return m.operationsInflight
}

// EventsDropped returns the dropped-events counter.
func (m *Metrics) EventsDropped() *prometheus.CounterVec {
	return m.eventsDropped
}

func (m *Metrics) started(side, name string) {
	if m == nil {
		return
	}
	m.operationsInflight.WithLabelValues(side, name).Inc()
}

func (m *Metrics) finished(side, name, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.operationsInflight.WithLabelValues(side, name).Dec()
	m.operationsTotal.WithLabelValues(side, name, outcome).Inc()
	m.operationDuration.WithLabelValues(side, name).Observe(time.Since(start).Seconds())
}

func (m *Metrics) dropped(side string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(side).Inc()
}
