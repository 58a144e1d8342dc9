// Package metrics exposes Prometheus instrumentation for the broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the broker's Prometheus metrics. A nil *Collector is
// valid and turns every record method into a no-op, so instrumentation
// stays optional.
type Collector struct {
	acquiresTotal   *prometheus.CounterVec
	releasesTotal   *prometheus.CounterVec
	activeEndpoints *prometheus.GaugeVec

	requestsTotal *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	costEstimate  *prometheus.GaugeVec

	testsTotal   *prometheus.CounterVec
	testDuration prometheus.Histogram
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		acquiresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquires_total",
				Help:      "Total endpoint acquisitions per provider and result",
			},
			[]string{"provider", "result"},
		),
		releasesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "releases_total",
				Help:      "Total endpoint releases per provider",
			},
			[]string{"provider"},
		),
		activeEndpoints: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_endpoints",
				Help:      "Currently held endpoints per provider",
			},
			[]string{"provider"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Metered requests per provider and result",
			},
			[]string{"provider", "result"},
		),
		bytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Metered bytes per provider and direction",
			},
			[]string{"provider", "direction"},
		),
		costEstimate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cost_estimate_usd",
				Help:      "Estimated bandwidth cost per provider in USD",
			},
			[]string{"provider"},
		),
		testsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tests_total",
				Help:      "Endpoint health tests per result",
			},
			[]string{"result"},
		),
		testDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "test_duration_seconds",
				Help:      "Endpoint health test duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

func (c *Collector) RecordAcquire(provider, result string) {
	if c == nil {
		return
	}
	c.acquiresTotal.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordRelease(provider string) {
	if c == nil {
		return
	}
	c.releasesTotal.WithLabelValues(provider).Inc()
}

func (c *Collector) SetActiveEndpoints(provider string, n int) {
	if c == nil {
		return
	}
	c.activeEndpoints.WithLabelValues(provider).Set(float64(n))
}

func (c *Collector) RecordRequest(provider string, success bool, bytesSent, bytesReceived int64) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	c.requestsTotal.WithLabelValues(provider, result).Inc()
	c.bytesTotal.WithLabelValues(provider, "sent").Add(float64(bytesSent))
	c.bytesTotal.WithLabelValues(provider, "received").Add(float64(bytesReceived))
}

func (c *Collector) SetCostEstimate(provider string, usd float64) {
	if c == nil {
		return
	}
	c.costEstimate.WithLabelValues(provider).Set(usd)
}

func (c *Collector) RecordTest(success bool, seconds float64) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	c.testsTotal.WithLabelValues(result).Inc()
	c.testDuration.Observe(seconds)
}
