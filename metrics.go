package main

import (
	"github.com/contentsquare/webfetch/cache"
	"github.com/contentsquare/webfetch/engine"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchRequests *prometheus.CounterVec
	statusCodes   *prometheus.CounterVec
	responseBytes prometheus.Counter
	badRequest    prometheus.Counter
)

func init() {
	initMetrics("")
}

func initMetrics(namespace string) {
	fetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Total number of /fetch requests by processor and message status",
		},
		[]string{"processor", "status"},
	)
	statusCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_codes_total",
			Help:      "Distribution by status codes of /fetch responses",
		},
		[]string{"code"},
	)
	responseBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "response_bytes_total",
		Help:      "Total number of bytes written in /fetch responses",
	})
	badRequest = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bad_request_total",
		Help:      "Total number of unsupported requests",
	})
}

// registerMetrics registers the daemon and engine metrics. It must be
// called before the engine is created.
func registerMetrics(namespace string) {
	initMetrics(namespace)
	prometheus.MustRegister(fetchRequests, statusCodes, responseBytes, badRequest)
	engine.RegisterMetrics(namespace)
}

// registerStateMetrics exports the cache and engine state as gauges read
// at scrape time.
func registerStateMetrics(namespace string, m *cache.Manager, e *engine.Engine) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Total size of cached artifacts",
		}, func() float64 { return float64(m.Stats().Size) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_items",
			Help:      "Number of cached artifacts",
		}, func() float64 { return float64(m.Stats().Items) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_jobs",
			Help:      "Number of queued and running fetch jobs",
		}, func() float64 { return float64(e.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_pending_requests",
			Help:      "Number of distinct requests callers are waiting for",
		}, func() float64 { return float64(e.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_oldest_pending_seconds",
			Help:      "Age of the oldest pending request",
		}, func() float64 { return e.OldestPending().Seconds() }),
	)
}
