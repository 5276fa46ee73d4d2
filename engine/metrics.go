package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	submittedRequests *prometheus.CounterVec
	coalescedRequests *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	cacheStoreErrors  *prometheus.CounterVec
	fetchAttempts     *prometheus.CounterVec
	fetchRetries      *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	deliveredMessages *prometheus.CounterVec
)

func init() {
	initMetrics("")
}

func initMetrics(namespace string) {
	submittedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submitted_requests_total",
			Help:      "Total number of accepted submissions",
		},
		[]string{"processor", "mode"},
	)
	coalescedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Total number of submissions attached to an identical pending request",
		},
		[]string{"processor"},
	)
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of requests served from the cache",
		},
		[]string{"processor"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cacheable requests not found in the cache",
		},
		[]string{"processor"},
	)
	cacheStoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_store_errors_total",
			Help:      "Total number of fetched artifacts that could not be cached",
		},
		[]string{"processor"},
	)
	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of network fetch attempts by result",
		},
		[]string{"processor", "result"},
	)
	fetchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Total number of retried fetches",
		},
		[]string{"processor"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of network fetch attempts",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"processor"},
	)
	deliveredMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_messages_total",
			Help:      "Total number of messages produced by processors by status",
		},
		[]string{"processor", "status"},
	)
}

// RegisterMetrics registers the engine metrics under namespace. It must be
// called once, before New.
func RegisterMetrics(namespace string) {
	initMetrics(namespace)
	prometheus.MustRegister(submittedRequests, coalescedRequests, cacheHits, cacheMisses,
		cacheStoreErrors, fetchAttempts, fetchRetries, fetchDuration, deliveredMessages)
}
