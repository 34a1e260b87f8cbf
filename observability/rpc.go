package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks upstream JSON-RPC calls made against chain endpoints.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics
)

// RPC returns the lazily-initialised upstream RPC metrics registry.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "llamabot",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Upstream JSON-RPC requests segmented by chain, method and outcome.",
			}, []string{"chain", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "llamabot",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency of upstream JSON-RPC requests including rate limit waits.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"chain", "method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one upstream call.
func (m *RPCMetrics) Observe(chain, method string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	label := labelChain(chain)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(label, method, outcome).Inc()
	m.latency.WithLabelValues(label, method).Observe(duration.Seconds())
}
