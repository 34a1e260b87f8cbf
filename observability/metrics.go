package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	botdMetricsOnce sync.Once
	botdRegistry    *BotdMetrics
)

// BotdMetrics wraps collectors tracking scheduler run health.
type BotdMetrics struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	events       *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	owners       *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
	pauseEngaged prometheus.Gauge
}

// Botd exposes the metrics registry for botd.
func Botd() *BotdMetrics {
	botdMetricsOnce.Do(func() {
		botdRegistry = &BotdMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "runs_total",
				Help:      "Count of scheduler runs segmented by chain and outcome.",
			}, []string{"chain", "outcome"}),
			runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "run_duration_seconds",
				Help:      "Wall time of a complete scheduler run.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			}, []string{"chain"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "events_fetched_total",
				Help:      "Scheduler logs fetched from the chain.",
			}, []string{"chain"}),
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "decisions_total",
				Help:      "Request classifications segmented by outcome.",
			}, []string{"chain", "outcome"}),
			owners: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "owners_total",
				Help:      "Owners evaluated by the cost gate segmented by result.",
			}, []string{"chain", "result"}),
			lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "last_success_timestamp",
				Help:      "Unix time of the last run that completed without error.",
			}, []string{"chain"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "llamabot",
				Subsystem: "botd",
				Name:      "pause_engaged",
				Help:      "Indicates whether the scheduler pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			botdRegistry.runs,
			botdRegistry.runDuration,
			botdRegistry.events,
			botdRegistry.decisions,
			botdRegistry.owners,
			botdRegistry.lastSuccess,
			botdRegistry.pauseEngaged,
		)
	})
	return botdRegistry
}

// ObserveRun records the outcome and duration of a run.
func (m *BotdMetrics) ObserveRun(chain string, d time.Duration, err error) {
	if m == nil {
		return
	}
	label := labelChain(chain)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(label, outcome).Inc()
	m.runDuration.WithLabelValues(label).Observe(d.Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(label).Set(float64(time.Now().Unix()))
	}
}

// RecordSkipped counts a run that did not start.
func (m *BotdMetrics) RecordSkipped(chain, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.runs.WithLabelValues(labelChain(chain), reason).Inc()
}

// AddEvents increments the fetched log counter.
func (m *BotdMetrics) AddEvents(chain string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(labelChain(chain)).Add(float64(n))
}

// AddDecisions increments the decision counter for an outcome.
func (m *BotdMetrics) AddDecisions(chain, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.decisions.WithLabelValues(labelChain(chain), outcome).Add(float64(n))
}

// AddOwners increments the cost gate counter. result is "included" or
// "dropped".
func (m *BotdMetrics) AddOwners(chain, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.owners.WithLabelValues(labelChain(chain), result).Add(float64(n))
}

// SetPause toggles the pause_engaged gauge.
func (m *BotdMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelChain(chain string) string {
	trimmed := strings.TrimSpace(chain)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
