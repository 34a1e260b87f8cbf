package botd

import "llamabot/observability"

// Metrics exposes Prometheus collectors for botd instrumentation.
type Metrics = observability.BotdMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Botd() }
