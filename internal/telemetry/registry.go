package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewMetricsRegistry builds a fresh registry carrying the Go runtime and
// process collectors plus Otter's own metrics and any extras the caller
// supplies (e.g. a daemon-specific gauge).
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
