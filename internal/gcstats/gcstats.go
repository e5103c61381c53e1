// Package gcstats adapts a running Runtime's diagnostics
// (get_max_live_size, get_reclaimed, get_total_allocations,
// get_heap_size) onto Prometheus gauges/counters, the way a hosting
// process would expose them on a /metrics endpoint.
package gcstats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dfinity-labs/incrementalgc/internal/gc"
)

// Collector implements prometheus.Collector by reading a Runtime's
// diagnostics on every scrape rather than caching them, since the
// collector's own state changes between scrapes without any explicit
// notification.
type Collector struct {
	rt *gc.Runtime

	maxLiveSize      *prometheus.Desc
	reclaimed        *prometheus.Desc
	totalAllocations *prometheus.Desc
	heapSize         *prometheus.Desc
	phase            *prometheus.Desc
}

// NewCollector returns a Collector reporting rt's diagnostics. Register
// it with a prometheus.Registry to expose it on a /metrics endpoint.
func NewCollector(rt *gc.Runtime) *Collector {
	return &Collector{
		rt: rt,
		maxLiveSize: prometheus.NewDesc(
			"incrementalgc_max_live_size_bytes",
			"Largest post-collection heap size observed, minus the static prefix.",
			nil, nil,
		),
		reclaimed: prometheus.NewDesc(
			"incrementalgc_reclaimed_bytes_total",
			"Cumulative bytes reclaimed across all completed collection cycles.",
			nil, nil,
		),
		totalAllocations: prometheus.NewDesc(
			"incrementalgc_allocations_total",
			"Cumulative number of allocations performed since initialization.",
			nil, nil,
		),
		heapSize: prometheus.NewDesc(
			"incrementalgc_heap_size_bytes",
			"Current occupied heap size across all partitions.",
			nil, nil,
		),
		phase: prometheus.NewDesc(
			"incrementalgc_phase",
			"Current GC phase (0=Pause, 1=Mark, 2=Evacuate, 3=Update, 4=Stop).",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxLiveSize
	ch <- c.reclaimed
	ch <- c.totalAllocations
	ch <- c.heapSize
	ch <- c.phase
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.maxLiveSize, prometheus.GaugeValue, float64(c.rt.GetMaxLiveSize()))
	ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue, float64(c.rt.GetReclaimed()))
	ch <- prometheus.MustNewConstMetric(c.totalAllocations, prometheus.CounterValue, float64(c.rt.GetTotalAllocations()))
	ch <- prometheus.MustNewConstMetric(c.heapSize, prometheus.GaugeValue, float64(c.rt.GetHeapSize()))
	ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, float64(c.rt.State.Phase))
}
