package tilecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// metrics holds every Prometheus collector the pipeline touches, modeled
// field-for-field on pmtiles/server_metrics.go's metrics struct: per-tier
// request counters, duration histograms, and cache-state gauges.
type metrics struct {
	tierRequests    *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	coalescedWaits   prometheus.Counter
	diskWriteErrors  prometheus.Counter
	memCacheWeight   prometheus.Gauge
	memCacheLimit    prometheus.Gauge
	memCacheEntries  prometheus.Gauge
	inFlightGauge    prometheus.Gauge
}

func register[K prometheus.Collector](logger *zap.Logger, reg prometheus.Registerer, metric K) K {
	if err := reg.Register(metric); err != nil {
		logger.Warn("failed to register metric", zap.Error(err))
	}
	return metric
}

// newMetrics registers the full collector set against reg. Passing a
// fresh prometheus.NewRegistry() in tests avoids collisions with the
// package-level default registry used by a running server.
func newMetrics(logger *zap.Logger, reg prometheus.Registerer) *metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	namespace := "tilecache"
	return &metrics{
		tierRequests: register(logger, reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_requests_total",
			Help:      "Tile requests by tier (memory, disk, upstream) and outcome (hit, miss)",
		}, []string{"tier", "outcome"})),
		upstreamRequests: register(logger, reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the upstream tile server by status",
		}, []string{"status"})),
		upstreamDuration: register(logger, reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"})),
		coalescedWaits: register(logger, reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_waits_total",
			Help:      "Number of requests that waited on an in-flight upstream fetch instead of issuing one",
		})),
		diskWriteErrors: register(logger, reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disk_write_errors_total",
			Help:      "Disk cache write failures, swallowed and logged per the error handling design",
		})),
		memCacheWeight: register(logger, reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_cache_weight_bytes",
			Help:      "Current total weight of the memory cache",
		})),
		memCacheLimit: register(logger, reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_cache_limit_bytes",
			Help:      "Configured weight bound of the memory cache",
		})),
		memCacheEntries: register(logger, reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_cache_entries",
			Help:      "Current entry count of the memory cache",
		})),
		inFlightGauge: register(logger, reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coalescer_in_flight",
			Help:      "Number of tile keys with an in-flight upstream fetch",
		})),
	}
}

func (m *metrics) observeTier(tier, outcome string) {
	m.tierRequests.WithLabelValues(tier, outcome).Inc()
}

func (m *metrics) observeUpstream(status string, d time.Duration) {
	m.upstreamRequests.WithLabelValues(status).Inc()
	m.upstreamDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *metrics) observeCoalescedWait() {
	m.coalescedWaits.Inc()
}

func (m *metrics) observeDiskWriteError() {
	m.diskWriteErrors.Inc()
}

func (m *metrics) updateCacheGauges(weight, limit int64, entries uint64, inFlight int) {
	m.memCacheWeight.Set(float64(weight))
	m.memCacheLimit.Set(float64(limit))
	m.memCacheEntries.Set(float64(entries))
	m.inFlightGauge.Set(float64(inFlight))
}
