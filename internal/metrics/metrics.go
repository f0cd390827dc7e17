// Package metrics exposes the pipeline's Prometheus counters and gauges
// and serves them over /metrics, mirroring the promhttp wiring the
// original ingester used for its ClickHouse insert counter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logtunnel_lines_read_total",
		Help: "Total lines pulled from the active source by the producer.",
	})
	RecordsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logtunnel_records_emitted_total",
		Help: "Total records or aggregation buckets serialized and offered to the tunnel.",
	})
	RecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logtunnel_records_dropped_total",
		Help: "Total lines dropped due to tokenize or transform failure, plus records the tunnel refused.",
	})
	BucketsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logtunnel_buckets_evicted_total",
		Help: "Total aggregation buckets evicted and sent downstream.",
	})
	TunnelReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logtunnel_tunnel_reconnects_total",
		Help: "Total times the tunnel transitioned from Connected to Reconnecting.",
	})
	GeoDBLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logtunnel_geodb_lookups_total",
		Help: "GeoDB resolutions by cache outcome.",
	}, []string{"outcome"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logtunnel_spsc_queue_depth",
		Help: "Current number of lines buffered in the producer/worker queue.",
	})
)

func init() {
	prometheus.MustRegister(
		LinesRead,
		RecordsEmitted,
		RecordsDropped,
		BucketsEvicted,
		TunnelReconnects,
		GeoDBLookups,
		QueueDepth,
	)
}

// Serve starts the /metrics HTTP endpoint on addr. It runs until the
// listener fails; callers spawn it in its own goroutine, same as the
// teacher's fire-and-forget promhttp.Handler goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
