package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type bridgeMetrics struct {
	// registry is private to the bridge; the /metrics handler serves it
	// without the default registry's process collectors.
	registry *prometheus.Registry

	lanePending   *prometheus.GaugeVec
	submitTotal   *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	dispatchTime  *prometheus.HistogramVec

	activeSessions prometheus.Gauge
	prunedSessions prometheus.Counter

	compileFailures prometheus.Counter
	executeDuration prometheus.Histogram

	archiveWrites prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *bridgeMetrics
)

func getMetrics() *bridgeMetrics {
	metricsOnce.Do(func() {
		m := &bridgeMetrics{
			registry: prometheus.NewRegistry(),
			lanePending: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "bridge_lane_pending",
					Help: "Pending requests by lane.",
				},
				[]string{"lane"},
			),
			submitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_submit_total",
					Help: "Total submitted requests by lane and outcome.",
				},
				[]string{"lane", "outcome"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_dispatch_total",
					Help: "Total dispatched requests by lane and status.",
				},
				[]string{"lane", "status"},
			),
			dispatchTime: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "bridge_dispatch_duration_seconds",
					Help:    "Dispatch handling duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bridge_active_sessions",
					Help: "Current tracked agent session count.",
				},
			),
			prunedSessions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bridge_pruned_sessions_total",
					Help: "Total sessions removed by inactivity pruning.",
				},
			),
			compileFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bridge_compile_failures_total",
					Help: "Total execute requests rejected by the compiler.",
				},
			),
			executeDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "bridge_execute_duration_seconds",
					Help:    "Execute request duration in seconds, compile included.",
					Buckets: prometheus.DefBuckets,
				},
			),
			archiveWrites: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bridge_archive_writes_total",
					Help: "Total responses written to the archive store.",
				},
			),
		}

		m.registry.MustRegister(
			m.lanePending,
			m.submitTotal,
			m.dispatchTotal,
			m.dispatchTime,
			m.activeSessions,
			m.prunedSessions,
			m.compileFailures,
			m.executeDuration,
			m.archiveWrites,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	m := getMetrics()
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func RecordSubmit(lane string, accepted bool, pending int) {
	m := getMetrics()
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.submitTotal.WithLabelValues(lane, outcome).Inc()
	m.lanePending.WithLabelValues(lane).Set(float64(pending))
}

func SetLanePending(lane string, pending int) {
	getMetrics().lanePending.WithLabelValues(lane).Set(float64(pending))
}

func RecordDispatch(lane, status string, duration time.Duration, pending int) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(lane, status).Inc()
	m.dispatchTime.WithLabelValues(lane).Observe(duration.Seconds())
	m.lanePending.WithLabelValues(lane).Set(float64(pending))
}

func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

func RecordPrunedSessions(n int) {
	getMetrics().prunedSessions.Add(float64(n))
}

func RecordCompileFailure() {
	getMetrics().compileFailures.Inc()
}

func ObserveExecuteDuration(d time.Duration) {
	getMetrics().executeDuration.Observe(d.Seconds())
}

func RecordArchiveWrite() {
	getMetrics().archiveWrites.Inc()
}
