package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bootstrap metrics
	RegistrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_registrations_total",
			Help: "Total number of locality registrations accepted by the root",
		},
	)

	RegistrationsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_registrations_rejected_total",
			Help: "Total number of duplicate registrations rejected by the root",
		},
	)

	LocalitiesConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_localities_connected",
			Help: "Number of localities registered in the address table",
		},
	)

	ClusterConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_cluster_connected",
			Help: "Whether this locality's boot barrier has reached CONNECTED (1 = connected)",
		},
	)

	BarrierWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_barrier_wait_seconds",
			Help:    "Time spent blocked in the boot barrier wait",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	// Resolution metrics
	ResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_resolve_duration_seconds",
			Help:    "Address resolution duration in seconds by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ResolveCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_resolve_cache_hits_total",
			Help: "Total number of resolutions served from the local cache",
		},
	)

	// Transport metrics
	ParcelsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_parcels_sent_total",
			Help: "Total number of parcels sent by type",
		},
		[]string{"type"},
	)

	ParcelsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_parcels_received_total",
			Help: "Total number of parcels received by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(RegistrationsRejected)
	prometheus.MustRegister(LocalitiesConnected)
	prometheus.MustRegister(ClusterConnected)
	prometheus.MustRegister(BarrierWaitSeconds)
	prometheus.MustRegister(ResolveDuration)
	prometheus.MustRegister(ResolveCacheHits)
	prometheus.MustRegister(ParcelsSent)
	prometheus.MustRegister(ParcelsReceived)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
