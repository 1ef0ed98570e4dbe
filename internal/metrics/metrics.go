package metrics

import (
	"log"
	"net/http"

	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Enabled bool
var registry = prometheus.NewRegistry()

var (
	ExecutionsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hivegrid_executions_total",
		Help: "Terminal executions by status.",
	}, []string{"status"})

	ColdStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegrid_cold_starts_total",
		Help: "Executions that missed the warm pool.",
	})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegrid_image_cache_hits_total",
		Help: "Image cache lookups served from the index.",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegrid_image_cache_misses_total",
		Help: "Image cache lookups for absent digests.",
	})

	ReservationsGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivegrid_reservations_granted_total",
		Help: "Successful resource reservations.",
	})

	ActiveReservations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivegrid_reservations_active",
		Help: "Reservations currently held in the ledger.",
	})
)

func Init() {
	if config.GetBool(config.METRICS_ENABLED, false) {
		log.Println("Metrics enabled.")
		Enabled = true
	} else {
		log.Println("Metrics disabled.")
		Enabled = false
		return
	}

	registry.MustRegister(ExecutionsCompleted, ColdStarts, CacheHits, CacheMisses, ReservationsGranted, ActiveReservations)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true})
	http.Handle("/metrics", handler)
	http.ListenAndServe(":2112", nil)
}
