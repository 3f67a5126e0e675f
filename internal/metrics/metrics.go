// Package metrics exposes Prometheus collectors for API traffic and sync
// results.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/azure-tracker/internal/model"
)

const namespace = "azure_tracker"

// Metrics holds the tracker's collectors and the private registry they are
// registered with.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	synced       *prometheus.CounterVec
	records      *prometheus.GaugeVec
	syncDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Azure DevOps API requests by operation and status code.",
			},
			[]string{"op", "code"},
		),
		synced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_synced_total",
				Help:      "Completed syncs by record kind.",
			},
			[]string{"kind"},
		),
		records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "records",
				Help:      "Records held locally by kind.",
			},
			[]string{"kind"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync runs by record kind.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(m.requests, m.synced, m.records, m.syncDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one API call. Its signature matches
// azure.WithRequestObserver; a zero status means the call never got a
// response.
func (m *Metrics) ObserveRequest(op string, statusCode int) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.requests.WithLabelValues(op, code).Inc()
}

// ObserveSync records a finished sync of kind and the resulting record
// counts.
func (m *Metrics) ObserveSync(kind model.Kind, took time.Duration, counts map[model.Kind]int) {
	m.synced.WithLabelValues(kind.String()).Inc()
	m.syncDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
	for k, n := range counts {
		m.records.WithLabelValues(k.String()).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
