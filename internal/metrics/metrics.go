package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer           prometheus.Gatherer
	extractionLatency  *prometheus.HistogramVec
	extractionFailures *prometheus.CounterVec
	storeWrites        *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		extractionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thermoscan_extraction_duration_ms",
				Help:    "Vision provider call latency in milliseconds",
				Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
			},
			[]string{"provider", "outcome"},
		),
		extractionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thermoscan_extraction_failures_total",
				Help: "Failed extractions by provider and error code",
			},
			[]string{"provider", "code"},
		),
		storeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thermoscan_store_writes_total",
				Help: "Reading writes by store and result",
			},
			[]string{"store", "result"},
		),
	}
	reg.MustRegister(m.extractionLatency, m.extractionFailures, m.storeWrites)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveExtraction records one provider call.
func (m *Metrics) ObserveExtraction(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractionLatency.WithLabelValues(provider, outcome).Observe(float64(d.Milliseconds()))
}

// ExtractionFailed counts one failed provider call.
func (m *Metrics) ExtractionFailed(provider, code string) {
	if m == nil {
		return
	}
	m.extractionFailures.WithLabelValues(provider, code).Inc()
}

// StoreWrite counts one write attempt against store ("local" or "archive").
func (m *Metrics) StoreWrite(store string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.storeWrites.WithLabelValues(store, result).Inc()
}
