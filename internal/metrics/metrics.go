// Package metrics exposes Prometheus metrics for document processing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the processing counters and histograms.
type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	Sends              *prometheus.CounterVec
	Reviews            prometheus.Counter
}

// New returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - po_documents_processed_total{status} - documents by batch outcome
//   - po_extraction_duration_seconds - extractor call latency
//   - po_sends_total{result} - ERP sends by result
//   - po_reviews_total - saved reviews
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DocumentsProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "po_documents_processed_total",
					Help: "Total number of uploaded documents by processing status",
				},
				[]string{"status"}, // "EXTRACTED" or "ERROR"
			),
			ExtractionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "po_extraction_duration_seconds",
					Help:    "Duration of extractor calls in seconds",
					Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
				},
			),
			Sends: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "po_sends_total",
					Help: "Total number of purchase orders sent to the ERP by result",
				},
				[]string{"result"}, // "success" or "error"
			),
			Reviews: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "po_reviews_total",
					Help: "Total number of saved reviews",
				},
			),
		}
	})
	return globalMetrics
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DocumentProcessed counts one batch result. Nil-safe.
func (m *Metrics) DocumentProcessed(status string) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues(status).Inc()
}

// ObserveExtraction records the latency of one extractor call. Nil-safe.
func (m *Metrics) ObserveExtraction(d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionDuration.Observe(d.Seconds())
}

// SendResult counts one send attempt. Nil-safe.
func (m *Metrics) SendResult(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Sends.WithLabelValues(result).Inc()
}

// ReviewSaved counts one saved review. Nil-safe.
func (m *Metrics) ReviewSaved() {
	if m == nil {
		return
	}
	m.Reviews.Inc()
}
