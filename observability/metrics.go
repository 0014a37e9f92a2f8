package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks one split run. It uses a private registry so a run can be
// exported as a node-exporter textfile without process-wide collectors.
type Metrics struct {
	registry *prometheus.Registry

	PagesTotal   *prometheus.CounterVec
	PageDuration prometheus.Histogram
	LayersKept   prometheus.Counter
	OutputBytes  prometheus.Counter
}

// NewMetrics creates and registers the split metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		PagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layersplit_pages_total",
				Help: "Pages processed, by outcome",
			},
			[]string{"status"},
		),
		PageDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "layersplit_page_duration_seconds",
				Help:    "Time spent extracting and saving one page",
				Buckets: prometheus.DefBuckets,
			},
		),
		LayersKept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "layersplit_layers_kept_total",
				Help: "Layer references written into output OCProperties",
			},
		),
		OutputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "layersplit_output_bytes_total",
				Help: "Bytes written across all output files",
			},
		),
	}
}

// ObservePage records a page outcome.
func (m *Metrics) ObservePage(err error, elapsed time.Duration, layers int, size int64) {
	if m == nil {
		return
	}
	m.PageDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.PagesTotal.WithLabelValues("error").Inc()
		return
	}
	m.PagesTotal.WithLabelValues("ok").Inc()
	m.LayersKept.Add(float64(layers))
	m.OutputBytes.Add(float64(size))
}

// Registry exposes the underlying registry, e.g. for Gather in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current values in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
