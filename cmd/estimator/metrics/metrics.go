// Package metrics provides Prometheus instrumentation for the estimator service.
//
// Metrics exposed:
//   - pxsavings_estimate_seconds: Histogram of estimate duration
//   - pxsavings_estimates_total: Counter of successful estimates
//   - pxsavings_dataset_rows: Gauge of reference rows held in memory
//   - pxsavings_dataset_loaded: Gauge, 1 when the dataset is available
//   - pxsavings_dataset_load_seconds: Histogram of startup load duration
//   - pxsavings_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the estimator.
type Metrics struct {
	EstimateSeconds    prometheus.Histogram
	EstimatesTotal     prometheus.Counter
	DatasetRows        prometheus.Gauge
	DatasetLoaded      prometheus.Gauge
	DatasetLoadSeconds prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EstimateSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pxsavings_estimate_seconds",
			Help:    "Time spent computing a hybrid estimate",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}),

		EstimatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pxsavings_estimates_total",
			Help: "Total number of successful estimates",
		}),

		DatasetRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pxsavings_dataset_rows",
			Help: "Number of reference rows loaded",
		}),

		DatasetLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pxsavings_dataset_loaded",
			Help: "1 if the reference dataset is loaded, 0 otherwise",
		}),

		DatasetLoadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pxsavings_dataset_load_seconds",
			Help:    "Time spent loading the reference dataset",
			Buckets: prometheus.DefBuckets,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pxsavings_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordEstimate records a successful estimate and its duration.
func (m *Metrics) RecordEstimate(seconds float64) {
	m.EstimateSeconds.Observe(seconds)
	m.EstimatesTotal.Inc()
}

// RecordLoad records the outcome of the startup dataset load.
func (m *Metrics) RecordLoad(seconds float64, rows int, loaded bool) {
	m.DatasetLoadSeconds.Observe(seconds)
	m.DatasetRows.Set(float64(rows))
	if loaded {
		m.DatasetLoaded.Set(1)
	} else {
		m.DatasetLoaded.Set(0)
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
