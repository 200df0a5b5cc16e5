// Package metrics records tree operations as Prometheus metrics.
//
// A Recorder is handed to proxy.WithRecorder. Every Recorder owns its
// metric vectors, registered on the Registerer it was built with, so tests
// can use a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/proxy"
)

const namespace = "oproxy"

// Recorder implements proxy.Recorder. A nil *Recorder records nothing.
type Recorder struct {
	syncDuration *prometheus.HistogramVec
	syncBytes    prometheus.Histogram
	extractions  *prometheus.CounterVec
	reconciles   *prometheus.CounterVec
	corrections  *prometheus.CounterVec
}

var _ proxy.Recorder = (*Recorder)(nil)

// New registers the oproxy metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		// syncDuration measures full-tree writes.
		// Labels: status (success, error)
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Time to encode and write the tree",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"status"}),

		syncBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "bytes",
			Help:      "Size of the encoded tree",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),

		// extractions counts symbol extractions.
		// Labels: kind (class, func), status (success, error)
		extractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "total",
			Help:      "Symbol extractions by kind and status",
		}, []string{"kind", "status"}),

		reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "total",
			Help:      "Reconciliations by status",
		}, []string{"status"}),

		// corrections counts what reconciliation changed.
		// Labels: type (migrated, renamed, relocated, dropped, failed)
		corrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "corrections_total",
			Help:      "Entries corrected by reconciliation",
		}, []string{"type"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveSync implements proxy.Recorder.
func (r *Recorder) ObserveSync(d time.Duration, size int, err error) {
	if r == nil {
		return
	}
	r.syncDuration.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil {
		r.syncBytes.Observe(float64(size))
	}
}

// ObserveExtract implements proxy.Recorder.
func (r *Recorder) ObserveExtract(kind ir.SymbolKind, err error) {
	if r == nil {
		return
	}
	r.extractions.WithLabelValues(string(kind), status(err)).Inc()
}

// ObserveReconcile implements proxy.Recorder.
func (r *Recorder) ObserveReconcile(stats proxy.ReconcileStats, err error) {
	if r == nil {
		return
	}
	r.reconciles.WithLabelValues(status(err)).Inc()
	for typ, n := range map[string]int{
		"migrated":  stats.Migrated,
		"renamed":   stats.Renamed,
		"relocated": stats.Relocated,
		"dropped":   stats.Dropped,
		"failed":    stats.Failed,
	} {
		if n > 0 {
			r.corrections.WithLabelValues(typ).Add(float64(n))
		}
	}
}

// Handler serves the metrics gathered by g. A nil g serves the default
// gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
