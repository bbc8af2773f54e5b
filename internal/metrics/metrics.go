// Package metrics holds the Prometheus collectors of the sync engine.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	syncPages    *prometheus.CounterVec
	syncItems    *prometheus.CounterVec
	syncFailures *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	reconciled   *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	commits      *prometheus.CounterVec
	cursor       prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		syncPages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_sync_pages_total",
			Help: "Pages fetched from the server and applied locally.",
		}, []string{"entity"}),
		syncItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_sync_items_total",
			Help: "Entities upserted by delta sync.",
		}, []string{"entity"}),
		syncFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_sync_scope_failures_total",
			Help: "Organization scopes whose sync failed.",
		}, []string{"entity"}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medsync_sync_scope_duration_seconds",
			Help:    "Duration of one organization scope sync.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"entity"}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_reconcile_items_total",
			Help: "Items pushed to the server by reconciliation, by pass and outcome.",
		}, []string{"entity", "pass", "outcome"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_upload_files_total",
			Help: "Upload form submissions by outcome.",
		}, []string{"outcome"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_store_commits_total",
			Help: "Background units of work by outcome.",
		}, []string{"outcome"}),
		cursor: f.NewGauge(prometheus.GaugeOpts{
			Name: "medsync_store_changelog_cursor",
			Help: "Last change-log sequence merged into the foreground context.",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) PageApplied(entity string, items int) {
	if m == nil {
		return
	}
	m.syncPages.WithLabelValues(entity).Inc()
	m.syncItems.WithLabelValues(entity).Add(float64(items))
}

func (m *Metrics) ScopeDone(entity string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(entity).Observe(time.Since(started).Seconds())
	if err != nil {
		m.syncFailures.WithLabelValues(entity).Inc()
	}
}

func (m *Metrics) Reconciled(entity, pass string, err error) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(entity, pass, outcome(err)).Inc()
}

func (m *Metrics) FileSubmitted(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) Committed(err error) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) CursorAdvanced(seq int64) {
	if m == nil {
		return
	}
	m.cursor.Set(float64(seq))
}
