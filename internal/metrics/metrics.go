// Package metrics exposes Prometheus metrics for matching, attendance and
// enrollment.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "face_attendance"

// Metrics holds the application metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	IdentifyResults *prometheus.CounterVec
	IdentifyLatency prometheus.Histogram
	MarkOutcomes    *prometheus.CounterVec
	EnrollOutcomes  *prometheus.CounterVec
	GalleryRefresh  *prometheus.CounterVec
}

// Gauges are sampled on every scrape.
type Gauges struct {
	GallerySize func() int
	Cooldowns   func() int
}

// New registers the metrics on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer, g Gauges) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		IdentifyResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identify_total",
			Help:      "Identification attempts by result",
		}, []string{"result"}), // matched, no_match, no_face

		IdentifyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identify_duration_seconds",
			Help:      "Time spent matching a probe against the gallery",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		MarkOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_marks_total",
			Help:      "Attendance mark attempts by outcome",
		}, []string{"outcome"}), // marked, in_cooldown, error

		EnrollOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Enrollment attempts by outcome",
		}, []string{"outcome"}),

		GalleryRefresh: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gallery_refresh_total",
			Help:      "Gallery reloads from storage by result",
		}, []string{"result"}), // ok, error
	}

	if g.GallerySize != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gallery_identities",
			Help:      "Identities currently in the gallery",
		}, func() float64 { return float64(g.GallerySize()) })
	}
	if g.Cooldowns != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attendance_cooldowns_active",
			Help:      "Identities currently inside their cooldown window",
		}, func() float64 { return float64(g.Cooldowns()) })
	}

	return m
}

// RecordIdentify records one identification attempt.
func (m *Metrics) RecordIdentify(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.IdentifyResults.WithLabelValues(result).Inc()
	m.IdentifyLatency.Observe(took.Seconds())
}

// RecordMark records one attendance attempt.
func (m *Metrics) RecordMark(outcome string) {
	if m == nil {
		return
	}
	m.MarkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordEnroll records one enrollment attempt.
func (m *Metrics) RecordEnroll(outcome string) {
	if m == nil {
		return
	}
	m.EnrollOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRefresh records one gallery reload.
func (m *Metrics) RecordRefresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GalleryRefresh.WithLabelValues(result).Inc()
}
