// Package metrics provides Prometheus metrics for the extraction and refresh workers
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage labels.
const (
	StageExtraction = "extraction"
	StageRefresh    = "refresh"
)

// Metrics holds all Prometheus metrics for the pipeline
type Metrics struct {
	// Message handling
	EventsTotal    *prometheus.CounterVec
	HandleDuration *prometheus.HistogramVec

	// Extraction engine calls
	ExtractionCallsTotal *prometheus.CounterVec

	// Batch staging and index
	SegmentAppendsTotal     *prometheus.CounterVec
	IndexNotificationsTotal *prometheus.CounterVec
	PendingSegments         prometheus.Gauge
}

// New creates the pipeline metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeta_events_total",
				Help: "Total number of bus messages handled, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		HandleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docmeta_handle_duration_seconds",
				Help:    "Duration of message handling in seconds",
				Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		ExtractionCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeta_extraction_calls_total",
				Help: "Total number of extraction engine calls, by result",
			},
			[]string{"result"},
		),
		SegmentAppendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeta_segment_appends_total",
				Help: "Total number of batch record appends, by result",
			},
			[]string{"result"},
		),
		IndexNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docmeta_index_notifications_total",
				Help: "Total number of index segment notifications, by result",
			},
			[]string{"result"},
		),
		PendingSegments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docmeta_pending_segments",
				Help: "Number of staged segments awaiting index notification",
			},
		),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RecordEvent counts a handled message and observes its duration.
func (m *Metrics) RecordEvent(stage, outcome string, started time.Time) {
	m.EventsTotal.WithLabelValues(stage, outcome).Inc()
	m.HandleDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// RecordExtractionCall counts one engine call.
func (m *Metrics) RecordExtractionCall(result string) {
	m.ExtractionCallsTotal.WithLabelValues(result).Inc()
}

// RecordAppend counts one staging append.
func (m *Metrics) RecordAppend(created bool) {
	result := "created"
	if !created {
		result = "duplicate"
	}
	m.SegmentAppendsTotal.WithLabelValues(result).Inc()
}

// RecordNotification counts one index notification attempt.
func (m *Metrics) RecordNotification(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.IndexNotificationsTotal.WithLabelValues(result).Inc()
}
