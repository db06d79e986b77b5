package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InspectionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitrack_inspections_recorded_total",
			Help: "Total inspections recorded",
		},
		[]string{"provenance", "grade"},
	)

	InspectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitrack_inspections_rejected_total",
			Help: "Total inspections rejected before scoring",
		},
		[]string{"reason"},
	)

	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitrack_upstream_calls_total",
			Help: "Total calls to the vision model, detector and geocoder",
		},
		[]string{"upstream", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sanitrack_upstream_latency_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream"},
	)

	FacilitiesByGrade = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sanitrack_facilities_by_grade",
			Help: "Number of facilities currently holding each grade",
		},
		[]string{"grade"},
	)

	AverageScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sanitrack_average_cleanliness_score",
			Help: "Mean cleanliness score across all facilities",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitrack_events_published_total",
			Help: "Total change events and display updates published",
		},
		[]string{"sink", "status"},
	)

	RegistryRecordsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitrack_registry_records_total",
			Help: "Registry records processed by outcome",
		},
		[]string{"outcome"},
	)
)

// Status labels an outcome for counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
