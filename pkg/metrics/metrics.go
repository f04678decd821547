// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VisitsRecordedTotal tracks visit writes by outcome
	VisitsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "visits",
			Name:      "recorded_total",
			Help:      "Total number of visits handled by the crossing engine",
		},
		[]string{"status"},
	)

	// VisitorsPerVisit tracks how many other visitors a venue had when a visit landed
	VisitorsPerVisit = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "visits",
			Name:      "other_visitors",
			Help:      "Number of other visitors found for each recorded visit",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	// CrossingsTotal tracks crossings by kind (new or repeat)
	CrossingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "crossings",
			Name:      "total",
			Help:      "Total number of pair crossings recorded",
		},
		[]string{"kind"},
	)

	// RelationshipsCreatedTotal tracks new crossed path relationships
	RelationshipsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "crossings",
			Name:      "relationships_created_total",
			Help:      "Total number of crossed path relationships created",
		},
	)

	// PairFailuresTotal tracks pair updates that failed, by stage
	PairFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "crossings",
			Name:      "pair_failures_total",
			Help:      "Total number of pair updates that failed",
		},
		[]string{"stage"},
	)

	// FanOutDuration tracks time spent updating pairs for one visit
	FanOutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "crossings",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of the pair fan-out for one visit in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// GraphProjectionFailuresTotal tracks relationships that could not be written to the graph
	GraphProjectionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "graph",
			Name:      "projection_failures_total",
			Help:      "Total number of crossed path relationships not projected into the graph",
		},
	)

	// KafkaMessagesTotal tracks consumed visit messages by outcome
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total number of visit messages consumed",
		},
		[]string{"status"},
	)
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusInvalid = "invalid"

	KindNew    = "new"
	KindRepeat = "repeat"
)
