package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsWritten tracks records written by sink
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_sink_records_total",
			Help: "Total number of records written by sink",
		},
		[]string{"sink"}, // "file", "redis", "postgres"
	)

	// SaveErrors tracks failed save operations by sink
	SaveErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_sink_errors_total",
			Help: "Total number of failed sink saves",
		},
		[]string{"sink"},
	)
)
