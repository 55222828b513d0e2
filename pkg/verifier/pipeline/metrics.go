package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var JobsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "componentci",
	Subsystem: "verifier_worker",
	Name:      "jobs_total",
	Help:      "Count of verifier jobs by kind and terminal event",
}, []string{"kind", "event"})

var JobsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "componentci",
	Subsystem: "verifier_worker",
	Name:      "jobs_duration_seconds",
	Help:      "Duration of verifier jobs by kind and terminal event",
	Buckets:   []float64{5, 60, 300, 600, 1800, 3600, 7200, 36000},
}, []string{"kind", "event"})

var TargetsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "componentci",
	Subsystem: "verifier_worker",
	Name:      "targets_total",
	Help:      "Count of processed targets by result",
}, []string{"status"})

var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "componentci",
	Subsystem: "verifier_worker",
	Name:      "stage_duration_seconds",
	Help:      "Duration of pipeline stages",
	Buckets:   []float64{1, 5, 15, 60, 180, 600, 1800},
}, []string{"stage", "status"})
